package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/metrics"
	"drug-analytics/models"
	"drug-analytics/repository"
	"drug-analytics/storage"
	"drug-analytics/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome beschreibt, wie ein Aufruf von ProcessBlob geendet hat.
type Outcome string

const (
	// OutcomeIgnored: Blob-Schlüssel gehört zu keinem Upload.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicate: ein anderer Aufruf hat den Upload bereits übernommen.
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeRetry: der Upload konnte nicht übernommen werden; die Nachricht soll erneut zugestellt werden.
	OutcomeRetry Outcome = "retry"
	// OutcomeStuck: der abschließende Statusübergang ist gescheitert, der Upload bleibt in processing.
	OutcomeStuck Outcome = "stuck"
)

// UploadAccepted ist die Nachricht an den Client nach einem erfolgreichen Upload.
const UploadAccepted = "File uploaded successfully. Processing in progress."

const finalizeTimeout = 10 * time.Second

// IngestionConfig enthält die Limits der Pipeline.
type IngestionConfig struct {
	MaxUploadBytes int64
	BatchSize      int
	// MaxReportedIssues begrenzt die Befunde in error_message; 0 bedeutet 20.
	MaxReportedIssues int
}

// SubmitResult ist die Antwort der synchronen Phase.
type SubmitResult struct {
	UploadID string             `json:"upload_id"`
	Status   models.UploadState `json:"status"`
	Location string             `json:"location"`
	BlobKey  string             `json:"s3_key"`
	Message  string             `json:"message"`
}

// IngestionService nimmt CSV-Uploads entgegen und verarbeitet sie asynchron.
type IngestionService struct {
	blobs     storage.BlobStore
	drugs     repository.DrugStore
	tracker   *UploadTracker
	validator *validation.Validator
	cfg       IngestionConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestionService erstellt die Pipeline.
func NewIngestionService(
	blobs storage.BlobStore,
	drugs repository.DrugStore,
	tracker *UploadTracker,
	validator *validation.Validator,
	cfg IngestionConfig,
	logger *zap.Logger,
) *IngestionService {
	if cfg.BatchSize <= 0 || cfg.BatchSize > repository.MaxBatchSize {
		cfg.BatchSize = repository.MaxBatchSize
	}
	if cfg.MaxReportedIssues <= 0 {
		cfg.MaxReportedIssues = 20
	}
	return &IngestionService{
		blobs:     blobs,
		drugs:     drugs,
		tracker:   tracker,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitUpload speichert die Datei im Blob Store und legt den Status pending an.
// declaredSize < 0 bedeutet, dass der Client keine Größe angegeben hat.
func (s *IngestionService) SubmitUpload(ctx context.Context, filename string, body io.Reader, declaredSize int64) (*SubmitResult, error) {
	name := storage.BaseName(filename)
	if name == "" {
		return nil, apperrors.NewValidationError("file", "filename is required")
	}
	if !strings.HasSuffix(name, ".csv") {
		return nil, apperrors.ValidationError{Field: "file", Value: name, Message: "only .csv files are accepted"}
	}
	if declaredSize > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", apperrors.ErrPayloadTooLarge, declaredSize, s.cfg.MaxUploadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(body, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, apperrors.ValidationError{Field: "file", Message: "could not read upload: " + err.Error()}
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", apperrors.ErrPayloadTooLarge, s.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("file", "file is empty")
	}

	uploadID := uuid.NewString()
	key := storage.UploadKey(uploadID, name)
	log := s.logger.With(zap.String("upload_id", uploadID), zap.String("blob_key", key))

	if err := s.blobs.Put(ctx, key, data); err != nil {
		log.Error("Failed to store upload", zap.Error(err))
		return nil, apperrors.Dependency("store blob", err)
	}
	if _, err := s.tracker.Create(ctx, uploadID, name, key); err != nil {
		log.Error("Failed to create upload status", zap.Error(err))
		return nil, err
	}

	metrics.UploadsSubmitted.Inc()
	log.Info("Upload accepted", zap.String("filename", name), zap.Int("bytes", len(data)))
	return &SubmitResult{
		UploadID: uploadID,
		Status:   models.StatePending,
		Location: s.blobs.Location(key),
		BlobKey:  key,
		Message:  UploadAccepted,
	}, nil
}

// ProcessBlob führt die asynchrone Phase für einen Blob aus. Jeder Fehler endet in
// einem Statusübergang oder einem Outcome; es gibt keine Fehler über diese Grenze hinweg.
func (s *IngestionService) ProcessBlob(ctx context.Context, blobKey string) Outcome {
	start := time.Now()
	outcome := s.processBlob(ctx, blobKey)
	metrics.UploadsProcessed.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeCompleted || outcome == OutcomeFailed {
		metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())
	}
	return outcome
}

func (s *IngestionService) processBlob(ctx context.Context, blobKey string) Outcome {
	uploadID, _, err := storage.ParseUploadKey(blobKey)
	if err != nil {
		s.logger.Warn("Ignoring blob outside the upload layout", zap.String("blob_key", blobKey), zap.Error(err))
		return OutcomeIgnored
	}
	log := s.logger.With(zap.String("upload_id", uploadID), zap.String("blob_key", blobKey))

	if _, err := s.tracker.Transition(ctx, uploadID, models.StatePending, models.StateProcessing, models.StatusFields{}); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrStaleTransition):
			log.Info("Duplicate notification, upload already claimed")
			return OutcomeDuplicate
		case errors.Is(err, apperrors.ErrNotFound):
			log.Warn("No status record for blob yet, leaving notification for redelivery")
			return OutcomeRetry
		default:
			log.Error("Failed to claim upload", zap.Error(err))
			return OutcomeRetry
		}
	}

	data, err := s.blobs.Get(ctx, blobKey)
	if err != nil {
		log.Error("Failed to read blob", zap.Error(err))
		return s.fail(ctx, log, uploadID, "blob unreadable: "+err.Error(), models.StatusFields{})
	}

	candidates, err := s.validator.Validate(data, "")
	if err != nil {
		fields := models.StatusFields{}
		msg := err.Error()
		var verr *validation.Error
		if errors.As(err, &verr) {
			msg = verr.Summary(s.cfg.MaxReportedIssues)
			if verr.TotalRows >= 0 {
				fields.TotalRows = models.IntPtr(verr.TotalRows)
			}
		}
		log.Info("CSV rejected", zap.String("reason", msg))
		return s.fail(ctx, log, uploadID, "validation failed: "+msg, fields)
	}

	total := len(candidates)
	records := models.NewDrugRecords(uploadID, s.now(), candidates)
	written, err := s.persist(ctx, records)
	metrics.RecordsPersisted.Add(float64(written))
	if err != nil {
		log.Error("Failed to persist records", zap.Int("written", written), zap.Int("total", total), zap.Error(err))
		return s.fail(ctx, log, uploadID,
			fmt.Sprintf("persistence failed after %d of %d rows: %s", written, total, err.Error()),
			models.StatusFields{TotalRows: models.IntPtr(total), ProcessedRows: models.IntPtr(written)})
	}

	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	_, err = s.tracker.Transition(fctx, uploadID, models.StateProcessing, models.StateCompleted, models.StatusFields{
		TotalRows:     models.IntPtr(total),
		ProcessedRows: models.IntPtr(written),
	})
	if err != nil {
		log.Error("Records persisted but upload could not be completed", zap.Int("rows", written), zap.Error(err))
		return OutcomeStuck
	}
	log.Info("Upload processed", zap.Int("rows", written))
	return OutcomeCompleted
}

// Abandon markiert einen Upload, der nie übernommen wurde, als failed (pending -> failed).
// Ist der Upload bereits übernommen, bleibt er unverändert.
func (s *IngestionService) Abandon(ctx context.Context, blobKey, reason string) Outcome {
	uploadID, _, err := storage.ParseUploadKey(blobKey)
	if err != nil {
		return OutcomeIgnored
	}
	log := s.logger.With(zap.String("upload_id", uploadID), zap.String("blob_key", blobKey))

	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	_, err = s.tracker.Transition(fctx, uploadID, models.StatePending, models.StateFailed, models.StatusFields{
		ErrorMessage: models.StringPtr(reason),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrStaleTransition) {
			log.Info("Upload already claimed, not abandoning")
			return OutcomeDuplicate
		}
		log.Error("Upload could not be marked as failed", zap.String("cause", reason), zap.Error(err))
		return OutcomeStuck
	}
	metrics.UploadsProcessed.WithLabelValues(string(OutcomeFailed)).Inc()
	log.Warn("Upload abandoned before processing", zap.String("reason", reason))
	return OutcomeFailed
}

// persist schreibt records in Batches und gibt die Zahl der geschriebenen Records zurück.
func (s *IngestionService) persist(ctx context.Context, records []models.DrugRecord) (int, error) {
	written := 0
	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		n, err := s.drugs.PutBatch(ctx, records[start:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *IngestionService) fail(ctx context.Context, log *zap.Logger, uploadID, message string, fields models.StatusFields) Outcome {
	fields.ErrorMessage = models.StringPtr(message)
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if _, err := s.tracker.Transition(fctx, uploadID, models.StateProcessing, models.StateFailed, fields); err != nil {
		log.Error("Upload could not be marked as failed", zap.String("cause", message), zap.Error(err))
		return OutcomeStuck
	}
	return OutcomeFailed
}

// finalizeContext löst den abschließenden Statusübergang von einer bereits abgebrochenen
// Verarbeitung, damit der Upload nicht in processing hängen bleibt.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
