package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/metrics"
	"drug-analytics/models"
	"drug-analytics/repository"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// allowedTransitions ist die Zustandsmaschine eines Uploads.
var allowedTransitions = map[models.UploadState][]models.UploadState{
	models.StatePending:    {models.StateProcessing, models.StateFailed},
	models.StateProcessing: {models.StateCompleted, models.StateFailed},
}

// CanTransition meldet, ob from -> to eine Kante der Zustandsmaschine ist.
func CanTransition(from, to models.UploadState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UploadTracker verwaltet den Status-Lebenszyklus eines Uploads. Jeder Übergang
// ist ein bedingter Schreibvorgang auf den erwarteten Vorzustand.
type UploadTracker struct {
	store repository.UploadStatusStore
	// Terminale Zustände ändern sich nie mehr und dürfen gecacht werden.
	cache  *expirable.LRU[string, models.UploadStatus]
	logger *zap.Logger
	now    func() time.Time
}

// NewUploadTracker erstellt einen Tracker. cacheSize <= 0 deaktiviert den Cache.
func NewUploadTracker(store repository.UploadStatusStore, cacheSize int, cacheTTL time.Duration, logger *zap.Logger) *UploadTracker {
	t := &UploadTracker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if cacheSize > 0 {
		t.cache = expirable.NewLRU[string, models.UploadStatus](cacheSize, nil, cacheTTL)
	}
	return t
}

// Create legt einen neuen Upload im Zustand pending an.
func (t *UploadTracker) Create(ctx context.Context, uploadID, filename, blobKey string) (*models.UploadStatus, error) {
	now := t.now()
	s := models.UploadStatus{
		UploadID:  uploadID,
		Status:    models.StatePending,
		Filename:  filename,
		BlobKey:   blobKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.CreateStatus(ctx, s); err != nil {
		return nil, storeError("create upload status", err)
	}
	return &s, nil
}

// Transition setzt den Status von expected auf next, sofern der gespeicherte Status
// noch expected ist. Ungültige Kanten werden abgelehnt, ohne den Store zu berühren.
func (t *UploadTracker) Transition(ctx context.Context, uploadID string, expected, next models.UploadState, fields models.StatusFields) (*models.UploadStatus, error) {
	if !CanTransition(expected, next) {
		return nil, fmt.Errorf("%s -> %s: %w", expected, next, apperrors.ErrInvalidTransition)
	}
	updated, err := t.store.UpdateStatus(ctx, uploadID, models.StatusUpdate{
		Expected: expected,
		Next:     next,
		Fields:   fields,
		At:       t.now(),
	})
	if err != nil {
		return nil, storeError("update upload status", err)
	}
	if updated.Status.Terminal() && t.cache != nil {
		t.cache.Add(uploadID, *updated)
	}
	t.logger.Debug("Upload status changed",
		zap.String("upload_id", uploadID),
		zap.String("from", string(expected)),
		zap.String("to", string(next)))
	return updated, nil
}

// Get liefert den aktuellen Status oder apperrors.ErrNotFound.
func (t *UploadTracker) Get(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	if t.cache != nil {
		if s, ok := t.cache.Get(uploadID); ok {
			metrics.StatusCacheHits.Inc()
			return &s, nil
		}
	}
	s, err := t.store.GetStatus(ctx, uploadID)
	if err != nil {
		return nil, storeError("get upload status", err)
	}
	if s.Status.Terminal() && t.cache != nil {
		t.cache.Add(uploadID, *s)
	}
	return s, nil
}

// Stale listet Uploads, die seit mindestens age im Zustand state stehen.
func (t *UploadTracker) Stale(ctx context.Context, state models.UploadState, age time.Duration) ([]models.UploadStatus, error) {
	out, err := t.store.ListStatuses(ctx, state, t.now().Add(-age))
	if err != nil {
		return nil, storeError("list upload statuses", err)
	}
	return out, nil
}

// storeError lässt fachliche Sentinels durch und kennzeichnet alles andere als Store-Ausfall.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrStaleTransition):
		return err
	}
	return apperrors.Dependency(op, err)
}
