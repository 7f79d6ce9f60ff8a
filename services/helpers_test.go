package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"drug-analytics/models"
	"drug-analytics/repository"
	"drug-analytics/storage"
	"drug-analytics/validation"

	"go.uber.org/zap/zaptest"
)

// hookedStatusStore erlaubt es, einzelne Statusübergänge scheitern zu lassen.
type hookedStatusStore struct {
	*repository.MemoryStore
	updateErr func(u models.StatusUpdate) error
	updates   int
}

func (h *hookedStatusStore) UpdateStatus(ctx context.Context, uploadID string, u models.StatusUpdate) (*models.UploadStatus, error) {
	h.updates++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.updateErr != nil {
		if err := h.updateErr(u); err != nil {
			return nil, err
		}
	}
	return h.MemoryStore.UpdateStatus(ctx, uploadID, u)
}

// flakyDrugStore lässt den Batch mit der Nummer failOnBatch (1-basiert) scheitern.
type flakyDrugStore struct {
	*repository.MemoryStore
	failOnBatch int
	batches     int
	batchSizes  []int
}

func (f *flakyDrugStore) PutBatch(ctx context.Context, records []models.DrugRecord) (int, error) {
	f.batches++
	f.batchSizes = append(f.batchSizes, len(records))
	if f.batches == f.failOnBatch {
		return 0, errProvisionedThroughput
	}
	return f.MemoryStore.PutBatch(ctx, records)
}

type staticError string

func (e staticError) Error() string { return string(e) }

const errProvisionedThroughput = staticError("provisioned throughput exceeded")

type pipelineFixture struct {
	svc      *IngestionService
	tracker  *UploadTracker
	blobs    *storage.MemoryBlobStore
	statuses *hookedStatusStore
	drugs    *flakyDrugStore
	query    *DrugQueryService
}

func newPipeline(t *testing.T, maxRows int) *pipelineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := repository.NewMemoryStore()
	statuses := &hookedStatusStore{MemoryStore: mem}
	drugs := &flakyDrugStore{MemoryStore: mem}
	blobs := storage.NewMemoryBlobStore("drug-uploads")
	tracker := NewUploadTracker(statuses, 16, time.Minute, logger)
	svc := NewIngestionService(blobs, drugs, tracker, validation.New(validation.Config{MaxRows: maxRows}), IngestionConfig{
		MaxUploadBytes: 1024,
		BatchSize:      25,
	}, logger)
	return &pipelineFixture{
		svc:      svc,
		tracker:  tracker,
		blobs:    blobs,
		statuses: statuses,
		drugs:    drugs,
		query:    NewDrugQueryService(drugs, logger),
	}
}

func (p *pipelineFixture) submit(t *testing.T, filename, body string) *SubmitResult {
	t.Helper()
	res, err := p.svc.SubmitUpload(context.Background(), filename, strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("SubmitUpload: %v", err)
	}
	return res
}

func (p *pipelineFixture) status(t *testing.T, uploadID string) *models.UploadStatus {
	t.Helper()
	s, err := p.statuses.GetStatus(context.Background(), uploadID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return s
}

const validCSV = "drug_name,target,efficacy\nAspirin,COX-2,85.5\nIbuprofen,COX-1,90.0\n"

const invalidCSV = "drug_name,target,efficacy\nAspirin,COX-2,85.5\nIbuprofen,COX-1,90.0\nBadDrug,Target,150\n"
