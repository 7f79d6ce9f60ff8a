package services

import (
	"context"
	"time"

	"drug-analytics/worker"

	"go.uber.org/zap"
)

// Fehlermeldungen für Uploads, die im Inline-Betrieb nie verarbeitet werden.
const (
	DispatchDropped = "dispatch dropped: processing queue full, please re-upload the file"
	DispatchFailed  = "dispatch failed: upload could not be claimed, please re-upload the file"
)

// DispatchConfig steuert die Inline-Verarbeitung.
type DispatchConfig struct {
	// SubmitTimeout begrenzt das Warten auf einen freien Platz in der Warteschlange.
	SubmitTimeout     time.Duration
	ProcessingTimeout time.Duration
}

// InlineDispatcher führt die asynchrone Phase im API-Prozess auf einem Worker-Pool aus,
// wenn keine Notifications von außen kommen. Ohne Redelivery darf kein Upload in pending
// liegen bleiben: was nicht verarbeitet werden kann, wird pending -> failed gesetzt.
type InlineDispatcher struct {
	ingestion *IngestionService
	pool      *worker.Pool
	cfg       DispatchConfig
	logger    *zap.Logger
}

func NewInlineDispatcher(ingestion *IngestionService, pool *worker.Pool, cfg DispatchConfig, logger *zap.Logger) *InlineDispatcher {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}
	return &InlineDispatcher{ingestion: ingestion, pool: pool, cfg: cfg, logger: logger}
}

// Dispatch reiht die Verarbeitung von blobKey ein und blockiert höchstens SubmitTimeout.
func (d *InlineDispatcher) Dispatch(ctx context.Context, blobKey string) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()

	err := d.pool.Submit(sctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.ProcessingTimeout)
		defer cancel()
		if d.ingestion.ProcessBlob(pctx, blobKey) == OutcomeRetry {
			d.ingestion.Abandon(ctx, blobKey, DispatchFailed)
		}
		return nil
	})
	if err != nil {
		d.logger.Warn("Processing queue full, abandoning upload", zap.String("blob_key", blobKey), zap.Error(err))
		d.ingestion.Abandon(ctx, blobKey, DispatchDropped)
	}
}
