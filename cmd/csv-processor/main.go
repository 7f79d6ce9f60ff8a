// Der CSV-Processor liest Blob-Created-Notifications aus SQS und führt die asynchrone
// Ingestion-Phase auf einem Worker-Pool aus.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"drug-analytics/app"
	"drug-analytics/config"
	"drug-analytics/notification"
	"drug-analytics/services"
	"drug-analytics/worker"

	"go.uber.org/zap"
)

// timeoutProcessor begrenzt die Laufzeit jeder Verarbeitung.
type timeoutProcessor struct {
	ingestion *services.IngestionService
	cfg       *config.Config
}

func (p timeoutProcessor) ProcessBlob(ctx context.Context, blobKey string) services.Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessingTimeout)
	defer cancel()
	return p.ingestion.ProcessBlob(ctx, blobKey)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	logging, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	if cfg.SQSQueueURL == "" {
		logging.Fatal("SQS_QUEUE_URL is required for the csv processor")
	}
	if cfg.RecordStore == config.RecordStoreMemory || cfg.BlobStore == config.BlobStoreMemory {
		logging.Fatal("The csv processor needs shared stores; in-memory stores only work with INLINE_PROCESSING in the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Failed to initialize stores", zap.Error(err))
	}

	// Der Pool läuft mit eigenem Kontext weiter, damit angenommene Nachrichten beim
	// Herunterfahren noch fertig verarbeitet werden.
	pool := worker.NewPool(cfg.WorkerCount, logging)
	pool.Start(context.Background())

	consumer := notification.NewSQSConsumer(
		notification.NewSQSClient(a.AWS, cfg.SQSEndpoint),
		notification.SQSConfig{
			QueueURL:    cfg.SQSQueueURL,
			WaitTime:    cfg.SQSWaitTime,
			MaxMessages: cfg.SQSMaxMessages,
		},
		pool,
		timeoutProcessor{ingestion: a.Ingestion, cfg: cfg},
		logging,
	)

	err = consumer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Consumer stopped", zap.Error(err))
	}
	logging.Info("Draining worker pool")
	pool.Stop()
}
