// Package app baut die gemeinsamen Abhängigkeiten der Binaries aus der Konfiguration.
package app

import (
	"context"
	"fmt"

	"drug-analytics/config"
	"drug-analytics/repository"
	"drug-analytics/services"
	"drug-analytics/storage"
	"drug-analytics/validation"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// App enthält die verdrahteten Stores und Services.
type App struct {
	Config    *config.Config
	AWS       aws.Config
	S3        *s3.Client
	Blobs     storage.BlobStore
	Statuses  repository.UploadStatusStore
	Drugs     repository.DrugStore
	Tracker   *services.UploadTracker
	Ingestion *services.IngestionService
	Query     *services.DrugQueryService
}

// NewLogger erstellt den zap-Logger; LOG_LEVEL=debug schaltet auf Development-Ausgabe.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	return cfg.Build()
}

// New verbindet Blob Store und Record Store und erstellt die Services.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg}

	if cfg.BlobStore == config.BlobStoreS3 || cfg.RecordStore == config.RecordStoreDynamoDB {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		a.AWS = awsCfg
	}

	switch cfg.BlobStore {
	case config.BlobStoreS3:
		a.S3 = storage.NewS3Client(a.AWS, cfg)
		a.Blobs = storage.NewS3BlobStore(a.S3, cfg.S3Bucket)
	default:
		log.Warn("Using in-memory blob store; uploads are lost on restart")
		a.Blobs = storage.NewMemoryBlobStore(cfg.S3Bucket)
	}

	switch cfg.RecordStore {
	case config.RecordStoreDynamoDB:
		client := repository.NewDynamoClient(a.AWS, cfg.DynamoDBEndpoint)
		a.Statuses = repository.NewDynamoStatusStore(client, cfg.UploadStatusTable)
		a.Drugs = repository.NewDynamoDrugStore(client, cfg.DrugsTable)
		log.Info("Using DynamoDB record store",
			zap.String("drugs_table", cfg.DrugsTable),
			zap.String("status_table", cfg.UploadStatusTable))
	case config.RecordStorePostgres:
		db, err := repository.OpenPostgres(cfg.DSN())
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db)
		a.Statuses, a.Drugs = store, store
		log.Info("Successfully connected to PostgreSQL record store.")
	default:
		log.Warn("Using in-memory record store; data is not shared between processes")
		store := repository.NewMemoryStore()
		a.Statuses, a.Drugs = store, store
	}

	a.Tracker = services.NewUploadTracker(a.Statuses, cfg.StatusCacheSize, cfg.StatusCacheTTL, log)
	a.Ingestion = services.NewIngestionService(
		a.Blobs,
		a.Drugs,
		a.Tracker,
		validation.New(validation.Config{MaxRows: cfg.MaxCSVRows}),
		services.IngestionConfig{
			MaxUploadBytes: cfg.MaxUploadBytes,
			BatchSize:      cfg.BatchSize,
		},
		log,
	)
	a.Query = services.NewDrugQueryService(a.Drugs, log)
	return a, nil
}
