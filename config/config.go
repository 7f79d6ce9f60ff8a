package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Unterstützte Backends für den Record Store.
const (
	RecordStoreDynamoDB = "dynamodb"
	RecordStorePostgres = "postgres"
	RecordStoreMemory   = "memory"
)

// Unterstützte Backends für den Blob Store.
const (
	BlobStoreS3     = "s3"
	BlobStoreMemory = "memory"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	ServiceName    string `envconfig:"SERVICE_NAME" default:"Drug Analytics API"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	HTTPPort       string `envconfig:"HTTP_PORT" default:"8000"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`

	BlobStore   string `envconfig:"BLOB_STORE" default:"s3"`
	AWSRegion   string `envconfig:"AWS_REGION" default:"eu-central-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	// dynamodb, postgres oder memory (nur lokal, nicht über Prozesse hinweg geteilt)
	RecordStore       string `envconfig:"RECORD_STORE" default:"dynamodb"`
	DynamoDBEndpoint  string `envconfig:"DYNAMODB_ENDPOINT"`
	DrugsTable        string `envconfig:"DRUGS_TABLE" default:"drugs"`
	UploadStatusTable string `envconfig:"UPLOAD_STATUS_TABLE" default:"upload_status"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"drug_analytics"`

	SQSQueueURL       string        `envconfig:"SQS_QUEUE_URL"`
	SQSEndpoint       string        `envconfig:"SQS_ENDPOINT"`
	SQSWaitTime       time.Duration `envconfig:"SQS_WAIT_TIME" default:"20s"`
	SQSMaxMessages    int32         `envconfig:"SQS_MAX_MESSAGES" default:"10"`
	WorkerCount       int           `envconfig:"WORKER_COUNT" default:"4"`
	ProcessingTimeout time.Duration `envconfig:"PROCESSING_TIMEOUT" default:"5m"`

	JWTSecret    string `envconfig:"JWT_SECRET"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	MaxUploadBytes   int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	MaxCSVRows       int   `envconfig:"MAX_CSV_ROWS" default:"10000"`
	BatchSize        int   `envconfig:"BATCH_SIZE" default:"25"`
	InlineProcessing bool  `envconfig:"INLINE_PROCESSING" default:"false"`
	// DispatchTimeout begrenzt, wie lange ein Upload im Inline-Betrieb auf einen freien Worker wartet.
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"5s"`

	StaleCheckSchedule string        `envconfig:"STALE_CHECK_SCHEDULE" default:"*/10 * * * *"`
	StaleAfter         time.Duration `envconfig:"STALE_AFTER" default:"30m"`
	StatusCacheSize    int           `envconfig:"STATUS_CACHE_SIZE" default:"1024"`
	StatusCacheTTL     time.Duration `envconfig:"STATUS_CACHE_TTL" default:"10m"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Validate prüft Kombinationen, die envconfig-Tags nicht ausdrücken können.
func (c *Config) Validate() error {
	switch c.RecordStore {
	case RecordStoreDynamoDB, RecordStoreMemory:
	case RecordStorePostgres:
		if c.DBUser == "" {
			return fmt.Errorf("DB_USER is required for RECORD_STORE=%s", c.RecordStore)
		}
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore)
	}
	switch c.BlobStore {
	case BlobStoreS3, BlobStoreMemory:
	default:
		return fmt.Errorf("unknown BLOB_STORE %q", c.BlobStore)
	}
	if c.BatchSize < 1 || c.BatchSize > 25 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 25, got %d", c.BatchSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxCSVRows <= 0 {
		return fmt.Errorf("MAX_CSV_ROWS must be positive, got %d", c.MaxCSVRows)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	return nil
}

// ValidateAPI prüft zusätzlich die Einstellungen des API-Servers. Gegen geteilte Stores
// läuft die API nur mit JWT_SECRET; ohne Secret sind Uploads und Abfragen offen.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" && c.RecordStore != RecordStoreMemory {
		return fmt.Errorf("JWT_SECRET is required for RECORD_STORE=%s", c.RecordStore)
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
