// Export schreibt einen Snapshot aller Drug Records als gzip-komprimierte CSV-Datei in den
// Bucket und behält nur die neuesten EXPORT_KEEP Snapshots.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"drug-analytics/app"
	"drug-analytics/config"
	"drug-analytics/pagination"
	"drug-analytics/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

type ExportConfig struct {
	Prefix   string `envconfig:"EXPORT_PREFIX" default:"exports/"`
	Keep     int    `envconfig:"EXPORT_KEEP" default:"4"`
	PageSize int    `envconfig:"EXPORT_PAGE_SIZE" default:"500"`
}

// snapshotAPI ist der Ausschnitt des S3-Clients für Upload und Rotation.
type snapshotAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var exportHeader = []string{"record_id", "drug_name", "target", "efficacy", "upload_timestamp", "source_upload_id", "row_number"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	var exportCfg ExportConfig
	if err := envconfig.Process("", &exportCfg); err != nil {
		log.Fatalf("Export config load error: %v", err)
	}

	logging, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	if cfg.BlobStore != config.BlobStoreS3 || cfg.RecordStore == config.RecordStoreMemory {
		logging.Fatal("Export needs S3 and a persistent record store")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Failed to initialize stores", zap.Error(err))
	}

	logging.Info("Starting export")
	data, count, err := writeSnapshot(ctx, a.Drugs, exportCfg.PageSize)
	if err != nil {
		logging.Fatal("Failed to export drug records", zap.Error(err))
	}

	key := fmt.Sprintf("%sdrugs-%s.csv.gz", exportCfg.Prefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := uploadSnapshot(ctx, a.S3, cfg.S3Bucket, key, data); err != nil {
		logging.Fatal("Failed to upload snapshot", zap.Error(err))
	}
	logging.Info("Snapshot uploaded",
		zap.String("location", fmt.Sprintf("s3://%s/%s", cfg.S3Bucket, key)),
		zap.Int("records", count))

	deleted, err := rotateSnapshots(ctx, a.S3, cfg.S3Bucket, exportCfg.Prefix, exportCfg.Keep, logging)
	if err != nil {
		logging.Fatal("Failed to rotate snapshots", zap.Error(err))
	}
	logging.Info("Export completed", zap.Int("rotated", deleted))
}

// writeSnapshot läuft die Cursor-Pagination vollständig ab und schreibt jede Seite
// sofort in den gzip-Strom.
func writeSnapshot(ctx context.Context, drugs repository.DrugStore, pageSize int) ([]byte, int, error) {
	limit, err := pagination.NormalizeLimit(pageSize)
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	w := csv.NewWriter(gz)
	if err := w.Write(exportHeader); err != nil {
		return nil, 0, err
	}

	count := 0
	var cursor *pagination.Cursor
	for {
		records, next, err := drugs.List(ctx, limit, cursor)
		if err != nil {
			return nil, count, fmt.Errorf("list drugs after %d records: %w", count, err)
		}
		for _, r := range records {
			row := []string{
				r.RecordID,
				r.DrugName,
				r.Target,
				strconv.FormatFloat(r.Efficacy, 'f', -1, 64),
				r.UploadTimestamp.UTC().Format(time.RFC3339Nano),
				r.SourceUploadID,
				strconv.Itoa(r.RowNumber),
			}
			if err := w.Write(row); err != nil {
				return nil, count, err
			}
		}
		count += len(records)
		if next == nil {
			break
		}
		cursor = next
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, count, err
	}
	if err := gz.Close(); err != nil {
		return nil, count, err
	}
	return buf.Bytes(), count, nil
}

func uploadSnapshot(ctx context.Context, client snapshotAPI, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("text/csv"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}

// rotateSnapshots löscht alle Snapshots unter prefix bis auf die keep neuesten.
// Die Schlüssel enthalten den UTC-Zeitstempel, daher genügt die Sortierung nach Namen.
func rotateSnapshots(ctx context.Context, client snapshotAPI, bucket, prefix string, keep int, logging *zap.Logger) (int, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	if len(keys) <= keep {
		logging.Info("No rotation needed", zap.Int("snapshots", len(keys)), zap.Int("keep", keep))
		return 0, nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	deleted := 0
	for _, key := range keys[keep:] {
		logging.Info("Deleting old snapshot", zap.String("key", key))
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			logging.Error("Failed to delete snapshot", zap.String("key", key), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}
