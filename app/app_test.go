package app

import (
	"context"
	"strings"
	"testing"

	"drug-analytics/config"
	"drug-analytics/services"

	"go.uber.org/zap/zaptest"
)

func TestNew_InMemory(t *testing.T) {
	cfg := &config.Config{
		BlobStore:      config.BlobStoreMemory,
		RecordStore:    config.RecordStoreMemory,
		S3Bucket:       "drug-uploads",
		MaxUploadBytes: 1024,
		MaxCSVRows:     10,
		BatchSize:      25,
	}
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.S3 != nil {
		t.Error("S3 client created for in-memory blob store")
	}

	body := "drug_name,target,efficacy\nAspirin,COX-2,85.5\n"
	res, err := a.Ingestion.SubmitUpload(context.Background(), "a.csv", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("SubmitUpload: %v", err)
	}
	if got := a.Ingestion.ProcessBlob(context.Background(), res.BlobKey); got != services.OutcomeCompleted {
		t.Fatalf("ProcessBlob = %s", got)
	}
	if _, err := a.Query.GetDrug(context.Background(), "Aspirin"); err != nil {
		t.Errorf("GetDrug: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if _, err := NewLogger(level); err != nil {
			t.Errorf("NewLogger(%q): %v", level, err)
		}
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
