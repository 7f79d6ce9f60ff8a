package services

import (
	"context"
	"testing"
	"time"

	"drug-analytics/metrics"
	"drug-analytics/models"
	"drug-analytics/repository"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

func TestStaleUploadMonitor_Check(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tracker := NewUploadTracker(repository.NewMemoryStore(), 0, 0, logger)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	tracker.now = func() time.Time { return base }

	for _, id := range []string{"a", "b", "c"} {
		if _, err := tracker.Create(ctx, id, "x.csv", "uploads/"+id+"/x.csv"); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []string{"a", "b"} {
		if _, err := tracker.Transition(ctx, id, models.StatePending, models.StateProcessing, models.StatusFields{}); err != nil {
			t.Fatal(err)
		}
	}
	tracker.now = func() time.Time { return time.Now().UTC() }

	monitor := NewStaleUploadMonitor(tracker, 30*time.Minute, logger)
	count, err := monitor.Check(ctx)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if got := testutil.ToFloat64(metrics.StaleUploads.WithLabelValues("processing")); got != 2 {
		t.Errorf("processing gauge = %v, want 2", got)
	}
	// c wurde nie übernommen und bleibt als hängendes pending sichtbar.
	if got := testutil.ToFloat64(metrics.StaleUploads.WithLabelValues("pending")); got != 1 {
		t.Errorf("pending gauge = %v, want 1", got)
	}
	// Der Monitor meldet nur, er ändert keinen Status.
	s, _ := tracker.Get(ctx, "a")
	if s.Status != models.StateProcessing {
		t.Errorf("status = %s, want processing", s.Status)
	}
}

func TestStaleUploadMonitor_InvalidSchedule(t *testing.T) {
	tracker := NewUploadTracker(repository.NewMemoryStore(), 0, 0, zaptest.NewLogger(t))
	monitor := NewStaleUploadMonitor(tracker, time.Minute, zaptest.NewLogger(t))
	if err := monitor.Start("not a schedule"); err == nil {
		monitor.Stop()
		t.Fatal("expected error for invalid schedule")
	}
}
