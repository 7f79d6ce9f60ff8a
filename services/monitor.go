package services

import (
	"context"
	"fmt"
	"time"

	"drug-analytics/metrics"
	"drug-analytics/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleUploadMonitor meldet Uploads, die zu lange in pending oder processing stehen, z.B.
// weil keine Notification ankam oder ein Worker mitten in der Verarbeitung beendet wurde.
// Er ändert keinen Status.
type StaleUploadMonitor struct {
	tracker *UploadTracker
	after   time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
}

func NewStaleUploadMonitor(tracker *UploadTracker, after time.Duration, logger *zap.Logger) *StaleUploadMonitor {
	return &StaleUploadMonitor{
		tracker: tracker,
		after:   after,
		logger:  logger,
		cron:    cron.New(),
	}
}

var watchedStates = []models.UploadState{models.StatePending, models.StateProcessing}

// Check prüft einmalig und aktualisiert die Gauge. Gibt die Zahl hängender Uploads zurück.
func (m *StaleUploadMonitor) Check(ctx context.Context) (int, error) {
	total := 0
	for _, state := range watchedStates {
		stale, err := m.tracker.Stale(ctx, state, m.after)
		if err != nil {
			return total, err
		}
		metrics.StaleUploads.WithLabelValues(string(state)).Set(float64(len(stale)))
		for _, s := range stale {
			m.logger.Warn("Upload stuck",
				zap.String("upload_id", s.UploadID),
				zap.String("status", string(s.Status)),
				zap.String("blob_key", s.BlobKey),
				zap.Time("updated_at", s.UpdatedAt),
				zap.Duration("age", time.Since(s.UpdatedAt)))
		}
		total += len(stale)
	}
	return total, nil
}

// Start plant Check nach schedule (Cron-Syntax mit fünf Feldern).
func (m *StaleUploadMonitor) Start(schedule string) error {
	_, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		count, err := m.Check(ctx)
		if err != nil {
			m.logger.Error("Stale upload check failed", zap.Error(err))
			return
		}
		m.logger.Debug("Stale upload check completed", zap.Int("stale", count))
	})
	if err != nil {
		return fmt.Errorf("invalid stale check schedule %q: %w", schedule, err)
	}
	m.cron.Start()
	return nil
}

// Stop hält den Scheduler an und wartet auf einen laufenden Check.
func (m *StaleUploadMonitor) Stop() {
	<-m.cron.Stop().Done()
}
