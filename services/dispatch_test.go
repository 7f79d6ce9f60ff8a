package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"drug-analytics/models"
	"drug-analytics/worker"

	"go.uber.org/zap/zaptest"
)

func TestInlineDispatcher_ProcessesUpload(t *testing.T) {
	p := newPipeline(t, 100)
	pool := worker.NewPool(1, zaptest.NewLogger(t))
	pool.Start(context.Background())
	d := NewInlineDispatcher(p.svc, pool, DispatchConfig{SubmitTimeout: time.Second}, zaptest.NewLogger(t))

	res := p.submit(t, "drugs.csv", validCSV)
	d.Dispatch(context.Background(), res.BlobKey)
	pool.Stop()

	if s := p.status(t, res.UploadID); s.Status != models.StateCompleted || s.ProcessedRows != 2 {
		t.Errorf("status = %s, processed = %d", s.Status, s.ProcessedRows)
	}
}

func TestInlineDispatcher_FullQueueFailsUpload(t *testing.T) {
	p := newPipeline(t, 100)
	pool := worker.NewPool(1, zaptest.NewLogger(t))
	pool.Start(context.Background())

	// Ein Worker blockiert, die Warteschlange (2 Plätze) ist voll.
	started := make(chan struct{})
	release := make(chan struct{})
	blocker := func(context.Context) error {
		<-release
		return nil
	}
	if err := pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		return blocker(ctx)
	}); err != nil {
		t.Fatal(err)
	}
	<-started
	for i := 0; i < 2; i++ {
		if err := pool.Submit(context.Background(), blocker); err != nil {
			t.Fatalf("queue slot %d not available: %v", i, err)
		}
	}

	d := NewInlineDispatcher(p.svc, pool, DispatchConfig{SubmitTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	res := p.submit(t, "drugs.csv", validCSV)
	d.Dispatch(context.Background(), res.BlobKey)

	s := p.status(t, res.UploadID)
	if s.Status != models.StateFailed {
		t.Fatalf("status = %s, want failed", s.Status)
	}
	if s.ErrorMessage == nil || *s.ErrorMessage != DispatchDropped {
		t.Errorf("error_message = %v", s.ErrorMessage)
	}

	close(release)
	pool.Stop()
}

func TestInlineDispatcher_UnclaimableUploadFails(t *testing.T) {
	p := newPipeline(t, 100)
	p.statuses.updateErr = func(u models.StatusUpdate) error {
		if u.Next == models.StateProcessing {
			return errors.New("throttled")
		}
		return nil
	}
	pool := worker.NewPool(1, zaptest.NewLogger(t))
	pool.Start(context.Background())
	d := NewInlineDispatcher(p.svc, pool, DispatchConfig{SubmitTimeout: time.Second}, zaptest.NewLogger(t))

	res := p.submit(t, "drugs.csv", validCSV)
	d.Dispatch(context.Background(), res.BlobKey)
	pool.Stop()

	s := p.status(t, res.UploadID)
	if s.Status != models.StateFailed || s.ErrorMessage == nil || *s.ErrorMessage != DispatchFailed {
		t.Errorf("status = %s, error_message = %v", s.Status, s.ErrorMessage)
	}
}

func TestAbandon_LeavesClaimedUploadAlone(t *testing.T) {
	p := newPipeline(t, 100)
	res := p.submit(t, "drugs.csv", validCSV)
	if got := p.svc.ProcessBlob(context.Background(), res.BlobKey); got != OutcomeCompleted {
		t.Fatalf("ProcessBlob = %s", got)
	}
	if got := p.svc.Abandon(context.Background(), res.BlobKey, DispatchDropped); got != OutcomeDuplicate {
		t.Errorf("Abandon = %s, want duplicate", got)
	}
	if s := p.status(t, res.UploadID); s.Status != models.StateCompleted {
		t.Errorf("status = %s, want completed", s.Status)
	}
	if got := p.svc.Abandon(context.Background(), "exports/x.csv.gz", DispatchDropped); got != OutcomeIgnored {
		t.Errorf("Abandon foreign key = %s, want ignored", got)
	}
}
