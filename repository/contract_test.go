package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/models"
	"drug-analytics/pagination"
)

// runStatusContract prüft das Verhalten, das jeder UploadStatusStore erfüllen muss.
func runStatusContract(t *testing.T, store UploadStatusStore) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := models.UploadStatus{
		UploadID:  "7f0c1e9a-3a53-4bde-9c55-0d1b5b0e8f11",
		Status:    models.StatePending,
		Filename:  "drugs.csv",
		BlobKey:   "uploads/7f0c1e9a-3a53-4bde-9c55-0d1b5b0e8f11/drugs.csv",
		CreatedAt: created,
		UpdatedAt: created,
	}

	if err := store.CreateStatus(ctx, s); err != nil {
		t.Fatalf("CreateStatus: %v", err)
	}
	if err := store.CreateStatus(ctx, s); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("second CreateStatus = %v, want ErrConflict", err)
	}

	got, err := store.GetStatus(ctx, s.UploadID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != models.StatePending || got.Filename != "drugs.csv" || got.ErrorMessage != nil {
		t.Errorf("GetStatus = %+v", got)
	}
	if _, err := store.GetStatus(ctx, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("GetStatus(unknown) = %v, want ErrNotFound", err)
	}

	at := created.Add(time.Minute)
	updated, err := store.UpdateStatus(ctx, s.UploadID, models.StatusUpdate{
		Expected: models.StatePending, Next: models.StateProcessing, At: at,
	})
	if err != nil {
		t.Fatalf("UpdateStatus pending->processing: %v", err)
	}
	if updated.Status != models.StateProcessing || !updated.CreatedAt.Equal(created) {
		t.Errorf("after transition = %+v", updated)
	}

	// Zweiter Worker mit derselben Erwartung verliert.
	_, err = store.UpdateStatus(ctx, s.UploadID, models.StatusUpdate{
		Expected: models.StatePending, Next: models.StateProcessing, At: at,
	})
	if !errors.Is(err, apperrors.ErrStaleTransition) {
		t.Fatalf("stale UpdateStatus = %v, want ErrStaleTransition", err)
	}
	_, err = store.UpdateStatus(ctx, "00000000-0000-4000-8000-000000000000", models.StatusUpdate{
		Expected: models.StatePending, Next: models.StateProcessing, At: at,
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("UpdateStatus(unknown) = %v, want ErrNotFound", err)
	}

	stale, err := store.ListStatuses(ctx, models.StateProcessing, at.Add(time.Second))
	if err != nil {
		t.Fatalf("ListStatuses: %v", err)
	}
	if len(stale) != 1 || stale[0].UploadID != s.UploadID {
		t.Errorf("ListStatuses = %+v", stale)
	}
	if fresh, _ := store.ListStatuses(ctx, models.StateProcessing, at); len(fresh) != 0 {
		t.Errorf("ListStatuses before update = %+v, want none", fresh)
	}

	failed, err := store.UpdateStatus(ctx, s.UploadID, models.StatusUpdate{
		Expected: models.StateProcessing,
		Next:     models.StateFailed,
		At:       at.Add(time.Minute),
		Fields: models.StatusFields{
			TotalRows:     models.IntPtr(60),
			ProcessedRows: models.IntPtr(50),
			ErrorMessage:  models.StringPtr("persistence failed after 50 of 60 rows: boom"),
		},
	})
	if err != nil {
		t.Fatalf("UpdateStatus processing->failed: %v", err)
	}
	if failed.TotalRows != 60 || failed.ProcessedRows != 50 || failed.ErrorMessage == nil {
		t.Errorf("failed status = %+v", failed)
	}
}

func contractRecords(uploadID string, ts time.Time, names ...string) []models.DrugRecord {
	candidates := make([]models.DrugCandidate, 0, len(names))
	for i, name := range names {
		candidates = append(candidates, models.DrugCandidate{
			RowNumber: i + 1, DrugName: name, Target: "EGFR", Efficacy: float64(i),
		})
	}
	return models.NewDrugRecords(uploadID, ts, candidates)
}

// runDrugContract prüft das Verhalten, das jeder DrugStore erfüllen muss.
func runDrugContract(t *testing.T, store DrugStore) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := contractRecords("11111111-1111-4111-8111-111111111111", t0, "Aspirin", "Ibuprofen", "Aspirin")
	newer := contractRecords("22222222-2222-4222-8222-222222222222", t0.Add(time.Hour), "Aspirin", "Metformin")
	var bulk []models.DrugRecord
	for i := 0; i < 20; i++ {
		bulk = append(bulk, contractRecords("33333333-3333-4333-8333-333333333333", t0.Add(-time.Hour), fmt.Sprintf("Drug%02d", i))[0])
		bulk[i].RecordID = models.RecordID("33333333-3333-4333-8333-333333333333", i+1)
		bulk[i].RowNumber = i + 1
	}

	for _, batch := range [][]models.DrugRecord{older, newer, bulk} {
		n, err := store.PutBatch(ctx, batch)
		if err != nil || n != len(batch) {
			t.Fatalf("PutBatch = %d, %v", n, err)
		}
	}

	latest, err := store.LatestByName(ctx, "Aspirin")
	if err != nil {
		t.Fatalf("LatestByName: %v", err)
	}
	if latest.SourceUploadID != "22222222-2222-4222-8222-222222222222" {
		t.Errorf("LatestByName returned record from %s", latest.SourceUploadID)
	}
	if _, err := store.LatestByName(ctx, "Unknown"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("LatestByName(unknown) = %v, want ErrNotFound", err)
	}

	history, err := store.HistoryByName(ctx, "Aspirin")
	if err != nil {
		t.Fatalf("HistoryByName: %v", err)
	}
	if len(history) != 3 || !history[0].UploadTimestamp.After(history[2].UploadTimestamp) {
		t.Errorf("HistoryByName = %+v", history)
	}

	total := len(older) + len(newer) + len(bulk)
	seen := make(map[string]bool)
	var cursor *pagination.Cursor
	var prev *models.DrugRecord
	for pages := 0; ; pages++ {
		if pages > total {
			t.Fatal("pagination does not terminate")
		}
		records, next, err := store.List(ctx, 4, cursor)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for i := range records {
			r := records[i]
			if seen[r.RecordID] {
				t.Fatalf("record %s returned twice", r.RecordID)
			}
			seen[r.RecordID] = true
			if prev != nil && r.UploadTimestamp.After(prev.UploadTimestamp) {
				t.Fatalf("record %s out of order", r.RecordID)
			}
			prev = &r
		}
		if next == nil {
			break
		}
		if len(records) != 4 {
			t.Fatalf("non-final page has %d records", len(records))
		}
		token := pagination.Encode(*next)
		decoded, err := pagination.Decode(token)
		if err != nil {
			t.Fatalf("Decode(next): %v", err)
		}
		cursor = &decoded
	}
	if len(seen) != total {
		t.Errorf("visited %d records, want %d", len(seen), total)
	}

	// Genau limit Records übrig: keine weitere Seite.
	records, next, err := store.List(ctx, total, nil)
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(records) != total || next != nil {
		t.Errorf("List(all) = %d records, next %v", len(records), next)
	}
}
