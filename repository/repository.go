// Package repository kapselt den Record Store: Upload-Status und persistierte Drug Records.
// Alle Implementierungen melden fehlende Einträge mit apperrors.ErrNotFound und
// gescheiterte bedingte Schreibvorgänge mit apperrors.ErrConflict bzw. ErrStaleTransition.
package repository

import (
	"context"
	"sort"
	"time"

	"drug-analytics/models"
	"drug-analytics/pagination"
)

// UploadStatusStore speichert den Lebenszyklus eines Uploads.
type UploadStatusStore interface {
	// CreateStatus legt s an; ErrConflict, falls die upload_id bereits existiert.
	CreateStatus(ctx context.Context, s models.UploadStatus) error
	GetStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error)
	// UpdateStatus schreibt nur, wenn der gespeicherte Status u.Expected entspricht.
	UpdateStatus(ctx context.Context, uploadID string, u models.StatusUpdate) (*models.UploadStatus, error)
	// ListStatuses liefert alle Uploads im Zustand state, die vor before zuletzt geändert wurden.
	ListStatuses(ctx context.Context, state models.UploadState, before time.Time) ([]models.UploadStatus, error)
}

// DrugStore speichert unveränderliche Drug Records.
type DrugStore interface {
	// PutBatch schreibt höchstens MaxBatchSize Records und meldet, wie viele geschrieben wurden.
	PutBatch(ctx context.Context, records []models.DrugRecord) (int, error)
	LatestByName(ctx context.Context, drugName string) (*models.DrugRecord, error)
	HistoryByName(ctx context.Context, drugName string) ([]models.DrugRecord, error)
	// List liefert bis zu limit Records hinter after (nil = Anfang) und den Cursor der
	// nächsten Seite, falls weitere Records existieren.
	List(ctx context.Context, limit int, after *pagination.Cursor) ([]models.DrugRecord, *pagination.Cursor, error)
}

// MaxBatchSize ist die Obergrenze eines Batch-Schreibvorgangs (DynamoDB BatchWriteItem).
const MaxBatchSize = 25

// sortForListing sortiert records in Listenreihenfolge (neueste zuerst).
func sortForListing(records []models.DrugRecord) {
	sort.Slice(records, func(i, j int) bool {
		return pagination.After(records[i]).Less(records[j])
	})
}

// page schneidet eine mit limit+1 Einträgen gelesene Ergebnismenge auf limit
// und bildet den Cursor der Folgeseite.
func page(records []models.DrugRecord, limit int) ([]models.DrugRecord, *pagination.Cursor) {
	if len(records) <= limit {
		return records, nil
	}
	records = records[:limit]
	next := pagination.After(records[limit-1])
	return records, &next
}
