package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/models"
	"drug-analytics/pagination"
)

// MemoryStore implementiert UploadStatusStore und DrugStore im Prozessspeicher.
// Für lokalen Betrieb (RECORD_STORE=memory) und Tests.
type MemoryStore struct {
	mu        sync.RWMutex
	statuses  map[string]models.UploadStatus
	records   []models.DrugRecord
	recordIDs map[string]struct{}
}

// NewMemoryStore erstellt einen leeren MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:  make(map[string]models.UploadStatus),
		recordIDs: make(map[string]struct{}),
	}
}

func (m *MemoryStore) CreateStatus(_ context.Context, s models.UploadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[s.UploadID]; ok {
		return fmt.Errorf("upload %s: %w", s.UploadID, apperrors.ErrConflict)
	}
	m.statuses[s.UploadID] = copyStatus(s)
	return nil
}

func (m *MemoryStore) GetStatus(_ context.Context, uploadID string) (*models.UploadStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[uploadID]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", uploadID, apperrors.ErrNotFound)
	}
	out := copyStatus(s)
	return &out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, uploadID string, u models.StatusUpdate) (*models.UploadStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[uploadID]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", uploadID, apperrors.ErrNotFound)
	}
	if s.Status != u.Expected {
		return nil, fmt.Errorf("upload %s is %s, expected %s: %w", uploadID, s.Status, u.Expected, apperrors.ErrStaleTransition)
	}
	next := u.Apply(s)
	m.statuses[uploadID] = copyStatus(next)
	out := copyStatus(next)
	return &out, nil
}

func (m *MemoryStore) ListStatuses(_ context.Context, state models.UploadState, before time.Time) ([]models.UploadStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UploadStatus
	for _, s := range m.statuses {
		if s.Status == state && s.UpdatedAt.Before(before) {
			out = append(out, copyStatus(s))
		}
	}
	return out, nil
}

// PutBatch überspringt bereits vorhandene record_ids; sie gelten als geschrieben.
func (m *MemoryStore) PutBatch(_ context.Context, records []models.DrugRecord) (int, error) {
	if len(records) > MaxBatchSize {
		return 0, fmt.Errorf("batch of %d records exceeds limit of %d", len(records), MaxBatchSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.recordIDs[r.RecordID]; ok {
			continue
		}
		m.recordIDs[r.RecordID] = struct{}{}
		m.records = append(m.records, r)
	}
	return len(records), nil
}

func (m *MemoryStore) LatestByName(ctx context.Context, drugName string) (*models.DrugRecord, error) {
	history, err := m.HistoryByName(ctx, drugName)
	if err != nil {
		return nil, err
	}
	return &history[0], nil
}

func (m *MemoryStore) HistoryByName(_ context.Context, drugName string) ([]models.DrugRecord, error) {
	m.mu.RLock()
	var out []models.DrugRecord
	for _, r := range m.records {
		if r.DrugName == drugName {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	if len(out) == 0 {
		return nil, fmt.Errorf("drug %q: %w", drugName, apperrors.ErrNotFound)
	}
	sortForListing(out)
	return out, nil
}

func (m *MemoryStore) List(_ context.Context, limit int, after *pagination.Cursor) ([]models.DrugRecord, *pagination.Cursor, error) {
	m.mu.RLock()
	all := make([]models.DrugRecord, len(m.records))
	copy(all, m.records)
	m.mu.RUnlock()

	sortForListing(all)
	out := make([]models.DrugRecord, 0, limit+1)
	for _, r := range all {
		if after != nil && !after.Less(r) {
			continue
		}
		out = append(out, r)
		if len(out) > limit {
			break
		}
	}
	records, next := page(out, limit)
	return records, next, nil
}

// Len gibt die Anzahl gespeicherter Records zurück.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func copyStatus(s models.UploadStatus) models.UploadStatus {
	if s.ErrorMessage != nil {
		s.ErrorMessage = models.StringPtr(*s.ErrorMessage)
	}
	return s
}
