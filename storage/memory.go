package storage

import (
	"context"
	"fmt"
	"sync"

	"drug-analytics/apperrors"
)

// MemoryBlobStore hält Blobs im Prozessspeicher. Nur für lokalen Betrieb und Tests.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	bucket  string
}

// NewMemoryBlobStore erstellt einen leeren MemoryBlobStore.
func NewMemoryBlobStore(bucket string) *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte), bucket: bucket}
}

func (m *MemoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory://%s/%s: %w", m.bucket, key, apperrors.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete entfernt key; fehlende Schlüssel werden ignoriert.
func (m *MemoryBlobStore) Delete(key string) {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
}

// Len gibt die Anzahl gespeicherter Blobs zurück.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryBlobStore) Location(key string) string {
	return fmt.Sprintf("memory://%s/%s", m.bucket, key)
}
