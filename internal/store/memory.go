package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ProfileStore. It is safe for concurrent use
// and honours the same version semantics as SQLiteStore.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (m *MemoryStore) ReadProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Blob = append([]byte(nil), p.Blob...)
	return &p, nil
}

func (m *MemoryStore) WriteProfile(ctx context.Context, userID string, blob []byte, expectedVersion int64) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.profiles[userID]
	switch {
	case !ok && expectedVersion != 0:
		return 0, ErrVersionConflict
	case ok && current.Version != expectedVersion:
		return 0, ErrVersionConflict
	}

	next := Profile{
		UserID:    userID,
		Blob:      append([]byte(nil), blob...),
		Version:   expectedVersion + 1,
		UpdatedAt: time.Now().UTC(),
	}
	m.profiles[userID] = next
	return next.Version, nil
}

func (m *MemoryStore) DeleteProfile(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[userID]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, userID)
	return nil
}

func (m *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{ProfileCount: int64(len(m.profiles))}
	for _, p := range m.profiles {
		if stats.LastWrite == nil || p.UpdatedAt.After(*stats.LastWrite) {
			t := p.UpdatedAt
			stats.LastWrite = &t
		}
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }
