package breaker

import (
	"context"
	"sync"
	"time"
)

// Entry is the failure state of one key.
type Entry struct {
	Failures    int
	LastFailure time.Time
}

// Store holds per-key failure state. Implementations must make Increment
// atomic per key so concurrent failures are never lost.
type Store interface {
	// Get returns the entry for key; ok is false when the key has no failures.
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)

	// Increment adds one failure at the given time and returns the new entry.
	Increment(ctx context.Context, key string, at time.Time) (Entry, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys.
	Clear(ctx context.Context) error

	// Snapshot returns a copy of every entry.
	Snapshot(ctx context.Context) (map[string]Entry, error)
}

// MemoryStore is the process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, at time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	e.Failures++
	e.LastFailure = at
	s.entries[key] = e
	return e, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}
