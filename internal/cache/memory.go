package cache

import (
	"context"
	"sync"
)

// MemoryStore is the ephemeral backend: process-scoped, lost on restart. It
// is also the substitute backend tests use for the durable side.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get returns a copy of the stored record, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := rec
	out.Messages = append(out.Messages[:0:0], rec.Messages...)
	return &out, nil
}

// Put stores a whole-record snapshot, replacing any previous one.
func (s *MemoryStore) Put(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Messages = append(rec.Messages[:0:0], rec.Messages...)
	s.records[key] = rec
	return nil
}

// Clear removes the record. Idempotent.
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}
