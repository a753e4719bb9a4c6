package records

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Insert implements Store
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.UserID]; ok {
		return ErrExists
	}
	s.records[rec.UserID] = *copyRecord(*rec)
	return nil
}

// Update implements Store
func (s *MemoryStore) Update(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.UserID]; !ok {
		return ErrNotFound
	}
	s.records[rec.UserID] = *copyRecord(*rec)
	return nil
}

// List implements Store
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

func copyRecord(rec Record) *Record {
	rec.EncryptedFacts = append([]byte(nil), rec.EncryptedFacts...)
	return &rec
}
