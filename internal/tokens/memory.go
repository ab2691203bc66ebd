package tokens

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Write(_ context.Context, userID string, in Input) (*Record, error) {
	rec, err := NewRecord(userID, in, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[userID] = *rec
	s.mu.Unlock()

	return rec, nil
}

func (s *MemoryStore) Read(_ context.Context, userID string) (*Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	if err := checkUser(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; !ok {
		return ErrNotFound
	}
	delete(s.records, userID)
	return nil
}
