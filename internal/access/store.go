package access

import (
	"context"
	"sync"

	id "fides/pkg/domain"
	"fides/pkg/platform/sentinel"
)

// InMemoryStore keeps code records in process memory.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[id.SessionID]*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.SessionID]*Record)}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Attempts = 0
	s.records[record.SessionID] = &record
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID id.SessionID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[sessionID]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return *record, nil
}

func (s *InMemoryStore) IncrementAttempts(_ context.Context, sessionID id.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[sessionID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	record.Attempts++
	return record.Attempts, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sessionID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, sessionID)
	return nil
}
