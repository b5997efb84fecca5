package audit

import (
	"context"
	"sync"

	id "fides/pkg/domain"
)

// Store persists events. Append-only within the retention window.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error)
}

// InMemoryStore keeps the trail in process memory. Used in tests and
// single-node development; production uses the Postgres store.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.SessionID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.SessionID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out, nil
}
