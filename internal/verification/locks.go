package verification

import (
	"context"
	"sync"

	id "fides/pkg/domain"
)

// resourceLocks serializes channel attempts that share a local capture device
// within one session. The mutex is scoped to (session, resource), never
// global, so independent sessions verifying simultaneously do not block each
// other.
type resourceLocks struct {
	mu    sync.Mutex
	slots map[lockKey]chan struct{}
}

type lockKey struct {
	session  id.SessionID
	resource string
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{slots: make(map[lockKey]chan struct{})}
}

// acquire blocks until the (session, resource) slot is free or ctx is done.
// An empty resource means the channel holds no device; acquire is a no-op.
func (l *resourceLocks) acquire(ctx context.Context, session id.SessionID, resource string) (release func(), err error) {
	if resource == "" {
		return func() {}, nil
	}

	key := lockKey{session: session, resource: resource}
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drop forgets all slots for a session. Called on terminal transitions so the
// map does not grow with dead sessions. In-flight holders still release into
// their own channel reference; nothing blocks on a dropped slot.
func (l *resourceLocks) drop(session id.SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.slots {
		if key.session == session {
			delete(l.slots, key)
		}
	}
}
