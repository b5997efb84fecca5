// Package memory provides an in-memory SessionStore for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"fides/internal/verification"
	id "fides/pkg/domain"
	"fides/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*verification.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[id.SessionID]*verification.Session)}
}

var _ verification.SessionStore = (*Store)(nil)

func (s *Store) Create(_ context.Context, session *verification.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, sid id.SessionID) (*verification.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *Store) AppendResult(_ context.Context, sid id.SessionID, result verification.ChannelResult, claims []verification.IdentityClaim) (*verification.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	for _, r := range session.Results {
		if r.Channel == result.Channel && r.AttemptNumber == result.AttemptNumber {
			return nil, sentinel.ErrAlreadyRecorded
		}
	}

	session.Results = append(session.Results, result)
	if session.Claims == nil {
		session.Claims = make(map[verification.ClaimField]verification.IdentityClaim, len(claims))
	}
	for _, c := range claims {
		session.Claims[c.Field] = c
	}
	// Scored under the lock so a concurrent append on another channel can
	// never overwrite the sum with a stale projection.
	session.CompositeScore = verification.Score(session.Results)
	touch(session, result.RecordedAt)
	return session.Clone(), nil
}

func (s *Store) Transition(_ context.Context, sid id.SessionID, from, to verification.Stage, reason string) (*verification.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !verification.CanTransition(from, to) {
		return nil, sentinel.ErrInvalidState
	}
	if session.Stage != from {
		return nil, sentinel.ErrConflict
	}

	session.Stage = to
	if to.IsTerminal() && reason != "" {
		session.FailureReason = reason
	}
	touch(session, time.Now())
	return session.Clone(), nil
}

func (s *Store) AddSignature(_ context.Context, sid id.SessionID, sig verification.Signature) (*verification.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if session.Stage != verification.StageSigning {
		return nil, sentinel.ErrInvalidState
	}
	if session.Signed(sig.Role) {
		return nil, sentinel.ErrAlreadyRecorded
	}

	session.Signatures = append(session.Signatures, sig)
	touch(session, sig.SignedAt)
	return session.Clone(), nil
}

func (s *Store) ListIdleBefore(_ context.Context, cutoff time.Time) ([]id.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []id.SessionID
	for sid, session := range s.sessions {
		if session.Stage.IsTerminal() {
			continue
		}
		if session.LastActivityAt.Before(cutoff) {
			ids = append(ids, sid)
		}
	}
	return ids, nil
}

// touch records activity and slides the expiry deadline by the session's idle
// window. A zero timestamp falls back to the wall clock.
func touch(session *verification.Session, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	window := session.ExpiresAt.Sub(session.LastActivityAt)
	session.LastActivityAt = at
	if window > 0 {
		session.ExpiresAt = at.Add(window)
	}
}
