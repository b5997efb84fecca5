package verification

import (
	"context"
	"time"

	id "fides/pkg/domain"
)

// SessionStore is the durable home for verification sessions. Stores are
// interface-driven so in-memory, Redis, and Postgres implementations swap
// without touching orchestration logic.
//
// Contract:
//   - Reads return consistent snapshots (never a partially appended history).
//   - Writes are linearizable per session; cross-session independence means
//     no global locking is required.
//   - Stores return pkg/platform/sentinel errors; the service translates.
type SessionStore interface {
	// Create persists a new session. sentinel.ErrConflict on duplicate ID.
	Create(ctx context.Context, s *Session) error

	// Get returns a snapshot. sentinel.ErrNotFound when absent.
	Get(ctx context.Context, sid id.SessionID) (*Session, error)

	// AppendResult appends a channel result, installs the accepted claims,
	// and recomputes the composite score from the full result history,
	// updating LastActivityAt, all atomically. The score is derived inside
	// the store's critical section so concurrent appends never install a
	// stale sum. Idempotency: sentinel.ErrAlreadyRecorded when
	// (result.Channel, result.AttemptNumber) already exists; the caller
	// fetches the stored session and returns the prior result.
	AppendResult(ctx context.Context, sid id.SessionID, result ChannelResult, claims []IdentityClaim) (*Session, error)

	// Transition performs an atomic compare-and-swap on the stage.
	// sentinel.ErrConflict when the current stage is not `from`;
	// sentinel.ErrInvalidState when the edge is illegal. reason is stored
	// for terminal transitions.
	Transition(ctx context.Context, sid id.SessionID, from, to Stage, reason string) (*Session, error)

	// AddSignature appends a signature. sentinel.ErrInvalidState outside
	// Signing; sentinel.ErrAlreadyRecorded for a duplicate role.
	AddSignature(ctx context.Context, sid id.SessionID, sig Signature) (*Session, error)

	// ListIdleBefore returns IDs of non-terminal sessions whose
	// LastActivityAt is before the cutoff. Used by the expiry reaper.
	ListIdleBefore(ctx context.Context, cutoff time.Time) ([]id.SessionID, error)
}
