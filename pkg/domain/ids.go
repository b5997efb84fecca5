// Package domain holds typed identifiers and domain primitives shared across
// features. Typed UUID IDs prevent cross-type assignment at compile time;
// ParseXxxID enforces validity at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "fides/pkg/domain-errors"
)

// SessionID identifies one verification session.
type SessionID uuid.UUID

// OperatorID identifies a notary/certifier operator acting on sessions.
type OperatorID uuid.UUID

// NewSessionID allocates a random session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewOperatorID allocates a random operator ID.
func NewOperatorID() OperatorID { return OperatorID(uuid.New()) }

func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id OperatorID) String() string { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id OperatorID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseSessionID validates external input into a SessionID.
// Errors with CodeInvalidInput on empty, malformed, or nil UUIDs.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

// ParseOperatorID validates external input into an OperatorID.
func ParseOperatorID(s string) (OperatorID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return OperatorID{}, err
	}
	return OperatorID(u), nil
}

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Rejecting nil here keeps zero values out of stores.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "nil id not allowed")
	}
	return u, nil
}
