package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: session or record does not exist in the store
// - ErrConflict: compare-and-swap lost against a concurrent writer
// - ErrExpired: session passed its idle deadline
// - ErrAlreadyRecorded: (channelType, attemptNumber) already appended
// - ErrInvalidState: session in a terminal stage for the requested operation
// - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrAlreadyRecorded = errors.New("already recorded")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnavailable     = errors.New("unavailable")
)
