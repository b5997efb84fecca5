// Package audit captures the append-only trail of everything that happens to
// a verification session. Events are emitted from domain logic, categorized
// for retention/routing, and fanned out to a store plus optional sinks.
package audit

import (
	"time"

	"github.com/google/uuid"

	id "fides/pkg/domain"
)

// Category classifies audit events by their primary purpose, enabling
// different retention policies and routing.
type Category string

const (
	// CategoryCompliance covers events with legal significance for the
	// notarization record: channel outcomes, stage advancement,
	// signatures. Long retention, tamper-evident storage.
	CategoryCompliance Category = "compliance"

	// CategorySecurity covers events relevant to forensics: identity
	// mismatches, rejected operations, access-code failures.
	CategorySecurity Category = "security"

	// CategoryOperations covers events useful for debugging: conference
	// membership changes, reaper sweeps. Short retention, samplable.
	CategoryOperations Category = "operations"
)

// Kind enumerates the audit event vocabulary.
type Kind string

const (
	KindSessionCreated     Kind = "session_created"
	KindChannelAttempted   Kind = "channel_attempted"
	KindChannelSucceeded   Kind = "channel_succeeded"
	KindChannelFailed      Kind = "channel_failed"
	KindStageAdvanced      Kind = "stage_advanced"
	KindSessionFailed      Kind = "session_failed"
	KindSessionExpired     Kind = "session_expired"
	KindSessionCancelled   Kind = "session_cancelled"
	KindSignatureRecorded  Kind = "signature_recorded"
	KindOperationRejected  Kind = "operation_rejected"
	KindConferenceEvent    Kind = "conference_event"
	KindAccessCodeIssued   Kind = "access_code_issued"
	KindAccessCodeRejected Kind = "access_code_rejected"
)

// Event is one immutable audit record. Never mutated or deleted within the
// retention window.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	SessionID id.SessionID      `json:"session_id"`
	Kind      Kind              `json:"kind"`
	Category  Category          `json:"category"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	// Enrichment from request context.
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	ClientApp string `json:"client_app,omitempty"`
}
