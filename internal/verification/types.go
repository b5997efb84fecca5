// Package verification implements the identity verification orchestrator: a
// per-session state machine that collects evidence from pluggable channels,
// scores it against a policy, and gates the certification workflow
// (document review, signing, completion) on the outcome.
package verification

import (
	"time"

	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
)

// ChannelType identifies one independent method of gathering identity
// evidence.
type ChannelType string

const (
	ChannelDocumentForensics  ChannelType = "document_forensics"
	ChannelChipRead           ChannelType = "chip_read"
	ChannelBiometricMatch     ChannelType = "biometric_match"
	ChannelLiveness           ChannelType = "liveness"
	ChannelRegistryCrossCheck ChannelType = "registry_cross_check"
	ChannelManualFallback     ChannelType = "manual_fallback"
)

var validChannelTypes = map[ChannelType]bool{
	ChannelDocumentForensics:  true,
	ChannelChipRead:           true,
	ChannelBiometricMatch:     true,
	ChannelLiveness:           true,
	ChannelRegistryCrossCheck: true,
	ChannelManualFallback:     true,
}

// ParseChannelType constructs a ChannelType from external input.
func ParseChannelType(s string) (ChannelType, error) {
	t := ChannelType(s)
	if !validChannelTypes[t] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown channel type %q", s)
	}
	return t, nil
}

func (t ChannelType) String() string { return string(t) }

// ChannelStatus is the normalized outcome of one channel attempt.
type ChannelStatus string

const (
	StatusSuccess ChannelStatus = "success"
	StatusFailure ChannelStatus = "failure"
	StatusTimeout ChannelStatus = "timeout"
)

// ParseChannelStatus constructs a ChannelStatus from external input.
func ParseChannelStatus(s string) (ChannelStatus, error) {
	switch st := ChannelStatus(s); st {
	case StatusSuccess, StatusFailure, StatusTimeout:
		return st, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown channel status %q", s)
	}
}

// ClaimField names one identity attribute a channel can assert.
type ClaimField string

const (
	ClaimFullName       ClaimField = "full_name"
	ClaimNationalID     ClaimField = "national_id"
	ClaimBirthDate      ClaimField = "birth_date"
	ClaimDocumentNumber ClaimField = "document_number"
	ClaimDocumentExpiry ClaimField = "document_expiry"
)

// ChannelResult is one completed or failed attempt at one channel.
// Immutable once recorded; a retry is a new result, never an edit.
type ChannelResult struct {
	Channel       ChannelType           `json:"channel"`
	Status        ChannelStatus         `json:"status"`
	Confidence    float64               `json:"confidence"`
	Weight        int                   `json:"weight"`
	Claims        map[ClaimField]string `json:"claims,omitempty"`
	AttemptNumber int                   `json:"attempt_number"`
	RecordedAt    time.Time             `json:"recorded_at"`
}

// IdentityClaim is an accepted identity attribute with its asserting channel.
type IdentityClaim struct {
	Field  ClaimField  `json:"field"`
	Value  string      `json:"value"`
	Source ChannelType `json:"source"`
}

// Stage is one phase of the certification workflow.
type Stage string

const (
	StageCreated        Stage = "created"
	StageVerifying      Stage = "verifying"
	StageDocumentReview Stage = "document_review"
	StageSigning        Stage = "signing"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
	StageExpired        Stage = "expired"
	StageCancelled      Stage = "cancelled"
)

// ParseStage constructs a Stage from external input.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StageCreated, StageVerifying, StageDocumentReview, StageSigning,
		StageCompleted, StageFailed, StageExpired, StageCancelled:
		return st, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown stage %q", s)
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageExpired, StageCancelled:
		return true
	}
	return false
}

// forwardOrder maps each stage to its successor on the happy path.
var forwardOrder = map[Stage]Stage{
	StageCreated:        StageVerifying,
	StageVerifying:      StageDocumentReview,
	StageDocumentReview: StageSigning,
	StageSigning:        StageCompleted,
}

// CanTransition reports whether from→to is a legal edge: one forward step, or
// a drop into a terminal failure state from any non-terminal stage.
func CanTransition(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StageFailed, StageExpired, StageCancelled:
		return true
	}
	return forwardOrder[from] == to
}

// SignerRole identifies a required participant in the Signing stage.
type SignerRole string

const (
	SignerSubject SignerRole = "subject"
	SignerNotary  SignerRole = "notary"
)

// ParseSignerRole constructs a SignerRole from external input.
func ParseSignerRole(s string) (SignerRole, error) {
	switch r := SignerRole(s); r {
	case SignerSubject, SignerNotary:
		return r, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown signer role %q", s)
	}
}

// Signature is one recorded signature in the Signing stage.
type Signature struct {
	Role     SignerRole `json:"role"`
	Payload  string     `json:"payload"`
	SignedAt time.Time  `json:"signed_at"`
}

// Session is one certification attempt for one subject. Mutated only through
// the session store's atomic operations.
type Session struct {
	ID              id.SessionID                 `json:"id"`
	PolicyName      string                       `json:"policy_name"`
	Stage           Stage                        `json:"stage"`
	CreatedAt       time.Time                    `json:"created_at"`
	LastActivityAt  time.Time                    `json:"last_activity_at"`
	ExpiresAt       time.Time                    `json:"expires_at"`
	CompositeScore  int                          `json:"composite_score"`
	Claims          map[ClaimField]IdentityClaim `json:"claims,omitempty"`
	Results         []ChannelResult              `json:"results,omitempty"`
	RequiredSigners []SignerRole                 `json:"required_signers"`
	Signatures      []Signature                  `json:"signatures,omitempty"`
	// FailureReason records why a session entered Failed/Expired/Cancelled.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy so callers never hold a writable reference into
// store-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Results = make([]ChannelResult, len(s.Results))
	copy(out.Results, s.Results)
	for i, r := range s.Results {
		if r.Claims != nil {
			claims := make(map[ClaimField]string, len(r.Claims))
			for k, v := range r.Claims {
				claims[k] = v
			}
			out.Results[i].Claims = claims
		}
	}
	if s.Claims != nil {
		out.Claims = make(map[ClaimField]IdentityClaim, len(s.Claims))
		for k, v := range s.Claims {
			out.Claims[k] = v
		}
	}
	out.RequiredSigners = append([]SignerRole(nil), s.RequiredSigners...)
	out.Signatures = append([]Signature(nil), s.Signatures...)
	return &out
}

// Signed reports whether the given role has recorded a signature.
func (s *Session) Signed(role SignerRole) bool {
	for _, sig := range s.Signatures {
		if sig.Role == role {
			return true
		}
	}
	return false
}

// AllSigned reports whether every required signer has signed.
func (s *Session) AllSigned() bool {
	for _, role := range s.RequiredSigners {
		if !s.Signed(role) {
			return false
		}
	}
	return true
}

// Attempts returns how many attempts were recorded for a channel.
func (s *Session) Attempts(t ChannelType) int {
	n := 0
	for _, r := range s.Results {
		if r.Channel == t {
			n++
		}
	}
	return n
}

// Succeeded reports whether the channel has at least one successful attempt.
func (s *Session) Succeeded(t ChannelType) bool {
	for _, r := range s.Results {
		if r.Channel == t && r.Status == StatusSuccess {
			return true
		}
	}
	return false
}
