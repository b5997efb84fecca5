package handler

import (
	"strings"

	"fides/internal/conference"
	"fides/internal/verification"
	dErrors "fides/pkg/domain-errors"
	platstrings "fides/pkg/platform/strings"
)

// CreateSessionRequest is the HTTP request body for POST /sessions.
type CreateSessionRequest struct {
	Policy string `json:"policy"`
}

func (r *CreateSessionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Policy = strings.TrimSpace(r.Policy)
	if r.Policy == "" {
		return dErrors.New(dErrors.CodeValidation, "policy is required")
	}
	return nil
}

// SubmitAttemptRequest is the body for
// POST /sessions/{id}/channels/{type}/attempts.
type SubmitAttemptRequest struct {
	Status        string            `json:"status"`
	Confidence    float64           `json:"confidence"`
	Claims        map[string]string `json:"claims,omitempty"`
	AttemptNumber int               `json:"attempt_number,omitempty"`

	parsedStatus verification.ChannelStatus
	parsedClaims map[verification.ClaimField]string
}

func (r *SubmitAttemptRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	status, err := verification.ParseChannelStatus(strings.TrimSpace(r.Status))
	if err != nil {
		return err
	}
	r.parsedStatus = status

	if r.Confidence < 0 || r.Confidence > 1 {
		return dErrors.New(dErrors.CodeValidation, "confidence must be between 0.0 and 1.0")
	}
	if r.AttemptNumber < 0 {
		return dErrors.New(dErrors.CodeValidation, "attempt_number cannot be negative")
	}

	if len(r.Claims) > 0 {
		r.parsedClaims = make(map[verification.ClaimField]string, len(r.Claims))
		for field, value := range r.Claims {
			switch f := verification.ClaimField(field); f {
			case verification.ClaimFullName, verification.ClaimNationalID,
				verification.ClaimBirthDate, verification.ClaimDocumentNumber,
				verification.ClaimDocumentExpiry:
				r.parsedClaims[f] = strings.TrimSpace(value)
			default:
				return dErrors.Newf(dErrors.CodeValidation, "unknown claim field %q", field)
			}
		}
	}
	return nil
}

func (r *SubmitAttemptRequest) Input() verification.SubmitInput {
	return verification.SubmitInput{
		Status:        r.parsedStatus,
		Confidence:    r.Confidence,
		Claims:        r.parsedClaims,
		AttemptNumber: r.AttemptNumber,
	}
}

// RunChannelsRequest is the body for POST /sessions/{id}/verify.
type RunChannelsRequest struct {
	Channels []string       `json:"channels"`
	Params   map[string]any `json:"params,omitempty"`

	parsedChannels []verification.ChannelType
}

func (r *RunChannelsRequest) Validate() error {
	if r == nil || len(r.Channels) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one channel is required")
	}
	names := platstrings.NormalizeList(r.Channels)
	if len(names) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one channel is required")
	}
	r.parsedChannels = make([]verification.ChannelType, 0, len(names))
	for _, raw := range names {
		t, err := verification.ParseChannelType(raw)
		if err != nil {
			return err
		}
		r.parsedChannels = append(r.parsedChannels, t)
	}
	return nil
}

func (r *RunChannelsRequest) ParsedChannels() []verification.ChannelType {
	return r.parsedChannels
}

// AdvanceRequest is the body for POST /sessions/{id}/advance.
type AdvanceRequest struct {
	From string `json:"from"`
	To   string `json:"to"`

	parsedFrom verification.Stage
	parsedTo   verification.Stage
}

func (r *AdvanceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	from, err := verification.ParseStage(strings.TrimSpace(r.From))
	if err != nil {
		return err
	}
	to, err := verification.ParseStage(strings.TrimSpace(r.To))
	if err != nil {
		return err
	}
	r.parsedFrom, r.parsedTo = from, to
	return nil
}

// SignatureRequest is the body for POST /sessions/{id}/signatures.
type SignatureRequest struct {
	Role       string `json:"role"`
	Signature  string `json:"signature"`
	AccessCode string `json:"access_code,omitempty"`

	parsedRole verification.SignerRole
}

func (r *SignatureRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	role, err := verification.ParseSignerRole(strings.TrimSpace(r.Role))
	if err != nil {
		return err
	}
	r.parsedRole = role
	if strings.TrimSpace(r.Signature) == "" {
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	}
	return nil
}

// ConferenceEventRequest is the body for POST /sessions/{id}/conference/events.
type ConferenceEventRequest struct {
	Kind        string `json:"kind"`
	Participant string `json:"participant,omitempty"`
	Role        string `json:"role,omitempty"`
	Recording   bool   `json:"recording,omitempty"`

	parsedKind conference.EventKind
}

func (r *ConferenceEventRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	kind, err := conference.ParseEventKind(strings.TrimSpace(r.Kind))
	if err != nil {
		return err
	}
	r.parsedKind = kind
	return nil
}

func (r *ConferenceEventRequest) Event() conference.Event {
	return conference.Event{
		Kind:        r.parsedKind,
		Participant: strings.TrimSpace(r.Participant),
		Role:        strings.TrimSpace(r.Role),
		Recording:   r.Recording,
	}
}

// CancelRequest is the optional body for POST /sessions/{id}/cancel.
type CancelRequest struct {
	AccessCode string `json:"access_code,omitempty"`
}
