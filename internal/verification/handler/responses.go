package handler

import (
	"time"

	"fides/internal/audit"
	"fides/internal/verification"
)

// SessionResponse is the session view returned by create, status, and
// mutating endpoints.
type SessionResponse struct {
	ID              string              `json:"id"`
	Policy          string              `json:"policy"`
	Stage           string              `json:"stage"`
	CompositeScore  int                 `json:"composite_score"`
	CreatedAt       time.Time           `json:"created_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	RequiredSigners []string            `json:"required_signers"`
	SignedRoles     []string            `json:"signed_roles,omitempty"`
	Results         []ResultResponse    `json:"results,omitempty"`
	Evaluation      *EvaluationResponse `json:"evaluation,omitempty"`
	AccessCode      string              `json:"access_code,omitempty"`
	FailureReason   string              `json:"failure_reason,omitempty"`
}

// ResultResponse is one recorded channel attempt.
type ResultResponse struct {
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	Confidence    float64   `json:"confidence"`
	Weight        int       `json:"weight"`
	AttemptNumber int       `json:"attempt_number"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// EvaluationResponse is the aggregator verdict portion of the response.
type EvaluationResponse struct {
	Outcome       string     `json:"outcome"`
	Score         int        `json:"score"`
	SatisfiedSets [][]string `json:"satisfied_sets,omitempty"`
	Outstanding   [][]string `json:"outstanding,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// AttemptResponse pairs the recorded result with the fresh evaluation.
type AttemptResponse struct {
	Result     ResultResponse     `json:"result"`
	Stage      string             `json:"stage"`
	Evaluation EvaluationResponse `json:"evaluation"`
}

// AuditTrailResponse is the session's audit trail.
type AuditTrailResponse struct {
	Events []AuditEventResponse `json:"events"`
}

// AuditEventResponse is one trail entry.
type AuditEventResponse struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Category  string            `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	ActorID   string            `json:"actor_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	ClientApp string            `json:"client_app,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

func fromSession(s *verification.Session, ev *verification.Evaluation, accessCode string) *SessionResponse {
	resp := &SessionResponse{
		ID:             s.ID.String(),
		Policy:         s.PolicyName,
		Stage:          string(s.Stage),
		CompositeScore: s.CompositeScore,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		AccessCode:     accessCode,
		FailureReason:  s.FailureReason,
	}
	for _, role := range s.RequiredSigners {
		resp.RequiredSigners = append(resp.RequiredSigners, string(role))
	}
	for _, sig := range s.Signatures {
		resp.SignedRoles = append(resp.SignedRoles, string(sig.Role))
	}
	for _, r := range s.Results {
		resp.Results = append(resp.Results, fromResult(r))
	}
	if ev != nil {
		e := fromEvaluation(*ev)
		resp.Evaluation = &e
	}
	return resp
}

func fromResult(r verification.ChannelResult) ResultResponse {
	return ResultResponse{
		Channel:       string(r.Channel),
		Status:        string(r.Status),
		Confidence:    r.Confidence,
		Weight:        r.Weight,
		AttemptNumber: r.AttemptNumber,
		RecordedAt:    r.RecordedAt,
	}
}

func fromEvaluation(ev verification.Evaluation) EvaluationResponse {
	resp := EvaluationResponse{
		Outcome:       string(ev.Outcome),
		Score:         ev.Score,
		FailureReason: ev.FailureReason,
	}
	for _, set := range ev.SatisfiedSets {
		resp.SatisfiedSets = append(resp.SatisfiedSets, channelNames(set))
	}
	for _, set := range ev.Outstanding {
		resp.Outstanding = append(resp.Outstanding, channelNames(set))
	}
	return resp
}

func channelNames(set []verification.ChannelType) []string {
	names := make([]string, len(set))
	for i, t := range set {
		names[i] = string(t)
	}
	return names
}

func fromAuditTrail(events []audit.Event) *AuditTrailResponse {
	resp := &AuditTrailResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:        e.ID.String(),
			Kind:      string(e.Kind),
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			ActorID:   e.ActorID,
			RequestID: e.RequestID,
			ClientIP:  e.ClientIP,
			ClientApp: e.ClientApp,
			Payload:   e.Payload,
		})
	}
	return resp
}
