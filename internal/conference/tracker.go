// Package conference tracks the video conference attached to a session. The
// video transport pushes lifecycle events; the tracker maintains the
// "conference running, notary present, recording on" state that gates the
// Signing stage for remote notarization policies.
package conference

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"fides/internal/audit"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
)

// EventKind is one conference lifecycle event from the video transport.
type EventKind string

const (
	EventJoined                 EventKind = "joined"
	EventLeft                   EventKind = "left"
	EventParticipantJoined      EventKind = "participantJoined"
	EventParticipantLeft        EventKind = "participantLeft"
	EventRecordingStatusChanged EventKind = "recordingStatusChanged"
)

// ParseEventKind constructs an EventKind from external input.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventJoined, EventLeft, EventParticipantJoined, EventParticipantLeft,
		EventRecordingStatusChanged:
		return k, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown conference event %q", s)
	}
}

// Event is one conference update for one session.
type Event struct {
	Kind        EventKind
	Participant string
	Role        string
	Recording   bool
}

// AuditPublisher is the feature's port to the audit pipeline.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type state struct {
	active       bool
	recording    bool
	participants map[string]string
}

// Tracker holds per-session conference state. Implements the orchestrator's
// ConferenceGate.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*state

	auditor AuditPublisher
	logger  *slog.Logger
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(t *Tracker) { t.auditor = auditor }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions: make(map[id.SessionID]*state),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle applies one event to the session's conference state.
func (t *Tracker) Handle(ctx context.Context, sessionID id.SessionID, event Event) error {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = &state{participants: make(map[string]string)}
		t.sessions[sessionID] = s
	}

	switch event.Kind {
	case EventJoined:
		s.active = true
	case EventLeft:
		s.active = false
		s.recording = false
		s.participants = make(map[string]string)
	case EventParticipantJoined:
		if event.Participant == "" {
			t.mu.Unlock()
			return dErrors.New(dErrors.CodeInvalidInput, "participant is required")
		}
		s.participants[event.Participant] = event.Role
	case EventParticipantLeft:
		delete(s.participants, event.Participant)
	case EventRecordingStatusChanged:
		s.recording = event.Recording
	default:
		t.mu.Unlock()
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown conference event %q", event.Kind)
	}
	active, recording := s.active, s.recording
	t.mu.Unlock()

	t.emit(ctx, sessionID, event)
	t.logger.InfoContext(ctx, "conference event",
		"session_id", sessionID,
		"kind", event.Kind,
		"active", active,
		"recording", recording,
	)
	return nil
}

// Active reports whether the conference is running with a notary present and
// whether recording is on.
func (t *Tracker) Active(_ context.Context, sessionID id.SessionID) (bool, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return false, false, nil
	}
	notaryPresent := false
	for _, role := range s.participants {
		if role == "notary" {
			notaryPresent = true
			break
		}
	}
	return s.active && notaryPresent, s.recording, nil
}

// Drop forgets a session's conference state once the session is terminal.
func (t *Tracker) Drop(sessionID id.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *Tracker) emit(ctx context.Context, sessionID id.SessionID, event Event) {
	if t.auditor == nil {
		return
	}
	payload := map[string]string{"kind": string(event.Kind)}
	if event.Participant != "" {
		payload["participant"] = event.Participant
	}
	if event.Role != "" {
		payload["role"] = event.Role
	}
	if event.Kind == EventRecordingStatusChanged {
		payload["recording"] = strconv.FormatBool(event.Recording)
	}
	if err := t.auditor.Emit(ctx, audit.Event{
		SessionID: sessionID,
		Kind:      audit.KindConferenceEvent,
		Category:  audit.CategoryCompliance,
		Payload:   payload,
	}); err != nil {
		t.logger.ErrorContext(ctx, "audit emit failed", "session_id", sessionID, "error", err)
	}
}
