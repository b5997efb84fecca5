package verification

import (
	"context"

	dErrors "fides/pkg/domain-errors"
)

// Channel is one pluggable verification method. Implementations perform the
// capture or lookup and return a normalized result; they never mutate session
// state directly. Attempt must honor ctx cancellation at its suspension
// points (device waits, network calls).
type Channel interface {
	Type() ChannelType

	// SharedResource names a local capture device the channel needs
	// exclusively ("camera", "nfc_reader"), or "" when none. The
	// orchestrator serializes channels sharing a resource within a session.
	SharedResource() string

	// Attempt runs one verification attempt. priorClaims carries the
	// session's accepted identity claims so providers can cross-check
	// (e.g. face match against the chip photo). params is the
	// channel-specific payload, opaque to the orchestrator.
	Attempt(ctx context.Context, sessionID string, priorClaims map[ClaimField]IdentityClaim, params map[string]any) (ChannelResult, error)
}

// Registry maps channel types to implementations and their policy weights.
// Supplied at orchestrator construction; read-only afterwards.
type Registry struct {
	channels map[ChannelType]Channel
	weights  map[ChannelType]int
}

// NewRegistry builds a registry from implementations and a weight table.
// Every registered channel must have a weight; weights without an
// implementation are allowed (outcome-only channels submitted via the API).
func NewRegistry(weights map[ChannelType]int, channels ...Channel) (*Registry, error) {
	r := &Registry{
		channels: make(map[ChannelType]Channel, len(channels)),
		weights:  make(map[ChannelType]int, len(weights)),
	}
	for t, w := range weights {
		if !validChannelTypes[t] {
			return nil, dErrors.Newf(dErrors.CodeValidation, "weight for unknown channel %q", t)
		}
		if w < 0 {
			return nil, dErrors.Newf(dErrors.CodeValidation, "negative weight for channel %q", t)
		}
		r.weights[t] = w
	}
	for _, ch := range channels {
		t := ch.Type()
		if !validChannelTypes[t] {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown channel type %q", t)
		}
		if _, dup := r.channels[t]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate channel %q", t)
		}
		if _, ok := r.weights[t]; !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "channel %q has no weight", t)
		}
		r.channels[t] = ch
	}
	return r, nil
}

// Channel returns the implementation for a type, if one is registered.
func (r *Registry) Channel(t ChannelType) (Channel, bool) {
	ch, ok := r.channels[t]
	return ch, ok
}

// Weight returns the policy-assigned points for a channel type.
func (r *Registry) Weight(t ChannelType) (int, bool) {
	w, ok := r.weights[t]
	return w, ok
}
