package verification

import (
	"time"

	dErrors "fides/pkg/domain-errors"
)

// Policy is a named assurance-level configuration. Read-only after
// initialization; sessions reference policies by name.
type Policy struct {
	Name string

	// RequiredChannelSets is a disjunction of conjunctions: the session
	// passes when every channel in at least one set has succeeded.
	RequiredChannelSets [][]ChannelType

	// MinimumScore is the composite-score threshold that must also be met.
	MinimumScore int

	MaxRetriesPerChannel int
	SessionIdleTimeout   time.Duration

	// RequiredSigners lists the roles that must sign before completion.
	RequiredSigners []SignerRole

	// RequireConference gates Signing on an active, recorded conference
	// (remote online notarization sessions).
	RequireConference bool
}

// PolicyResolver supplies policies by name. Implemented by the policy
// catalog; injected at service construction.
type PolicyResolver interface {
	Resolve(name string) (Policy, error)
}

// Validate rejects structurally unusable policies at registration time.
func (p Policy) Validate() error {
	if p.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "policy name is required")
	}
	if len(p.RequiredChannelSets) == 0 {
		return dErrors.New(dErrors.CodeValidation, "policy requires at least one channel set")
	}
	for _, set := range p.RequiredChannelSets {
		if len(set) == 0 {
			return dErrors.New(dErrors.CodeValidation, "policy channel set cannot be empty")
		}
		for _, t := range set {
			if !validChannelTypes[t] {
				return dErrors.Newf(dErrors.CodeValidation, "policy references unknown channel %q", t)
			}
		}
	}
	if p.MinimumScore < 0 {
		return dErrors.New(dErrors.CodeValidation, "minimum score cannot be negative")
	}
	if p.MaxRetriesPerChannel < 1 {
		return dErrors.New(dErrors.CodeValidation, "max retries per channel must be at least 1")
	}
	if p.SessionIdleTimeout <= 0 {
		return dErrors.New(dErrors.CodeValidation, "session idle timeout must be positive")
	}
	return nil
}
