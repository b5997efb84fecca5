// Package policy holds the assurance-level catalog. Levels are registered at
// startup and immutable afterwards; sessions reference them by name.
package policy

import (
	"time"

	"fides/internal/verification"
	dErrors "fides/pkg/domain-errors"
)

// Catalog resolves policies by name. Implements verification.PolicyResolver.
type Catalog struct {
	policies map[string]verification.Policy
}

func NewCatalog(policies ...verification.Policy) (*Catalog, error) {
	c := &Catalog{policies: make(map[string]verification.Policy, len(policies))}
	for _, pol := range policies {
		if err := pol.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.policies[pol.Name]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate policy %q", pol.Name)
		}
		c.policies[pol.Name] = pol
	}
	return c, nil
}

func (c *Catalog) Resolve(name string) (verification.Policy, error) {
	pol, ok := c.policies[name]
	if !ok {
		return verification.Policy{}, dErrors.Newf(dErrors.CodeNotFound, "unknown policy %q", name)
	}
	return pol, nil
}

// Names lists the registered policies, for discovery endpoints and logs.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.policies))
	for name := range c.policies {
		names = append(names, name)
	}
	return names
}

// DefaultWeights is the built-in channel point table. Chip reads carry the
// most weight: cryptographic document authentication is the strongest
// evidence a channel can produce.
func DefaultWeights() map[verification.ChannelType]int {
	return map[verification.ChannelType]int{
		verification.ChannelChipRead:           150,
		verification.ChannelDocumentForensics:  100,
		verification.ChannelBiometricMatch:     50,
		verification.ChannelRegistryCrossCheck: 50,
		verification.ChannelLiveness:           25,
		verification.ChannelManualFallback:     10,
	}
}

// DefaultCatalog builds the standard three assurance levels. idleTimeout
// applies to all levels; L3 additionally requires a recorded conference and
// a notary countersignature.
func DefaultCatalog(idleTimeout time.Duration) (*Catalog, error) {
	return NewCatalog(
		verification.Policy{
			Name: "L1",
			RequiredChannelSets: [][]verification.ChannelType{
				{verification.ChannelDocumentForensics},
				{verification.ChannelManualFallback},
			},
			MinimumScore:         50,
			MaxRetriesPerChannel: 3,
			SessionIdleTimeout:   idleTimeout,
			RequiredSigners:      []verification.SignerRole{verification.SignerSubject},
		},
		verification.Policy{
			Name: "L2",
			RequiredChannelSets: [][]verification.ChannelType{
				{verification.ChannelChipRead},
				{verification.ChannelDocumentForensics, verification.ChannelBiometricMatch},
			},
			MinimumScore:         100,
			MaxRetriesPerChannel: 3,
			SessionIdleTimeout:   idleTimeout,
			RequiredSigners:      []verification.SignerRole{verification.SignerSubject},
		},
		verification.Policy{
			Name: "L3",
			RequiredChannelSets: [][]verification.ChannelType{
				{verification.ChannelChipRead, verification.ChannelBiometricMatch},
			},
			MinimumScore:         175,
			MaxRetriesPerChannel: 3,
			SessionIdleTimeout:   idleTimeout,
			RequiredSigners:      []verification.SignerRole{verification.SignerSubject, verification.SignerNotary},
			RequireConference:    true,
		},
	)
}
