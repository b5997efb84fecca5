package domain

import (
	"strings"
	"unicode"

	dErrors "fides/pkg/domain-errors"
)

// NationalID is the canonical form of a government identity number as asserted
// by a verification channel. Construct via ParseNationalID so that two
// channels reading the same physical document in different formats
// ("12.345.678-9" from a chip read, "12345678-9" from OCR) compare equal.
type NationalID string

// ParseNationalID normalizes and validates a raw identity number.
// Normalization: uppercase, strip dots, spaces, and hyphens. Validation is
// format-agnostic on purpose; issuing-country checksum rules belong to the
// registry channel, not the orchestrator.
func ParseNationalID(raw string) (NationalID, error) {
	normalized := normalizeClaim(raw)
	if normalized == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national id cannot be empty")
	}
	if len(normalized) > 32 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national id too long")
	}
	for _, r := range normalized {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "national id contains invalid characters")
		}
	}
	return NationalID(normalized), nil
}

func (n NationalID) String() string { return string(n) }
func (n NationalID) IsNil() bool    { return n == "" }

// normalizeClaim canonicalizes an identity claim value for comparison.
// Shared by NationalID and the aggregator's claim-consistency check.
func normalizeClaim(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch r {
		case '.', '-', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeClaimValue exposes claim canonicalization for the aggregator's
// cross-channel consistency comparison.
func NormalizeClaimValue(raw string) string { return normalizeClaim(raw) }
