package verification

import (
	"strings"
	"time"

	id "fides/pkg/domain"
)

// Outcome is the aggregator's verdict over a session's recorded evidence.
type Outcome string

const (
	OutcomePassed            Outcome = "passed"
	OutcomeNeedsMoreEvidence Outcome = "needs_more_evidence"
	OutcomeFailed            Outcome = "failed"
)

// Evaluation is the full result of scoring a session against its policy.
// Pure function of the recorded results and the policy: no randomness, no
// wall clock.
type Evaluation struct {
	Outcome Outcome `json:"outcome"`
	Score   int     `json:"score"`

	// SatisfiedSets lists required-channel alternatives fully satisfied by
	// successful channels.
	SatisfiedSets [][]ChannelType `json:"satisfied_sets,omitempty"`

	// Outstanding lists, per still-achievable unsatisfied alternative, the
	// channels that have not yet succeeded, so the caller can offer the
	// subject a next channel.
	Outstanding [][]ChannelType `json:"outstanding,omitempty"`

	// FailureReason is set when Outcome is Failed.
	FailureReason string `json:"failure_reason,omitempty"`
}

const (
	failureIdentityMismatch = "identity_mismatch"
	failureRetriesExhausted = "retries_exhausted"
)

// Score sums the weight of every channel with a successful attempt. A channel
// with only failed or timed-out attempts contributes nothing, and repeated
// successes of the same channel count once. Weight is stamped on the result
// at recording time, so scoring needs no registry access.
func Score(results []ChannelResult) int {
	counted := make(map[ChannelType]bool)
	score := 0
	for _, r := range results {
		if r.Status != StatusSuccess || counted[r.Channel] {
			continue
		}
		counted[r.Channel] = true
		score += r.Weight
	}
	return score
}

// Evaluate computes the aggregator verdict for a session under a policy.
// Deterministic over the set of recorded results: arrival order of channel
// outcomes does not change the verdict.
func Evaluate(s *Session, pol Policy) Evaluation {
	ev := Evaluation{Score: Score(s.Results)}

	// A recorded identity mismatch is fail-closed and sticky.
	if s.FailureReason == failureIdentityMismatch || s.Stage == StageFailed {
		ev.Outcome = OutcomeFailed
		ev.FailureReason = s.FailureReason
		if ev.FailureReason == "" {
			ev.FailureReason = failureRetriesExhausted
		}
		return ev
	}

	exhausted := func(t ChannelType) bool {
		return !s.Succeeded(t) && s.Attempts(t) >= pol.MaxRetriesPerChannel
	}

	allSetsImpossible := true
	for _, set := range pol.RequiredChannelSets {
		var missing []ChannelType
		possible := true
		for _, t := range set {
			if s.Succeeded(t) {
				continue
			}
			missing = append(missing, t)
			if exhausted(t) {
				possible = false
			}
		}
		switch {
		case len(missing) == 0:
			ev.SatisfiedSets = append(ev.SatisfiedSets, set)
			allSetsImpossible = false
		case possible:
			ev.Outstanding = append(ev.Outstanding, missing)
			allSetsImpossible = false
		}
	}

	switch {
	case allSetsImpossible:
		ev.Outcome = OutcomeFailed
		ev.FailureReason = failureRetriesExhausted
	case len(ev.SatisfiedSets) > 0 && ev.Score >= pol.MinimumScore:
		ev.Outcome = OutcomePassed
	default:
		ev.Outcome = OutcomeNeedsMoreEvidence
	}
	return ev
}

// ConflictingClaim reports the first field where a new result asserts a value
// incompatible with an already-accepted claim. Conflicting identity evidence
// is a security signal, not noise to smooth over, so the caller fails the
// session rather than preferring either source.
func ConflictingClaim(accepted map[ClaimField]IdentityClaim, result ChannelResult) (ClaimField, bool) {
	if result.Status != StatusSuccess {
		return "", false
	}
	for field, value := range result.Claims {
		prior, ok := accepted[field]
		if !ok {
			continue
		}
		if !claimsEqual(field, prior.Value, value) {
			return field, true
		}
	}
	return "", false
}

// MergeClaims returns the claims a successful result adds beyond what is
// already accepted. Call ConflictingClaim first; Merge assumes consistency.
func MergeClaims(accepted map[ClaimField]IdentityClaim, result ChannelResult) []IdentityClaim {
	if result.Status != StatusSuccess {
		return nil
	}
	var added []IdentityClaim
	for field, value := range result.Claims {
		if _, ok := accepted[field]; ok {
			continue
		}
		added = append(added, IdentityClaim{Field: field, Value: value, Source: result.Channel})
	}
	return added
}

// claimsEqual applies per-field tolerance. Identity numbers compare after
// canonicalization so formatting differences between channels do not trip the
// mismatch check; names compare case-insensitively; dates by parsed value.
func claimsEqual(field ClaimField, a, b string) bool {
	switch field {
	case ClaimNationalID, ClaimDocumentNumber:
		return id.NormalizeClaimValue(a) == id.NormalizeClaimValue(b)
	case ClaimFullName:
		return strings.EqualFold(collapseSpaces(a), collapseSpaces(b))
	case ClaimBirthDate, ClaimDocumentExpiry:
		ta, errA := time.Parse("2006-01-02", strings.TrimSpace(a))
		tb, errB := time.Parse("2006-01-02", strings.TrimSpace(b))
		if errA != nil || errB != nil {
			return strings.TrimSpace(a) == strings.TrimSpace(b)
		}
		return ta.Equal(tb)
	default:
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
