// Package channels provides the built-in channel implementations: a
// deterministic stub for capture-driven channels, an HTTP document forensics
// provider, a registry cross-check backed by a civil registry replica, and
// the manual fallback. Real providers plug in behind the Channel interface.
package channels

import (
	"context"
	"strconv"

	"fides/internal/verification"
	dErrors "fides/pkg/domain-errors"
)

// Stub is a deterministic channel driven entirely by the attempt params. It
// backs chip read, biometric match, and liveness in development, where the
// capture client has already produced the outcome and the server replays it:
//
//	status     "success" | "failure" | "timeout"
//	confidence "0.97"
//	claim.*    asserted identity claims, e.g. claim.national_id
type Stub struct {
	channelType verification.ChannelType
	resource    string
}

func NewStub(channelType verification.ChannelType, resource string) *Stub {
	return &Stub{channelType: channelType, resource: resource}
}

func (s *Stub) Type() verification.ChannelType { return s.channelType }
func (s *Stub) SharedResource() string         { return s.resource }

func (s *Stub) Attempt(ctx context.Context, _ string, _ map[verification.ClaimField]verification.IdentityClaim, params map[string]any) (verification.ChannelResult, error) {
	if err := ctx.Err(); err != nil {
		return verification.ChannelResult{}, err
	}

	status, err := verification.ParseChannelStatus(stringParam(params, "status", string(verification.StatusSuccess)))
	if err != nil {
		return verification.ChannelResult{}, err
	}
	confidence, err := floatParam(params, "confidence", 1.0)
	if err != nil {
		return verification.ChannelResult{}, err
	}

	result := verification.ChannelResult{
		Status:     status,
		Confidence: confidence,
	}
	if status == verification.StatusSuccess {
		result.Claims = claimParams(params)
	}
	return result, nil
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) (float64, error) {
	switch v := params[key].(type) {
	case nil:
		return fallback, nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, dErrors.Newf(dErrors.CodeInvalidInput, "param %q is not a number", key)
		}
		return f, nil
	default:
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "param %q is not a number", key)
	}
}

// claimParams extracts "claim.<field>" entries, dropping unknown fields.
func claimParams(params map[string]any) map[verification.ClaimField]string {
	known := []verification.ClaimField{
		verification.ClaimFullName,
		verification.ClaimNationalID,
		verification.ClaimBirthDate,
		verification.ClaimDocumentNumber,
		verification.ClaimDocumentExpiry,
	}
	var claims map[verification.ClaimField]string
	for _, field := range known {
		v, ok := params["claim."+string(field)].(string)
		if !ok || v == "" {
			continue
		}
		if claims == nil {
			claims = make(map[verification.ClaimField]string)
		}
		claims[field] = v
	}
	return claims
}
