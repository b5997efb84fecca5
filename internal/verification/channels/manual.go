package channels

import (
	"context"

	"fides/internal/verification"
	dErrors "fides/pkg/domain-errors"
)

// ManualFallback records an operator's in-person judgment as low-weight
// evidence. Params:
//
//	approved  bool, required
//	note      free text, kept out of claims
//	claim.*   identity fields the operator confirmed from the physical document
type ManualFallback struct{}

func NewManualFallback() *ManualFallback { return &ManualFallback{} }

func (m *ManualFallback) Type() verification.ChannelType {
	return verification.ChannelManualFallback
}
func (m *ManualFallback) SharedResource() string { return "" }

func (m *ManualFallback) Attempt(ctx context.Context, _ string, _ map[verification.ClaimField]verification.IdentityClaim, params map[string]any) (verification.ChannelResult, error) {
	if err := ctx.Err(); err != nil {
		return verification.ChannelResult{}, err
	}
	approved, ok := params["approved"].(bool)
	if !ok {
		return verification.ChannelResult{}, dErrors.New(dErrors.CodeInvalidInput, "approved param is required")
	}

	if !approved {
		return verification.ChannelResult{Status: verification.StatusFailure}, nil
	}
	return verification.ChannelResult{
		Status:     verification.StatusSuccess,
		Confidence: 1.0,
		Claims:     claimParams(params),
	}, nil
}
