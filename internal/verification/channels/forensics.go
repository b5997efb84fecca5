package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fides/internal/verification"
	dErrors "fides/pkg/domain-errors"
)

// Forensics calls an external document forensics provider over HTTP and
// normalizes its verdict into a channel result. The provider receives the
// capture reference from the attempt params and returns authenticity checks
// plus the fields it extracted from the document.
type Forensics struct {
	baseURL string
	client  *http.Client
}

func NewForensics(baseURL string, timeout time.Duration) *Forensics {
	return &Forensics{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *Forensics) Type() verification.ChannelType { return verification.ChannelDocumentForensics }
func (f *Forensics) SharedResource() string         { return "" }

type forensicsRequest struct {
	SessionID  string `json:"session_id"`
	CaptureRef string `json:"capture_ref"`
}

type forensicsResponse struct {
	Authentic  bool              `json:"authentic"`
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields"`
}

func (f *Forensics) Attempt(ctx context.Context, sessionID string, _ map[verification.ClaimField]verification.IdentityClaim, params map[string]any) (verification.ChannelResult, error) {
	captureRef, _ := params["capture_ref"].(string)
	if captureRef == "" {
		return verification.ChannelResult{}, dErrors.New(dErrors.CodeInvalidInput, "capture_ref param is required")
	}

	body, err := json.Marshal(forensicsRequest{SessionID: sessionID, CaptureRef: captureRef})
	if err != nil {
		return verification.ChannelResult{}, fmt.Errorf("encode forensics request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/documents/verify", bytes.NewReader(body))
	if err != nil {
		return verification.ChannelResult{}, fmt.Errorf("build forensics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return verification.ChannelResult{}, dErrors.Wrap(err, dErrors.CodeChannelUnavailable, "forensics provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return verification.ChannelResult{}, dErrors.Newf(dErrors.CodeChannelUnavailable, "forensics provider returned %d", resp.StatusCode)
	}
	var verdict forensicsResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return verification.ChannelResult{}, dErrors.Wrap(err, dErrors.CodeChannelFailed, "decode forensics verdict")
	}

	result := verification.ChannelResult{
		Status:     verification.StatusFailure,
		Confidence: verdict.Confidence,
	}
	if verdict.Authentic {
		result.Status = verification.StatusSuccess
		result.Claims = mapFields(verdict.Fields)
	}
	return result, nil
}

// mapFields translates provider field names into claim fields, dropping what
// we do not track.
func mapFields(fields map[string]string) map[verification.ClaimField]string {
	translate := map[string]verification.ClaimField{
		"full_name":       verification.ClaimFullName,
		"national_id":     verification.ClaimNationalID,
		"birth_date":      verification.ClaimBirthDate,
		"document_number": verification.ClaimDocumentNumber,
		"document_expiry": verification.ClaimDocumentExpiry,
	}
	var claims map[verification.ClaimField]string
	for name, value := range fields {
		field, ok := translate[name]
		if !ok || value == "" {
			continue
		}
		if claims == nil {
			claims = make(map[verification.ClaimField]string)
		}
		claims[field] = value
	}
	return claims
}
