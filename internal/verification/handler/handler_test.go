package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fides/internal/access"
	"fides/internal/audit"
	"fides/internal/conference"
	"fides/internal/policy"
	"fides/internal/verification"
	"fides/internal/verification/store/memory"
	id "fides/pkg/domain"
	"fides/pkg/requestcontext"
)

type testEnv struct {
	router     chi.Router
	crossCheck *countingChannel
}

// countingChannel is a server-side registry cross-check stand-in that counts
// how often it is invoked.
type countingChannel struct {
	calls atomic.Int32
}

func (c *countingChannel) Type() verification.ChannelType {
	return verification.ChannelRegistryCrossCheck
}

func (c *countingChannel) SharedResource() string { return "" }

func (c *countingChannel) Attempt(context.Context, string, map[verification.ClaimField]verification.IdentityClaim, map[string]any) (verification.ChannelResult, error) {
	c.calls.Add(1)
	return verification.ChannelResult{Status: verification.StatusSuccess, Confidence: 0.95}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asOperator injects an authenticated operator, standing in for the JWT
// middleware.
func asOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithOperatorID(r.Context(), id.NewOperatorID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	events := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(events)
	t.Cleanup(publisher.Close)

	catalog, err := policy.DefaultCatalog(30 * time.Minute)
	require.NoError(t, err)
	crossCheck := &countingChannel{}
	registry, err := verification.NewRegistry(policy.DefaultWeights(), crossCheck)
	require.NoError(t, err)

	tracker := conference.NewTracker(conference.WithAuditPublisher(publisher))
	codes, err := access.NewService(access.NewInMemoryStore(), time.Hour,
		access.WithAuditPublisher(publisher))
	require.NoError(t, err)

	svc, err := verification.NewService(memory.NewStore(), catalog, registry,
		verification.WithAuditPublisher(publisher),
		verification.WithConferenceGate(tracker),
		verification.WithTerminalCleanup(
			func(ctx context.Context, sid id.SessionID) { _ = codes.Revoke(ctx, sid) },
			func(_ context.Context, sid id.SessionID) { tracker.Drop(sid) },
		),
	)
	require.NoError(t, err)

	h := New(svc, codes, tracker, publisher, testLogger())
	router := chi.NewRouter()
	h.Register(router, asOperator)
	return &testEnv{router: router, crossCheck: crossCheck}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T, policyName string) (string, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions", map[string]string{"policy": policyName})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessCode)
	return resp.ID, resp.AccessCode
}

func (e *testEnv) submit(t *testing.T, sessionID, channel string, body map[string]any) AttemptResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost,
		fmt.Sprintf("/sessions/%s/channels/%s/attempts", sessionID, channel), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AttemptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/sessions", map[string]string{"policy": "L2"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "created", resp.Stage)
	assert.Equal(t, "L2", resp.Policy)
	assert.Len(t, resp.AccessCode, 6)

	rec = env.do(t, http.MethodPost, "/sessions", map[string]string{"policy": "L9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitAttemptAndStatus(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L2")

	resp := env.submit(t, sessionID, "chip_read", map[string]any{
		"status":     "success",
		"confidence": 0.99,
		"claims":     map[string]string{"national_id": "12345678-9"},
	})
	assert.Equal(t, "document_review", resp.Stage)
	assert.Equal(t, "passed", resp.Evaluation.Outcome)
	assert.Equal(t, 150, resp.Evaluation.Score)

	rec := env.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 150, status.CompositeScore)
	require.NotNil(t, status.Evaluation)
	assert.Equal(t, "passed", status.Evaluation.Outcome)
}

func TestSubmitAttemptValidation(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L2")

	rec := env.do(t, http.MethodPost,
		fmt.Sprintf("/sessions/%s/channels/chip_read/attempts", sessionID),
		map[string]any{"status": "definitely", "confidence": 0.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost,
		fmt.Sprintf("/sessions/%s/channels/chip_read/attempts", sessionID),
		map[string]any{"status": "success", "confidence": 1.5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost,
		fmt.Sprintf("/sessions/%s/channels/palm_reading/attempts", sessionID),
		map[string]any{"status": "success"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost,
		"/sessions/not-a-uuid/channels/chip_read/attempts",
		map[string]any{"status": "success"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityMismatchSurfaces422(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L3")

	env.submit(t, sessionID, "chip_read", map[string]any{
		"status":     "success",
		"confidence": 0.99,
		"claims":     map[string]string{"national_id": "12345678-9"},
	})
	rec := env.do(t, http.MethodPost,
		fmt.Sprintf("/sessions/%s/channels/document_forensics/attempts", sessionID),
		map[string]any{
			"status":     "success",
			"confidence": 0.9,
			"claims":     map[string]string{"national_id": "11111111-1"},
		})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "identity_mismatch")
}

func TestRunChannelsNormalizesRequestedList(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L1")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/sessions/%s/verify", sessionID),
		map[string]any{
			"channels": []string{" Registry_Cross_Check ", "registry_cross_check", "REGISTRY_CROSS_CHECK"},
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1, "spellings of one channel collapse to a single attempt")
	assert.Equal(t, "registry_cross_check", resp.Results[0].Channel)
	assert.Equal(t, int32(1), env.crossCheck.calls.Load())

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/sessions/%s/verify", sessionID),
		map[string]any{"channels": []string{"", "   "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/sessions/%s/verify", sessionID),
		map[string]any{"channels": []string{"palm_reading"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullFlowWithSignatures(t *testing.T) {
	env := newTestEnv(t)
	sessionID, accessCode := env.createSession(t, "L2")

	env.submit(t, sessionID, "chip_read", map[string]any{
		"status":     "success",
		"confidence": 0.99,
		"claims":     map[string]string{"national_id": "12345678-9"},
	})

	rec := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/advance",
		map[string]string{"from": "document_review", "to": "signing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Subject signs with the access code.
	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/signatures",
		map[string]string{"role": "subject", "signature": "sig-bytes", "access_code": accessCode})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Wrong access code is rejected.
	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/signatures",
		map[string]string{"role": "subject", "signature": "sig-bytes", "access_code": "000000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/advance",
		map[string]string{"from": "signing", "to": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Stage)
}

func TestAdvanceConflictSurfaces409(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L2")

	env.submit(t, sessionID, "chip_read", map[string]any{
		"status": "success", "confidence": 0.99,
	})
	rec := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/advance",
		map[string]string{"from": "document_review", "to": "signing"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Stale expectation: the stage moved on.
	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/advance",
		map[string]string{"from": "document_review", "to": "signing"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConferenceGateOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L3")

	env.submit(t, sessionID, "chip_read", map[string]any{"status": "success", "confidence": 0.99})
	env.submit(t, sessionID, "biometric_match", map[string]any{"status": "success", "confidence": 0.95})

	// L3 requires a recorded conference with a notary before signing.
	rec := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/advance",
		map[string]string{"from": "document_review", "to": "signing"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	for _, body := range []map[string]any{
		{"kind": "joined"},
		{"kind": "participantJoined", "participant": "n-1", "role": "notary"},
		{"kind": "recordingStatusChanged", "recording": true},
	} {
		rec := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/conference/events", body)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/advance",
		map[string]string{"from": "document_review", "to": "signing"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCancelRequiresCredentials(t *testing.T) {
	env := newTestEnv(t)
	sessionID, accessCode := env.createSession(t, "L2")

	rec := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/cancel",
		map[string]string{"access_code": accessCode})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancelled", resp.Stage)

	// Cancellation revokes the access code; the credential dies with the
	// session rather than living out its own TTL.
	rec = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/cancel",
		map[string]string{"access_code": accessCode})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
}

func TestAuditTrailEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L2")
	env.submit(t, sessionID, "chip_read", map[string]any{"status": "success", "confidence": 0.99})

	rec := env.do(t, http.MethodGet, "/sessions/"+sessionID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail AuditTrailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	assert.NotEmpty(t, trail.Events)

	kinds := make(map[string]bool)
	for _, e := range trail.Events {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds["session_created"])
	assert.True(t, kinds["channel_succeeded"])
}

func TestExpiredSessionIsGone(t *testing.T) {
	env := newTestEnv(t)
	sessionID, _ := env.createSession(t, "L2")

	// Simulate a later clock by pinning request time through middleware.
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID, nil)
	req = req.WithContext(requestcontext.WithTime(req.Context(), time.Now().Add(31*time.Minute)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGone, rec.Code)
}
