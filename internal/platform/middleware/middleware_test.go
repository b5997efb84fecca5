package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fides/pkg/domain"
	"fides/pkg/requestcontext"
)

func TestTokenAuthorityRoundTrip(t *testing.T) {
	authority := NewTokenAuthority("test-signing-key")
	operatorID := id.NewOperatorID()

	token, err := authority.Issue(operatorID, "notary", time.Hour)
	require.NoError(t, err)

	parsedID, role, err := authority.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, operatorID, parsedID)
	assert.Equal(t, "notary", role)
}

func TestTokenAuthorityRejectsExpiredToken(t *testing.T) {
	authority := NewTokenAuthority("test-signing-key")

	token, err := authority.Issue(id.NewOperatorID(), "notary", -time.Minute)
	require.NoError(t, err)

	_, _, err = authority.Validate(token)
	assert.Error(t, err)
}

func TestTokenAuthorityRejectsForeignKey(t *testing.T) {
	token, err := NewTokenAuthority("key-a").Issue(id.NewOperatorID(), "notary", time.Hour)
	require.NoError(t, err)

	_, _, err = NewTokenAuthority("key-b").Validate(token)
	assert.Error(t, err)
}

func TestRequireOperator(t *testing.T) {
	authority := NewTokenAuthority("test-signing-key")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen id.OperatorID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.OperatorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := RequireOperator(authority, logger)(next)

	t.Run("missing token is unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/x/advance", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sessions/x/advance", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong role is forbidden", func(t *testing.T) {
		token, err := authority.Issue(id.NewOperatorID(), "subject", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/sessions/x/advance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("notary token passes with identity in context", func(t *testing.T) {
		operatorID := id.NewOperatorID()
		token, err := authority.Issue(operatorID, "notary", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/sessions/x/advance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, operatorID, seen)
	})
}

func TestRequestIDHonorsInboundHeader(t *testing.T) {
	var gotID string
	var gotTime time.Time
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
		gotTime = requestcontext.Now(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", gotID)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.WithinDuration(t, time.Now(), gotTime, time.Minute)
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var gotID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	assert.NotEmpty(t, gotID)
	assert.Equal(t, gotID, rec.Header().Get("X-Request-ID"))
}

func TestClientMetadata(t *testing.T) {
	var ip, ua, app string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip = requestcontext.ClientIP(ctx)
		ua = requestcontext.UserAgent(ctx)
		app = requestcontext.ClientApp(ctx)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	rec := httptest.NewRecorder()
	ClientMetadata(next).ServeHTTP(rec, req)

	assert.Equal(t, "203.0.113.7", ip)
	assert.Contains(t, ua, "Mozilla/5.0")
	assert.Contains(t, app, "Chrome")
}
