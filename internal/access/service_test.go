package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fides/internal/audit"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/requestcontext"
)

func newTestService(t *testing.T) (*Service, *audit.InMemoryStore) {
	t.Helper()
	events := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(events)
	t.Cleanup(publisher.Close)

	svc, err := NewService(NewInMemoryStore(), time.Hour, WithAuditPublisher(publisher))
	require.NoError(t, err)
	return svc, events
}

func TestIssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sid := id.NewSessionID()

	code, err := svc.Issue(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	assert.NoError(t, svc.Verify(ctx, sid, code))

	err = svc.Verify(ctx, sid, "000000")
	if code == "000000" {
		t.Skip("generated the probe code")
	}
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestReissueReplacesCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sid := id.NewSessionID()

	first, err := svc.Issue(ctx, sid)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, sid)
	require.NoError(t, err)

	if first != second {
		assert.Error(t, svc.Verify(ctx, sid, first))
	}
	assert.NoError(t, svc.Verify(ctx, sid, second))
}

func TestVerifyExpiredCode(t *testing.T) {
	svc, events := newTestService(t)
	sid := id.NewSessionID()

	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	code, err := svc.Issue(requestcontext.WithTime(context.Background(), t0), sid)
	require.NoError(t, err)

	later := requestcontext.WithTime(context.Background(), t0.Add(2*time.Hour))
	err = svc.Verify(later, sid, code)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	trail, err := events.ListBySession(context.Background(), sid)
	require.NoError(t, err)
	var rejected bool
	for _, e := range trail {
		if e.Kind == audit.KindAccessCodeRejected && e.Payload["reason"] == "expired" {
			rejected = true
		}
	}
	assert.True(t, rejected)
}

func TestVerifyAttemptBudget(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sid := id.NewSessionID()

	code, err := svc.Issue(ctx, sid)
	require.NoError(t, err)
	wrong := "999999"
	if code == wrong {
		wrong = "999998"
	}

	for i := 0; i < maxAttempts; i++ {
		assert.Error(t, svc.Verify(ctx, sid, wrong))
	}
	// Budget spent: even the right code is refused now.
	err = svc.Verify(ctx, sid, code)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVerifyWithoutIssue(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Verify(context.Background(), id.NewSessionID(), "123456")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sid := id.NewSessionID()

	code, err := svc.Issue(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, sid))

	assert.Error(t, svc.Verify(ctx, sid, code))
	// Revoking twice is fine.
	assert.NoError(t, svc.Revoke(ctx, sid))
}
