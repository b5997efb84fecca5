//go:build integration

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fides/internal/verification"
	id "fides/pkg/domain"
	"fides/pkg/platform/sentinel"
	"fides/pkg/testutil/containers"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	rc := containers.NewRedisContainer(t)
	require.NoError(t, rc.FlushAll(context.Background()))
	return NewStore(rc.Client)
}

func newSession(stage verification.Stage) *verification.Session {
	now := time.Now().UTC()
	return &verification.Session{
		ID:              id.NewSessionID(),
		PolicyName:      "L2",
		Stage:           stage,
		CreatedAt:       now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(30 * time.Minute),
		RequiredSigners: []verification.SignerRole{verification.SignerSubject},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(verification.StageCreated)
	require.NoError(t, store.Create(ctx, session))
	assert.ErrorIs(t, store.Create(ctx, session), sentinel.ErrConflict)

	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = store.Get(ctx, id.NewSessionID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStore_AppendResultIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(verification.StageVerifying)
	require.NoError(t, store.Create(ctx, session))

	result := verification.ChannelResult{
		Channel:       verification.ChannelBiometricMatch,
		Status:        verification.StatusSuccess,
		Confidence:    0.93,
		Weight:        50,
		AttemptNumber: 1,
		RecordedAt:    time.Now().UTC(),
	}
	updated, err := store.AppendResult(ctx, session.ID, result, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, updated.CompositeScore)

	_, err = store.AppendResult(ctx, session.ID, result, nil)
	assert.ErrorIs(t, err, sentinel.ErrAlreadyRecorded)
}

func TestStore_ConcurrentAppendsSumAllWeights(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(verification.StageVerifying)
	require.NoError(t, store.Create(ctx, session))

	channels := []struct {
		channel verification.ChannelType
		weight  int
	}{
		{verification.ChannelChipRead, 150},
		{verification.ChannelBiometricMatch, 50},
		{verification.ChannelLiveness, 25},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(channels))
	for i, c := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.AppendResult(ctx, session.ID, verification.ChannelResult{
				Channel:       c.channel,
				Status:        verification.StatusSuccess,
				Confidence:    0.9,
				Weight:        c.weight,
				AttemptNumber: 1,
				RecordedAt:    time.Now().UTC(),
			}, nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 225, got.CompositeScore, "a concurrent append must not overwrite the sum with a stale projection")
}

func TestStore_TransitionCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(verification.StageCreated)
	require.NoError(t, store.Create(ctx, session))

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Transition(ctx, session.ID, verification.StageCreated, verification.StageVerifying, "")
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, sentinel.ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestStore_ActivityIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := newSession(verification.StageVerifying)
	stale.LastActivityAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Create(ctx, stale))

	fresh := newSession(verification.StageVerifying)
	require.NoError(t, store.Create(ctx, fresh))

	ids, err := store.ListIdleBefore(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []id.SessionID{stale.ID}, ids)

	// Terminal sessions leave the index.
	_, err = store.Transition(ctx, stale.ID, verification.StageVerifying, verification.StageExpired, "idle timeout")
	require.NoError(t, err)

	ids, err = store.ListIdleBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []id.SessionID{fresh.ID}, ids)
}
