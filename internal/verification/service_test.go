package verification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fides/internal/audit"
	"fides/internal/verification"
	"fides/internal/verification/store/memory"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/requestcontext"
)

type staticPolicies map[string]verification.Policy

func (p staticPolicies) Resolve(name string) (verification.Policy, error) {
	pol, ok := p[name]
	if !ok {
		return verification.Policy{}, dErrors.Newf(dErrors.CodeNotFound, "unknown policy %q", name)
	}
	return pol, nil
}

type fakeChannel struct {
	typ      verification.ChannelType
	resource string
	attempt  func(ctx context.Context) (verification.ChannelResult, error)
}

func (c *fakeChannel) Type() verification.ChannelType { return c.typ }
func (c *fakeChannel) SharedResource() string         { return c.resource }
func (c *fakeChannel) Attempt(ctx context.Context, _ string, _ map[verification.ClaimField]verification.IdentityClaim, _ map[string]any) (verification.ChannelResult, error) {
	return c.attempt(ctx)
}

type fakeGate struct {
	joined    bool
	recording bool
}

func (g *fakeGate) Active(context.Context, id.SessionID) (bool, bool, error) {
	return g.joined, g.recording, nil
}

func defaultWeights() map[verification.ChannelType]int {
	return map[verification.ChannelType]int{
		verification.ChannelChipRead:           150,
		verification.ChannelDocumentForensics:  100,
		verification.ChannelBiometricMatch:     50,
		verification.ChannelRegistryCrossCheck: 50,
		verification.ChannelLiveness:           25,
		verification.ChannelManualFallback:     10,
	}
}

func enhancedTestPolicy() verification.Policy {
	return verification.Policy{
		Name: "enhanced",
		RequiredChannelSets: [][]verification.ChannelType{
			{verification.ChannelChipRead, verification.ChannelBiometricMatch},
		},
		MinimumScore:         175,
		MaxRetriesPerChannel: 3,
		SessionIdleTimeout:   30 * time.Minute,
		RequiredSigners:      []verification.SignerRole{verification.SignerSubject, verification.SignerNotary},
	}
}

type harness struct {
	svc    *verification.Service
	store  *memory.Store
	events *audit.InMemoryStore
	gate   *fakeGate
}

func newHarness(t *testing.T, policies staticPolicies, channels ...verification.Channel) *harness {
	t.Helper()
	registry, err := verification.NewRegistry(defaultWeights(), channels...)
	require.NoError(t, err)

	events := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(events)
	t.Cleanup(publisher.Close)

	gate := &fakeGate{}
	store := memory.NewStore()
	svc, err := verification.NewService(store, policies, registry,
		verification.WithAuditPublisher(publisher),
		verification.WithConferenceGate(gate),
	)
	require.NoError(t, err)
	return &harness{svc: svc, store: store, events: events, gate: gate}
}

func chipClaims() map[verification.ClaimField]string {
	return map[verification.ClaimField]string{
		verification.ClaimFullName:   "María Pérez",
		verification.ClaimNationalID: "12345678-9",
		verification.ClaimBirthDate:  "1985-03-14",
	}
}

func TestService_CreateResolvesPolicy(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})

	session, err := h.svc.Create(context.Background(), "enhanced")
	require.NoError(t, err)
	assert.Equal(t, verification.StageCreated, session.Stage)
	assert.Equal(t, "enhanced", session.PolicyName)
	assert.ElementsMatch(t,
		[]verification.SignerRole{verification.SignerSubject, verification.SignerNotary},
		session.RequiredSigners)

	_, err = h.svc.Create(context.Background(), "nonexistent")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestService_FullCertificationFlow(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	// First evidence: chip read. Auto-advances created → verifying, score
	// below threshold so the session needs more evidence.
	_, updated, ev, err := h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.99,
		Claims:     chipClaims(),
	})
	require.NoError(t, err)
	assert.Equal(t, verification.StageVerifying, updated.Stage)
	assert.Equal(t, verification.OutcomeNeedsMoreEvidence, ev.Outcome)
	assert.Equal(t, 150, ev.Score)
	assert.Equal(t, [][]verification.ChannelType{{verification.ChannelBiometricMatch}}, ev.Outstanding)

	// Biometric match completes the required set and clears the threshold;
	// the session unlocks document review on its own.
	_, updated, ev, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelBiometricMatch, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.93,
	})
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomePassed, ev.Outcome)
	assert.Equal(t, 200, ev.Score)
	assert.Equal(t, verification.StageDocumentReview, updated.Stage)

	updated, err = h.svc.Advance(ctx, session.ID, verification.StageDocumentReview, verification.StageSigning)
	require.NoError(t, err)
	assert.Equal(t, verification.StageSigning, updated.Stage)

	// Completion is blocked until every required signer has signed.
	_, err = h.svc.Advance(ctx, session.ID, verification.StageSigning, verification.StageCompleted)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation))

	_, err = h.svc.AddSignature(ctx, session.ID, verification.SignerSubject, "subject-sig")
	require.NoError(t, err)
	_, err = h.svc.AddSignature(ctx, session.ID, verification.SignerNotary, "notary-sig")
	require.NoError(t, err)

	updated, err = h.svc.Advance(ctx, session.ID, verification.StageSigning, verification.StageCompleted)
	require.NoError(t, err)
	assert.Equal(t, verification.StageCompleted, updated.Stage)

	trail, err := h.events.ListBySession(ctx, session.ID)
	require.NoError(t, err)
	kinds := make([]audit.Kind, 0, len(trail))
	for _, e := range trail {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, audit.KindSessionCreated)
	assert.Contains(t, kinds, audit.KindChannelSucceeded)
	assert.Contains(t, kinds, audit.KindStageAdvanced)
	assert.Contains(t, kinds, audit.KindSignatureRecorded)
}

func TestService_IdempotentResubmission(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	input := verification.SubmitInput{
		Status:        verification.StatusSuccess,
		Confidence:    0.99,
		Claims:        chipClaims(),
		AttemptNumber: 1,
	}
	first, _, _, err := h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, input)
	require.NoError(t, err)

	// A client retry of the same attempt is acknowledged, not re-counted.
	replay, updated, ev, err := h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, input)
	require.NoError(t, err)
	assert.Equal(t, first.AttemptNumber, replay.AttemptNumber)
	assert.Len(t, updated.Results, 1)
	assert.Equal(t, 150, ev.Score)
}

// rendezvousStore holds concurrent readers at Get until every armed party has
// loaded its snapshot, so submissions race on stale views of the history.
type rendezvousStore struct {
	verification.SessionStore

	mu      sync.Mutex
	pending int
	release chan struct{}
}

func (s *rendezvousStore) arm(parties int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = parties
	s.release = make(chan struct{})
}

func (s *rendezvousStore) Get(ctx context.Context, sid id.SessionID) (*verification.Session, error) {
	session, err := s.SessionStore.Get(ctx, sid)
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return session, err
	}
	s.pending--
	release := s.release
	if s.pending == 0 {
		close(release)
	}
	s.mu.Unlock()
	<-release
	return session, err
}

func TestService_ConcurrentSubmissionsNeverRegressScore(t *testing.T) {
	pol := enhancedTestPolicy()
	pol.RequiredChannelSets = [][]verification.ChannelType{
		{verification.ChannelChipRead, verification.ChannelBiometricMatch, verification.ChannelLiveness},
	}
	pol.MinimumScore = 300

	registry, err := verification.NewRegistry(defaultWeights())
	require.NoError(t, err)
	store := &rendezvousStore{SessionStore: memory.NewStore()}
	svc, err := verification.NewService(store, staticPolicies{"enhanced": pol}, registry)
	require.NoError(t, err)
	ctx := context.Background()

	session, err := svc.Create(ctx, "enhanced")
	require.NoError(t, err)
	_, _, _, err = svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.99,
	})
	require.NoError(t, err)

	// Both submitters load before either append lands: each snapshot is
	// missing the sibling's weight, so a caller-computed sum would let the
	// second append overwrite 200 with 175.
	store.arm(2)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, channel := range []verification.ChannelType{
		verification.ChannelBiometricMatch,
		verification.ChannelLiveness,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _, errs[i] = svc.SubmitOutcome(ctx, session.ID, channel, verification.SubmitInput{
				Status:     verification.StatusSuccess,
				Confidence: 0.9,
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	final, ev, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 225, final.CompositeScore, "score must cover every successful channel")
	assert.Equal(t, 225, ev.Score)
}

func TestService_TerminalCleanupRuns(t *testing.T) {
	registry, err := verification.NewRegistry(defaultWeights())
	require.NoError(t, err)

	var mu sync.Mutex
	var cleaned []id.SessionID
	svc, err := verification.NewService(memory.NewStore(),
		staticPolicies{"enhanced": enhancedTestPolicy()}, registry,
		verification.WithTerminalCleanup(func(_ context.Context, sid id.SessionID) {
			mu.Lock()
			cleaned = append(cleaned, sid)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("cancellation", func(t *testing.T) {
		session, err := svc.Create(ctx, "enhanced")
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, session.ID)
		require.NoError(t, err)
		assert.Contains(t, cleaned, session.ID)
	})

	t.Run("lazy expiry", func(t *testing.T) {
		session, err := svc.Create(ctx, "enhanced")
		require.NoError(t, err)

		late := requestcontext.WithTime(ctx, time.Now().Add(31*time.Minute))
		_, _, err = svc.Get(late, session.ID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionExpired))
		assert.Contains(t, cleaned, session.ID)
	})

	t.Run("identity mismatch failure", func(t *testing.T) {
		session, err := svc.Create(ctx, "enhanced")
		require.NoError(t, err)

		_, _, _, err = svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
			Status:     verification.StatusSuccess,
			Confidence: 0.99,
			Claims:     chipClaims(),
		})
		require.NoError(t, err)
		_, _, _, err = svc.SubmitOutcome(ctx, session.ID, verification.ChannelDocumentForensics, verification.SubmitInput{
			Status:     verification.StatusSuccess,
			Confidence: 0.9,
			Claims: map[verification.ClaimField]string{
				verification.ClaimNationalID: "99999999-9",
			},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIdentityMismatch))
		assert.Contains(t, cleaned, session.ID)
	})
}

func TestService_IdentityMismatchFailsClosed(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	_, _, _, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.99,
		Claims:     chipClaims(),
	})
	require.NoError(t, err)

	// Document forensics asserts a different national ID: fail closed.
	_, failed, ev, err := h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelDocumentForensics, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.90,
		Claims: map[verification.ClaimField]string{
			verification.ClaimNationalID: "99999999-9",
		},
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIdentityMismatch))
	assert.Equal(t, verification.StageFailed, failed.Stage)
	assert.Equal(t, verification.OutcomeFailed, ev.Outcome)
	assert.Equal(t, "identity_mismatch", ev.FailureReason)

	// Terminal: no further evidence is accepted.
	_, _, _, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelBiometricMatch, verification.SubmitInput{
		Status: verification.StatusSuccess,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation))
}

func TestService_RetriesExhausted(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	var ev verification.Evaluation
	for i := 0; i < 3; i++ {
		_, _, ev, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
			Status: verification.StatusFailure,
		})
		require.NoError(t, err)
	}
	// The only required set is now impossible.
	assert.Equal(t, verification.OutcomeFailed, ev.Outcome)
	assert.Equal(t, "retries_exhausted", ev.FailureReason)

	got, _, err := h.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, verification.StageFailed, got.Stage)
}

func TestService_RetryBudgetRejectsFreshAttempts(t *testing.T) {
	pol := enhancedTestPolicy()
	pol.RequiredChannelSets = [][]verification.ChannelType{
		{verification.ChannelChipRead},
		{verification.ChannelDocumentForensics},
	}
	pol.MinimumScore = 100
	h := newHarness(t, staticPolicies{"enhanced": pol})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, _, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
			Status: verification.StatusFailure,
		})
		require.NoError(t, err)
	}
	// Alternative set keeps the session alive, but the exhausted channel
	// refuses a fourth attempt.
	_, _, _, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
		Status: verification.StatusSuccess,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeChannelUnavailable))
}

func TestService_ConferenceGate(t *testing.T) {
	pol := enhancedTestPolicy()
	pol.RequireConference = true
	h := newHarness(t, staticPolicies{"enhanced": pol})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)
	submitPassingEvidence(t, h, session.ID)

	_, err = h.svc.Advance(ctx, session.ID, verification.StageDocumentReview, verification.StageSigning)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation), "no conference yet")

	h.gate.joined = true
	_, err = h.svc.Advance(ctx, session.ID, verification.StageDocumentReview, verification.StageSigning)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation), "recording not started")

	h.gate.recording = true
	updated, err := h.svc.Advance(ctx, session.ID, verification.StageDocumentReview, verification.StageSigning)
	require.NoError(t, err)
	assert.Equal(t, verification.StageSigning, updated.Stage)
}

func TestService_LazyExpiry(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	t0 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	session, err := h.svc.Create(requestcontext.WithTime(context.Background(), t0), "enhanced")
	require.NoError(t, err)

	// Within the idle window the session is live.
	later := requestcontext.WithTime(context.Background(), t0.Add(29*time.Minute))
	_, _, err = h.svc.Get(later, session.ID)
	require.NoError(t, err)

	// Past the window, access expires it.
	stale := requestcontext.WithTime(context.Background(), t0.Add(31*time.Minute))
	_, _, err = h.svc.Get(stale, session.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionExpired))

	// And expiry is terminal.
	_, _, _, err = h.svc.SubmitOutcome(stale, session.ID, verification.ChannelChipRead, verification.SubmitInput{
		Status: verification.StatusSuccess,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionExpired))
}

func TestService_ConcurrentAdvanceOneWins(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)
	submitPassingEvidence(t, h, session.ID)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Advance(ctx, session.ID, verification.StageDocumentReview, verification.StageSigning)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict) ||
				dErrors.HasCode(err, dErrors.CodePolicyViolation))
		}
	}
	assert.Equal(t, 1, wins)
}

func TestService_CancelAbortsSession(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	updated, err := h.svc.Cancel(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, verification.StageCancelled, updated.Stage)

	_, _, _, err = h.svc.SubmitOutcome(ctx, session.ID, verification.ChannelChipRead, verification.SubmitInput{
		Status: verification.StatusSuccess,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation))

	// Cancelling twice is a conflict, not a silent success.
	_, err = h.svc.Cancel(ctx, session.ID)
	assert.Error(t, err)
}

func TestService_RunChannelRecordsOutcome(t *testing.T) {
	chip := &fakeChannel{
		typ:      verification.ChannelChipRead,
		resource: "nfc_reader",
		attempt: func(context.Context) (verification.ChannelResult, error) {
			return verification.ChannelResult{
				Status:     verification.StatusSuccess,
				Confidence: 0.98,
				Claims:     chipClaims(),
			}, nil
		},
	}
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()}, chip)
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	result, updated, ev, err := h.svc.RunChannel(ctx, session.ID, verification.ChannelChipRead, nil)
	require.NoError(t, err)
	assert.Equal(t, verification.StatusSuccess, result.Status)
	assert.Equal(t, 150, result.Weight)
	assert.Equal(t, 1, result.AttemptNumber)
	assert.Equal(t, 150, ev.Score)
	assert.Equal(t, "María Pérez", updated.Claims[verification.ClaimFullName].Value)

	// No implementation registered for biometrics in this harness.
	_, _, _, err = h.svc.RunChannel(ctx, session.ID, verification.ChannelBiometricMatch, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeChannelUnavailable))
}

func TestService_RunChannelsSerializesSharedDevice(t *testing.T) {
	var mu sync.Mutex
	active := 0
	maxActive := 0

	observe := func(ctx context.Context) (verification.ChannelResult, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return verification.ChannelResult{Status: verification.StatusSuccess, Confidence: 0.9}, nil
	}
	camera1 := &fakeChannel{typ: verification.ChannelBiometricMatch, resource: "camera", attempt: observe}
	camera2 := &fakeChannel{typ: verification.ChannelLiveness, resource: "camera", attempt: observe}

	pol := enhancedTestPolicy()
	pol.RequiredChannelSets = [][]verification.ChannelType{
		{verification.ChannelBiometricMatch, verification.ChannelLiveness},
	}
	pol.MinimumScore = 75
	h := newHarness(t, staticPolicies{"enhanced": pol}, camera1, camera2)
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	updated, ev, err := h.svc.RunChannels(ctx, session.ID, []verification.ChannelType{
		verification.ChannelBiometricMatch,
		verification.ChannelLiveness,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, maxActive, "camera channels must not overlap")
	assert.Equal(t, verification.OutcomePassed, ev.Outcome)
	assert.Equal(t, verification.StageDocumentReview, updated.Stage)
}

func TestService_SignatureRules(t *testing.T) {
	h := newHarness(t, staticPolicies{"enhanced": enhancedTestPolicy()})
	ctx := context.Background()

	session, err := h.svc.Create(ctx, "enhanced")
	require.NoError(t, err)

	// Signing has not started yet.
	_, err = h.svc.AddSignature(ctx, session.ID, verification.SignerSubject, "sig")
	assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyViolation))

	submitPassingEvidence(t, h, session.ID)
	_, err = h.svc.Advance(ctx, session.ID, verification.StageDocumentReview, verification.StageSigning)
	require.NoError(t, err)

	_, err = h.svc.AddSignature(ctx, session.ID, verification.SignerSubject, "sig")
	require.NoError(t, err)

	// Double signing by the same role is rejected.
	_, err = h.svc.AddSignature(ctx, session.ID, verification.SignerSubject, "sig")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

// submitPassingEvidence pushes a session through Verifying into
// DocumentReview under the enhanced policy.
func submitPassingEvidence(t *testing.T, h *harness, sid id.SessionID) {
	t.Helper()
	ctx := context.Background()
	_, _, _, err := h.svc.SubmitOutcome(ctx, sid, verification.ChannelChipRead, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.99,
		Claims:     chipClaims(),
	})
	require.NoError(t, err)
	_, updated, _, err := h.svc.SubmitOutcome(ctx, sid, verification.ChannelBiometricMatch, verification.SubmitInput{
		Status:     verification.StatusSuccess,
		Confidence: 0.95,
	})
	require.NoError(t, err)
	require.Equal(t, verification.StageDocumentReview, updated.Stage)
}
