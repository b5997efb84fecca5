package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fides/internal/audit"
	"fides/internal/verification/metrics"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/platform/sentinel"
	"fides/pkg/requestcontext"
)

// AuditPublisher is the service's port to the audit pipeline.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ConferenceGate reports whether the session's video conference is active and
// being recorded. Implemented by the conference feature; required before
// Signing when the policy demands it.
type ConferenceGate interface {
	Active(ctx context.Context, sessionID id.SessionID) (joined bool, recording bool, err error)
}

// Service is the verification session orchestrator. It owns the session
// lifecycle: channel submissions, aggregation, stage transitions, expiry, and
// cancellation. All session mutation goes through the store's atomic
// operations; the service itself holds no session state beyond in-flight
// cancellation handles and device locks.
type Service struct {
	store    SessionStore
	policies PolicyResolver
	registry *Registry

	auditor AuditPublisher
	gate    ConferenceGate
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	channelTimeout     time.Duration
	defaultIdleTimeout time.Duration

	locks    *resourceLocks
	cleanups []func(ctx context.Context, sid id.SessionID)

	mu         sync.Mutex
	inflight   map[id.SessionID]map[uint64]context.CancelFunc
	inflightID uint64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConferenceGate(gate ConferenceGate) Option {
	return func(s *Service) { s.gate = gate }
}

// WithChannelTimeout bounds server-side channel attempts.
func WithChannelTimeout(d time.Duration) Option {
	return func(s *Service) { s.channelTimeout = d }
}

// WithTerminalCleanup registers callbacks run once when a session reaches a
// terminal stage: revoking the signer access code, dropping conference state.
func WithTerminalCleanup(fns ...func(ctx context.Context, sid id.SessionID)) Option {
	return func(s *Service) { s.cleanups = append(s.cleanups, fns...) }
}

func NewService(store SessionStore, policies PolicyResolver, registry *Registry, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy resolver is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}

	s := &Service{
		store:              store,
		policies:           policies,
		registry:           registry,
		logger:             slog.Default(),
		tracer:             otel.Tracer("fides/verification"),
		channelTimeout:     90 * time.Second,
		defaultIdleTimeout: 30 * time.Minute,
		locks:              newResourceLocks(),
		inflight:           make(map[id.SessionID]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create allocates a new session bound to a named policy.
func (s *Service) Create(ctx context.Context, policyName string) (*Session, error) {
	pol, err := s.policies.Resolve(policyName)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	session := &Session{
		ID:              id.NewSessionID(),
		PolicyName:      pol.Name,
		Stage:           StageCreated,
		CreatedAt:       now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(pol.SessionIdleTimeout),
		Claims:          make(map[ClaimField]IdentityClaim),
		RequiredSigners: pol.RequiredSigners,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create session")
	}

	s.metrics.SessionOpened()
	s.audit(ctx, audit.Event{
		SessionID: session.ID,
		Kind:      audit.KindSessionCreated,
		Category:  audit.CategoryCompliance,
		Payload:   map[string]string{"policy": pol.Name},
	})
	s.logger.InfoContext(ctx, "session created",
		"session_id", session.ID,
		"policy", pol.Name,
	)
	return session, nil
}

// Get returns a session snapshot and its current evaluation, applying lazy
// expiry first.
func (s *Service) Get(ctx context.Context, sid id.SessionID) (*Session, Evaluation, error) {
	session, pol, err := s.load(ctx, sid)
	if err != nil {
		return nil, Evaluation{}, err
	}
	return session, Evaluate(session, pol), nil
}

// Exists reports whether the store knows the session, terminal or not. The
// audit trail endpoint uses it before querying the event store.
func (s *Service) Exists(ctx context.Context, sid id.SessionID) error {
	_, err := s.store.Get(ctx, sid)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return err
}

// SubmitInput is a channel attempt outcome produced outside the orchestrator
// (capture client, hardware bridge). The payload beyond claims and confidence
// is opaque to the orchestrator.
type SubmitInput struct {
	Status     ChannelStatus
	Confidence float64
	Claims     map[ClaimField]string
	// AttemptNumber enables idempotent client retries. Zero means "next".
	AttemptNumber int
}

// SubmitOutcome records one channel attempt and re-evaluates the session.
// Returns the recorded (or previously recorded, on idempotent replay) result
// together with the updated session and evaluation.
func (s *Service) SubmitOutcome(ctx context.Context, sid id.SessionID, channel ChannelType, input SubmitInput) (*ChannelResult, *Session, Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "verification.SubmitOutcome",
		trace.WithAttributes(
			attribute.String("session.id", sid.String()),
			attribute.String("channel.type", channel.String()),
		))
	defer span.End()

	session, pol, err := s.load(ctx, sid)
	if err != nil {
		return nil, nil, Evaluation{}, err
	}

	weight, ok := s.registry.Weight(channel)
	if !ok {
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Newf(dErrors.CodeChannelUnavailable, "channel %s not configured", channel))
	}
	if input.Confidence < 0 || input.Confidence > 1 {
		return nil, nil, Evaluation{}, dErrors.New(dErrors.CodeValidation, "confidence must be between 0.0 and 1.0")
	}

	if session.Stage != StageCreated && session.Stage != StageVerifying {
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Newf(dErrors.CodePolicyViolation, "stage %s does not accept channel results", session.Stage))
	}

	attemptNumber := input.AttemptNumber
	if attemptNumber == 0 {
		attemptNumber = session.Attempts(channel) + 1
	}
	// Replays of an already-recorded attempt pass through; fresh attempts
	// beyond the retry budget do not.
	if attemptNumber > session.Attempts(channel) && !session.Succeeded(channel) && session.Attempts(channel) >= pol.MaxRetriesPerChannel {
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Newf(dErrors.CodeChannelUnavailable, "channel %s exhausted its %d attempts", channel, pol.MaxRetriesPerChannel))
	}

	result := ChannelResult{
		Channel:       channel,
		Status:        input.Status,
		Confidence:    input.Confidence,
		Weight:        weight,
		Claims:        input.Claims,
		AttemptNumber: attemptNumber,
		RecordedAt:    requestcontext.Now(ctx),
	}
	return s.record(ctx, session, pol, result)
}

// record appends a result, handles identity mismatch, and advances the stage
// when the aggregator passes or fails the session.
func (s *Service) record(ctx context.Context, session *Session, pol Policy, result ChannelResult) (*ChannelResult, *Session, Evaluation, error) {
	sid := session.ID

	session, err := s.ensureVerifying(ctx, session)
	if err != nil {
		return nil, nil, Evaluation{}, err
	}

	if field, conflict := ConflictingClaim(session.Claims, result); conflict {
		// Fail closed: conflicting identity evidence kills the session.
		// The result is still recorded so the trail shows what conflicted.
		stored, err := s.store.AppendResult(ctx, sid, result, nil)
		if err != nil && !errors.Is(err, sentinel.ErrAlreadyRecorded) {
			return nil, nil, Evaluation{}, dErrors.Wrap(err, dErrors.CodeInternal, "append channel result")
		}
		if stored == nil {
			stored = session
		}
		failed, err := s.transition(ctx, stored, stored.Stage, StageFailed, failureIdentityMismatch)
		if err != nil {
			return nil, nil, Evaluation{}, err
		}
		s.audit(ctx, audit.Event{
			SessionID: sid,
			Kind:      audit.KindSessionFailed,
			Category:  audit.CategorySecurity,
			Payload: map[string]string{
				"reason":  failureIdentityMismatch,
				"field":   string(field),
				"channel": result.Channel.String(),
			},
		})
		s.logger.WarnContext(ctx, "identity mismatch, session failed",
			"session_id", sid,
			"channel", result.Channel,
			"field", field,
		)
		ev := Evaluate(failed, pol)
		s.metrics.ObserveEvaluation(string(ev.Outcome), pol.Name)
		return nil, failed, ev, dErrors.Newf(dErrors.CodeIdentityMismatch, "channel %s asserts a conflicting %s", result.Channel, field)
	}

	added := MergeClaims(session.Claims, result)
	updated, err := s.store.AppendResult(ctx, sid, result, added)
	if errors.Is(err, sentinel.ErrAlreadyRecorded) {
		// Idempotent replay: return the recorded attempt without
		// double-counting or duplicate audit entries.
		current, pol2, loadErr := s.load(ctx, sid)
		if loadErr != nil {
			return nil, nil, Evaluation{}, loadErr
		}
		for i := range current.Results {
			r := current.Results[i]
			if r.Channel == result.Channel && r.AttemptNumber == result.AttemptNumber {
				return &r, current, Evaluate(current, pol2), nil
			}
		}
		return nil, nil, Evaluation{}, dErrors.New(dErrors.CodeInternal, "recorded attempt not found on replay")
	}
	if err != nil {
		return nil, nil, Evaluation{}, dErrors.Wrap(err, dErrors.CodeInternal, "append channel result")
	}

	s.metrics.ObserveAttempt(result.Channel.String(), string(result.Status))
	s.audit(ctx, audit.Event{
		SessionID: sid,
		Kind:      audit.KindChannelAttempted,
		Category:  audit.CategoryCompliance,
		Payload: map[string]string{
			"channel": result.Channel.String(),
			"attempt": strconv.Itoa(result.AttemptNumber),
		},
	})
	outcomeKind := audit.KindChannelFailed
	if result.Status == StatusSuccess {
		outcomeKind = audit.KindChannelSucceeded
	}
	s.audit(ctx, audit.Event{
		SessionID: sid,
		Kind:      outcomeKind,
		Category:  audit.CategoryCompliance,
		Payload: map[string]string{
			"channel":    result.Channel.String(),
			"status":     string(result.Status),
			"confidence": strconv.FormatFloat(result.Confidence, 'f', 2, 64),
			"attempt":    strconv.Itoa(result.AttemptNumber),
		},
	})

	ev := Evaluate(updated, pol)
	s.metrics.ObserveEvaluation(string(ev.Outcome), pol.Name)

	switch ev.Outcome {
	case OutcomePassed:
		if updated.Stage == StageVerifying {
			updated, err = s.transition(ctx, updated, StageVerifying, StageDocumentReview, "")
			if err != nil {
				return nil, nil, Evaluation{}, err
			}
		}
	case OutcomeFailed:
		if !updated.Stage.IsTerminal() {
			updated, err = s.transition(ctx, updated, updated.Stage, StageFailed, ev.FailureReason)
			if err != nil {
				return nil, nil, Evaluation{}, err
			}
			s.audit(ctx, audit.Event{
				SessionID: sid,
				Kind:      audit.KindSessionFailed,
				Category:  audit.CategoryCompliance,
				Payload:   map[string]string{"reason": ev.FailureReason},
			})
		}
	}

	s.logger.InfoContext(ctx, "channel result recorded",
		"session_id", sid,
		"channel", result.Channel,
		"status", result.Status,
		"attempt", result.AttemptNumber,
		"score", updated.CompositeScore,
		"outcome", ev.Outcome,
	)
	return &result, updated, ev, nil
}

// RunChannel invokes a server-side channel implementation (registry lookup,
// document forensics service) and records its outcome. Channels that declare
// a shared capture device are serialized per session; the attempt context is
// cancellable via Cancel.
func (s *Service) RunChannel(ctx context.Context, sid id.SessionID, channel ChannelType, params map[string]any) (*ChannelResult, *Session, Evaluation, error) {
	impl, ok := s.registry.Channel(channel)
	if !ok {
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Newf(dErrors.CodeChannelUnavailable, "channel %s has no server-side implementation", channel))
	}

	session, pol, err := s.load(ctx, sid)
	if err != nil {
		return nil, nil, Evaluation{}, err
	}
	if session.Stage != StageCreated && session.Stage != StageVerifying {
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Newf(dErrors.CodePolicyViolation, "stage %s does not accept channel results", session.Stage))
	}
	if !session.Succeeded(channel) && session.Attempts(channel) >= pol.MaxRetriesPerChannel {
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Newf(dErrors.CodeChannelUnavailable, "channel %s exhausted its %d attempts", channel, pol.MaxRetriesPerChannel))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.channelTimeout)
	token := s.trackInflight(sid, cancel)
	defer s.untrackInflight(sid, token)
	defer cancel()

	release, err := s.locks.acquire(attemptCtx, sid, impl.SharedResource())
	if err != nil {
		return nil, nil, Evaluation{}, dErrors.Wrap(err, dErrors.CodeTimeout, "waiting for capture device")
	}
	defer release()

	attemptCtx, span := s.tracer.Start(attemptCtx, "verification.ChannelAttempt",
		trace.WithAttributes(
			attribute.String("session.id", sid.String()),
			attribute.String("channel.type", channel.String()),
		))
	start := time.Now()
	result, err := impl.Attempt(attemptCtx, sid.String(), session.Claims, params)
	span.End()
	s.metrics.ObserveAttemptDuration(channel.String(), time.Since(start))

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = ChannelResult{Channel: channel, Status: StatusTimeout}
	case errors.Is(err, context.Canceled):
		return nil, nil, Evaluation{}, dErrors.Wrap(err, dErrors.CodeConflict, "attempt cancelled")
	case err != nil:
		return nil, nil, Evaluation{}, s.reject(ctx, sid, dErrors.Wrap(err, dErrors.CodeChannelUnavailable, "channel attempt could not run"))
	}

	weight, _ := s.registry.Weight(channel)
	result.Channel = channel
	result.Weight = weight
	result.AttemptNumber = session.Attempts(channel) + 1
	result.RecordedAt = requestcontext.Now(ctx)

	// Reload for the freshest claim set before recording.
	session, pol, err = s.load(ctx, sid)
	if err != nil {
		return nil, nil, Evaluation{}, err
	}
	return s.record(ctx, session, pol, result)
}

// RunChannels attempts several server-side channels concurrently. Channels
// sharing a capture device still serialize through the per-session resource
// lock; independent channels overlap.
func (s *Service) RunChannels(ctx context.Context, sid id.SessionID, channels []ChannelType, params map[string]any) (*Session, Evaluation, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range channels {
		g.Go(func() error {
			_, _, _, err := s.RunChannel(gctx, sid, channel, params)
			// A failed or timed-out attempt is evidence, not a reason
			// to abort the siblings. Only hard orchestration errors
			// (mismatch, expiry, cancellation) stop the group.
			if err != nil && !dErrors.HasCode(err, dErrors.CodeChannelUnavailable) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Evaluation{}, err
	}
	return s.Get(ctx, sid)
}

// Advance performs an operator-driven stage transition with precondition
// checks. Verifying→DocumentReview is aggregator-owned and rejected here.
func (s *Service) Advance(ctx context.Context, sid id.SessionID, from, to Stage) (*Session, error) {
	session, pol, err := s.load(ctx, sid)
	if err != nil {
		return nil, err
	}

	switch to {
	case StageVerifying:
		if from != StageCreated {
			return nil, s.reject(ctx, sid, dErrors.New(dErrors.CodePolicyViolation, "verifying is entered from created"))
		}
	case StageDocumentReview:
		return nil, s.reject(ctx, sid, dErrors.New(dErrors.CodePolicyViolation, "document review is unlocked by verification, not by advance"))
	case StageSigning:
		if from != StageDocumentReview {
			return nil, s.reject(ctx, sid, dErrors.New(dErrors.CodePolicyViolation, "signing is entered from document review"))
		}
		if pol.RequireConference {
			if err := s.requireConference(ctx, sid); err != nil {
				return nil, s.reject(ctx, sid, err)
			}
		}
	case StageCompleted:
		if from != StageSigning {
			return nil, s.reject(ctx, sid, dErrors.New(dErrors.CodePolicyViolation, "completion is entered from signing"))
		}
		if !session.AllSigned() {
			return nil, s.reject(ctx, sid, dErrors.New(dErrors.CodePolicyViolation, "required signatures outstanding"))
		}
	default:
		return nil, s.reject(ctx, sid, dErrors.Newf(dErrors.CodePolicyViolation, "cannot advance to %s", to))
	}

	return s.transition(ctx, session, from, to, "")
}

// AddSignature records one required signature during the Signing stage.
func (s *Service) AddSignature(ctx context.Context, sid id.SessionID, role SignerRole, payload string) (*Session, error) {
	session, _, err := s.load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if session.Stage != StageSigning {
		return nil, s.reject(ctx, sid, dErrors.Newf(dErrors.CodePolicyViolation, "signatures are recorded in signing, not %s", session.Stage))
	}
	required := false
	for _, r := range session.RequiredSigners {
		if r == role {
			required = true
			break
		}
	}
	if !required {
		return nil, s.reject(ctx, sid, dErrors.Newf(dErrors.CodePolicyViolation, "role %s is not a required signer", role))
	}

	sig := Signature{Role: role, Payload: payload, SignedAt: requestcontext.Now(ctx)}
	updated, err := s.store.AddSignature(ctx, sid, sig)
	if errors.Is(err, sentinel.ErrAlreadyRecorded) {
		return nil, dErrors.Newf(dErrors.CodeConflict, "role %s already signed", role)
	}
	if err != nil {
		return nil, s.translate(err, "add signature")
	}

	s.audit(ctx, audit.Event{
		SessionID: sid,
		Kind:      audit.KindSignatureRecorded,
		Category:  audit.CategoryCompliance,
		Payload:   map[string]string{"role": string(role)},
	})
	s.logger.InfoContext(ctx, "signature recorded",
		"session_id", sid,
		"role", role,
	)
	return updated, nil
}

// Cancel moves a non-terminal session to Cancelled, aborts in-flight channel
// attempts, and releases device locks.
func (s *Service) Cancel(ctx context.Context, sid id.SessionID) (*Session, error) {
	session, _, err := s.load(ctx, sid)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, session, session.Stage, StageCancelled, "cancelled by caller")
	if err != nil {
		return nil, err
	}

	s.audit(ctx, audit.Event{
		SessionID: sid,
		Kind:      audit.KindSessionCancelled,
		Category:  audit.CategoryCompliance,
	})
	s.logger.InfoContext(ctx, "session cancelled", "session_id", sid)
	return updated, nil
}

// RunReaper sweeps idle sessions to Expired until ctx is cancelled. Expiry is
// already enforced lazily on access; the reaper bounds storage growth for
// sessions nobody touches again.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-s.defaultIdleTimeout)
			ids, err := s.store.ListIdleBefore(ctx, cutoff)
			if err != nil {
				s.logger.ErrorContext(ctx, "reaper list failed", "error", err)
				continue
			}
			for _, sid := range ids {
				// load applies per-policy lazy expiry.
				if _, _, err := s.load(ctx, sid); err != nil && !dErrors.HasCode(err, dErrors.CodeSessionExpired) {
					s.logger.WarnContext(ctx, "reaper sweep failed",
						"session_id", sid,
						"error", err,
					)
				}
			}
		}
	}
}

// load fetches a session, resolves its policy, and applies lazy expiry.
// Returns CodeSessionExpired after moving an over-idle session to Expired.
func (s *Service) load(ctx context.Context, sid id.SessionID) (*Session, Policy, error) {
	session, err := s.store.Get(ctx, sid)
	if err != nil {
		return nil, Policy{}, s.translate(err, "load session")
	}
	pol, err := s.policies.Resolve(session.PolicyName)
	if err != nil {
		return nil, Policy{}, err
	}

	if session.Stage == StageExpired {
		return nil, Policy{}, dErrors.New(dErrors.CodeSessionExpired, "session expired")
	}
	if session.Stage.IsTerminal() {
		return session, pol, nil
	}

	now := requestcontext.Now(ctx)
	if now.Sub(session.LastActivityAt) > pol.SessionIdleTimeout {
		_, err := s.store.Transition(ctx, sid, session.Stage, StageExpired, "idle timeout")
		if errors.Is(err, sentinel.ErrConflict) {
			// Someone else transitioned first; surface their view.
			return s.load(ctx, sid)
		}
		if err != nil {
			return nil, Policy{}, s.translate(err, "expire session")
		}
		s.closeSession(ctx, sid)
		s.metrics.ObserveTransition(string(session.Stage), string(StageExpired))
		s.audit(ctx, audit.Event{
			SessionID: sid,
			Kind:      audit.KindSessionExpired,
			Category:  audit.CategoryOperations,
			Payload:   map[string]string{"idle_timeout": pol.SessionIdleTimeout.String()},
		})
		return nil, Policy{}, dErrors.New(dErrors.CodeSessionExpired, "session expired")
	}
	return session, pol, nil
}

// transition performs a CAS stage move with audit and metrics.
func (s *Service) transition(ctx context.Context, session *Session, from, to Stage, reason string) (*Session, error) {
	updated, err := s.store.Transition(ctx, session.ID, from, to, reason)
	if errors.Is(err, sentinel.ErrConflict) {
		s.audit(ctx, audit.Event{
			SessionID: session.ID,
			Kind:      audit.KindOperationRejected,
			Category:  audit.CategorySecurity,
			Payload: map[string]string{
				"operation":      "transition",
				"expected_stage": string(from),
				"target_stage":   string(to),
			},
		})
		return nil, dErrors.Newf(dErrors.CodeConflict, "stage is no longer %s", from)
	}
	if errors.Is(err, sentinel.ErrInvalidState) {
		return nil, s.reject(ctx, session.ID, dErrors.Newf(dErrors.CodePolicyViolation, "cannot transition %s to %s", from, to))
	}
	if err != nil {
		return nil, s.translate(err, "transition stage")
	}

	s.metrics.ObserveTransition(string(from), string(to))
	if to != StageFailed && to != StageExpired && to != StageCancelled {
		s.audit(ctx, audit.Event{
			SessionID: session.ID,
			Kind:      audit.KindStageAdvanced,
			Category:  audit.CategoryCompliance,
			Payload:   map[string]string{"from": string(from), "to": string(to)},
		})
	}
	if to.IsTerminal() {
		s.closeSession(ctx, session.ID)
	}
	s.logger.InfoContext(ctx, "stage transition",
		"session_id", session.ID,
		"from", from,
		"to", to,
	)
	return updated, nil
}

// ensureVerifying moves a freshly created session into Verifying before its
// first result is recorded. Concurrent first attempts race on the CAS; losers
// adopt the winner's transition.
func (s *Service) ensureVerifying(ctx context.Context, session *Session) (*Session, error) {
	if session.Stage != StageCreated {
		return session, nil
	}
	updated, err := s.store.Transition(ctx, session.ID, StageCreated, StageVerifying, "")
	if errors.Is(err, sentinel.ErrConflict) {
		current, getErr := s.store.Get(ctx, session.ID)
		if getErr != nil {
			return nil, s.translate(getErr, "load session")
		}
		if current.Stage != StageVerifying {
			return nil, dErrors.Newf(dErrors.CodePolicyViolation, "stage %s does not accept channel results", current.Stage)
		}
		return current, nil
	}
	if err != nil {
		return nil, s.translate(err, "start verifying")
	}

	s.metrics.ObserveTransition(string(StageCreated), string(StageVerifying))
	s.audit(ctx, audit.Event{
		SessionID: session.ID,
		Kind:      audit.KindStageAdvanced,
		Category:  audit.CategoryCompliance,
		Payload:   map[string]string{"from": string(StageCreated), "to": string(StageVerifying)},
	})
	return updated, nil
}

func (s *Service) requireConference(ctx context.Context, sid id.SessionID) error {
	if s.gate == nil {
		return dErrors.New(dErrors.CodePolicyViolation, "policy requires a conference but none is configured")
	}
	joined, recording, err := s.gate.Active(ctx, sid)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "conference gate")
	}
	if !joined {
		return dErrors.New(dErrors.CodePolicyViolation, "conference is not active")
	}
	if !recording {
		return dErrors.New(dErrors.CodePolicyViolation, "conference recording is not active")
	}
	return nil
}

// reject audits a refused operation before surfacing the error; no rejection
// is silent.
func (s *Service) reject(ctx context.Context, sid id.SessionID, err error) error {
	s.audit(ctx, audit.Event{
		SessionID: sid,
		Kind:      audit.KindOperationRejected,
		Category:  audit.CategorySecurity,
		Payload:   map[string]string{"error": string(dErrors.CodeOf(err))},
	})
	return err
}

func (s *Service) translate(err error, op string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeSessionExpired, "session expired")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, op)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodePolicyViolation, op)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, op)
	}
}

func (s *Service) audit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed",
			"session_id", event.SessionID,
			"kind", event.Kind,
			"error", err,
		)
	}
}

// closeSession releases everything tied to a session that just went terminal:
// in-flight attempts, device locks, the active-session gauge, and any
// registered cleanup hooks (access code revocation, conference state).
func (s *Service) closeSession(ctx context.Context, sid id.SessionID) {
	s.cancelInflight(sid)
	s.locks.drop(sid)
	s.metrics.SessionClosed()
	for _, fn := range s.cleanups {
		fn(ctx, sid)
	}
}

func (s *Service) trackInflight(sid id.SessionID, cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflightID++
	token := s.inflightID
	if s.inflight[sid] == nil {
		s.inflight[sid] = make(map[uint64]context.CancelFunc)
	}
	s.inflight[sid][token] = cancel
	return token
}

func (s *Service) untrackInflight(sid id.SessionID, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight[sid], token)
	if len(s.inflight[sid]) == 0 {
		delete(s.inflight, sid)
	}
}

func (s *Service) cancelInflight(sid id.SessionID) {
	s.mu.Lock()
	cancels := s.inflight[sid]
	delete(s.inflight, sid)
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
