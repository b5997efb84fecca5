// Package access issues and verifies the short codes remote signers use to
// join a session. Codes are bcrypt-hashed at rest and expire; a small attempt
// budget blunts brute force on the six digits.
package access

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fides/internal/audit"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/platform/sentinel"
	"fides/pkg/requestcontext"
)

const (
	codeDigits  = 6
	maxAttempts = 5
)

// Record is one issued code, hash only.
type Record struct {
	SessionID id.SessionID
	Hash      []byte
	ExpiresAt time.Time
	Attempts  int
}

// Store persists code records, one per session; issuing again replaces the
// old code.
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, sessionID id.SessionID) (Record, error)
	// IncrementAttempts bumps the counter and returns the new value.
	IncrementAttempts(ctx context.Context, sessionID id.SessionID) (int, error)
	Delete(ctx context.Context, sessionID id.SessionID) error
}

// AuditPublisher is the feature's port to the audit pipeline.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store   Store
	auditor AuditPublisher
	ttl     time.Duration
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func NewService(store Store, ttl time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("access code store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("access code ttl must be positive")
	}
	s := &Service{store: store, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue generates a fresh code for a session. The plaintext is returned once
// for delivery to the signer and never stored.
func (s *Service) Issue(ctx context.Context, sessionID id.SessionID) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash access code: %w", err)
	}

	record := Record{
		SessionID: sessionID,
		Hash:      hash,
		ExpiresAt: requestcontext.Now(ctx).Add(s.ttl),
	}
	if err := s.store.Save(ctx, record); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "save access code")
	}

	s.emit(ctx, sessionID, audit.KindAccessCodeIssued, nil)
	s.logger.InfoContext(ctx, "access code issued", "session_id", sessionID)
	return code, nil
}

// Verify checks a submitted code. Every failure path is audited; a correct
// code after the attempt budget is spent still fails.
func (s *Service) Verify(ctx context.Context, sessionID id.SessionID, code string) error {
	record, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.emit(ctx, sessionID, audit.KindAccessCodeRejected, map[string]string{"reason": "no_code"})
		return dErrors.New(dErrors.CodeUnauthorized, "invalid access code")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load access code")
	}

	if requestcontext.Now(ctx).After(record.ExpiresAt) {
		s.emit(ctx, sessionID, audit.KindAccessCodeRejected, map[string]string{"reason": "expired"})
		return dErrors.New(dErrors.CodeUnauthorized, "access code expired")
	}
	if record.Attempts >= maxAttempts {
		s.emit(ctx, sessionID, audit.KindAccessCodeRejected, map[string]string{"reason": "attempts_exhausted"})
		return dErrors.New(dErrors.CodeUnauthorized, "access code locked")
	}

	attempts, err := s.store.IncrementAttempts(ctx, sessionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "count access attempt")
	}
	if attempts > maxAttempts {
		s.emit(ctx, sessionID, audit.KindAccessCodeRejected, map[string]string{"reason": "attempts_exhausted"})
		return dErrors.New(dErrors.CodeUnauthorized, "access code locked")
	}

	if bcrypt.CompareHashAndPassword(record.Hash, []byte(code)) != nil {
		s.emit(ctx, sessionID, audit.KindAccessCodeRejected, map[string]string{"reason": "mismatch"})
		return dErrors.New(dErrors.CodeUnauthorized, "invalid access code")
	}
	return nil
}

// Revoke drops the code, e.g. when the session reaches a terminal stage.
func (s *Service) Revoke(ctx context.Context, sessionID id.SessionID) error {
	err := s.store.Delete(ctx, sessionID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "revoke access code")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, sessionID id.SessionID, kind audit.Kind, payload map[string]string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		SessionID: sessionID,
		Kind:      kind,
		Category:  audit.CategorySecurity,
		Payload:   payload,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed", "session_id", sessionID, "kind", kind, "error", err)
	}
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
