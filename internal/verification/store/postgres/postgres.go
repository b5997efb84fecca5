// Package postgres persists verification sessions in PostgreSQL. The session
// document lives in a JSONB column; stage and activity timestamps are
// projected into columns so CAS transitions and reaper scans stay in SQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fides/internal/verification"
	id "fides/pkg/domain"
	"fides/pkg/platform/sentinel"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ verification.SessionStore = (*Store)(nil)

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS verification_sessions (
			id            UUID PRIMARY KEY,
			stage         TEXT NOT NULL,
			policy_name   TEXT NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL,
			expires_at    TIMESTAMPTZ NOT NULL,
			data          JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS verification_sessions_idle_idx
			ON verification_sessions (last_activity)
			WHERE stage NOT IN ('completed', 'failed', 'expired', 'cancelled')`)
	return err
}

func (s *Store) Create(ctx context.Context, session *verification.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verification_sessions (id, stage, policy_name, last_activity, expires_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		session.ID.String(), string(session.Stage), session.PolicyName,
		session.LastActivityAt, session.ExpiresAt, data)
	if err != nil {
		return err
	}
	// ON CONFLICT swallows the duplicate; re-check so callers see it.
	var exists string
	if err := s.pool.QueryRow(ctx,
		`SELECT stage FROM verification_sessions WHERE id = $1`, session.ID.String(),
	).Scan(&exists); err != nil {
		return err
	}
	if exists != string(session.Stage) {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sid id.SessionID) (*verification.Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM verification_sessions WHERE id = $1`, sid.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *Store) AppendResult(ctx context.Context, sid id.SessionID, result verification.ChannelResult, claims []verification.IdentityClaim) (*verification.Session, error) {
	var updated *verification.Session
	err := s.withSessionTx(ctx, sid, func(session *verification.Session) error {
		for _, r := range session.Results {
			if r.Channel == result.Channel && r.AttemptNumber == result.AttemptNumber {
				return sentinel.ErrAlreadyRecorded
			}
		}
		session.Results = append(session.Results, result)
		if session.Claims == nil {
			session.Claims = make(map[verification.ClaimField]verification.IdentityClaim, len(claims))
		}
		for _, c := range claims {
			session.Claims[c.Field] = c
		}
		// Scored inside the row lock; the appended result and any
		// concurrently committed siblings are both visible here.
		session.CompositeScore = verification.Score(session.Results)
		touch(session, result.RecordedAt)
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) Transition(ctx context.Context, sid id.SessionID, from, to verification.Stage, reason string) (*verification.Session, error) {
	if !verification.CanTransition(from, to) {
		return nil, sentinel.ErrInvalidState
	}
	var updated *verification.Session
	err := s.withSessionTx(ctx, sid, func(session *verification.Session) error {
		if session.Stage != from {
			return sentinel.ErrConflict
		}
		session.Stage = to
		if to.IsTerminal() && reason != "" {
			session.FailureReason = reason
		}
		touch(session, time.Now())
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) AddSignature(ctx context.Context, sid id.SessionID, sig verification.Signature) (*verification.Session, error) {
	var updated *verification.Session
	err := s.withSessionTx(ctx, sid, func(session *verification.Session) error {
		if session.Stage != verification.StageSigning {
			return sentinel.ErrInvalidState
		}
		if session.Signed(sig.Role) {
			return sentinel.ErrAlreadyRecorded
		}
		session.Signatures = append(session.Signatures, sig)
		touch(session, sig.SignedAt)
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]id.SessionID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM verification_sessions
		WHERE last_activity < $1
		  AND stage NOT IN ('completed', 'failed', 'expired', 'cancelled')`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []id.SessionID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		sid, err := id.ParseSessionID(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt session id %q: %w", raw, err)
		}
		ids = append(ids, sid)
	}
	return ids, rows.Err()
}

// withSessionTx runs mutate under SELECT ... FOR UPDATE so per-session writes
// are linearizable, then writes back the document and projected columns.
func (s *Store) withSessionTx(ctx context.Context, sid id.SessionID, mutate func(*verification.Session) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var data []byte
	err = tx.QueryRow(ctx,
		`SELECT data FROM verification_sessions WHERE id = $1 FOR UPDATE`, sid.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return err
	}
	session, err := decode(data)
	if err != nil {
		return err
	}

	if err := mutate(session); err != nil {
		return err
	}

	encoded, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE verification_sessions
		SET stage = $2, last_activity = $3, expires_at = $4, data = $5
		WHERE id = $1`,
		sid.String(), string(session.Stage), session.LastActivityAt, session.ExpiresAt, encoded,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func decode(data []byte) (*verification.Session, error) {
	var session verification.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func touch(session *verification.Session, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	window := session.ExpiresAt.Sub(session.LastActivityAt)
	session.LastActivityAt = at
	if window > 0 {
		session.ExpiresAt = at.Add(window)
	}
}
