// Package redis persists verification sessions in Redis for multi-instance
// deployments: JSON documents with optimistic WATCH/MULTI writes and an
// activity index for the reaper.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fides/internal/verification"
	id "fides/pkg/domain"
	"fides/pkg/platform/sentinel"
)

const (
	keyPrefix   = "fides:session:"
	activityKey = "fides:sessions:activity"

	// retention keeps terminal sessions readable for a day before Redis
	// drops them; the durable trail lives in the audit store.
	retention = 24 * time.Hour

	// txRetries bounds optimistic retry on concurrent same-key writes.
	txRetries = 5
)

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

var _ verification.SessionStore = (*Store)(nil)

func sessionKey(sid id.SessionID) string { return keyPrefix + sid.String() }

func (s *Store) Create(ctx context.Context, session *verification.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), data, retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return s.client.ZAdd(ctx, activityKey, redis.Z{
		Score:  float64(session.LastActivityAt.UnixMilli()),
		Member: session.ID.String(),
	}).Err()
}

func (s *Store) Get(ctx context.Context, sid id.SessionID) (*verification.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *Store) AppendResult(ctx context.Context, sid id.SessionID, result verification.ChannelResult, claims []verification.IdentityClaim) (*verification.Session, error) {
	return s.mutate(ctx, sid, func(session *verification.Session) error {
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
		// Scored inside the WATCH transaction; a concurrent append aborts
		// the MULTI and this recomputes over the fresh read.
		session.CompositeScore = verification.Score(session.Results)
		touch(session, result.RecordedAt)
		return nil
	})
}

func (s *Store) Transition(ctx context.Context, sid id.SessionID, from, to verification.Stage, reason string) (*verification.Session, error) {
	if !verification.CanTransition(from, to) {
		return nil, sentinel.ErrInvalidState
	}
	return s.mutate(ctx, sid, func(session *verification.Session) error {
		if session.Stage != from {
			return sentinel.ErrConflict
		}
		session.Stage = to
		if to.IsTerminal() && reason != "" {
			session.FailureReason = reason
		}
		touch(session, time.Now())
		return nil
	})
}

func (s *Store) AddSignature(ctx context.Context, sid id.SessionID, sig verification.Signature) (*verification.Session, error) {
	return s.mutate(ctx, sid, func(session *verification.Session) error {
		if session.Stage != verification.StageSigning {
			return sentinel.ErrInvalidState
		}
		if session.Signed(sig.Role) {
			return sentinel.ErrAlreadyRecorded
		}
		session.Signatures = append(session.Signatures, sig)
		touch(session, sig.SignedAt)
		return nil
	})
}

func (s *Store) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]id.SessionID, error) {
	members, err := s.client.ZRangeByScore(ctx, activityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}

	var ids []id.SessionID
	for _, member := range members {
		sid, err := id.ParseSessionID(member)
		if err != nil {
			return nil, fmt.Errorf("corrupt session id %q: %w", member, err)
		}
		ids = append(ids, sid)
	}
	return ids, nil
}

// mutate runs an optimistic read-modify-write on one session key. WATCH
// aborts the MULTI when another writer touched the key; aborted transactions
// retry from a fresh read, so domain errors (conflict, already recorded)
// reflect the latest state.
func (s *Store) mutate(ctx context.Context, sid id.SessionID, apply func(*verification.Session) error) (*verification.Session, error) {
	key := sessionKey(sid)
	var updated *verification.Session

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}
		session, err := decode(data)
		if err != nil {
			return err
		}

		if err := apply(session); err != nil {
			return err
		}

		encoded, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, retention)
			if session.Stage.IsTerminal() {
				pipe.ZRem(ctx, activityKey, sid.String())
			} else {
				pipe.ZAdd(ctx, activityKey, redis.Z{
					Score:  float64(session.LastActivityAt.UnixMilli()),
					Member: sid.String(),
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = session
		return nil
	}

	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, sentinel.ErrConflict
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
