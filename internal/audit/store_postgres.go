package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	id "fides/pkg/domain"
)

// PostgresStore persists the audit trail in PostgreSQL. Rows are insert-only;
// there is no update or delete path by construction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the audit table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          UUID PRIMARY KEY,
			session_id  UUID NOT NULL,
			kind        TEXT NOT NULL,
			category    TEXT NOT NULL,
			payload     JSONB,
			request_id  TEXT,
			actor_id    TEXT,
			client_ip   TEXT,
			client_app  TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS audit_events_session_idx
			ON audit_events (session_id, occurred_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events
			(id, session_id, kind, category, payload, request_id, actor_id, client_ip, client_app, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.SessionID.String(), string(event.Kind), string(event.Category),
		payload, event.RequestID, event.ActorID, event.ClientIP, event.ClientApp, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, kind, category, payload, request_id, actor_id, client_ip, client_app, occurred_at
		FROM audit_events
		WHERE session_id = $1
		ORDER BY occurred_at, id`,
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			sessionRaw string
			payload    []byte
		)
		if err := rows.Scan(&event.ID, &sessionRaw, &event.Kind, &event.Category, &payload,
			&event.RequestID, &event.ActorID, &event.ClientIP, &event.ClientApp, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		sid, err := id.ParseSessionID(sessionRaw)
		if err != nil {
			return nil, fmt.Errorf("scan audit session id: %w", err)
		}
		event.SessionID = sid
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal audit payload: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
