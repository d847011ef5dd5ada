package notify

import (
	"context"
	"database/sql"
)

type Store interface {
	Insert(ctx context.Context, e Event) (Result, error)
	ListPending(ctx context.Context, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, id string, at int64) error
}

type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// Insert stores e unless its idempotency key already exists.
func (s *SQLStore) Insert(ctx context.Context, e Event) (Result, error) {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_events (id, event_key, user_id, idempotency_key, payload_json, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		e.ID, e.EventKey, e.UserID, e.IdempotencyKey, payload, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return Duplicate, nil
	}
	return Enqueued, nil
}

// ListPending returns undelivered events, oldest first, for the delivery worker.
func (s *SQLStore) ListPending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_key, user_id, idempotency_key, payload_json, created_at
		   FROM notification_events
		  WHERE dispatched_at IS NULL
		  ORDER BY created_at, id
		  LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.EventKey, &e.UserID, &e.IdempotencyKey, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkDispatched(ctx context.Context, id string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_events SET dispatched_at=$1 WHERE id=$2 AND dispatched_at IS NULL`, at, id)
	return err
}
