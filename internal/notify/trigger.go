package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mind-engage/bandcore/internal/apperr"
)

type Trigger struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewTrigger(store Store, log zerolog.Logger) *Trigger {
	return &Trigger{store: store, log: log.With().Str("component", "notify").Logger(), now: time.Now}
}

// Enqueue stores the event once. A repeated idempotency key returns
// Duplicate with a nil error. An empty key is derived as a daily key.
func (t *Trigger) Enqueue(ctx context.Context, e Event) (Result, error) {
	if err := e.validate(); err != nil {
		return 0, apperr.Validation("notification: %v", err)
	}
	now := t.now()
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = DailyKey(e.EventKey, e.UserID, now)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = now.UnixMilli()
	}
	res, err := t.store.Insert(ctx, e)
	if err != nil {
		return 0, apperr.Internal(err, "enqueue %s", e.IdempotencyKey)
	}
	return res, nil
}

// Fire enqueues and logs the outcome. It never returns an error: a failed
// notification must not fail the operation that triggered it.
func (t *Trigger) Fire(ctx context.Context, eventKey, userID, idempotencyKey string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		t.log.Error().Err(err).Str("event", eventKey).Msg("marshal notification payload")
		return
	}
	res, err := t.Enqueue(ctx, Event{
		EventKey:       eventKey,
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		Payload:        raw,
	})
	if err != nil {
		t.log.Error().Err(err).Str("event", eventKey).Str("user_id", userID).Msg("enqueue notification")
		return
	}
	t.log.Debug().Str("event", eventKey).Str("key", idempotencyKey).Stringer("result", res).Msg("notification")
}
