// Package notify enqueues lifecycle notifications at most once per
// idempotency key. Delivery belongs to an external worker.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EventAttemptSubmitted = "attempt_submitted"
	EventWritingEvaluated = "writing_evaluated"
	EventPlanChanged      = "plan_changed"
)

type Event struct {
	ID             string          `json:"id"`
	EventKey       string          `json:"eventKey"`
	UserID         string          `json:"userId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      int64           `json:"createdAt"`
	DispatchedAt   *int64          `json:"dispatchedAt,omitempty"`
}

type Result int

const (
	Enqueued Result = iota + 1
	Duplicate
)

func (r Result) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// DailyKey is eventKey:userId:YYYY-MM-DD in UTC.
func DailyKey(eventKey, userID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", eventKey, userID, at.UTC().Format("2006-01-02"))
}

// AttemptKey scopes an event to a single attempt.
func AttemptKey(eventKey, attemptID string) string {
	return eventKey + ":" + attemptID
}

func (e Event) validate() error {
	if strings.TrimSpace(e.EventKey) == "" {
		return fmt.Errorf("event key is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}
