package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/db"
)

func newStore(t *testing.T) (*SQLStore, func() int) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file:notify_"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	count := func() int {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_events`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		return n
	}
	return NewSQLStore(conn), count
}

func TestDuplicateEnqueueStoresOneRow(t *testing.T) {
	store, count := newStore(t)
	tr := NewTrigger(store, zerolog.Nop())
	ctx := context.Background()
	ev := Event{EventKey: EventAttemptSubmitted, UserID: "u1", IdempotencyKey: AttemptKey(EventAttemptSubmitted, "a1")}

	first, err := tr.Enqueue(ctx, ev)
	if err != nil || first != Enqueued {
		t.Fatalf("first enqueue: %v %v", first, err)
	}
	second, err := tr.Enqueue(ctx, ev)
	if err != nil || second != Duplicate {
		t.Fatalf("second enqueue should be a duplicate, got %v %v", second, err)
	}
	if n := count(); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestConcurrentDuplicatesCollapse(t *testing.T) {
	store, count := newStore(t)
	tr := NewTrigger(store, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	enqueued := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Enqueue(ctx, Event{EventKey: "streak", UserID: "u1", IdempotencyKey: "streak:u1:2026-10-14"})
			if err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
			if res == Enqueued {
				mu.Lock()
				enqueued++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if enqueued != 1 || count() != 1 {
		t.Fatalf("enqueued=%d rows=%d", enqueued, count())
	}
}

func TestDerivedDailyKey(t *testing.T) {
	store, _ := newStore(t)
	tr := NewTrigger(store, zerolog.Nop())
	tr.now = func() time.Time { return time.Date(2026, 10, 14, 23, 30, 0, 0, time.FixedZone("x", -3*3600)) }
	ctx := context.Background()

	if _, err := tr.Enqueue(ctx, Event{EventKey: EventPlanChanged, UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	pending, err := store.ListPending(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %v %v", pending, err)
	}
	if got := pending[0].IdempotencyKey; got != "plan_changed:u1:2026-10-15" {
		t.Fatalf("daily key should use the UTC day, got %q", got)
	}
	if string(pending[0].Payload) != "{}" {
		t.Fatalf("empty payload stored as %q", pending[0].Payload)
	}

	if err := store.MarkDispatched(ctx, pending[0].ID, 1); err != nil {
		t.Fatal(err)
	}
	if pending, _ = store.ListPending(ctx, 10); len(pending) != 0 {
		t.Fatalf("dispatched events are no longer pending")
	}
}

func TestEnqueueValidates(t *testing.T) {
	store, _ := newStore(t)
	tr := NewTrigger(store, zerolog.Nop())
	_, err := tr.Enqueue(context.Background(), Event{EventKey: "x"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("missing user should be a validation error, got %v", err)
	}
}

type failingStore struct{ Store }

func (failingStore) Insert(context.Context, Event) (Result, error) {
	return 0, errors.New("disk full")
}

func TestFireSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTrigger(failingStore{}, zerolog.New(&buf))
	tr.Fire(context.Background(), EventAttemptSubmitted, "u1", "k", map[string]string{"attemptId": "a1"})
	if !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("failure should be logged, got %q", buf.String())
	}
}
