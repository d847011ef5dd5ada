package attempt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/catalog"
	"github.com/mind-engage/bandcore/internal/db"
	"github.com/mind-engage/bandcore/internal/notify"
	"github.com/mind-engage/bandcore/internal/scoring"
)

type fired struct {
	eventKey, userID, key string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []fired
}

func (f *fakeNotifier) Fire(_ context.Context, eventKey, userID, key string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fired{eventKey, userID, key})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	store  *SQLStore
	tests  *catalog.Store
	clock  *clock
	notify *fakeNotifier
}

func listeningTest() catalog.Test {
	t := catalog.Test{Slug: "listening-1", Title: "Listening 1", Module: scoring.ModuleListening, DurationSeconds: 1800}
	for i := 1; i <= 20; i++ {
		t.Questions = append(t.Questions, scoring.QuestionKey{
			QuestionID: fmt.Sprintf("q%02d", i), Type: scoring.SingleChoice, CorrectAnswers: []string{"A"}, MaxScore: 1,
		})
	}
	return t
}

func writingTest() catalog.Test {
	return catalog.Test{
		Slug: "writing-1", Title: "Writing 1", Module: scoring.ModuleWriting, DurationSeconds: 3600,
		Questions: []scoring.QuestionKey{
			{QuestionID: "task1", Type: scoring.Essay},
			{QuestionID: "task2", Type: scoring.Essay},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file:attempt_"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	tests := catalog.NewStore(conn)
	if err := tests.Seed(ctx, []catalog.Test{listeningTest(), writingTest()}); err != nil {
		t.Fatal(err)
	}
	c := &clock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	opts := []Option{WithClock(c.now), WithGrace(30 * time.Second)}
	store := NewSQLStore(conn, opts...)
	n := &fakeNotifier{}
	return &fixture{
		svc:    NewService(store, tests, n, opts...),
		store:  store,
		tests:  tests,
		clock:  c,
		notify: n,
	}
}

func (f *fixture) start(t *testing.T, user, slug string, mode Mode) Attempt {
	t.Helper()
	test, err := f.svc.Test(context.Background(), slug)
	if err != nil {
		t.Fatal(err)
	}
	a, _, err := f.svc.Start(context.Background(), user, test, mode)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return a
}

func answersFor(correct int) []AnswerInput {
	var out []AnswerInput
	for i := 1; i <= 20; i++ {
		v := "B"
		if i <= correct {
			v = "a"
		}
		out = append(out, AnswerInput{QuestionID: fmt.Sprintf("q%02d", i), Value: scoring.Text(v)})
	}
	return out
}

func TestStartResumesLiveAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test, _ := f.svc.Test(ctx, "listening-1")

	a1, resumed, err := f.svc.Start(ctx, "u1", test, ModeMock)
	if err != nil || resumed {
		t.Fatalf("first start: resumed=%v err=%v", resumed, err)
	}
	if a1.Status != StatusInProgress || a1.RemainingSeconds != 1800 {
		t.Fatalf("unexpected new attempt %+v", a1)
	}
	a2, resumed, err := f.svc.Start(ctx, "u1", test, ModeMock)
	if err != nil || !resumed || a2.ID != a1.ID {
		t.Fatalf("second start should resume %s, got %s resumed=%v err=%v", a1.ID, a2.ID, resumed, err)
	}
	a3, resumed, _ := f.svc.Start(ctx, "u1", test, ModePractice)
	if resumed || a3.ID == a1.ID {
		t.Fatalf("a different mode is a different attempt")
	}
}

func TestConcurrentStartsShareOneAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test, _ := f.svc.Test(ctx, "listening-1")

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, _, err := f.svc.Start(ctx, "u1", test, ModeMock)
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			ids <- a.ID
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected one live attempt, got %d", len(seen))
	}
}

func TestStartSeedsEssayPlaceholders(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, "u1", "writing-1", ModePractice)
	_, answers, err := f.svc.Get(context.Background(), "u1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 || answers[0].QuestionID != "task1" || answers[0].Value.Text() != "" {
		t.Fatalf("expected empty task placeholders, got %+v", answers)
	}
}

func TestAutosaveLastWriteWinsAndElapsedNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModePractice)

	_, err := f.svc.Autosave(ctx, Progress{AttemptID: a.ID, CallerID: "u1", ElapsedSeconds: 300, Answers: []AnswerInput{
		{QuestionID: "q01", Value: scoring.Text("B")},
		{QuestionID: "q01", Value: scoring.Text("A")},
		{QuestionID: "q02", Value: scoring.Text("C")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Autosave(ctx, Progress{AttemptID: a.ID, CallerID: "u1", ElapsedSeconds: 120, Answers: []AnswerInput{
		{QuestionID: "q02", Value: scoring.Text("D")},
	}}); err != nil {
		t.Fatal(err)
	}

	got, answers, err := f.svc.Get(ctx, "u1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ElapsedSeconds != 300 || got.RemainingSeconds != 1500 {
		t.Fatalf("elapsed should stay at 300, got elapsed=%d remaining=%d", got.ElapsedSeconds, got.RemainingSeconds)
	}
	vals := map[string]string{}
	for _, an := range answers {
		vals[an.QuestionID] = an.Value.Text()
		if an.IsCorrect != nil {
			t.Fatalf("autosave must not grade, %s has isCorrect", an.QuestionID)
		}
	}
	if vals["q01"] != "A" || vals["q02"] != "D" {
		t.Fatalf("last write should win: %v", vals)
	}
	if got.RawScore != nil || got.BandScore != nil {
		t.Fatalf("scores must be null before submit")
	}
}

func TestAutosaveRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModePractice)

	cases := []Progress{
		{AttemptID: "", CallerID: "u1"},
		{AttemptID: a.ID, CallerID: "u1", ElapsedSeconds: -1},
		{AttemptID: a.ID, CallerID: "u1", Answers: []AnswerInput{{QuestionID: "zz", Value: scoring.Text("A")}}},
		{AttemptID: a.ID, CallerID: "u1", Answers: []AnswerInput{{QuestionID: " ", Value: scoring.Text("A")}}},
	}
	for i, p := range cases {
		if _, err := f.svc.Autosave(ctx, p); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := f.svc.Autosave(ctx, Progress{AttemptID: a.ID}); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("anonymous autosave: %v", err)
	}
}

func TestOwnershipAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModePractice)

	if _, _, err := f.svc.Get(ctx, "u2", a.ID); !apperr.Is(err, apperr.KindOwnership) {
		t.Fatalf("other user read: %v", err)
	}
	if _, err := f.svc.Autosave(ctx, Progress{AttemptID: a.ID, CallerID: "u2"}); !apperr.Is(err, apperr.KindOwnership) {
		t.Fatalf("other user autosave: %v", err)
	}
	if _, _, err := f.svc.Get(ctx, "u1", "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing attempt: %v", err)
	}
	if _, err := f.store.SaveProgress(ctx, Progress{AttemptID: a.ID, CallerID: "u2"}); !apperr.Is(err, apperr.KindOwnership) {
		t.Fatalf("store guard must check the owner too: %v", err)
	}
}

func TestSubmitScoresObjectiveModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModeMock)

	out, err := f.svc.Submit(ctx, Progress{AttemptID: a.ID, CallerID: "u1", ElapsedSeconds: 1700, Answers: answersFor(16)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusSubmitted || out.SubmittedAt == nil {
		t.Fatalf("unexpected status %+v", out)
	}
	if out.RawScore == nil || *out.RawScore != 16 || out.BandScore == nil || *out.BandScore != 7.5 {
		t.Fatalf("16/20 should be band 7.5, got raw=%v band=%v", out.RawScore, out.BandScore)
	}

	_, answers, _ := f.svc.Get(ctx, "u1", a.ID)
	for _, an := range answers {
		if an.IsCorrect == nil {
			t.Fatalf("answer %s not graded", an.QuestionID)
		}
		if want := an.QuestionID <= "q16"; *an.IsCorrect != want {
			t.Fatalf("answer %s graded %v", an.QuestionID, *an.IsCorrect)
		}
	}
	if f.notify.count() != 1 || f.notify.events[0].key != notify.AttemptKey(notify.EventAttemptSubmitted, a.ID) {
		t.Fatalf("expected one attempt_submitted event, got %+v", f.notify.events)
	}
}

func TestConcurrentSubmitIsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModeMock)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, locked := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each caller sends a different answer set; only the winner's counts.
			_, err := f.svc.Submit(ctx, Progress{AttemptID: a.ID, CallerID: "u1", ElapsedSeconds: 100 + i, Answers: answersFor(i * 2)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.Is(err, apperr.KindLocked):
				locked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || locked != n-1 {
		t.Fatalf("wins=%d locked=%d", wins, locked)
	}

	final, answers, err := f.svc.Get(ctx, "u1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	correct := 0
	for _, an := range answers {
		if an.IsCorrect != nil && *an.IsCorrect {
			correct++
		}
	}
	band, _ := scoring.Band(scoring.ModuleListening, float64(correct), 20)
	if final.RawScore == nil || *final.RawScore != float64(correct) || *final.BandScore != band {
		t.Fatalf("stored score does not match stored answers: raw=%v band=%v correct=%d", final.RawScore, final.BandScore, correct)
	}
	if f.notify.count() != 1 {
		t.Fatalf("losers must not notify, got %d events", f.notify.count())
	}
}

func TestAutosaveAfterSubmitIsLockedAndChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModePractice)
	if _, err := f.svc.Submit(ctx, Progress{AttemptID: a.ID, CallerID: "u1", Answers: answersFor(20)}); err != nil {
		t.Fatal(err)
	}
	_, before, _ := f.svc.Get(ctx, "u1", a.ID)

	_, err := f.svc.Autosave(ctx, Progress{AttemptID: a.ID, CallerID: "u1", ElapsedSeconds: 5, Answers: answersFor(0)})
	if !apperr.Is(err, apperr.KindLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	// Bypass the service pre-check: the store guard alone must refuse.
	if _, err := f.store.SaveProgress(ctx, Progress{AttemptID: a.ID, CallerID: "u1", Answers: answersFor(0)}); !apperr.Is(err, apperr.KindLocked) {
		t.Fatalf("store guard: %v", err)
	}
	_, after, _ := f.svc.Get(ctx, "u1", a.ID)
	for i := range before {
		if before[i].Value.Text() != after[i].Value.Text() || before[i].UpdatedAt != after[i].UpdatedAt {
			t.Fatalf("answer %s changed after submit", before[i].QuestionID)
		}
	}
	if _, err := f.svc.Submit(ctx, Progress{AttemptID: a.ID, CallerID: "u1"}); !apperr.Is(err, apperr.KindLocked) {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestWritingScoresStayNullUntilEvaluated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "writing-1", ModePractice)

	out, err := f.svc.Submit(ctx, Progress{AttemptID: a.ID, CallerID: "u1", Answers: []AnswerInput{
		{QuestionID: "task1", Value: scoring.Text("The chart shows...")},
		{QuestionID: "task2", Value: scoring.Text("Some people believe...")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if out.RawScore != nil || out.BandScore != nil {
		t.Fatalf("writing must not be auto-scored: %+v", out)
	}

	six := scoring.Criteria{TaskResponse: 6, CoherenceCohesion: 6, LexicalResource: 6, GrammaticalRange: 6}
	seven := scoring.Criteria{TaskResponse: 7, CoherenceCohesion: 7, LexicalResource: 7, GrammaticalRange: 7}
	ev, res, err := f.svc.Evaluate(ctx, Evaluation{AttemptID: a.ID, Task1: six, Task2: seven})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != StatusEvaluated || ev.EvaluatedAt == nil || *ev.BandScore != 7.0 || res.Overall != 7.0 {
		t.Fatalf("unexpected evaluation %+v %+v", ev, res)
	}
	if _, _, err := f.svc.Evaluate(ctx, Evaluation{AttemptID: a.ID, Task1: six, Task2: seven}); !apperr.Is(err, apperr.KindLocked) {
		t.Fatalf("second evaluation must be locked: %v", err)
	}
	if f.notify.count() != 2 {
		t.Fatalf("expected submit + evaluated events, got %+v", f.notify.events)
	}
}

func TestEvaluateRejectsLiveAndObjectiveAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.start(t, "u1", "writing-1", ModePractice)
	if _, _, err := f.svc.Evaluate(ctx, Evaluation{AttemptID: w.ID}); !apperr.Is(err, apperr.KindLocked) {
		t.Fatalf("live writing attempt: %v", err)
	}
	l := f.start(t, "u1", "listening-1", ModePractice)
	if _, _, err := f.svc.Evaluate(ctx, Evaluation{AttemptID: l.ID}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("listening attempt: %v", err)
	}
}

func TestMockAttemptExpiresAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mock := f.start(t, "u1", "listening-1", ModeMock)
	practice := f.start(t, "u1", "listening-1", ModePractice)

	f.clock.advance(1800*time.Second + 20*time.Second)
	if _, err := f.svc.Autosave(ctx, Progress{AttemptID: mock.ID, CallerID: "u1", ElapsedSeconds: 1810}); err != nil {
		t.Fatalf("inside the grace window: %v", err)
	}

	f.clock.advance(time.Minute)
	if _, err := f.svc.Autosave(ctx, Progress{AttemptID: mock.ID, CallerID: "u1"}); !apperr.Is(err, apperr.KindLocked) {
		t.Fatalf("expected locked after deadline, got %v", err)
	}
	got, _, _ := f.svc.Get(ctx, "u1", mock.ID)
	if got.Status != StatusExpired {
		t.Fatalf("overdue mock should be expired, got %s", got.Status)
	}
	if _, err := f.svc.Autosave(ctx, Progress{AttemptID: practice.ID, CallerID: "u1"}); err != nil {
		t.Fatalf("practice attempts do not expire: %v", err)
	}

	restarted := f.start(t, "u1", "listening-1", ModeMock)
	if restarted.ID == mock.ID {
		t.Fatalf("an expired attempt is never resumed")
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "u1", "listening-1", ModeMock)
	f.start(t, "u2", "listening-1", ModePractice)

	if n, err := f.svc.ExpireOverdue(ctx); err != nil || n != 0 {
		t.Fatalf("nothing is overdue yet: %d %v", n, err)
	}
	f.clock.advance(2 * time.Hour)
	n, err := f.svc.ExpireOverdue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d %v", n, err)
	}
	got, _ := f.store.Get(ctx, a.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status %s", got.Status)
	}
	if ok, _ := f.store.Expire(ctx, a.ID); ok {
		t.Fatalf("expired is terminal")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "u1", "listening-1", ModePractice)
	f.clock.advance(time.Second)
	f.start(t, "u1", "listening-1", ModeMock)
	f.start(t, "u1", "writing-1", ModePractice)
	f.start(t, "u2", "listening-1", ModePractice)

	list, err := f.svc.History(ctx, "u1", scoring.ModuleListening, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Mode != ModeMock {
		t.Fatalf("expected 2 listening attempts newest first, got %+v", list)
	}
	page, _ := f.svc.History(ctx, "u1", scoring.ModuleListening, 1, 1)
	if len(page) != 1 || page[0].Mode != ModePractice {
		t.Fatalf("pagination: %+v", page)
	}
}
