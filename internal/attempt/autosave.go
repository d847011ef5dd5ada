package attempt

import (
	"context"
	"strings"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/catalog"
)

// Autosaver merges partial answers into a live attempt. It never scores.
type Autosaver struct {
	store Store
	tests TestSource
	opts  options
}

func NewAutosaver(store Store, tests TestSource, opts ...Option) *Autosaver {
	return &Autosaver{store: store, tests: tests, opts: buildOptions(opts)}
}

// Save returns the unix-millisecond save time. A locked or overdue attempt
// is rejected before anything is written.
func (s *Autosaver) Save(ctx context.Context, p Progress) (int64, error) {
	_, t, err := s.check(ctx, p)
	if err != nil {
		return 0, err
	}
	answers, err := normalizeAnswers(t, p.Answers, s.opts.maxAnswers)
	if err != nil {
		return 0, err
	}
	p.Answers = answers
	return s.store.SaveProgress(ctx, p)
}

// check validates the request shape and the attempt's ownership and state.
func (s *Autosaver) check(ctx context.Context, p Progress) (Attempt, catalog.Test, error) {
	if p.CallerID == "" {
		return Attempt{}, catalog.Test{}, apperr.Auth("sign in required")
	}
	if strings.TrimSpace(p.AttemptID) == "" {
		return Attempt{}, catalog.Test{}, apperr.Validation("attemptId is required")
	}
	if p.ElapsedSeconds < 0 {
		return Attempt{}, catalog.Test{}, apperr.Validation("elapsedSeconds must not be negative")
	}
	if len(p.Answers) > s.opts.maxAnswers {
		return Attempt{}, catalog.Test{}, apperr.Validation("too many answers (max %d)", s.opts.maxAnswers)
	}

	a, err := s.store.Load(ctx, p.AttemptID, p.CallerID)
	if err != nil {
		return Attempt{}, catalog.Test{}, err
	}
	if !a.Status.Live() {
		return Attempt{}, catalog.Test{}, apperr.Locked("attempt is %s", a.Status)
	}
	if a.Overdue(s.opts.now(), s.opts.grace) {
		if _, err := s.store.Expire(ctx, a.ID); err != nil {
			return Attempt{}, catalog.Test{}, err
		}
		return Attempt{}, catalog.Test{}, apperr.Locked("time is up for this attempt")
	}
	t, err := s.tests.GetTest(ctx, a.TestID)
	if err != nil {
		return Attempt{}, catalog.Test{}, err
	}
	return a, t, nil
}

// normalizeAnswers rejects unknown question ids and keeps the last value
// sent for each question, in first-seen order.
func normalizeAnswers(t catalog.Test, in []AnswerInput, max int) ([]AnswerInput, error) {
	if len(in) > max {
		return nil, apperr.Validation("too many answers (max %d)", max)
	}
	known := make(map[string]bool, len(t.Questions))
	for _, q := range t.Questions {
		known[q.QuestionID] = true
	}
	idx := make(map[string]int, len(in))
	out := make([]AnswerInput, 0, len(in))
	for _, a := range in {
		qid := strings.TrimSpace(a.QuestionID)
		if qid == "" {
			return nil, apperr.Validation("questionId is required")
		}
		if !known[qid] {
			return nil, apperr.Validation("unknown question %q", qid)
		}
		a.QuestionID = qid
		if i, ok := idx[qid]; ok {
			out[i] = a
			continue
		}
		idx[qid] = len(out)
		out = append(out, a)
	}
	return out, nil
}
