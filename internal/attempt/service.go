package attempt

import (
	"context"
	"strings"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/catalog"
	"github.com/mind-engage/bandcore/internal/notify"
	"github.com/mind-engage/bandcore/internal/scoring"
)

type TestSource interface {
	GetTest(ctx context.Context, slug string) (catalog.Test, error)
}

// Notifier is fire-and-forget: it must not report failures to the caller.
type Notifier interface {
	Fire(ctx context.Context, eventKey, userID, idempotencyKey string, payload any)
}

type Service struct {
	store  Store
	tests  TestSource
	saver  *Autosaver
	notify Notifier
	opts   options
}

func NewService(store Store, tests TestSource, n Notifier, opts ...Option) *Service {
	return &Service{
		store:  store,
		tests:  tests,
		saver:  NewAutosaver(store, tests, opts...),
		notify: n,
		opts:   buildOptions(opts),
	}
}

func (s *Service) Test(ctx context.Context, slug string) (catalog.Test, error) {
	if strings.TrimSpace(slug) == "" {
		return catalog.Test{}, apperr.Validation("testSlug is required")
	}
	return s.tests.GetTest(ctx, slug)
}

// Start creates or resumes the caller's live attempt on t.
func (s *Service) Start(ctx context.Context, callerID string, t catalog.Test, mode Mode) (Attempt, bool, error) {
	if callerID == "" {
		return Attempt{}, false, apperr.Auth("sign in required")
	}
	return s.store.CreateOrResume(ctx, callerID, t, mode)
}

// AttemptTest loads an owned attempt together with its test, for re-checking
// entitlement before a submit.
func (s *Service) AttemptTest(ctx context.Context, callerID, attemptID string) (Attempt, catalog.Test, error) {
	if callerID == "" {
		return Attempt{}, catalog.Test{}, apperr.Auth("sign in required")
	}
	a, err := s.store.Load(ctx, attemptID, callerID)
	if err != nil {
		return Attempt{}, catalog.Test{}, err
	}
	t, err := s.tests.GetTest(ctx, a.TestID)
	if err != nil {
		return Attempt{}, catalog.Test{}, err
	}
	return a, t, nil
}

func (s *Service) Autosave(ctx context.Context, p Progress) (int64, error) {
	return s.saver.Save(ctx, p)
}

// Submit saves the final answers and finalizes the attempt exactly once.
// Objective modules are scored now; writing and speaking stay unscored until
// evaluated.
func (s *Service) Submit(ctx context.Context, p Progress) (Attempt, error) {
	a, t, err := s.saver.check(ctx, p)
	if err != nil {
		return Attempt{}, err
	}
	if p.Answers, err = normalizeAnswers(t, p.Answers, s.opts.maxAnswers); err != nil {
		return Attempt{}, err
	}
	out, err := s.store.Finalize(ctx, p, scorer(t))
	if err != nil {
		return Attempt{}, err
	}
	s.notify.Fire(ctx, notify.EventAttemptSubmitted, a.UserID,
		notify.AttemptKey(notify.EventAttemptSubmitted, a.ID), map[string]any{
			"attemptId":  out.ID,
			"testId":     out.TestID,
			"moduleType": out.Module,
			"mode":       out.Mode,
			"bandScore":  out.BandScore,
		})
	return out, nil
}

func scorer(t catalog.Test) func([]Answer) (Score, error) {
	return func(answers []Answer) (Score, error) {
		if !t.Module.Objective() {
			return Score{}, nil
		}
		byID := make(map[string]scoring.Value, len(answers))
		for _, a := range answers {
			byID[a.QuestionID] = a.Value
		}
		res, err := scoring.ScoreObjective(t.Module, t.Questions, byID)
		if err != nil {
			return Score{}, err
		}
		raw, band := res.RawScore, res.Band
		return Score{RawScore: &raw, BandScore: &band, Correct: res.Correct}, nil
	}
}

type Evaluation struct {
	AttemptID string
	Task1     scoring.Criteria
	Task2     scoring.Criteria
}

// Evaluate records evaluator criteria for a submitted writing attempt.
// Authorization is the caller's concern.
func (s *Service) Evaluate(ctx context.Context, ev Evaluation) (Attempt, scoring.WritingResult, error) {
	a, err := s.store.Get(ctx, ev.AttemptID)
	if err != nil {
		return Attempt{}, scoring.WritingResult{}, err
	}
	if a.Module != scoring.ModuleWriting {
		return Attempt{}, scoring.WritingResult{}, apperr.Validation("only writing attempts are evaluated")
	}
	if a.Status != StatusSubmitted {
		return Attempt{}, scoring.WritingResult{}, apperr.Locked("attempt is %s", a.Status)
	}
	res, err := scoring.ScoreWriting(ev.Task1, ev.Task2)
	if err != nil {
		return Attempt{}, scoring.WritingResult{}, apperr.Validation("%v", err)
	}
	out, err := s.store.MarkEvaluated(ctx, a.ID, res.Weighted, res.Overall)
	if err != nil {
		return Attempt{}, scoring.WritingResult{}, err
	}
	s.notify.Fire(ctx, notify.EventWritingEvaluated, a.UserID,
		notify.AttemptKey(notify.EventWritingEvaluated, a.ID), map[string]any{
			"attemptId": out.ID,
			"bandScore": res.Overall,
			"task1Band": res.Task1Band,
			"task2Band": res.Task2Band,
		})
	return out, res, nil
}

// Get returns an owned attempt with its answers.
func (s *Service) Get(ctx context.Context, callerID, attemptID string) (Attempt, []Answer, error) {
	if callerID == "" {
		return Attempt{}, nil, apperr.Auth("sign in required")
	}
	a, err := s.store.Load(ctx, attemptID, callerID)
	if err != nil {
		return Attempt{}, nil, err
	}
	answers, err := s.store.Answers(ctx, a.ID)
	if err != nil {
		return Attempt{}, nil, err
	}
	if answers == nil {
		answers = []Answer{}
	}
	return a, answers, nil
}

// History lists the caller's attempts for one module, newest first.
func (s *Service) History(ctx context.Context, callerID string, m scoring.Module, limit, offset int) ([]Attempt, error) {
	if callerID == "" {
		return nil, apperr.Auth("sign in required")
	}
	return s.store.List(ctx, ListOpts{UserID: callerID, Module: m, Limit: limit, Offset: offset})
}

// ExpireOverdue is the scheduler entry point.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.store.ExpireOverdue(ctx)
}
