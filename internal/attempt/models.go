// Package attempt runs the exam attempt lifecycle: create or resume,
// autosave, submit with exactly-once finalization, evaluation and expiry.
package attempt

import (
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/bandcore/internal/scoring"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusEvaluated  Status = "evaluated"
	StatusExpired    Status = "expired"
)

// Live attempts still accept answers.
func (s Status) Live() bool { return s == StatusCreated || s == StatusInProgress }

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusCreated, StatusInProgress, StatusSubmitted, StatusEvaluated, StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

type Mode string

const (
	ModePractice Mode = "practice"
	ModeMock     Mode = "mock"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePractice, ModeMock:
		return m, nil
	case "":
		return ModePractice, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Attempt timestamps are unix milliseconds.
type Attempt struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	TestID           string         `json:"testId"`
	Module           scoring.Module `json:"moduleType"`
	Mode             Mode           `json:"mode"`
	Status           Status         `json:"status"`
	StartedAt        int64          `json:"startedAt"`
	SubmittedAt      *int64         `json:"submittedAt"`
	EvaluatedAt      *int64         `json:"evaluatedAt"`
	DurationSeconds  int            `json:"durationSeconds"`
	RemainingSeconds int            `json:"remainingSeconds"`
	ElapsedSeconds   int            `json:"elapsedSeconds"`
	RawScore         *float64       `json:"rawScore"`
	BandScore        *float64       `json:"bandScore"`
	UpdatedAt        int64          `json:"updatedAt"`
}

// Deadline is the last instant a mock attempt may be saved or submitted.
// Practice attempts have no deadline.
func (a Attempt) Deadline(grace time.Duration) (int64, bool) {
	if a.Mode != ModeMock {
		return 0, false
	}
	return a.StartedAt + int64(a.DurationSeconds)*1000 + grace.Milliseconds(), true
}

func (a Attempt) Overdue(now time.Time, grace time.Duration) bool {
	d, ok := a.Deadline(grace)
	return ok && a.Status.Live() && now.UnixMilli() > d
}

type Answer struct {
	AttemptID  string        `json:"attemptId"`
	QuestionID string        `json:"questionId"`
	Value      scoring.Value `json:"value"`
	IsCorrect  *bool         `json:"isCorrect"`
	UpdatedAt  int64         `json:"updatedAt"`
}

type AnswerInput struct {
	QuestionID string        `json:"questionId"`
	Value      scoring.Value `json:"value"`
}

// Score is what finalize persists. Nil scores stay null until evaluation.
type Score struct {
	RawScore  *float64
	BandScore *float64
	Correct   map[string]bool
}

// Progress is one autosave or the save half of a submit.
type Progress struct {
	AttemptID      string
	CallerID       string
	ElapsedSeconds int
	Answers        []AnswerInput
}

type ListOpts struct {
	UserID string
	Module scoring.Module
	Status Status
	Limit  int
	Offset int
}

type options struct {
	now        func() time.Time
	grace      time.Duration
	maxAnswers int
}

type Option func(*options)

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithGrace extends mock deadlines to absorb network latency on the final save.
func WithGrace(d time.Duration) Option { return func(o *options) { o.grace = d } }

func WithMaxAnswers(n int) Option { return func(o *options) { o.maxAnswers = n } }

func buildOptions(opts []Option) options {
	o := options{now: time.Now, grace: time.Minute, maxAnswers: 500}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
