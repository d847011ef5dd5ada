// Package catalog holds test content: metadata plus answer keys.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/entitlement"
	"github.com/mind-engage/bandcore/internal/scoring"
)

type Test struct {
	Slug            string                `json:"slug" yaml:"slug"`
	Title           string                `json:"title" yaml:"title"`
	Module          scoring.Module        `json:"module" yaml:"module"`
	DurationSeconds int                   `json:"durationSeconds" yaml:"duration_seconds"`
	RequiredPlan    entitlement.Plan      `json:"requiredPlan" yaml:"required_plan"`
	Questions       []scoring.QuestionKey `json:"questions" yaml:"questions"`
}

func (t Test) Validate() error {
	if strings.TrimSpace(t.Slug) == "" {
		return errors.New("slug is required")
	}
	if _, err := scoring.ParseModule(string(t.Module)); err != nil {
		return fmt.Errorf("%s: %w", t.Slug, err)
	}
	if t.DurationSeconds <= 0 {
		return fmt.Errorf("%s: duration must be positive", t.Slug)
	}
	if !t.RequiredPlan.Valid() {
		return fmt.Errorf("%s: invalid required plan", t.Slug)
	}
	seen := make(map[string]bool, len(t.Questions))
	for _, q := range t.Questions {
		if q.QuestionID == "" {
			return fmt.Errorf("%s: question without id", t.Slug)
		}
		if seen[q.QuestionID] {
			return fmt.Errorf("%s: duplicate question %s", t.Slug, q.QuestionID)
		}
		seen[q.QuestionID] = true
		if !q.Type.Valid() {
			return fmt.Errorf("%s/%s: unknown question type %q", t.Slug, q.QuestionID, q.Type)
		}
		if q.Type != scoring.Essay && len(q.CorrectAnswers) == 0 {
			return fmt.Errorf("%s/%s: no correct answers", t.Slug, q.QuestionID)
		}
	}
	return nil
}

// Placeholders are the per-task answer rows created with a new attempt.
func (t Test) Placeholders() []string {
	var ids []string
	for _, q := range t.Questions {
		if q.Type == scoring.Essay {
			ids = append(ids, q.QuestionID)
		}
	}
	return ids
}

// PublicQuestion is what a test-taker may see.
type PublicQuestion struct {
	QuestionID string               `json:"questionId"`
	Type       scoring.QuestionType `json:"type"`
	MaxScore   float64              `json:"maxScore"`
}

type PublicTest struct {
	Slug            string           `json:"slug"`
	Title           string           `json:"title"`
	Module          scoring.Module   `json:"module"`
	DurationSeconds int              `json:"durationSeconds"`
	RequiredPlan    entitlement.Plan `json:"requiredPlan"`
	Questions       []PublicQuestion `json:"questions"`
}

// Public strips answer keys.
func (t Test) Public() PublicTest {
	p := PublicTest{
		Slug: t.Slug, Title: t.Title, Module: t.Module,
		DurationSeconds: t.DurationSeconds, RequiredPlan: t.RequiredPlan,
		Questions: make([]PublicQuestion, 0, len(t.Questions)),
	}
	for _, q := range t.Questions {
		p.Questions = append(p.Questions, PublicQuestion{QuestionID: q.QuestionID, Type: q.Type, MaxScore: q.MaxScore})
	}
	return p
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) PutTest(ctx context.Context, t Test) error {
	if err := t.Validate(); err != nil {
		return apperr.Validation("test: %v", err)
	}
	qjson, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tests (slug, title, module, duration_seconds, required_plan, questions_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (slug) DO UPDATE SET
		  title=excluded.title, module=excluded.module, duration_seconds=excluded.duration_seconds,
		  required_plan=excluded.required_plan, questions_json=excluded.questions_json`,
		t.Slug, t.Title, string(t.Module), t.DurationSeconds, t.RequiredPlan.String(), string(qjson), time.Now().UnixMilli())
	return err
}

func (s *Store) GetTest(ctx context.Context, slug string) (Test, error) {
	var t Test
	var module, plan, qjson string
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, title, module, duration_seconds, required_plan, questions_json FROM tests WHERE slug=$1`, slug,
	).Scan(&t.Slug, &t.Title, &module, &t.DurationSeconds, &plan, &qjson)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, apperr.NotFound("test %q not found", slug)
	}
	if err != nil {
		return Test{}, apperr.Internal(err, "load test %s", slug)
	}
	if t.Module, err = scoring.ParseModule(module); err != nil {
		return Test{}, apperr.Internal(err, "test %s", slug)
	}
	if t.RequiredPlan, err = entitlement.ParsePlan(plan); err != nil {
		return Test{}, apperr.Internal(err, "test %s", slug)
	}
	if err := json.Unmarshal([]byte(qjson), &t.Questions); err != nil {
		return Test{}, apperr.Internal(err, "decode questions for %s", slug)
	}
	return t, nil
}

func (s *Store) ListTests(ctx context.Context, module scoring.Module) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug FROM tests WHERE module=$1 ORDER BY slug`, string(module))
	if err != nil {
		return nil, apperr.Internal(err, "list tests")
	}
	var slugs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, apperr.Internal(err, "list tests")
		}
		slugs = append(slugs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "list tests")
	}
	out := make([]Test, 0, len(slugs))
	for _, slug := range slugs {
		t, err := s.GetTest(ctx, slug)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type contentFile struct {
	Tests []Test `yaml:"tests"`
}

// LoadFile parses a YAML content file and validates every test in it.
func LoadFile(path string) ([]Test, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) ([]Test, error) {
	var cf contentFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	for i := range cf.Tests {
		t := &cf.Tests[i]
		for j := range t.Questions {
			if q := &t.Questions[j]; q.MaxScore == 0 && q.Type != scoring.Essay {
				q.MaxScore = 1
			}
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return cf.Tests, nil
}

// Seed upserts every test; it is safe to run on each start.
func (s *Store) Seed(ctx context.Context, tests []Test) error {
	for _, t := range tests {
		if err := s.PutTest(ctx, t); err != nil {
			return fmt.Errorf("seed %s: %w", t.Slug, err)
		}
	}
	return nil
}
