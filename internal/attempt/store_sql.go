package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/catalog"
	"github.com/mind-engage/bandcore/internal/db"
	"github.com/mind-engage/bandcore/internal/scoring"
)

// Store is the sole writer of attempt rows.
type Store interface {
	CreateOrResume(ctx context.Context, userID string, t catalog.Test, mode Mode) (Attempt, bool, error)
	Load(ctx context.Context, attemptID, callerID string) (Attempt, error)
	Get(ctx context.Context, attemptID string) (Attempt, error)
	Answers(ctx context.Context, attemptID string) ([]Answer, error)
	SaveProgress(ctx context.Context, p Progress) (int64, error)
	Finalize(ctx context.Context, p Progress, score func([]Answer) (Score, error)) (Attempt, error)
	MarkEvaluated(ctx context.Context, attemptID string, raw, band float64) (Attempt, error)
	Expire(ctx context.Context, attemptID string) (bool, error)
	ExpireOverdue(ctx context.Context) (int64, error)
	List(ctx context.Context, opts ListOpts) ([]Attempt, error)
}

type SQLStore struct {
	db   *sql.DB
	opts options
}

func NewSQLStore(conn *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: conn, opts: buildOptions(opts)}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const attemptCols = `id, user_id, test_id, module, mode, status, started_at, submitted_at, evaluated_at,
	duration_seconds, remaining_seconds, elapsed_seconds, raw_score, band_score, updated_at`

const liveStatuses = `('created','in_progress')`

type rowScanner interface{ Scan(dest ...any) error }

func scanAttempt(r rowScanner) (Attempt, error) {
	var a Attempt
	var module, mode, status string
	var submitted, evaluated sql.NullInt64
	var raw, band sql.NullFloat64
	if err := r.Scan(&a.ID, &a.UserID, &a.TestID, &module, &mode, &status, &a.StartedAt,
		&submitted, &evaluated, &a.DurationSeconds, &a.RemainingSeconds, &a.ElapsedSeconds,
		&raw, &band, &a.UpdatedAt); err != nil {
		return Attempt{}, err
	}
	a.Module = scoring.Module(module)
	a.Mode = Mode(mode)
	a.Status = Status(status)
	a.SubmittedAt = db.NullMillis(submitted)
	a.EvaluatedAt = db.NullMillis(evaluated)
	if raw.Valid {
		a.RawScore = &raw.Float64
	}
	if band.Valid {
		a.BandScore = &band.Float64
	}
	return a, nil
}

func (s *SQLStore) findLive(ctx context.Context, q querier, userID, testID string, mode Mode) (Attempt, error) {
	return scanAttempt(q.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts
		  WHERE user_id=$1 AND test_id=$2 AND mode=$3 AND status IN `+liveStatuses,
		userID, testID, string(mode)))
}

// CreateOrResume returns the live attempt for (user, test, mode), creating
// one if none exists. The bool reports whether an existing attempt was
// resumed. An overdue mock attempt is expired and replaced.
func (s *SQLStore) CreateOrResume(ctx context.Context, userID string, t catalog.Test, mode Mode) (Attempt, bool, error) {
	now := s.opts.now()
	cur, err := s.findLive(ctx, s.db, userID, t.Slug, mode)
	switch {
	case err == nil && !cur.Overdue(now, s.opts.grace):
		return cur, true, nil
	case err == nil:
		if _, err := s.Expire(ctx, cur.ID); err != nil {
			return Attempt{}, false, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return Attempt{}, false, apperr.Internal(err, "find live attempt")
	}

	ms := now.UnixMilli()
	a := Attempt{
		ID:               uuid.NewString(),
		UserID:           userID,
		TestID:           t.Slug,
		Module:           t.Module,
		Mode:             mode,
		Status:           StatusCreated,
		StartedAt:        ms,
		DurationSeconds:  t.DurationSeconds,
		RemainingSeconds: t.DurationSeconds,
		UpdatedAt:        ms,
	}
	err = db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (id, user_id, test_id, module, mode, status, started_at,
			   duration_seconds, remaining_seconds, elapsed_seconds, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10)`,
			a.ID, a.UserID, a.TestID, string(a.Module), string(a.Mode), string(StatusCreated), ms,
			a.DurationSeconds, a.RemainingSeconds, ms); err != nil {
			return err
		}
		empty, _ := json.Marshal(scoring.Text(""))
		for _, qid := range t.Placeholders() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO answers (attempt_id, question_id, value_json, updated_at) VALUES ($1,$2,$3,$4)`,
				a.ID, qid, string(empty), ms); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status=$1 WHERE id=$2 AND status=$3`,
			string(StatusInProgress), a.ID, string(StatusCreated))
		return err
	})
	if db.IsUniqueViolation(err) {
		// Lost the race to a concurrent start; resume the winner.
		cur, err := s.findLive(ctx, s.db, userID, t.Slug, mode)
		if err != nil {
			return Attempt{}, false, apperr.Internal(err, "resume after conflict")
		}
		return cur, true, nil
	}
	if err != nil {
		return Attempt{}, false, apperr.Internal(err, "create attempt")
	}
	a.Status = StatusInProgress
	return a, false, nil
}

func (s *SQLStore) Get(ctx context.Context, attemptID string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE id=$1`, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, apperr.NotFound("attempt %s not found", attemptID)
	}
	if err != nil {
		return Attempt{}, apperr.Internal(err, "load attempt %s", attemptID)
	}
	return a, nil
}

func (s *SQLStore) Load(ctx context.Context, attemptID, callerID string) (Attempt, error) {
	a, err := s.Get(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != callerID {
		return Attempt{}, apperr.Ownership("attempt belongs to another user")
	}
	return a, nil
}

func (s *SQLStore) Answers(ctx context.Context, attemptID string) ([]Answer, error) {
	out, err := loadAnswers(ctx, s.db, attemptID)
	if err != nil {
		return nil, apperr.Internal(err, "load answers %s", attemptID)
	}
	return out, nil
}

func loadAnswers(ctx context.Context, q querier, attemptID string) ([]Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT question_id, value_json, is_correct, updated_at FROM answers
		  WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		ans := Answer{AttemptID: attemptID}
		var raw string
		var correct sql.NullBool
		if err := rows.Scan(&ans.QuestionID, &raw, &correct, &ans.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &ans.Value); err != nil {
			return nil, fmt.Errorf("answer %s: %w", ans.QuestionID, err)
		}
		if correct.Valid {
			c := correct.Bool
			ans.IsCorrect = &c
		}
		out = append(out, ans)
	}
	return out, rows.Err()
}

// lockProgress is the first statement of every answer-writing transaction.
// It moves elapsed time forward only and fails when the attempt is not live,
// so nothing is written for a locked attempt.
func (s *SQLStore) lockProgress(ctx context.Context, tx *sql.Tx, p Progress, now int64) error {
	const newElapsed = `(CASE WHEN $1 > elapsed_seconds THEN $1 ELSE elapsed_seconds END)`
	res, err := tx.ExecContext(ctx,
		`UPDATE attempts SET
		   elapsed_seconds = `+newElapsed+`,
		   remaining_seconds = CASE WHEN duration_seconds - `+newElapsed+` > 0
		                            THEN duration_seconds - `+newElapsed+` ELSE 0 END,
		   updated_at = $2
		 WHERE id=$3 AND user_id=$4 AND status IN `+liveStatuses,
		p.ElapsedSeconds, now, p.AttemptID, p.CallerID)
	if err != nil {
		return apperr.Internal(err, "update progress")
	}
	if n, err := res.RowsAffected(); err != nil {
		return apperr.Internal(err, "update progress")
	} else if n == 1 {
		return nil
	}

	var owner, status string
	err = tx.QueryRowContext(ctx, `SELECT user_id, status FROM attempts WHERE id=$1`, p.AttemptID).Scan(&owner, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound("attempt %s not found", p.AttemptID)
	case err != nil:
		return apperr.Internal(err, "check attempt")
	case owner != p.CallerID:
		return apperr.Ownership("attempt belongs to another user")
	default:
		return apperr.Locked("attempt is %s", status)
	}
}

func upsertAnswers(ctx context.Context, tx *sql.Tx, attemptID string, answers []AnswerInput, now int64) error {
	for _, in := range answers {
		v, err := json.Marshal(in.Value)
		if err != nil {
			return apperr.Validation("answer %s: %v", in.QuestionID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (attempt_id, question_id, value_json, updated_at) VALUES ($1,$2,$3,$4)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
			attemptID, in.QuestionID, string(v), now); err != nil {
			return apperr.Internal(err, "save answer %s", in.QuestionID)
		}
	}
	return nil
}

// SaveProgress records elapsed time and upserts answers, all or nothing.
func (s *SQLStore) SaveProgress(ctx context.Context, p Progress) (int64, error) {
	now := s.opts.now().UnixMilli()
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if err := s.lockProgress(ctx, tx, p, now); err != nil {
			return err
		}
		return upsertAnswers(ctx, tx, p.AttemptID, p.Answers, now)
	})
	if err != nil {
		return 0, asAppErr(err, "save progress")
	}
	return now, nil
}

// Finalize saves the last answers, scores the full answer set and moves the
// attempt to submitted in one transaction. Only one caller can win; the
// others get a locked error.
func (s *SQLStore) Finalize(ctx context.Context, p Progress, score func([]Answer) (Score, error)) (Attempt, error) {
	now := s.opts.now().UnixMilli()
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if err := s.lockProgress(ctx, tx, p, now); err != nil {
			return err
		}
		if err := upsertAnswers(ctx, tx, p.AttemptID, p.Answers, now); err != nil {
			return err
		}
		answers, err := loadAnswers(ctx, tx, p.AttemptID)
		if err != nil {
			return apperr.Internal(err, "load answers")
		}
		sc, err := score(answers)
		if err != nil {
			return apperr.Internal(err, "score attempt")
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status='submitted', raw_score=$1, band_score=$2, submitted_at=$3, updated_at=$3
			  WHERE id=$4 AND status IN `+liveStatuses,
			nullFloat(sc.RawScore), nullFloat(sc.BandScore), now, p.AttemptID)
		if err != nil {
			return apperr.Internal(err, "finalize")
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return apperr.Locked("attempt already submitted")
		}
		for qid, ok := range sc.Correct {
			if _, err := tx.ExecContext(ctx,
				`UPDATE answers SET is_correct=$1 WHERE attempt_id=$2 AND question_id=$3`,
				ok, p.AttemptID, qid); err != nil {
				return apperr.Internal(err, "mark answer %s", qid)
			}
		}
		return nil
	})
	if err != nil {
		return Attempt{}, asAppErr(err, "finalize")
	}
	return s.Get(ctx, p.AttemptID)
}

// MarkEvaluated moves a submitted attempt to evaluated with its final scores.
func (s *SQLStore) MarkEvaluated(ctx context.Context, attemptID string, raw, band float64) (Attempt, error) {
	now := s.opts.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET status='evaluated', raw_score=$1, band_score=$2, evaluated_at=$3, updated_at=$3
		  WHERE id=$4 AND status='submitted'`,
		raw, band, now, attemptID)
	if err != nil {
		return Attempt{}, apperr.Internal(err, "evaluate")
	}
	if n, _ := res.RowsAffected(); n != 1 {
		a, err := s.Get(ctx, attemptID)
		if err != nil {
			return Attempt{}, err
		}
		return Attempt{}, apperr.Locked("attempt is %s", a.Status)
	}
	return s.Get(ctx, attemptID)
}

// Expire reports whether this call moved the attempt to expired.
func (s *SQLStore) Expire(ctx context.Context, attemptID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET status='expired', updated_at=$1 WHERE id=$2 AND status IN `+liveStatuses,
		s.opts.now().UnixMilli(), attemptID)
	if err != nil {
		return false, apperr.Internal(err, "expire attempt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Internal(err, "expire attempt")
	}
	return n == 1, nil
}

// ExpireOverdue expires every live mock attempt past its deadline.
func (s *SQLStore) ExpireOverdue(ctx context.Context) (int64, error) {
	now := s.opts.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET status='expired', updated_at=$1
		  WHERE mode='mock' AND status IN `+liveStatuses+`
		    AND started_at + duration_seconds * 1000 + $2 < $1`,
		now, s.opts.grace.Milliseconds())
	if err != nil {
		return 0, apperr.Internal(err, "expire overdue")
	}
	return res.RowsAffected()
}

const maxListLimit = 200

func (s *SQLStore) List(ctx context.Context, o ListOpts) ([]Attempt, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if o.UserID != "" {
		add("user_id=$%d", o.UserID)
	}
	if o.Module != "" {
		add("module=$%d", string(o.Module))
	}
	if o.Status != "" {
		add("status=$%d", string(o.Status))
	}
	if o.Limit <= 0 || o.Limit > maxListLimit {
		o.Limit = 50
	}
	if o.Offset < 0 {
		o.Offset = 0
	}

	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, o.Limit, o.Offset)
	q += fmt.Sprintf(` ORDER BY started_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Internal(err, "list attempts")
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scan attempt")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "list attempts")
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// asAppErr keeps taxonomy errors and wraps anything else, such as a commit
// failure, as internal.
func asAppErr(err error, op string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(err, "%s", op)
}

var _ Store = (*SQLStore)(nil)
