package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/attempt"
	"github.com/mind-engage/bandcore/internal/auth"
	"github.com/mind-engage/bandcore/internal/catalog"
	"github.com/mind-engage/bandcore/internal/scoring"
)

// Attempts is the lifecycle surface the handlers drive.
type Attempts interface {
	Test(ctx context.Context, slug string) (catalog.Test, error)
	Start(ctx context.Context, callerID string, t catalog.Test, mode attempt.Mode) (attempt.Attempt, bool, error)
	AttemptTest(ctx context.Context, callerID, attemptID string) (attempt.Attempt, catalog.Test, error)
	Autosave(ctx context.Context, p attempt.Progress) (int64, error)
	Submit(ctx context.Context, p attempt.Progress) (attempt.Attempt, error)
	Evaluate(ctx context.Context, ev attempt.Evaluation) (attempt.Attempt, scoring.WritingResult, error)
	Get(ctx context.Context, callerID, attemptID string) (attempt.Attempt, []attempt.Answer, error)
	History(ctx context.Context, callerID string, m scoring.Module, limit, offset int) ([]attempt.Attempt, error)
}

// AttemptHandlers serves one module's attempt routes.
type AttemptHandlers struct {
	svc    Attempts
	gate   Authorizer
	policy ModulePolicy
}

func NewAttemptHandlers(svc Attempts, gate Authorizer, policy ModulePolicy) *AttemptHandlers {
	return &AttemptHandlers{svc: svc, gate: gate, policy: policy}
}

type progressRequest struct {
	AttemptID      string                `json:"attemptId"`
	ElapsedSeconds int                   `json:"elapsedSeconds"`
	Answers        []attempt.AnswerInput `json:"answers"`
}

func (p progressRequest) progress(callerID string) attempt.Progress {
	return attempt.Progress{
		AttemptID:      strings.TrimSpace(p.AttemptID),
		CallerID:       callerID,
		ElapsedSeconds: p.ElapsedSeconds,
		Answers:        p.Answers,
	}
}

// authorize re-resolves entitlement for a test the caller is acting on.
func (h *AttemptHandlers) authorize(r *http.Request, t catalog.Test, mode attempt.Mode, killSwitch bool) error {
	_, err := h.gate.Authorize(r.Context(), auth.CallerFromContext(r.Context()), h.policy.requirement(t, mode, killSwitch))
	return err
}

// owned loads the caller's attempt and checks it belongs to this module.
func (h *AttemptHandlers) owned(r *http.Request, attemptID string) (attempt.Attempt, catalog.Test, error) {
	if attemptID == "" {
		return attempt.Attempt{}, catalog.Test{}, apperr.Validation("attemptId is required")
	}
	a, t, err := h.svc.AttemptTest(r.Context(), auth.CallerFromContext(r.Context()).UserID, attemptID)
	if err != nil {
		return attempt.Attempt{}, catalog.Test{}, err
	}
	if a.Module != h.policy.Module {
		return attempt.Attempt{}, catalog.Test{}, apperr.NotFound("attempt %s not found", attemptID)
	}
	return a, t, nil
}

func (h *AttemptHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TestSlug string `json:"testSlug"`
		Mode     string `json:"mode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := attempt.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, apperr.Validation("%v", err))
		return
	}
	t, err := h.svc.Test(r.Context(), strings.TrimSpace(req.TestSlug))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t.Module != h.policy.Module {
		writeError(w, r, apperr.NotFound("%s test %q not found", h.policy.Module, t.Slug))
		return
	}
	if err := h.authorize(r, t, mode, false); err != nil {
		writeError(w, r, err)
		return
	}

	a, resumed, err := h.svc.Start(r.Context(), auth.CallerFromContext(r.Context()).UserID, t, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"attemptId":        a.ID,
		"durationSeconds":  a.DurationSeconds,
		"remainingSeconds": a.RemainingSeconds,
		"elapsedSeconds":   a.ElapsedSeconds,
		"status":           a.Status,
		"mode":             a.Mode,
		"resumed":          resumed,
		"test":             t.Public(),
	})
}

func (h *AttemptHandlers) Autosave(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, t, err := h.owned(r, strings.TrimSpace(req.AttemptID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorize(r, t, a.Mode, false); err != nil {
		writeError(w, r, err)
		return
	}
	savedAt, err := h.svc.Autosave(r.Context(), req.progress(a.UserID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "savedAt": savedAt})
}

func (h *AttemptHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, t, err := h.owned(r, strings.TrimSpace(req.AttemptID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Entitlement and the kill switch are checked again at submit time.
	if err := h.authorize(r, t, a.Mode, true); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.svc.Submit(r.Context(), req.progress(a.UserID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attemptId":   out.ID,
		"status":      out.Status,
		"rawScore":    out.RawScore,
		"bandScore":   out.BandScore,
		"submittedAt": out.SubmittedAt,
	})
}

func (h *AttemptHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attemptID")
	a, answers, err := h.svc.Get(r.Context(), auth.CallerFromContext(r.Context()).UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if a.Module != h.policy.Module {
		writeError(w, r, apperr.NotFound("attempt %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempt": a, "answers": answers})
}

func (h *AttemptHandlers) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.History(r.Context(), auth.CallerFromContext(r.Context()).UserID, h.policy.Module,
		queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []attempt.Attempt{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Evaluate records staff criteria. The route is wrapped in RequireAccess.
func (h *AttemptHandlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttemptID string            `json:"attemptId"`
		Task1     *scoring.Criteria `json:"task1"`
		Task2     *scoring.Criteria `json:"task2"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.AttemptID) == "" {
		writeError(w, r, apperr.Validation("attemptId is required"))
		return
	}
	if req.Task1 == nil || req.Task2 == nil {
		writeError(w, r, apperr.Validation("task1 and task2 criteria are required"))
		return
	}
	out, res, err := h.svc.Evaluate(r.Context(), attempt.Evaluation{
		AttemptID: strings.TrimSpace(req.AttemptID), Task1: *req.Task1, Task2: *req.Task2,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attemptId":   out.ID,
		"status":      out.Status,
		"rawScore":    out.RawScore,
		"bandScore":   out.BandScore,
		"evaluatedAt": out.EvaluatedAt,
		"task1Band":   res.Task1Band,
		"task2Band":   res.Task2Band,
	})
}
