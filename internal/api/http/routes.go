package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/bandcore/internal/attempt"
	"github.com/mind-engage/bandcore/internal/auth"
	"github.com/mind-engage/bandcore/internal/scoring"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps is everything the HTTP surface needs. Login is mounted only when
// Login is set.
type Deps struct {
	Attempts      Attempts
	Gate          Authorizer
	Policies      []ModulePolicy
	Tokens        *auth.AuthService
	Login         Authenticator
	Plans         PlanWriter
	Notifier      attempt.Notifier
	WebhookSecret string
	DB            Pinger
}

// Mount registers the API on r. Identity middleware is expected upstream.
func Mount(r chi.Router, d Deps) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	if d.Login != nil {
		r.Post("/auth/login", LoginHandler(d.Login, d.Tokens))
	}
	r.Post("/billing/plan-changed", PlanChangedHandler(d.WebhookSecret, d.Plans, d.Notifier))

	policies := d.Policies
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	for _, p := range policies {
		h := NewAttemptHandlers(d.Attempts, d.Gate, p)
		r.Route("/api/"+string(p.Module), func(mr chi.Router) {
			mr.Post("/attempts/start", h.Start)
			mr.Post("/attempts/autosave", h.Autosave)
			mr.Post("/attempts/submit", h.Submit)
			mr.Get("/attempts", h.List)
			mr.Get("/attempts/{attemptID}", h.Get)
			if p.Module == scoring.ModuleWriting {
				mr.With(RequireAccess(d.Gate, EvaluatorRequirement)).
					Post("/attempts/evaluate", h.Evaluate)
			}
		})
	}
}
