package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/attempt"
	"github.com/mind-engage/bandcore/internal/entitlement"
	"github.com/mind-engage/bandcore/internal/notify"
)

const webhookSecretHeader = "X-Webhook-Secret"

type PlanWriter interface {
	UpsertPlan(ctx context.Context, userID string, p entitlement.Plan) error
}

// PlanChangedHandler takes billing provider callbacks. The shared secret is
// compared in constant time; an unset secret disables the endpoint.
func PlanChangedHandler(secret string, plans PlanWriter, n attempt.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			writeError(w, r, apperr.Unavailable("billing webhook is not configured"))
			return
		}
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeError(w, r, apperr.Auth("invalid webhook secret"))
			return
		}

		var req struct {
			EventID string `json:"eventId"`
			UserID  string `json:"userId"`
			Plan    string `json:"plan"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		userID := strings.TrimSpace(req.UserID)
		if userID == "" {
			writeError(w, r, apperr.Validation("userId is required"))
			return
		}
		plan, err := entitlement.ParsePlan(req.Plan)
		if err != nil {
			writeError(w, r, apperr.Validation("%v", err))
			return
		}
		if err := plans.UpsertPlan(r.Context(), userID, plan); err != nil {
			writeError(w, r, apperr.Internal(err, "update plan"))
			return
		}

		// Provider retries carry the same event id; without one the daily key applies.
		key := ""
		if id := strings.TrimSpace(req.EventID); id != "" {
			key = notify.EventPlanChanged + ":" + id
		}
		n.Fire(r.Context(), notify.EventPlanChanged, userID, key, map[string]any{"plan": plan})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "userId": userID, "plan": plan})
	}
}
