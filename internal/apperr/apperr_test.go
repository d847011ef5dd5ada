package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Auth("no session"), http.StatusUnauthorized},
		{Ownership("not yours"), http.StatusForbidden},
		{Forbidden("staff only"), http.StatusForbidden},
		{NotFound("attempt %s", "a1"), http.StatusNotFound},
		{PlanRequired("booster", "starter", "https://x/upgrade"), http.StatusPaymentRequired},
		{Locked("submitted"), http.StatusConflict},
		{Unavailable("off"), http.StatusServiceUnavailable},
		{Internal(errors.New("boom"), "db"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.err.Kind.Status(); got != c.want {
			t.Fatalf("%s: status %d, want %d", c.err.Kind.Code(), got, c.want)
		}
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("submit: %w", Locked("attempt already submitted"))
	if KindOf(err) != KindLocked {
		t.Fatalf("expected locked, got %v", KindOf(err))
	}
	if !Is(err, KindLocked) {
		t.Fatalf("Is should match through wrapping")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("plain errors must be internal")
	}
	if Is(nil, KindInternal) {
		t.Fatalf("nil is never an error kind")
	}
}

func TestPlanRequiredDetails(t *testing.T) {
	e := PlanRequired("booster", "starter", "https://example.test/upgrade")
	if e.Details["requiredPlan"] != "booster" || e.Details["currentPlan"] != "starter" {
		t.Fatalf("unexpected details: %v", e.Details)
	}
	if e.Details["upgradeUrl"] != "https://example.test/upgrade" {
		t.Fatalf("missing upgrade url: %v", e.Details)
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	e := Internal(cause, "load attempt")
	if !errors.Is(e, cause) {
		t.Fatalf("cause should be reachable through Unwrap")
	}
}
