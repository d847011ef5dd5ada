package http

import (
	"context"
	"net/http"

	"github.com/mind-engage/bandcore/internal/attempt"
	"github.com/mind-engage/bandcore/internal/auth"
	"github.com/mind-engage/bandcore/internal/catalog"
	"github.com/mind-engage/bandcore/internal/entitlement"
	"github.com/mind-engage/bandcore/internal/scoring"
)

type Authorizer interface {
	Authorize(ctx context.Context, c entitlement.Caller, req entitlement.Requirement) (entitlement.Access, error)
}

// RequireAccess gates a route on a fixed requirement and puts the resolved
// access in the request context.
func RequireAccess(g Authorizer, req entitlement.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, err := g.Authorize(r.Context(), auth.CallerFromContext(r.Context()), req)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(entitlement.WithAccess(r.Context(), acc)))
		})
	}
}

// ModulePolicy is the per-module entitlement table.
type ModulePolicy struct {
	Module scoring.Module
	Tier   entitlement.Plan
	// MockTier is the minimum plan for timed mock attempts.
	MockTier entitlement.Plan
}

func DefaultPolicies() []ModulePolicy {
	return []ModulePolicy{
		{Module: scoring.ModuleListening, Tier: entitlement.PlanFree, MockTier: entitlement.PlanStarter},
		{Module: scoring.ModuleReading, Tier: entitlement.PlanFree, MockTier: entitlement.PlanStarter},
		{Module: scoring.ModuleWriting, Tier: entitlement.PlanStarter, MockTier: entitlement.PlanStarter},
	}
}

// KillSwitch names the flag that disables submissions for a module.
func (p ModulePolicy) KillSwitch() string { return string(p.Module) + ".submit" }

// requirement is the effective tier for one test and mode: the highest of
// the module tier, the test's own plan and the mock floor.
func (p ModulePolicy) requirement(t catalog.Test, mode attempt.Mode, killSwitch bool) entitlement.Requirement {
	tier := entitlement.Max(p.Tier, t.RequiredPlan)
	if mode == attempt.ModeMock {
		tier = entitlement.Max(tier, p.MockTier)
	}
	req := entitlement.Requirement{Tier: tier}
	if killSwitch {
		req.KillSwitch = p.KillSwitch()
	}
	return req
}

// EvaluatorRequirement is for staff recording writing evaluations.
var EvaluatorRequirement = entitlement.Requirement{
	Tier:       entitlement.PlanStarter,
	StaffOnly:  true,
	AllowRoles: []entitlement.Role{entitlement.RoleTeacher},
}
