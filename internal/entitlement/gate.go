package entitlement

import (
	"context"

	"github.com/mind-engage/bandcore/internal/apperr"
)

// Caller is the identity established by the auth layer. ClaimRole is the
// unverified role from the token.
type Caller struct {
	UserID    string
	ClaimRole Role
}

// Requirement describes what a route needs.
type Requirement struct {
	Tier       Plan
	StaffOnly  bool   // only roles in the allow set pass, regardless of plan
	AllowRoles []Role // added to the default allow set
	KillSwitch string // flag name; empty means none
}

// Access is what an authorized handler sees.
type Access struct {
	UserID string
	Plan   Plan
	Role   Role
	Flags  map[string]bool
}

type Subscription struct {
	Plan  Plan
	Role  Role
	Found bool
}

// Directory resolves a user's subscription. A missing user is not an error:
// return Found=false.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Subscription, error)
}

type Audience struct {
	UserID string
	Plan   Plan
	Role   Role
}

// FlagResolver reports whether a kill switch is tripped for an audience.
type FlagResolver interface {
	Enabled(ctx context.Context, flag string, aud Audience) (bool, error)
}

type Gate struct {
	dir           Directory
	flags         FlagResolver
	upgradeURL    string
	claimFallback bool
}

type GateOption func(*Gate)

// WithClaimRoleFallback trusts the token role when the directory has no row.
func WithClaimRoleFallback(on bool) GateOption { return func(g *Gate) { g.claimFallback = on } }

func NewGate(dir Directory, flags FlagResolver, upgradeURL string, opts ...GateOption) *Gate {
	g := &Gate{dir: dir, flags: flags, upgradeURL: upgradeURL}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Authorize applies, in order: public tier, identity, role bypass or plan
// rank, then kill switch. Flag resolution errors block the request.
func (g *Gate) Authorize(ctx context.Context, c Caller, req Requirement) (Access, error) {
	if req.Tier == PlanFree && !req.StaffOnly {
		return Access{UserID: c.UserID}, nil
	}
	if c.UserID == "" {
		return Access{}, apperr.Auth("sign in required")
	}

	sub, err := g.dir.Lookup(ctx, c.UserID)
	if err != nil {
		return Access{}, apperr.Internal(err, "lookup subscription")
	}
	role := sub.Role
	if !sub.Found && g.claimFallback {
		role = c.ClaimRole
	}
	acc := Access{UserID: c.UserID, Plan: sub.Plan, Role: role}

	bypass := g.allowed(role, req)
	switch {
	case req.StaffOnly && !bypass:
		return Access{}, apperr.Forbidden("staff only")
	case !bypass && sub.Plan < req.Tier:
		return Access{}, apperr.PlanRequired(req.Tier.String(), sub.Plan.String(), g.upgradeURL)
	}

	if req.KillSwitch != "" && g.flags != nil {
		aud := Audience{UserID: acc.UserID, Plan: acc.Plan, Role: acc.Role}
		on, err := g.flags.Enabled(ctx, req.KillSwitch, aud)
		if err != nil {
			return Access{}, apperr.Unavailable("%s is temporarily unavailable", req.KillSwitch).WithErr(err)
		}
		if on {
			return Access{}, apperr.Unavailable("%s is temporarily unavailable", req.KillSwitch)
		}
		acc.Flags = map[string]bool{req.KillSwitch: false}
	}
	return acc, nil
}

// allowed reports whether role is in the route's allow set: always admin,
// teacher on master-tier routes, plus anything the route lists.
func (g *Gate) allowed(r Role, req Requirement) bool {
	if r == RoleNone {
		return false
	}
	if r == RoleAdmin {
		return true
	}
	if r == RoleTeacher && req.Tier == PlanMaster {
		return true
	}
	for _, a := range req.AllowRoles {
		if a == r {
			return true
		}
	}
	return false
}
