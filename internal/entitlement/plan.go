// Package entitlement decides whether a caller may perform an operation,
// based on subscription plan, role and runtime kill switches.
package entitlement

import (
	"fmt"
	"strings"
)

// Plan is ordered by rank; comparisons use the underlying int.
type Plan int

const (
	PlanFree Plan = iota
	PlanStarter
	PlanBooster
	PlanMaster
)

var planNames = [...]string{"free", "starter", "booster", "master"}

// ParsePlan accepts only the four known plan names. There is no silent
// fallback to free: unknown input is an error for the caller to handle.
func ParsePlan(s string) (Plan, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for i, name := range planNames {
		if n == name {
			return Plan(i), nil
		}
	}
	return 0, fmt.Errorf("unknown plan %q", s)
}

func (p Plan) String() string {
	if p < PlanFree || p > PlanMaster {
		return fmt.Sprintf("plan(%d)", int(p))
	}
	return planNames[p]
}

func (p Plan) Valid() bool { return p >= PlanFree && p <= PlanMaster }

func (p Plan) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid plan %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Plan) UnmarshalText(b []byte) error {
	v, err := ParsePlan(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Max returns the higher-ranked plan.
func Max(a, b Plan) Plan {
	if a > b {
		return a
	}
	return b
}

type Role string

const (
	RoleNone    Role = ""
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
)

// ParseRole maps learner aliases to no role and rejects anything else.
func ParseRole(s string) (Role, error) {
	switch r := strings.ToLower(strings.TrimSpace(s)); r {
	case "", "student", "learner":
		return RoleNone, nil
	case string(RoleAdmin):
		return RoleAdmin, nil
	case string(RoleTeacher):
		return RoleTeacher, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Staff() bool { return r == RoleAdmin || r == RoleTeacher }
