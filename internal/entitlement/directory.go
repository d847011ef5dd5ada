package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLDirectory reads the subscriptions table. The role column is the
// authoritative role; the token claim only matters when no row exists.
type SQLDirectory struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db, now: time.Now}
}

func (d *SQLDirectory) Lookup(ctx context.Context, userID string) (Subscription, error) {
	var planS, roleS string
	err := d.db.QueryRowContext(ctx,
		`SELECT plan, role FROM subscriptions WHERE user_id=$1`, userID,
	).Scan(&planS, &roleS)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{Plan: PlanFree}, nil
	}
	if err != nil {
		return Subscription{}, err
	}
	plan, err := ParsePlan(planS)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription %s: %w", userID, err)
	}
	role, err := ParseRole(roleS)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription %s: %w", userID, err)
	}
	return Subscription{Plan: plan, Role: role, Found: true}, nil
}

// UpsertPlan sets a user's plan, keeping any role already granted.
func (d *SQLDirectory) UpsertPlan(ctx context.Context, userID string, p Plan) error {
	if !p.Valid() {
		return fmt.Errorf("invalid plan %d", int(p))
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan, role, updated_at) VALUES ($1,$2,'',$3)
		ON CONFLICT (user_id) DO UPDATE SET plan=excluded.plan, updated_at=excluded.updated_at`,
		userID, p.String(), d.now().UnixMilli())
	return err
}

// Grant sets a user's role, creating a free subscription if needed.
func (d *SQLDirectory) Grant(ctx context.Context, userID string, r Role) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan, role, updated_at) VALUES ($1,'free',$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET role=excluded.role, updated_at=excluded.updated_at`,
		userID, string(r), d.now().UnixMilli())
	return err
}
