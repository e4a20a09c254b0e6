package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/famlink/internal/ir"
)

// orderedPair stores policies with scope_a < scope_b so lookups are
// symmetric.
func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// SetConflictPolicy records the ontology policy between two canonical scopes.
func (q *Queries) SetConflictPolicy(ctx context.Context, scopeA, scopeB, policy string) error {
	if scopeA == "" || scopeB == "" || scopeA == scopeB || strings.TrimSpace(policy) == "" {
		return fmt.Errorf("set conflict policy: two distinct scopes and a policy are required: %w", ErrInvalidInput)
	}
	a, b := orderedPair(scopeA, scopeB)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO conflict_policies (scope_a, scope_b, policy) VALUES (?, ?, ?)
		ON CONFLICT(scope_a, scope_b) DO UPDATE SET policy = excluded.policy
	`, a, b, policy)
	if err != nil {
		return fmt.Errorf("set conflict policy: %w", err)
	}
	return nil
}

// ConflictPolicy returns the policy between two scopes after resolving each
// to its canonical id. Unrecorded pairs are independent.
func (q *Queries) ConflictPolicy(ctx context.Context, scopeA, scopeB string) (string, error) {
	ca, err := q.ResolveCanonicalScope(ctx, scopeA)
	if err != nil {
		return "", err
	}
	cb, err := q.ResolveCanonicalScope(ctx, scopeB)
	if err != nil {
		return "", err
	}
	if ca == cb {
		return ir.PolicyIndependent, nil
	}
	a, b := orderedPair(ca, cb)
	var policy string
	err = q.q.QueryRowContext(ctx, `SELECT policy FROM conflict_policies WHERE scope_a = ? AND scope_b = ?`, a, b).Scan(&policy)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PolicyIndependent, nil
	}
	if err != nil {
		return "", fmt.Errorf("conflict policy: %w", err)
	}
	return policy, nil
}

// SetCalibration records a per-family score offset.
func (q *Queries) SetCalibration(ctx context.Context, scopeID string, offset float64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO calibrations (scope_id, score_offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET score_offset = excluded.score_offset, updated_at = excluded.updated_at
	`, scopeID, offset, formatTime(q.Now()))
	if err != nil {
		return fmt.Errorf("set calibration: %w", err)
	}
	return nil
}

// Calibration returns the score offset for a scope, searching its alias
// closure. A row recorded under the canonical id wins; zero when none.
func (q *Queries) Calibration(ctx context.Context, scopeID string) (float64, error) {
	closure, err := q.ResolveAliasClosure(ctx, scopeID)
	if err != nil {
		return 0, err
	}
	canonical, err := q.ResolveCanonicalScope(ctx, scopeID)
	if err != nil {
		return 0, err
	}
	cond, args := inClosure("scope_id", closure)
	args = append(args, canonical)
	var offset float64
	err = q.q.QueryRowContext(ctx, `
		SELECT score_offset FROM calibrations
		WHERE `+cond+`
		ORDER BY (scope_id = ?) DESC, updated_at DESC
		LIMIT 1
	`, args...).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("calibration: %w", err)
	}
	return offset, nil
}
