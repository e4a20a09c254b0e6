package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
)

// DefaultLockTTL is how long a rule edit lock is honoured without renewal.
const DefaultLockTTL = 30 * time.Minute

const ruleColumns = `rule_id, family_id, ontology_node_id, scope_id, version, status,
	heading_filter_ast, article_concepts, filter_dsl, locked_by, locked_at,
	parent_family_id, parent_rule_id, parent_run_id, scope_mode, created_at, updated_at`

// RuleFilter narrows ListRules. ScopeID is expanded through the alias
// closure.
type RuleFilter struct {
	ScopeID string
	Status  ir.RuleStatus
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) { s.lockTTL = ttl }
}

// SaveRule creates or updates a rule on behalf of editor.
//
// The heading filter is validated and normalized: HeadingFilter is
// re-encoded and FilterDSL re-rendered from it. When only FilterDSL is given
// it is parsed. Every save increments the version and snapshots the rule
// into rule_versions; updates also record an undoable action.
//
// Returns ErrLocked when another editor holds an unexpired lock.
func (s *Store) SaveRule(ctx context.Context, r ir.Rule, editor string) (ir.Rule, error) {
	if err := normalizeRule(&r); err != nil {
		return ir.Rule{}, err
	}

	err := s.WithTx(ctx, func(tx *Tx) error {
		now := tx.Now()
		if r.ID == "" {
			r.ID = tx.NewID()
		}

		existing, err := tx.GetRule(ctx, r.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			r.Version = 1
			r.CreatedAt = now
			r.LockedBy, r.LockedAt = "", nil
		case err != nil:
			return err
		default:
			if s.lockedByOther(existing, editor, now) {
				return fmt.Errorf("save rule %s: held by %s: %w", r.ID, existing.LockedBy, ErrLocked)
			}
			r.Version = existing.Version + 1
			r.CreatedAt = existing.CreatedAt
			r.LockedBy, r.LockedAt = existing.LockedBy, existing.LockedAt
		}
		r.UpdatedAt = now

		scope := r.ScopeID
		if scope == "" {
			scope = r.ScopeKey()
		}
		if r.ScopeID, err = tx.ResolveCanonicalScope(ctx, scope); err != nil {
			return err
		}

		if err := tx.upsertRule(ctx, r); err != nil {
			return err
		}
		if err := tx.snapshotRule(ctx, r); err != nil {
			return err
		}

		if existing.ID == "" {
			return nil
		}
		forward, err := rulePatch(r)
		if err != nil {
			return err
		}
		reverse, err := rulePatch(existing)
		if err != nil {
			return err
		}
		_, err = tx.RecordAction(ctx, []ir.Action{{
			EntityType:   ir.EntityRule,
			EntityID:     r.ID,
			Operation:    ir.OpUpdate,
			ForwardPatch: forward,
			ReversePatch: reverse,
		}})
		return err
	})
	if err != nil {
		return ir.Rule{}, err
	}
	return r, nil
}

func normalizeRule(r *ir.Rule) error {
	r.FamilyID = strings.TrimSpace(r.FamilyID)
	if r.FamilyID == "" {
		return fmt.Errorf("save rule: family_id is required: %w", ErrInvalidInput)
	}
	if r.Status == "" {
		r.Status = ir.RuleDraft
	}
	if !r.Status.Valid() {
		return fmt.Errorf("save rule: unknown status %q: %w", r.Status, ErrInvalidInput)
	}
	if r.ScopeMode == "" {
		r.ScopeMode = ir.ScopeCorpus
	}
	if !r.ScopeMode.Valid() {
		return fmt.Errorf("save rule: unknown scope_mode %q: %w", r.ScopeMode, ErrInvalidInput)
	}
	if r.ScopeMode == ir.ScopeInherited && r.ParentFamilyID == "" {
		return fmt.Errorf("save rule: inherited scope requires parent_family_id: %w", ErrInvalidInput)
	}

	var node filter.Node
	var err error
	switch {
	case len(r.HeadingFilter) > 0:
		node, err = filter.Decode(r.HeadingFilter)
	case r.FilterDSL != "":
		node, err = filter.Parse(r.FilterDSL)
	default:
		return fmt.Errorf("save rule: heading_filter_ast is required: %w", ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("save rule: %w: %w", ErrInvalidInput, err)
	}
	if r.HeadingFilter, err = filter.Encode(node); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	r.FilterDSL = filter.Render(node)
	if r.ArticleConcepts == nil {
		r.ArticleConcepts = []string{}
	}
	return nil
}

func (s *Store) lockedByOther(r ir.Rule, editor string, now time.Time) bool {
	if r.LockedBy == "" || r.LockedBy == editor || r.LockedAt == nil {
		return false
	}
	return now.Sub(*r.LockedAt) < s.lockTTL
}

func (q *Queries) upsertRule(ctx context.Context, r ir.Rule) error {
	concepts, err := marshalJSON(r.ArticleConcepts)
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			family_id = excluded.family_id,
			ontology_node_id = excluded.ontology_node_id,
			scope_id = excluded.scope_id,
			version = excluded.version,
			status = excluded.status,
			heading_filter_ast = excluded.heading_filter_ast,
			article_concepts = excluded.article_concepts,
			filter_dsl = excluded.filter_dsl,
			parent_family_id = excluded.parent_family_id,
			parent_rule_id = excluded.parent_rule_id,
			parent_run_id = excluded.parent_run_id,
			scope_mode = excluded.scope_mode,
			updated_at = excluded.updated_at
	`,
		r.ID, r.FamilyID, r.OntologyNodeID, r.ScopeID, r.Version, string(r.Status),
		string(r.HeadingFilter), concepts, r.FilterDSL, nullString(r.LockedBy), nullTime(r.LockedAt),
		nullString(r.ParentFamilyID), nullString(r.ParentRuleID), nullString(r.ParentRunID),
		string(r.ScopeMode), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (q *Queries) snapshotRule(ctx context.Context, r ir.Rule) error {
	snap, err := marshalJSON(r)
	if err != nil {
		return fmt.Errorf("snapshot rule: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO rule_versions (rule_id, version, snapshot, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(rule_id, version) DO UPDATE SET snapshot = excluded.snapshot, created_at = excluded.created_at
	`, r.ID, r.Version, snap, formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("snapshot rule: %w", err)
	}
	return nil
}

// rulePatch captures the undoable columns of a rule.
func rulePatch(r ir.Rule) (ir.Patch, error) {
	concepts, err := marshalJSON(r.ArticleConcepts)
	if err != nil {
		return nil, err
	}
	return ir.Patch{
		"status":             string(r.Status),
		"heading_filter_ast": string(r.HeadingFilter),
		"filter_dsl":         r.FilterDSL,
		"article_concepts":   concepts,
		"scope_mode":         string(r.ScopeMode),
		"version":            r.Version,
		"updated_at":         formatTime(r.UpdatedAt),
	}, nil
}

// PublishRule saves the rule with status published.
func (s *Store) PublishRule(ctx context.Context, ruleID, editor string) (ir.Rule, error) {
	r, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return ir.Rule{}, err
	}
	r.Status = ir.RulePublished
	return s.SaveRule(ctx, r, editor)
}

// LockRule takes the edit lock for editor. Re-locking by the holder renews
// it; an expired lock held by someone else is taken over.
func (s *Store) LockRule(ctx context.Context, ruleID, editor string) (ir.Rule, error) {
	if editor == "" {
		return ir.Rule{}, fmt.Errorf("lock rule: editor is required: %w", ErrInvalidInput)
	}
	now := s.Now()
	changed, err := s.execChanged(ctx, "lock rule", `
		UPDATE rules SET locked_by = ?, locked_at = ?
		WHERE rule_id = ? AND (locked_by IS NULL OR locked_by = ? OR locked_at IS NULL OR locked_at <= ?)
	`, editor, formatTime(now), ruleID, editor, formatTime(now.Add(-s.lockTTL)))
	if err != nil {
		return ir.Rule{}, err
	}
	r, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return ir.Rule{}, err
	}
	if !changed {
		return ir.Rule{}, fmt.Errorf("lock rule %s: held by %s: %w", ruleID, r.LockedBy, ErrLocked)
	}
	return r, nil
}

// UnlockRule releases editor's lock. force releases any holder's lock.
func (s *Store) UnlockRule(ctx context.Context, ruleID, editor string, force bool) error {
	query := `UPDATE rules SET locked_by = NULL, locked_at = NULL WHERE rule_id = ? AND locked_by = ?`
	args := []any{ruleID, editor}
	if force {
		query = `UPDATE rules SET locked_by = NULL, locked_at = NULL WHERE rule_id = ?`
		args = args[:1]
	}
	changed, err := s.execChanged(ctx, "unlock rule", query, args...)
	if err != nil {
		return err
	}
	if changed {
		return nil
	}
	r, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if r.LockedBy == "" {
		return nil
	}
	return fmt.Errorf("unlock rule %s: held by %s: %w", ruleID, r.LockedBy, ErrLocked)
}

// GetRule returns one rule.
func (q *Queries) GetRule(ctx context.Context, ruleID string) (ir.Rule, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE rule_id = ?`, ruleID)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return r, err
}

// ListRules returns rules ordered by scope then rule id.
func (q *Queries) ListRules(ctx context.Context, f RuleFilter) ([]ir.Rule, error) {
	var where []string
	var args []any
	if f.ScopeID != "" {
		closure, err := q.ResolveAliasClosure(ctx, f.ScopeID)
		if err != nil {
			return nil, err
		}
		cond, cargs := inClosure("scope_id", closure)
		fcond, fargs := inClosure("family_id", closure)
		where = append(where, "("+cond+" OR "+fcond+")")
		args = append(args, cargs...)
		args = append(args, fargs...)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scope_id, rule_id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []ir.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// RuleVersions returns every saved snapshot of a rule, oldest first.
func (q *Queries) RuleVersions(ctx context.Context, ruleID string) ([]ir.Rule, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT snapshot FROM rule_versions WHERE rule_id = ? ORDER BY version ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rule versions: %w", err)
	}
	defer rows.Close()

	versions := []ir.Rule{}
	for rows.Next() {
		var snap string
		if err := rows.Scan(&snap); err != nil {
			return nil, fmt.Errorf("rule versions: %w", err)
		}
		var r ir.Rule
		if err := unmarshalJSON(snap, &r); err != nil {
			return nil, err
		}
		versions = append(versions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule versions: %w", err)
	}
	return versions, nil
}

func scanRule(row rowScanner) (ir.Rule, error) {
	var r ir.Rule
	var status, ast, concepts, scopeMode, created, updated string
	var lockedBy, lockedAt, parentFamily, parentRule, parentRun sql.NullString
	if err := row.Scan(
		&r.ID, &r.FamilyID, &r.OntologyNodeID, &r.ScopeID, &r.Version, &status,
		&ast, &concepts, &r.FilterDSL, &lockedBy, &lockedAt,
		&parentFamily, &parentRule, &parentRun, &scopeMode, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Rule{}, err
		}
		return ir.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.Status = ir.RuleStatus(status)
	r.HeadingFilter = json.RawMessage(ast)
	r.ScopeMode = ir.ScopeMode(scopeMode)
	r.LockedBy = lockedBy.String
	r.ParentFamilyID = parentFamily.String
	r.ParentRuleID = parentRule.String
	r.ParentRunID = parentRun.String
	if err := unmarshalJSON(concepts, &r.ArticleConcepts); err != nil {
		return ir.Rule{}, err
	}
	if r.ArticleConcepts == nil {
		r.ArticleConcepts = []string{}
	}

	var err error
	if r.LockedAt, err = parseNullTime(lockedAt); err != nil {
		return ir.Rule{}, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return ir.Rule{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return ir.Rule{}, err
	}
	return r, nil
}
