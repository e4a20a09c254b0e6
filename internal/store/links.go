package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/famlink/internal/ir"
)

const linkColumns = `link_id, scope_id, doc_id, section_number, clause_id, clause_key, clause_text,
	span_start, span_end, confidence, confidence_tier, status, rule_id, rule_version, run_id,
	lineage, unlinked_at, unlinked_reason, unlinked_note, created_at, updated_at`

// GetLink returns one link.
func (q *Queries) GetLink(ctx context.Context, linkID string) (ir.Link, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE link_id = ?`, linkID)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Link{}, fmt.Errorf("link %s: %w", linkID, ErrNotFound)
	}
	return l, err
}

// ListLinks returns links ordered by target key then scope. ScopeID is
// expanded through the alias closure.
func (q *Queries) ListLinks(ctx context.Context, f ir.LinkFilter) ([]ir.Link, error) {
	var where []string
	var args []any
	if f.ScopeID != "" {
		closure, err := q.ResolveAliasClosure(ctx, f.ScopeID)
		if err != nil {
			return nil, err
		}
		cond, cargs := inClosure("scope_id", closure)
		where = append(where, cond)
		args = append(args, cargs...)
	}
	if f.DocID != "" {
		where = append(where, "doc_id = ?")
		args = append(args, f.DocID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		cond, sargs := inClosure("status", statuses)
		where = append(where, cond)
		args = append(args, sargs...)
	}

	query := `SELECT ` + linkColumns + ` FROM links`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY doc_id, section_number, clause_key, scope_id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	links := []ir.Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

// FindLink returns the link at key held by any scope in scopes, preferring
// the row under preferred. Returns nil when none exists.
func (q *Queries) FindLink(ctx context.Context, scopes []string, preferred string, key ir.TargetKey) (*ir.Link, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	cond, args := inClosure("scope_id", scopes)
	args = append(args, key.DocID, key.SectionNumber, key.ClauseKey, preferred)
	row := q.q.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE `+cond+` AND doc_id = ? AND section_number = ? AND clause_key = ?
		ORDER BY (scope_id = ?) DESC, created_at ASC, link_id ASC
		LIMIT 1
	`, args...)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// InsertLink inserts a new link row. Returns ErrConflict when the
// uniqueness key is already taken.
func (q *Queries) InsertLink(ctx context.Context, l ir.Link) error {
	lineage, err := marshalJSON(l.Lineage)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID, l.ScopeID, l.DocID, l.SectionNumber, l.ClauseID, l.ClauseKey, l.ClauseText,
		l.SpanStart, l.SpanEnd, l.Confidence, string(l.Tier), string(l.Status), l.RuleID, l.RuleVersion, l.RunID,
		lineage, nullTime(l.UnlinkedAt), nullString(l.UnlinkedReason), nullString(l.UnlinkedNote),
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert link %s: %w", l.Key(), ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// PatchLink writes the patchable columns in p to one link.
func (q *Queries) PatchLink(ctx context.Context, linkID string, p ir.Patch) error {
	err := q.applyPatch(ctx, ir.EntityLink, linkID, p)
	if isUniqueViolation(err) {
		return fmt.Errorf("patch link %s: %w", linkID, ErrConflict)
	}
	return err
}

// LinkPatch captures every patchable column of l. Used for both forward and
// reverse patches so an undo/redo pair restores the row exactly.
func LinkPatch(l ir.Link) (ir.Patch, error) {
	lineage, err := marshalJSON(l.Lineage)
	if err != nil {
		return nil, err
	}
	return ir.Patch{
		"status":          string(l.Status),
		"scope_id":        l.ScopeID,
		"confidence":      l.Confidence,
		"confidence_tier": string(l.Tier),
		"clause_text":     l.ClauseText,
		"span_start":      l.SpanStart,
		"span_end":        l.SpanEnd,
		"rule_id":         l.RuleID,
		"rule_version":    l.RuleVersion,
		"run_id":          l.RunID,
		"lineage":         lineage,
		"unlinked_at":     nullTime(l.UnlinkedAt),
		"unlinked_reason": nullString(l.UnlinkedReason),
		"unlinked_note":   nullString(l.UnlinkedNote),
		"updated_at":      formatTime(l.UpdatedAt),
	}, nil
}

// linkTransition is one explicit status transition.
type linkTransition struct {
	op      ir.Operation
	event   ir.EventType
	mutate  func(l *ir.Link, now time.Time) error
	payload func(before, after ir.Link) map[string]any
}

func unlinkTransition(reason, note string) linkTransition {
	return linkTransition{
		op:    ir.OpUnlink,
		event: ir.EventUnlink,
		mutate: func(l *ir.Link, now time.Time) error {
			if l.Status == ir.LinkUnlinked {
				return fmt.Errorf("unlink %s: already unlinked: %w", l.ID, ErrConflict)
			}
			l.Status = ir.LinkUnlinked
			l.UnlinkedAt = &now
			l.UnlinkedReason = reason
			l.UnlinkedNote = note
			return nil
		},
		payload: func(before, _ ir.Link) map[string]any {
			return map[string]any{"reason": reason, "note": note, "previous_status": string(before.Status)}
		},
	}
}

func relinkTransition() linkTransition {
	return linkTransition{
		op:    ir.OpRelink,
		event: ir.EventRelink,
		mutate: func(l *ir.Link, _ time.Time) error {
			if l.Status != ir.LinkUnlinked {
				return fmt.Errorf("relink %s: status is %s: %w", l.ID, l.Status, ErrConflict)
			}
			l.Status = ir.LinkActive
			l.UnlinkedAt = nil
			l.UnlinkedReason = ""
			l.UnlinkedNote = ""
			return nil
		},
		payload: func(before, _ ir.Link) map[string]any {
			return map[string]any{"previous_reason": before.UnlinkedReason}
		},
	}
}

func reassignTransition(canonical string) linkTransition {
	return linkTransition{
		op:    ir.OpReassign,
		event: ir.EventReassign,
		mutate: func(l *ir.Link, _ time.Time) error {
			if l.ScopeID == canonical {
				return fmt.Errorf("reassign %s: already in scope %s: %w", l.ID, canonical, ErrInvalidInput)
			}
			l.ScopeID = canonical
			return nil
		},
		payload: func(before, after ir.Link) map[string]any {
			return map[string]any{"from_scope": before.ScopeID, "to_scope": after.ScopeID}
		},
	}
}

func (tx *Tx) transitionLink(ctx context.Context, linkID string, t linkTransition) (ir.Action, ir.Link, error) {
	before, err := tx.GetLink(ctx, linkID)
	if err != nil {
		return ir.Action{}, ir.Link{}, err
	}
	now := tx.Now()
	after := before
	if err := t.mutate(&after, now); err != nil {
		return ir.Action{}, ir.Link{}, err
	}
	after.UpdatedAt = now

	forward, err := LinkPatch(after)
	if err != nil {
		return ir.Action{}, ir.Link{}, err
	}
	reverse, err := LinkPatch(before)
	if err != nil {
		return ir.Action{}, ir.Link{}, err
	}
	if err := tx.PatchLink(ctx, linkID, forward); err != nil {
		return ir.Action{}, ir.Link{}, err
	}
	if err := tx.InsertEvent(ctx, ir.EntityLink, linkID, t.event, t.payload(before, after)); err != nil {
		return ir.Action{}, ir.Link{}, err
	}
	return ir.Action{
		EntityType:   ir.EntityLink,
		EntityID:     linkID,
		Operation:    t.op,
		ForwardPatch: forward,
		ReversePatch: reverse,
	}, after, nil
}

// transitionOne applies t to a single link and logs the Event.
func (s *Store) transitionOne(ctx context.Context, linkID string, t linkTransition) (ir.Link, error) {
	var out ir.Link
	err := s.WithTx(ctx, func(tx *Tx) error {
		_, l, err := tx.transitionLink(ctx, linkID, t)
		out = l
		return err
	})
	if err != nil {
		return ir.Link{}, err
	}
	return out, nil
}

// transitionBatch applies t to every link in one transaction, logging an
// Event per link and one undoable action batch.
func (s *Store) transitionBatch(ctx context.Context, linkIDs []string, t linkTransition) (string, []ir.Link, error) {
	if len(linkIDs) == 0 {
		return "", nil, fmt.Errorf("%s batch: no link ids: %w", t.op, ErrInvalidInput)
	}
	var batchID string
	links := make([]ir.Link, 0, len(linkIDs))
	err := s.WithTx(ctx, func(tx *Tx) error {
		actions := make([]ir.Action, 0, len(linkIDs))
		for _, id := range linkIDs {
			a, l, err := tx.transitionLink(ctx, id, t)
			if err != nil {
				return err
			}
			actions = append(actions, a)
			links = append(links, l)
		}
		var err error
		batchID, err = tx.RecordAction(ctx, actions)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return batchID, links, nil
}

// Unlink moves a link to unlinked with a reason and optional note.
func (s *Store) Unlink(ctx context.Context, linkID, reason, note string) (ir.Link, error) {
	if strings.TrimSpace(reason) == "" {
		return ir.Link{}, fmt.Errorf("unlink: reason is required: %w", ErrInvalidInput)
	}
	return s.transitionOne(ctx, linkID, unlinkTransition(reason, note))
}

// UnlinkBatch unlinks several links as one undoable batch.
func (s *Store) UnlinkBatch(ctx context.Context, linkIDs []string, reason, note string) (string, []ir.Link, error) {
	if strings.TrimSpace(reason) == "" {
		return "", nil, fmt.Errorf("unlink: reason is required: %w", ErrInvalidInput)
	}
	return s.transitionBatch(ctx, linkIDs, unlinkTransition(reason, note))
}

// Relink restores an unlinked link to active and clears the unlink fields.
func (s *Store) Relink(ctx context.Context, linkID string) (ir.Link, error) {
	return s.transitionOne(ctx, linkID, relinkTransition())
}

// RelinkBatch relinks several links as one undoable batch.
func (s *Store) RelinkBatch(ctx context.Context, linkIDs []string) (string, []ir.Link, error) {
	return s.transitionBatch(ctx, linkIDs, relinkTransition())
}

// Reassign moves a link to another scope (resolved to its canonical id).
// Returns ErrConflict when the target scope already holds the same key.
func (s *Store) Reassign(ctx context.Context, linkID, scopeID string) (ir.Link, error) {
	canonical, err := s.ResolveCanonicalScope(ctx, scopeID)
	if err != nil {
		return ir.Link{}, err
	}
	return s.transitionOne(ctx, linkID, reassignTransition(canonical))
}

// ReassignBatch reassigns several links as one undoable batch.
func (s *Store) ReassignBatch(ctx context.Context, linkIDs []string, scopeID string) (string, []ir.Link, error) {
	canonical, err := s.ResolveCanonicalScope(ctx, scopeID)
	if err != nil {
		return "", nil, err
	}
	return s.transitionBatch(ctx, linkIDs, reassignTransition(canonical))
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func scanLink(row rowScanner) (ir.Link, error) {
	var l ir.Link
	var tier, status, lineage, created, updated string
	var unlinkedAt, reason, note sql.NullString
	if err := row.Scan(
		&l.ID, &l.ScopeID, &l.DocID, &l.SectionNumber, &l.ClauseID, &l.ClauseKey, &l.ClauseText,
		&l.SpanStart, &l.SpanEnd, &l.Confidence, &tier, &status, &l.RuleID, &l.RuleVersion, &l.RunID,
		&lineage, &unlinkedAt, &reason, &note, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Link{}, err
		}
		return ir.Link{}, fmt.Errorf("scan link: %w", err)
	}
	l.Tier = ir.Tier(tier)
	l.Status = ir.LinkStatus(status)
	l.UnlinkedReason = reason.String
	l.UnlinkedNote = note.String
	if err := unmarshalJSON(lineage, &l.Lineage); err != nil {
		return ir.Link{}, err
	}

	var err error
	if l.UnlinkedAt, err = parseNullTime(unlinkedAt); err != nil {
		return ir.Link{}, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return ir.Link{}, err
	}
	if l.UpdatedAt, err = parseTime(updated); err != nil {
		return ir.Link{}, err
	}
	return l, nil
}
