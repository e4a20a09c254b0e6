package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/famlink/internal/ir"
)

// patchTarget whitelists the columns a patch may write per entity type.
type patchTarget struct {
	table string
	idCol string
	cols  map[string]bool
}

var patchTargets = map[ir.EntityType]patchTarget{
	ir.EntityLink: {
		table: "links",
		idCol: "link_id",
		cols: set("status", "scope_id", "confidence", "confidence_tier", "clause_text",
			"span_start", "span_end", "rule_id", "rule_version", "run_id", "lineage",
			"unlinked_at", "unlinked_reason", "unlinked_note", "updated_at"),
	},
	ir.EntityRule: {
		table: "rules",
		idCol: "rule_id",
		cols: set("status", "heading_filter_ast", "filter_dsl", "article_concepts",
			"scope_mode", "version", "updated_at"),
	},
	ir.EntityAlias: {
		table: "scope_aliases",
		idCol: "legacy_id",
		cols:  set("canonical_id", "source"),
	},
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// RecordAction stores one undo batch atomically. See Tx.RecordAction.
func (s *Store) RecordAction(ctx context.Context, actions []ir.Action) (batchID string, err error) {
	err = s.WithTx(ctx, func(tx *Tx) error {
		batchID, err = tx.RecordAction(ctx, actions)
		return err
	})
	return batchID, err
}

// RecordAction inserts one row per action under a shared batch id and
// advances the cursor to the last inserted action id. Any redo tail beyond
// the cursor is discarded first. Returns the batch id, taken from the first
// action or minted when empty.
func (tx *Tx) RecordAction(ctx context.Context, actions []ir.Action) (string, error) {
	if len(actions) == 0 {
		return "", fmt.Errorf("record action: empty batch: %w", ErrInvalidInput)
	}
	batchID := actions[0].BatchID
	if batchID == "" {
		batchID = tx.NewID()
	}

	pos, err := tx.CurrentPosition(ctx)
	if err != nil {
		return "", err
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM actions WHERE action_id > ?`, pos); err != nil {
		return "", fmt.Errorf("record action: discard redo tail: %w", err)
	}

	now := formatTime(tx.Now())
	var last int64
	for _, a := range actions {
		target, ok := patchTargets[a.EntityType]
		if !ok {
			return "", fmt.Errorf("record action: unknown entity type %q: %w", a.EntityType, ErrInvalidInput)
		}
		for _, p := range []ir.Patch{a.ForwardPatch, a.ReversePatch} {
			for col := range p {
				if !target.cols[col] {
					return "", fmt.Errorf("record action: column %s.%s is not patchable: %w", target.table, col, ErrInvalidInput)
				}
			}
		}
		fwd, err := marshalJSON(a.ForwardPatch)
		if err != nil {
			return "", fmt.Errorf("record action: %w", err)
		}
		rev, err := marshalJSON(a.ReversePatch)
		if err != nil {
			return "", fmt.Errorf("record action: %w", err)
		}
		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO actions (batch_id, entity_type, entity_id, operation, forward_patch, reverse_patch, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, batchID, string(a.EntityType), a.EntityID, string(a.Operation), fwd, rev, now)
		if err != nil {
			return "", fmt.Errorf("record action: %w", err)
		}
		if last, err = res.LastInsertId(); err != nil {
			return "", fmt.Errorf("record action: %w", err)
		}
	}

	if err := tx.setPosition(ctx, last); err != nil {
		return "", err
	}
	return batchID, nil
}

// CurrentPosition returns the undo cursor: the action id of the last applied
// action, or 0 at the start of history.
func (q *Queries) CurrentPosition(ctx context.Context) (int64, error) {
	var pos int64
	if err := q.q.QueryRowContext(ctx, `SELECT current_position FROM undo_state WHERE id = 1`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("undo position: %w", err)
	}
	return pos, nil
}

func (q *Queries) setPosition(ctx context.Context, pos int64) error {
	if _, err := q.q.ExecContext(ctx, `UPDATE undo_state SET current_position = ? WHERE id = 1`, pos); err != nil {
		return fmt.Errorf("set undo position: %w", err)
	}
	return nil
}

// Undo reverts the batch containing the cursor: reverse patches are applied
// in descending action id order and the cursor moves to the greatest action
// id below the batch. Returns nil at the start of history.
func (s *Store) Undo(ctx context.Context) (*ir.HistoryStep, error) {
	var step *ir.HistoryStep
	err := s.WithTx(ctx, func(tx *Tx) error {
		pos, err := tx.CurrentPosition(ctx)
		if err != nil || pos == 0 {
			return err
		}
		var batchID string
		err = tx.q.QueryRowContext(ctx, `SELECT batch_id FROM actions WHERE action_id = ?`, pos).Scan(&batchID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("undo: %w", err)
		}

		actions, err := tx.ListActions(ctx, batchID)
		if err != nil {
			return err
		}
		slices.Reverse(actions)
		for _, a := range actions {
			if err := tx.applyPatch(ctx, a.EntityType, a.EntityID, a.ReversePatch); err != nil {
				return fmt.Errorf("undo action %d: %w", a.ID, err)
			}
		}

		minID := actions[len(actions)-1].ID
		var newPos int64
		err = tx.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(action_id), 0) FROM actions WHERE action_id < ?`, minID).Scan(&newPos)
		if err != nil {
			return fmt.Errorf("undo: %w", err)
		}
		if err := tx.setPosition(ctx, newPos); err != nil {
			return err
		}
		step = &ir.HistoryStep{BatchID: batchID, Actions: len(actions), Position: newPos}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// Redo re-applies the first batch after the cursor in ascending action id
// order and advances the cursor to that batch's last action. Returns nil at
// the end of history.
func (s *Store) Redo(ctx context.Context) (*ir.HistoryStep, error) {
	var step *ir.HistoryStep
	err := s.WithTx(ctx, func(tx *Tx) error {
		pos, err := tx.CurrentPosition(ctx)
		if err != nil {
			return err
		}
		var batchID string
		err = tx.q.QueryRowContext(ctx, `
			SELECT batch_id FROM actions WHERE action_id > ? ORDER BY action_id ASC LIMIT 1
		`, pos).Scan(&batchID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redo: %w", err)
		}

		actions, err := tx.ListActions(ctx, batchID)
		if err != nil {
			return err
		}
		for _, a := range actions {
			if err := tx.applyPatch(ctx, a.EntityType, a.EntityID, a.ForwardPatch); err != nil {
				return fmt.Errorf("redo action %d: %w", a.ID, err)
			}
		}

		newPos := actions[len(actions)-1].ID
		if err := tx.setPosition(ctx, newPos); err != nil {
			return err
		}
		step = &ir.HistoryStep{BatchID: batchID, Actions: len(actions), Position: newPos}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// ListActions returns the actions of one batch in ascending id order. An
// empty batchID lists the whole log.
func (q *Queries) ListActions(ctx context.Context, batchID string) ([]ir.Action, error) {
	query := `SELECT action_id, batch_id, entity_type, entity_id, operation, forward_patch, reverse_patch, created_at FROM actions`
	var args []any
	if batchID != "" {
		query += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY action_id ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := []ir.Action{}
	for rows.Next() {
		var a ir.Action
		var entType, op, fwd, rev, created string
		if err := rows.Scan(&a.ID, &a.BatchID, &entType, &a.EntityID, &op, &fwd, &rev, &created); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.EntityType = ir.EntityType(entType)
		a.Operation = ir.Operation(op)
		if a.ForwardPatch, err = decodePatch(fwd); err != nil {
			return nil, err
		}
		if a.ReversePatch, err = decodePatch(rev); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// decodePatch parses a stored patch keeping integers exact.
func decodePatch(data string) (ir.Patch, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	p := make(ir.Patch, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				p[k] = i
			} else if f, err := n.Float64(); err == nil {
				p[k] = f
			} else {
				return nil, fmt.Errorf("decode patch: %s: %w", k, err)
			}
			continue
		}
		p[k] = v
	}
	return p, nil
}

// applyPatch writes whitelisted columns of one row.
func (q *Queries) applyPatch(ctx context.Context, entityType ir.EntityType, entityID string, p ir.Patch) error {
	if len(p) == 0 {
		return nil
	}
	target, ok := patchTargets[entityType]
	if !ok {
		return fmt.Errorf("apply patch: unknown entity type %q", entityType)
	}
	cols := make([]string, 0, len(p))
	for col := range p {
		if !target.cols[col] {
			return fmt.Errorf("apply patch: column %s.%s is not patchable", target.table, col)
		}
		cols = append(cols, col)
	}
	slices.Sort(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, p[col])
	}
	args = append(args, entityID)

	query := `UPDATE ` + target.table + ` SET ` + strings.Join(sets, ", ") + ` WHERE ` + target.idCol + ` = ?`
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply patch to %s %s: %w", entityType, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("apply patch: %s %s: %w", entityType, entityID, ErrNotFound)
	}
	return nil
}
