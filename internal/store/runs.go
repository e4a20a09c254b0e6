package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/famlink/internal/ir"
)

const runColumns = `run_id, run_type, scope_id, rule_id, preview_id, job_id,
	created_count, updated_count, skipped_count, conflict_count, outlier_count, started_at, completed_at`

// RunFilter narrows ListRuns. ScopeID is expanded through the alias closure.
type RunFilter struct {
	ScopeID string
	Type    ir.RunType
	Limit   int
}

// InsertRun appends a run record.
func (q *Queries) InsertRun(ctx context.Context, r ir.Run) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, string(r.Type), r.ScopeID, r.RuleID, r.PreviewID, r.JobID,
		r.Counts.Created, r.Counts.Updated, r.Counts.Skipped, r.Counts.Conflicts, r.Counts.Outliers,
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun returns one run.
func (q *Queries) GetRun(ctx context.Context, runID string) (ir.Run, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs newest first.
func (q *Queries) ListRuns(ctx context.Context, f RunFilter) ([]ir.Run, error) {
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
	if f.Type != "" {
		where = append(where, "run_type = ?")
		args = append(args, string(f.Type))
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, run_id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (ir.Run, error) {
	var r ir.Run
	var runType, started string
	var completed sql.NullString
	if err := row.Scan(
		&r.ID, &runType, &r.ScopeID, &r.RuleID, &r.PreviewID, &r.JobID,
		&r.Counts.Created, &r.Counts.Updated, &r.Counts.Skipped, &r.Counts.Conflicts, &r.Counts.Outliers,
		&started, &completed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Run{}, err
		}
		return ir.Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Type = ir.RunType(runType)

	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return ir.Run{}, err
	}
	if r.CompletedAt, err = parseNullTime(completed); err != nil {
		return ir.Run{}, err
	}
	return r, nil
}
