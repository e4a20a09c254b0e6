package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/famlink/internal/ir"
)

const jobColumns = `job_id, job_type, status, idempotency_key, params, result, error_message,
	progress_pct, progress_message, worker_id, worker_pid, submitted_at, claimed_at, completed_at`

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Status ir.JobStatus
	Type   ir.JobType
	Limit  int
}

// SubmitJob enqueues a pending job.
//
// When req.IdempotencyKey matches an existing row, that row is returned with
// created=false and nothing is written. Otherwise, when the store was opened
// with a pending cap and the cap is reached, ErrBackpressure is returned.
func (s *Store) SubmitJob(ctx context.Context, req ir.JobRequest) (job ir.Job, created bool, err error) {
	if !req.Type.Valid() {
		return ir.Job{}, false, fmt.Errorf("submit job: unknown job_type %q: %w", req.Type, ErrInvalidInput)
	}
	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if !json.Valid(params) {
		return ir.Job{}, false, fmt.Errorf("submit job: params is not valid JSON: %w", ErrInvalidInput)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.jobByIdempotencyKey(ctx, req.IdempotencyKey)
			if err == nil {
				job = existing
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		if s.maxPending > 0 {
			n, err := tx.CountJobs(ctx, ir.JobPending)
			if err != nil {
				return err
			}
			if n >= s.maxPending {
				return fmt.Errorf("submit job: %d pending: %w", n, ErrBackpressure)
			}
		}

		job = ir.Job{
			ID:             tx.NewID(),
			Type:           req.Type,
			Status:         ir.JobPending,
			IdempotencyKey: req.IdempotencyKey,
			Params:         params,
			SubmittedAt:    tx.Now(),
		}
		// ON CONFLICT covers a racing submit with the same key from another
		// process; the re-read below returns whichever row won.
		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO jobs (job_id, job_type, status, idempotency_key, params, submitted_at)
			VALUES (?, ?, 'pending', ?, ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING
		`, job.ID, string(job.Type), nullString(job.IdempotencyKey), string(params), formatTime(job.SubmittedAt))
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		if n == 0 {
			existing, err := tx.jobByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			job = existing
			return nil
		}
		created = true
		return nil
	})
	if err != nil {
		return ir.Job{}, false, err
	}
	return job, created, nil
}

func (q *Queries) jobByIdempotencyKey(ctx context.Context, key string) (ir.Job, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ?`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Job{}, fmt.Errorf("job with idempotency key %q: %w", key, ErrNotFound)
	}
	return job, err
}

// GetJob returns one job.
func (q *Queries) GetJob(ctx context.Context, jobID string) (ir.Job, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, err
}

// ListJobs returns jobs newest first.
// Returns an empty slice (not nil) when nothing matches.
func (q *Queries) ListJobs(ctx context.Context, f JobFilter) ([]ir.Job, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "job_type = ?")
		args = append(args, string(f.Type))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []ir.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs in the given status.
func (q *Queries) CountJobs(ctx context.Context, status ir.JobStatus) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// ClaimJob atomically moves the oldest pending job to claimed and returns it.
// Returns nil when no job is pending.
//
// The single UPDATE ... RETURNING statement is the mutual-exclusion
// primitive: two workers racing on the same row cannot both see the
// status='pending' guard succeed.
func (q *Queries) ClaimJob(ctx context.Context, workerID string, pid int) (*ir.Job, error) {
	row := q.q.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'claimed', worker_id = ?, worker_pid = ?, claimed_at = ?
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = 'pending'
			ORDER BY submitted_at ASC, rowid ASC
			LIMIT 1
		) AND status = 'pending'
		RETURNING `+jobColumns,
		workerID, pid, formatTime(q.Now()))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// MarkJobRunning moves a claimed job to running. Returns false when the job
// was not in claimed state.
func (q *Queries) MarkJobRunning(ctx context.Context, jobID string) (bool, error) {
	return q.execChanged(ctx, "mark job running", `
		UPDATE jobs SET status = 'running'
		WHERE job_id = ? AND status = 'claimed'
	`, jobID)
}

// UpdateJobProgress records progress on an active job. pct is clamped to
// [0, 100]. Returns false when the job is not active.
func (q *Queries) UpdateJobProgress(ctx context.Context, jobID string, pct int, message string) (bool, error) {
	pct = min(max(pct, 0), 100)
	return q.execChanged(ctx, "update job progress", `
		UPDATE jobs SET progress_pct = ?, progress_message = ?
		WHERE job_id = ? AND status IN ('claimed', 'running')
	`, pct, message, jobID)
}

// CompleteJob stores the result of an active job and moves it to completed.
// Returns false when the job is not active (already terminal, or cancelled
// while running).
func (q *Queries) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) (bool, error) {
	return q.execChanged(ctx, "complete job", `
		UPDATE jobs
		SET status = 'completed', result = ?, progress_pct = 100, completed_at = ?
		WHERE job_id = ? AND status IN ('claimed', 'running')
	`, rawOrNull(result), formatTime(q.Now()), jobID)
}

// FailJob records an error on an active job and moves it to failed.
func (q *Queries) FailJob(ctx context.Context, jobID string, message string) (bool, error) {
	return q.FailJobWithResult(ctx, jobID, message, nil)
}

// FailJobWithResult is FailJob that also stores a structured failure body
// in the job's result.
func (q *Queries) FailJobWithResult(ctx context.Context, jobID string, message string, result json.RawMessage) (bool, error) {
	return q.execChanged(ctx, "fail job", `
		UPDATE jobs
		SET status = 'failed', error_message = ?, result = ?, completed_at = ?
		WHERE job_id = ? AND status IN ('claimed', 'running')
	`, message, rawOrNull(result), formatTime(q.Now()), jobID)
}

// CancelJob moves any non-terminal job to cancelled. Returns false when the
// job was already terminal.
func (q *Queries) CancelJob(ctx context.Context, jobID string) (bool, error) {
	changed, err := q.execChanged(ctx, "cancel job", `
		UPDATE jobs
		SET status = 'cancelled', completed_at = ?
		WHERE job_id = ? AND status IN ('pending', 'claimed', 'running')
	`, formatTime(q.Now()), jobID)
	if err != nil || changed {
		return changed, err
	}
	if _, err := q.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// RecordCancelledResult stores the partial result a cooperative handler
// returned after observing cancellation.
func (q *Queries) RecordCancelledResult(ctx context.Context, jobID string, result json.RawMessage, message string) (bool, error) {
	return q.execChanged(ctx, "record cancelled result", `
		UPDATE jobs SET result = ?, progress_message = ?
		WHERE job_id = ? AND status = 'cancelled'
	`, rawOrNull(result), message, jobID)
}

// IsJobCancelled reports whether the job has been cancelled.
func (q *Queries) IsJobCancelled(ctx context.Context, jobID string) (bool, error) {
	var status string
	err := q.q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("job status: %w", err)
	}
	return ir.JobStatus(status) == ir.JobCancelled, nil
}

// JobHolder identifies the worker holding a claimed or running job.
type JobHolder struct {
	JobID    string
	WorkerID string
	PID      int
}

// RecoverOrphanedJobs returns every claimed or running job whose holder is
// no longer alive to pending. It returns the ids it reset.
//
// Each reset is guarded on the status and pid read here, so a job is reset
// at most once even if two workers start at the same time.
func (q *Queries) RecoverOrphanedJobs(ctx context.Context, alive func(JobHolder) bool) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT job_id, COALESCE(worker_id, ''), COALESCE(worker_pid, 0) FROM jobs
		WHERE status IN ('claimed', 'running')
		ORDER BY submitted_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("recover orphaned jobs: %w", err)
	}
	var candidates []JobHolder
	for rows.Next() {
		var h JobHolder
		if err := rows.Scan(&h.JobID, &h.WorkerID, &h.PID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("recover orphaned jobs: %w", err)
		}
		candidates = append(candidates, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recover orphaned jobs: %w", err)
	}

	recovered := []string{}
	for _, h := range candidates {
		if h.PID > 0 && alive(h) {
			continue
		}
		changed, err := q.execChanged(ctx, "recover orphaned job", `
			UPDATE jobs
			SET status = 'pending', worker_id = NULL, worker_pid = NULL, claimed_at = NULL,
			    progress_message = ?
			WHERE job_id = ? AND status IN ('claimed', 'running') AND COALESCE(worker_pid, 0) = ?
		`, fmt.Sprintf("recovered: worker pid %d not alive", h.PID), h.JobID, h.PID)
		if err != nil {
			return nil, err
		}
		if changed {
			recovered = append(recovered, h.JobID)
		}
	}
	return recovered, nil
}

func (q *Queries) execChanged(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func scanJob(row rowScanner) (ir.Job, error) {
	var job ir.Job
	var jobType, status, params, submitted string
	var idemKey, result, errMsg, workerID sql.NullString
	var claimed, completed sql.NullString
	var workerPID sql.NullInt64
	if err := row.Scan(
		&job.ID, &jobType, &status, &idemKey, &params, &result, &errMsg,
		&job.ProgressPct, &job.ProgressMessage, &workerID, &workerPID,
		&submitted, &claimed, &completed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Job{}, err
		}
		return ir.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Type = ir.JobType(jobType)
	job.Status = ir.JobStatus(status)
	job.IdempotencyKey = idemKey.String
	job.Params = json.RawMessage(params)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.ErrorMessage = errMsg.String
	job.WorkerID = workerID.String
	job.WorkerPID = int(workerPID.Int64)

	var err error
	if job.SubmittedAt, err = parseTime(submitted); err != nil {
		return ir.Job{}, err
	}
	if job.ClaimedAt, err = parseNullTime(claimed); err != nil {
		return ir.Job{}, err
	}
	if job.CompletedAt, err = parseNullTime(completed); err != nil {
		return ir.Job{}, err
	}
	return job, nil
}
