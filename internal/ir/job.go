package ir

import (
	"encoding/json"
	"time"
)

// JobType selects the handler a worker dispatches a job to.
type JobType string

const (
	JobPreview           JobType = "preview"
	JobApply             JobType = "apply"
	JobCanary            JobType = "canary"
	JobBatchRun          JobType = "batch_run"
	JobEmbeddingsCompute JobType = "embeddings_compute"
	JobCheckDrift        JobType = "check_drift"
	JobExport            JobType = "export"
)

// JobTypes lists every job type in a stable order.
var JobTypes = []JobType{
	JobPreview,
	JobApply,
	JobCanary,
	JobBatchRun,
	JobEmbeddingsCompute,
	JobCheckDrift,
	JobExport,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus is a state in the job lifecycle:
//
//	pending → claimed → running → {completed | failed | cancelled}
//
// A pending, claimed or running job may also be cancelled directly.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobClaimed   JobStatus = "claimed"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active reports whether a worker currently holds a job in state s.
func (s JobStatus) Active() bool {
	return s == JobClaimed || s == JobRunning
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobClaimed, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is one row of the durable job queue.
//
// Params and Result are kept as raw JSON at this layer; the jobs package
// decodes Params into a concrete struct per JobType at dispatch time.
type Job struct {
	ID              string          `json:"job_id"`
	Type            JobType         `json:"job_type"`
	Status          JobStatus       `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Params          json.RawMessage `json:"params"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ProgressPct     int             `json:"progress_pct"`
	ProgressMessage string          `json:"progress_message"`
	WorkerID        string          `json:"worker_id,omitempty"`
	WorkerPID       int             `json:"worker_pid,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// JobRequest is the submission payload accepted from callers.
type JobRequest struct {
	Type           JobType         `json:"job_type"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}
