package ir

import "time"

// RunType names the committing operation a run records.
type RunType string

const (
	RunApply  RunType = "apply"
	RunCanary RunType = "canary"
	RunFull   RunType = "full"
	RunBatch  RunType = "batch"
)

// RunCounts are the final tallies of a run.
type RunCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
	Outliers  int `json:"outliers"`
}

// Run is an append-only audit record; one per committing operation.
type Run struct {
	ID          string     `json:"run_id"`
	Type        RunType    `json:"run_type"`
	ScopeID     string     `json:"scope_id"`
	RuleID      string     `json:"rule_id,omitempty"`
	PreviewID   string     `json:"preview_id,omitempty"`
	JobID       string     `json:"job_id,omitempty"`
	Counts      RunCounts  `json:"counts"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
