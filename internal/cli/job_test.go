package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/jobs"
)

func TestJobSubmit_IdempotencyKey(t *testing.T) {
	db := tempDB(t)

	var first, second SubmitResult
	executeJSON(t, &first, "job", "submit", "check_drift", "--params", `{"scope_id":"fam-debt"}`, "--key", "drift-1", "--db", db)
	assert.True(t, first.Created)
	assert.Equal(t, ir.JobPending, first.Job.Status)
	assert.Equal(t, ir.JobCheckDrift, first.Job.Type)

	executeJSON(t, &second, "job", "submit", "check_drift", "--params", `{"scope_id":"fam-debt"}`, "--key", "drift-1", "--db", db)
	assert.False(t, second.Created)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	var list []ir.Job
	executeJSON(t, &list, "job", "list", "--db", db)
	assert.Len(t, list, 1)
}

func TestJobSubmit_ParamsFile(t *testing.T) {
	db := tempDB(t)
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rule_ids":["r1"],"min_tier":"medium"}`), 0o644))

	var res SubmitResult
	executeJSON(t, &res, "job", "submit", "batch_run", "--params-file", path, "--db", db)
	assert.True(t, res.Created)
	assert.JSONEq(t, `{"rule_ids":["r1"],"min_tier":"medium"}`, string(res.Job.Params))
}

func TestJobSubmit_RejectsInvalidParams(t *testing.T) {
	db := tempDB(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing_required", []string{"check_drift", "--params", `{}`}, "scope_id failed required"},
		{"unknown_field", []string{"check_drift", "--params", `{"scope":"x"}`}, "unknown field"},
		{"bad_hash", []string{"apply", "--params", `{"preview_id":"p","candidate_set_hash":"abc"}`}, "candidate_set_hash failed"},
		{"unknown_type", []string{"reindex"}, "unknown job type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(append([]string{"job", "submit"}, tt.args...), "--db", db)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	var list []ir.Job
	executeJSON(t, &list, "job", "list", "--db", db)
	assert.Empty(t, list, "rejected before any write")
}

func TestJobSubmit_Backpressure(t *testing.T) {
	db := tempDB(t)
	t.Setenv("FAMLINK_QUEUE_MAX_PENDING", "1")

	executeJSON(t, nil, "job", "submit", "check_drift", "--params", `{"scope_id":"a"}`, "--db", db)
	_, err := execute(t, "job", "submit", "check_drift", "--params", `{"scope_id":"b"}`, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestJobStatusListCancel(t *testing.T) {
	db := tempDB(t)

	var a, b SubmitResult
	executeJSON(t, &a, "job", "submit", "check_drift", "--params", `{"scope_id":"fam-debt"}`, "--db", db)
	executeJSON(t, &b, "job", "submit", "export", "--params", `{"format":"csv","destination":"/tmp/out.csv"}`, "--db", db)

	var job ir.Job
	executeJSON(t, &job, "job", "status", a.Job.ID, "--db", db)
	assert.Equal(t, a.Job.ID, job.ID)
	assert.Equal(t, ir.JobPending, job.Status)

	var list []ir.Job
	executeJSON(t, &list, "job", "list", "--type", "export", "--db", db)
	require.Len(t, list, 1)
	assert.Equal(t, b.Job.ID, list[0].ID)

	executeJSON(t, &job, "job", "cancel", a.Job.ID, "--db", db)
	assert.Equal(t, ir.JobCancelled, job.Status)

	_, err := execute(t, "job", "cancel", a.Job.ID, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "already cancelled")

	executeJSON(t, &list, "job", "list", "--status", "pending", "--db", db)
	require.Len(t, list, 1)
	assert.Equal(t, b.Job.ID, list[0].ID)

	_, err = execute(t, "job", "status", "no-such-job", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "job", "list", "--status", "stuck", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestJobStatus_Text(t *testing.T) {
	db := tempDB(t)
	var res SubmitResult
	executeJSON(t, &res, "job", "submit", "check_drift", "--params", `{"scope_id":"fam-debt"}`, "--db", db)

	out, err := execute(t, "job", "status", res.Job.ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, res.Job.ID+" (check_drift)")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "0%")
}

func TestJobSubmit_ParamsErrorIsTyped(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, "job", "submit", "canary", "--params", `{}`, "--db", db)
	require.Error(t, err)
	assert.True(t, jobs.IsParamsError(err))
}
