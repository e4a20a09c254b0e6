package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/testutil"
)

// importCorpus writes the test corpus through corpus import and returns the
// index path.
func importCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "corpus.json")
	data, err := json.Marshal(testutil.Corpus())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fixture, data, 0o644))

	path := filepath.Join(dir, "corpus.db")
	var res CorpusImport
	executeJSON(t, &res, "corpus", "import", fixture, "--out", path)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, "corpus-2026.03", res.Version)
	assert.Equal(t, 3, res.Documents)
	return path
}

func TestCorpusImport(t *testing.T) {
	tempDB(t)
	importCorpus(t)

	_, err := execute(t, "corpus", "import", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWorker_DrainsSubmittedPreview(t *testing.T) {
	db := tempDB(t)
	t.Setenv("FAMLINK_CORPUS_PATH", importCorpus(t))
	t.Setenv("FAMLINK_WORKER_POLL_INTERVAL", "1ms")

	executeJSON(t, nil, "rules", "load", writeRules(t, map[string]string{"debt.cue": debtRules}), "--db", db)

	var sub SubmitResult
	executeJSON(t, &sub, "job", "submit", "preview", "--params", `{"rule_id":"r1"}`, "--db", db)

	_, err := execute(t, "worker", "--drain", "--id", "w-test", "--db", db)
	require.NoError(t, err)

	var job ir.Job
	executeJSON(t, &job, "job", "status", sub.Job.ID, "--db", db)
	assert.Equal(t, ir.JobCompleted, job.Status)
	assert.Equal(t, 100, job.ProgressPct)

	var pv ir.Preview
	require.NoError(t, json.Unmarshal(job.Result, &pv))
	assert.Equal(t, 3, pv.CandidateCount)
	assert.Equal(t, "fam-debt", pv.ScopeID)

	var previews []ir.Preview
	executeJSON(t, &previews, "preview", "list", "--db", db)
	require.Len(t, previews, 1)
	assert.Equal(t, pv.ID, previews[0].ID)
}

func TestWorker_MissingCorpus(t *testing.T) {
	db := tempDB(t)
	t.Setenv("FAMLINK_CORPUS_PATH", filepath.Join(t.TempDir(), "none.db"))

	_, err := execute(t, "worker", "--drain", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
