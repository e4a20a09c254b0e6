package jobs_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/jobs"
	"github.com/roach88/famlink/internal/testutil"
)

func TestDecodeParams_Valid(t *testing.T) {
	p, err := jobs.DecodeParams(ir.JobPreview, json.RawMessage(`{"rule_id":"r1","max_docs":5}`))
	require.NoError(t, err)
	assert.Equal(t, &jobs.PreviewParams{RuleID: "r1", MaxDocs: 5}, p)

	p, err = jobs.DecodeParams(ir.JobApply, json.RawMessage(`{"preview_id":"p1","accept_tiers":["high","medium"]}`))
	require.NoError(t, err)
	assert.Equal(t, []ir.Tier{ir.TierHigh, ir.TierMedium}, p.(*jobs.ApplyParams).AcceptTiers)

	p, err = jobs.DecodeParams(ir.JobEmbeddingsCompute, nil)
	require.NoError(t, err)
	assert.Equal(t, &jobs.EmbeddingsParams{}, p)
}

func TestDecodeParams_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		typ     ir.JobType
		params  string
		problem string
	}{
		{"preview needs rule or scope", ir.JobPreview, `{}`, "rule_id failed required_without"},
		{"ad-hoc preview needs filter", ir.JobPreview, `{"scope_id":"fam-debt"}`, "heading_filter_ast failed required_with"},
		{"apply needs preview", ir.JobApply, `{}`, "preview_id failed required"},
		{"apply hash is hex", ir.JobApply, `{"preview_id":"p1","candidate_set_hash":"xyz"}`, "candidate_set_hash failed hexadecimal"},
		{"apply tiers", ir.JobApply, `{"preview_id":"p1","accept_tiers":["extreme"]}`, "accept_tiers[0] failed oneof"},
		{"batch needs rules", ir.JobBatchRun, `{"rule_ids":[]}`, "rule_ids failed"},
		{"batch min tier", ir.JobBatchRun, `{"rule_ids":["r1"],"min_tier":"top"}`, "min_tier failed oneof"},
		{"drift needs scope", ir.JobCheckDrift, `{}`, "scope_id failed required"},
		{"export format", ir.JobExport, `{"format":"xml","destination":"out.xml"}`, "format failed oneof"},
		{"export statuses", ir.JobExport, `{"format":"csv","destination":"o.csv","statuses":["gone"]}`, "statuses[0] failed oneof"},
		{"unknown field", ir.JobCanary, `{"rule_id":"r1","sample":3}`, "unknown field"},
		{"not an object", ir.JobCanary, `[1]`, "cannot unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jobs.DecodeParams(tt.typ, json.RawMessage(tt.params))
			require.Error(t, err)
			assert.True(t, jobs.IsParamsError(err))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestDecodeParams_UnknownType(t *testing.T) {
	_, err := jobs.DecodeParams("reindex", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.False(t, jobs.IsParamsError(err))
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t, testutil.NewClock())

	_, _, err := jobs.Submit(ctx, s, ir.JobRequest{Type: ir.JobApply, Params: json.RawMessage(`{}`)})
	require.True(t, jobs.IsParamsError(err))
	n, err := s.CountJobs(ctx, ir.JobPending)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected before any write")

	_, _, err = jobs.Submit(ctx, s, ir.JobRequest{Type: "reindex"})
	assert.Error(t, err)

	req := ir.JobRequest{Type: ir.JobCheckDrift, Params: json.RawMessage(`{"scope_id":"fam-debt"}`), IdempotencyKey: "drift-1"}
	first, created, err := jobs.Submit(ctx, s, req)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := jobs.Submit(ctx, s, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}
