package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

const debtSetup = `
setup:
  - action: save_rule
    args: { id: r1, scope: fam-debt, filter: '"Indebtedness" | "Negative Pledge"' }
`

func TestRun_UnexpectedCaseFails(t *testing.T) {
	s, err := ParseScenario([]byte(`name: wrong_case
description: "apply before accepting creates nothing but succeeds"` + debtSetup + `
flow:
  - invoke: preview
    args: { rule_id: r1 }
  - invoke: apply
    expect: { case: expired }
assertions:
  - type: trace_count
    action: apply
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected case "expired", got "ok"`)

	done, ok := result.Completion("apply", 0)
	require.True(t, ok)
	assert.Equal(t, 0, done.Result["links_created"], "nothing accepted")
}

func TestRun_ResultMismatchFails(t *testing.T) {
	s, err := ParseScenario([]byte(`name: wrong_result
description: "result values are subset matched"` + debtSetup + `
flow:
  - invoke: preview
    args: { rule_id: r1 }
    expect: { case: ok, result: { candidate_count: 4 } }
assertions:
  - type: row_count
    table: previews
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "candidate_count = 3, want 4")
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	s, err := ParseScenario([]byte(`name: failed_assertions
description: "assertions are evaluated after the flow"` + debtSetup + `
flow:
  - invoke: preview
    args: { rule_id: r1 }
assertions:
  - type: trace_count
    action: apply
    count: 1
  - type: final_state
    table: links
    where: { doc_id: ca-001 }
    expect: { status: active }
  - type: trace_order
    actions: [apply, preview]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "1 occurrences of apply")
	assert.Contains(t, result.Errors[1], "row not found")
	assert.Contains(t, result.Errors[2], "missing action: apply")
}

func TestRun_SetupMustSucceed(t *testing.T) {
	s, err := ParseScenario([]byte(`name: bad_setup
description: "setup failures abort the run"
setup:
  - action: save_rule
    args: { id: r1, scope: fam-debt, filter: "(debt" }
flow:
  - invoke: undo
assertions:
  - type: trace_count
    action: undo
    count: 1
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 0 (save_rule)")
}

func TestLoadScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing_name", "description: d\nflow: [{invoke: undo}]\nassertions: [{type: trace_count, action: undo}]\n", "name is required"},
		{"missing_description", "name: n\nflow: [{invoke: undo}]\nassertions: [{type: trace_count, action: undo}]\n", "description is required"},
		{"empty_flow", "name: n\ndescription: d\nassertions: [{type: trace_count, action: undo}]\n", "flow list is required"},
		{"no_assertions", "name: n\ndescription: d\nflow: [{invoke: undo}]\n", "assertions list is required"},
		{"unknown_action", "name: n\ndescription: d\nflow: [{invoke: compile}]\nassertions: [{type: trace_count, action: undo}]\n", `unknown action "compile"`},
		{"unknown_setup_action", "name: n\ndescription: d\nsetup: [{action: seed}]\nflow: [{invoke: undo}]\nassertions: [{type: trace_count, action: undo}]\n", `setup[0]: unknown action "seed"`},
		{"expect_without_case", "name: n\ndescription: d\nflow: [{invoke: undo, expect: {result: {actions: 0}}}]\nassertions: [{type: trace_count, action: undo}]\n", "case is required"},
		{"unknown_field", "name: n\ndescription: d\nflows: []\n", "field flows not found"},
		{"unknown_assertion", "name: n\ndescription: d\nflow: [{invoke: undo}]\nassertions: [{type: eventually}]\n", `unknown assertion type "eventually"`},
		{"final_state_without_expect", "name: n\ndescription: d\nflow: [{invoke: undo}]\nassertions: [{type: final_state, table: links}]\n", "expect is required"},
		{"row_count_without_table", "name: n\ndescription: d\nflow: [{invoke: undo}]\nassertions: [{type: row_count}]\n", "table is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
