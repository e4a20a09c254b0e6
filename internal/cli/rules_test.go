package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
)

const debtRules = `package rules

rule: r1: {
	family_id: "fam-debt"
	filter:    "\"Indebtedness\" | \"Negative Pledge\""
}

rule: r2: {
	family_id:        "fam-liens"
	filter:           "Liens & !Tax"
	article_concepts: ["negative_covenants"]
}
`

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func TestLoadRules(t *testing.T) {
	dir := writeRules(t, map[string]string{"debt.cue": debtRules, "notes.txt": "ignored"})

	result, errs := LoadRules(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 1, result.FileCount)
	require.Len(t, result.Rules, 2)

	r1, r2 := result.Rules[0], result.Rules[1]
	assert.Equal(t, "r1", r1.ID)
	assert.Equal(t, "fam-debt", r1.FamilyID)
	assert.Equal(t, `"Indebtedness" | "Negative Pledge"`, r1.FilterDSL)
	assert.Equal(t, ir.ScopeMode(""), r1.ScopeMode)

	assert.Equal(t, "r2", r2.ID)
	assert.Equal(t, `"Liens" & !"Tax"`, r2.FilterDSL)
	assert.Equal(t, []string{"negative_covenants"}, r2.ArticleConcepts)
}

func TestLoadRules_Errors(t *testing.T) {
	t.Run("missing_dir", func(t *testing.T) {
		_, errs := LoadRules(filepath.Join(t.TempDir(), "nope"), LoadModeFailFast)
		require.Len(t, errs, 1)
		assert.Equal(t, ErrCodeNotFound, errs[0].(*LoadError).Code)
	})

	t.Run("no_cue_files", func(t *testing.T) {
		_, errs := LoadRules(writeRules(t, map[string]string{"a.txt": "x"}), LoadModeFailFast)
		require.Len(t, errs, 1)
		assert.Equal(t, ErrCodeNoFiles, errs[0].(*LoadError).Code)
	})

	t.Run("collects_field_errors", func(t *testing.T) {
		dir := writeRules(t, map[string]string{"bad.cue": `package rules

rule: nofamily: filter: "debt"
rule: nofilter: family_id: "fam-debt"
rule: badfilter: {
	family_id: "fam-debt"
	filter:    "(debt"
}
rule: badmode: {
	family_id:  "fam-debt"
	filter:     "debt"
	scope_mode: "everywhere"
}
rule: good: {
	family_id: "fam-debt"
	filter:    "debt"
}
`})
		result, errs := LoadRules(dir, LoadModeCollectAll)
		require.Len(t, errs, 4)
		for _, err := range errs {
			assert.Equal(t, ErrCodeRuleField, err.(*LoadError).Code, err.Error())
		}
		require.Len(t, result.Rules, 1)
		assert.Equal(t, "good", result.Rules[0].ID)
	})

	t.Run("fail_fast_stops_at_first", func(t *testing.T) {
		dir := writeRules(t, map[string]string{"bad.cue": `package rules

rule: a: filter: "debt"
rule: b: filter: "debt"
`})
		_, errs := LoadRules(dir, LoadModeFailFast)
		assert.Len(t, errs, 1)
	})

	t.Run("no_rules", func(t *testing.T) {
		_, errs := LoadRules(writeRules(t, map[string]string{"empty.cue": "package rules\n"}), LoadModeFailFast)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "no rules found")
	})
}

func TestRulesLoadCommand_SavesAndVersions(t *testing.T) {
	db := tempDB(t)
	dir := writeRules(t, map[string]string{"debt.cue": debtRules})

	var saved []ir.Rule
	executeJSON(t, &saved, "rules", "load", dir, "--db", db, "--editor", "alice")
	require.Len(t, saved, 2)
	assert.Equal(t, 1, saved[0].Version)
	assert.Equal(t, ir.RuleDraft, saved[0].Status)
	assert.Equal(t, "fam-debt", saved[0].ScopeID)
	assert.Equal(t, ir.ScopeCorpus, saved[0].ScopeMode)
	assert.JSONEq(t, `{"op":"or","children":[{"op":"match","value":"Indebtedness"},{"op":"match","value":"Negative Pledge"}]}`, string(saved[0].HeadingFilter))

	executeJSON(t, &saved, "rules", "load", dir, "--db", db, "--editor", "alice")
	assert.Equal(t, 2, saved[0].Version)
	assert.Equal(t, 2, saved[1].Version)
}

func TestRulesLoadCommand_InvalidDefinitions(t *testing.T) {
	db := tempDB(t)
	dir := writeRules(t, map[string]string{"bad.cue": "package rules\n\nrule: r1: family_id: \"fam-debt\"\n"})

	out, err := execute(t, "rules", "load", dir, "--db", db, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeRuleField, resp.Error.Code)

	var rules []ir.Rule
	executeJSON(t, &rules, "rules", "list", "--db", db)
	assert.Empty(t, rules, "nothing saved")
}

func TestRulesLockPublishUnlock(t *testing.T) {
	db := tempDB(t)
	dir := writeRules(t, map[string]string{"debt.cue": debtRules})
	executeJSON(t, nil, "rules", "load", dir, "--db", db)

	var locked []ir.Rule
	executeJSON(t, &locked, "rules", "lock", "r1", "--db", db, "--editor", "alice")
	require.Len(t, locked, 1)
	assert.Equal(t, "alice", locked[0].LockedBy)

	_, err := execute(t, "rules", "lock", "r1", "--db", db, "--editor", "bob")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "rules", "publish", "r1", "--db", db, "--editor", "bob")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err), "publish is a save and honours the lock")

	var published []ir.Rule
	executeJSON(t, &published, "rules", "publish", "r1", "--db", db, "--editor", "alice")
	assert.Equal(t, ir.RulePublished, published[0].Status)
	assert.Equal(t, 2, published[0].Version)

	var unlocked []ir.Rule
	executeJSON(t, &unlocked, "rules", "unlock", "r1", "--db", db, "--editor", "bob", "--force")
	assert.Empty(t, unlocked[0].LockedBy)

	var list []ir.Rule
	executeJSON(t, &list, "rules", "list", "--db", db, "--status", "published")
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	executeJSON(t, &list, "rules", "list", "--db", db, "--scope", "fam-liens")
	require.Len(t, list, 1)
	assert.Equal(t, "r2", list[0].ID)
}

func TestRulesList_Text(t *testing.T) {
	db := tempDB(t)
	out, err := execute(t, "rules", "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No rules.\n", out)

	executeJSON(t, nil, "rules", "load", writeRules(t, map[string]string{"debt.cue": debtRules}), "--db", db)
	out, err = execute(t, "rules", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "r2 v1")
	assert.Contains(t, out, `filter: "Liens" & !"Tax"`)
	assert.Contains(t, out, "article concepts: negative_covenants")
}

func TestRulesList_InvalidStatus(t *testing.T) {
	_, err := execute(t, "rules", "list", "--db", tempDB(t), "--status", "archived")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRulesLoadCommand_LockedRuleIsSaveError(t *testing.T) {
	db := tempDB(t)
	dir := writeRules(t, map[string]string{"debt.cue": debtRules})
	executeJSON(t, nil, "rules", "load", dir, "--db", db, "--editor", "alice")
	executeJSON(t, nil, "rules", "lock", "r1", "--db", db, "--editor", "alice")

	out, err := execute(t, "rules", "load", dir, "--db", db, "--editor", "bob", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeRuleSave, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "r1")
}
