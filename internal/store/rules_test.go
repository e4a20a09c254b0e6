package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
)

func TestSaveRule_VersionsAndNormalizes(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	r, err := s.SaveRule(ctx, testRule("r1", "fam-debt", "Indebtedness", "Debt"), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, ir.RuleDraft, r.Status)
	assert.Equal(t, ir.ScopeCorpus, r.ScopeMode)
	assert.Equal(t, "fam-debt", r.ScopeID)
	assert.Equal(t, `"Indebtedness" | "Debt"`, r.FilterDSL)

	r.ArticleConcepts = []string{"negative_covenants"}
	r, err = s.SaveRule(ctx, r, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Version)

	versions, err := s.RuleVersions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Empty(t, versions[0].ArticleConcepts)
	assert.Equal(t, []string{"negative_covenants"}, versions[1].ArticleConcepts)
}

func TestSaveRule_FromDSL(t *testing.T) {
	s, _ := createTestStore(t)
	r, err := s.SaveRule(context.Background(), ir.Rule{
		FamilyID:  "fam-liens",
		FilterDSL: `liens & !"tax liens"`,
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.JSONEq(t,
		`{"op":"and","children":[{"op":"match","value":"liens"},{"op":"not","child":{"op":"match","value":"tax liens"}}]}`,
		string(r.HeadingFilter))
}

func TestSaveRule_ResolvesCanonicalScope(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, err := s.AddAlias(ctx, "fam-debt-v1", "fam-debt", "")
	require.NoError(t, err)

	r := testRule("r1", "fam-debt-v1", "Debt")
	r, err = s.SaveRule(ctx, r, "")
	require.NoError(t, err)
	assert.Equal(t, "fam-debt", r.ScopeID)

	rules, err := s.ListRules(ctx, RuleFilter{ScopeID: "fam-debt-v1"})
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestSaveRule_Rejects(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRule(ctx, ir.Rule{FamilyID: "fam-a"}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.SaveRule(ctx, ir.Rule{FamilyID: "fam-a", FilterDSL: `!"only negated"`}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	r := testRule("r1", "fam-a", "x")
	r.ScopeMode = ir.ScopeInherited
	_, err = s.SaveRule(ctx, r, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRuleLock(t *testing.T) {
	s, clock := createTestStore(t, WithLockTTL(10*time.Minute))
	ctx := context.Background()
	r, err := s.SaveRule(ctx, testRule("r1", "fam-a", "x"), "alice")
	require.NoError(t, err)

	_, err = s.LockRule(ctx, "r1", "alice")
	require.NoError(t, err)

	_, err = s.LockRule(ctx, "r1", "bob")
	assert.ErrorIs(t, err, ErrLocked)
	_, err = s.SaveRule(ctx, r, "bob")
	assert.ErrorIs(t, err, ErrLocked)

	// The holder can still save, and the lock survives the save.
	saved, err := s.SaveRule(ctx, r, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", saved.LockedBy)

	assert.ErrorIs(t, s.UnlockRule(ctx, "r1", "bob", false), ErrLocked)

	// Expired locks are taken over.
	clock.Advance(11 * time.Minute)
	locked, err := s.LockRule(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", locked.LockedBy)

	require.NoError(t, s.UnlockRule(ctx, "r1", "alice", true))
	got, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)
}

func TestSaveRule_UpdateIsUndoable(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, err := s.SaveRule(ctx, testRule("r1", "fam-a", "old heading"), "")
	require.NoError(t, err)
	_, err = s.SaveRule(ctx, testRule("r1", "fam-a", "new heading"), "")
	require.NoError(t, err)

	step, err := s.Undo(ctx)
	require.NoError(t, err)
	require.NotNil(t, step)

	got, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, `"old heading"`, got.FilterDSL)
	assert.Equal(t, 1, got.Version)
}

func TestPublishRule(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	_, err := s.SaveRule(ctx, testRule("r1", "fam-a", "x"), "")
	require.NoError(t, err)

	r, err := s.PublishRule(ctx, "r1", "")
	require.NoError(t, err)
	assert.Equal(t, ir.RulePublished, r.Status)

	published, err := s.ListRules(ctx, RuleFilter{Status: ir.RulePublished})
	require.NoError(t, err)
	assert.Len(t, published, 1)

	_, err = s.PublishRule(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
