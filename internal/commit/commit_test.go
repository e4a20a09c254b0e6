package commit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
	"github.com/roach88/famlink/internal/testutil"
)

var defaults = commit.LineageDefaults{
	CorpusVersion:   "corpus-2026.03",
	ParserVersion:   "parser-1.4.0",
	OntologyVersion: "ontology-12",
	GitSHA:          "3f2c9e1",
}

type fixture struct {
	p     *commit.Protocol
	s     *store.Store
	clock *testutil.Clock
}

func newFixture(t *testing.T, opts ...commit.Option) fixture {
	t.Helper()
	clock := testutil.NewClock()
	s := testutil.OpenStore(t, clock)
	idx := testutil.MemoryCorpus()
	all := append([]commit.Option{commit.WithLineageDefaults(defaults)}, opts...)
	p := commit.New(s, idx, scan.NewScanner(idx, s, nil, nil), all...)
	return fixture{p: p, s: s, clock: clock}
}

// saveRule stores rule r1 on fam-debt matching three sections:
// ca-001/7.01 and ca-002/6.02 (high) and ca-002/6.01 (medium).
func (f fixture) saveRule(t *testing.T) ir.Rule {
	t.Helper()
	r, err := f.s.SaveRule(context.Background(), testutil.Rule("r1", "fam-debt", "Indebtedness", "Negative Pledge"), "")
	require.NoError(t, err)
	return r
}

func (f fixture) previewAll(t *testing.T) ir.Preview {
	t.Helper()
	ctx := context.Background()
	pv, err := f.p.Preview(ctx, commit.PreviewRequest{RuleID: "r1"})
	require.NoError(t, err)
	_, err = f.p.AcceptTiers(ctx, pv.ID, ir.Tiers)
	require.NoError(t, err)
	return pv
}

func TestPreview_TierBreakdown(t *testing.T) {
	f := newFixture(t)
	f.saveRule(t)

	pv, err := f.p.Preview(context.Background(), commit.PreviewRequest{RuleID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, 3, pv.CandidateCount)
	assert.Equal(t, ir.TierCounts{ir.TierHigh: 2, ir.TierMedium: 1, ir.TierLow: 0}, pv.ByTier)
	data, err := json.Marshal(pv.ByTier)
	require.NoError(t, err)
	assert.JSONEq(t, `{"high":2,"medium":1,"low":0}`, string(data))

	assert.Equal(t, ir.MustCandidateSetHash([]ir.TargetKey{
		{DocID: "ca-002", SectionNumber: "6.02", ClauseKey: ir.SectionClauseKey},
		{DocID: "ca-001", SectionNumber: "7.01", ClauseKey: ir.SectionClauseKey},
		{DocID: "ca-002", SectionNumber: "6.01", ClauseKey: ir.SectionClauseKey},
	}), pv.CandidateSetHash, "hash is order independent")
	assert.Equal(t, pv.CreatedAt.Add(commit.DefaultPreviewTTL), pv.ExpiresAt)
	assert.Equal(t, "fam-debt", pv.ScopeID)
	assert.Equal(t, 1, pv.RuleVersion)

	stored, err := f.s.GetPreview(context.Background(), pv.ID)
	require.NoError(t, err)
	assert.Equal(t, pv.CandidateSetHash, stored.CandidateSetHash)
	assert.Equal(t, pv.Lineage.Fields(), stored.Lineage.Fields())
	assert.Nil(t, stored.AppliedAt)
}

func TestPreview_AdHocFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ast, err := filter.Encode(filter.Any("Liens"))
	require.NoError(t, err)

	pv, err := f.p.Preview(ctx, commit.PreviewRequest{ScopeID: "fam-liens", HeadingFilter: ast, DocIDs: []string{"ca-001"}})
	require.NoError(t, err)
	assert.Equal(t, 1, pv.CandidateCount)
	assert.Empty(t, pv.RuleID)

	_, err = f.p.Preview(ctx, commit.PreviewRequest{HeadingFilter: ast})
	assert.True(t, commit.IsValidationError(err))

	_, err = f.p.Preview(ctx, commit.PreviewRequest{ScopeID: "fam-liens", HeadingFilter: json.RawMessage(`not json`)})
	var ve *commit.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "heading_filter_ast", ve.Field)
}

func TestPreview_RejectsPlaceholderLineage(t *testing.T) {
	f := newFixture(t)
	f.saveRule(t)

	_, err := f.p.Preview(context.Background(), commit.PreviewRequest{
		RuleID:  "r1",
		Lineage: ir.Lineage{GitSHA: "TODO"},
	})
	var ve *commit.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "lineage.git_sha", ve.Field)

	previews, err := f.s.ListPreviews(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, previews)
}

func TestApply_CreatesLinksRunAndUndoBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	pv := f.previewAll(t)

	res, err := f.p.Apply(ctx, pv.ID, pv.CandidateSetHash)
	require.NoError(t, err)
	assert.Equal(t, 3, res.LinksCreated)
	assert.Zero(t, res.LinksUpdated)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{ScopeID: "fam-debt"})
	require.NoError(t, err)
	require.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, ir.LinkActive, l.Status)
		assert.Equal(t, res.RunID, l.RunID)
		assert.Equal(t, "r1", l.RuleID)
		assert.Equal(t, pv.Lineage, l.Lineage)
		assert.NotEmpty(t, l.ClauseText)
	}

	run, err := f.s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ir.RunApply, run.Type)
	assert.Equal(t, pv.ID, run.PreviewID)
	assert.Equal(t, 3, run.Counts.Created)

	actions, err := f.s.ListActions(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, actions, 3)

	applied, err := f.s.GetPreview(ctx, pv.ID)
	require.NoError(t, err)
	assert.NotNil(t, applied.AppliedAt)
}

func TestApply_OnlyAcceptedCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	pv, err := f.p.Preview(ctx, commit.PreviewRequest{RuleID: "r1"})
	require.NoError(t, err)

	n, err := f.p.AcceptTiers(ctx, pv.ID, []ir.Tier{ir.TierHigh})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = f.p.SetVerdicts(ctx, pv.ID, []ir.TargetKey{{DocID: "ca-002", SectionNumber: "6.02", ClauseKey: ir.SectionClauseKey}}, ir.VerdictRejected)
	require.NoError(t, err)

	res, err := f.p.Apply(ctx, pv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.LinksCreated)
}

func TestApply_TwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	pv := f.previewAll(t)

	first, err := f.p.Apply(ctx, pv.ID, pv.CandidateSetHash)
	require.NoError(t, err)
	second, err := f.p.Apply(ctx, pv.ID, pv.CandidateSetHash)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 3, first.LinksCreated)
	assert.Zero(t, second.LinksCreated)
	assert.Zero(t, second.LinksUpdated)
	assert.Equal(t, 3, second.LinksSkipped)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{})
	require.NoError(t, err)
	assert.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, first.RunID, l.RunID, "unchanged links keep their run")
	}
	runs, err := f.s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	f.clock.Advance(2 * time.Hour)
	_, err = f.p.Apply(ctx, pv.ID, "")
	assert.True(t, commit.IsApplyError(err, commit.CodeExpired))
	runs, err = f.s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestApply_ReapplyPicksUpNewlyAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	pv, err := f.p.Preview(ctx, commit.PreviewRequest{RuleID: "r1"})
	require.NoError(t, err)
	_, err = f.p.AcceptTiers(ctx, pv.ID, []ir.Tier{ir.TierHigh})
	require.NoError(t, err)

	first, err := f.p.Apply(ctx, pv.ID, pv.CandidateSetHash)
	require.NoError(t, err)
	assert.Equal(t, 2, first.LinksCreated)

	_, err = f.p.AcceptTiers(ctx, pv.ID, []ir.Tier{ir.TierMedium})
	require.NoError(t, err)
	second, err := f.p.Apply(ctx, pv.ID, pv.CandidateSetHash)
	require.NoError(t, err)
	assert.Equal(t, 1, second.LinksCreated)
	assert.Equal(t, 2, second.LinksSkipped)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{ScopeID: "fam-debt"})
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func TestApply_ReapplyAfterUndoRestoresLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	pv := f.previewAll(t)

	_, err := f.p.Apply(ctx, pv.ID, "")
	require.NoError(t, err)
	step, err := f.s.Undo(ctx)
	require.NoError(t, err)
	require.NotNil(t, step)

	res, err := f.p.Apply(ctx, pv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.LinksUpdated)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{})
	require.NoError(t, err)
	require.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, ir.LinkActive, l.Status)
		assert.Empty(t, l.UnlinkedReason)
	}
}

func assertNoWrites(t *testing.T, s *store.Store, previewID string) {
	t.Helper()
	ctx := context.Background()
	links, err := s.ListLinks(ctx, ir.LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)
	runs, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	pos, err := s.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)
	if previewID != "" {
		pv, err := s.GetPreview(ctx, previewID)
		require.NoError(t, err)
		assert.Nil(t, pv.AppliedAt)
	}
}

func TestApply_HashMismatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.saveRule(t)
	pv := f.previewAll(t)

	_, err := f.p.Apply(context.Background(), pv.ID, "deadbeef")
	require.Error(t, err)
	assert.True(t, commit.IsApplyError(err, commit.CodeHashMismatch))
	var ae *commit.ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 409, ae.Status())
	assertNoWrites(t, f.s, pv.ID)
}

func TestApply_ExpiredWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.saveRule(t)
	pv := f.previewAll(t)
	f.clock.Advance(time.Hour)

	_, err := f.p.Apply(context.Background(), pv.ID, pv.CandidateSetHash)
	assert.True(t, commit.IsApplyError(err, commit.CodeExpired))
	var ae *commit.ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 409, ae.Status())
	assertNoWrites(t, f.s, pv.ID)
}

func TestApply_ExpiryIsCheckedBeforeHash(t *testing.T) {
	f := newFixture(t, commit.WithTTL(time.Minute))
	f.saveRule(t)
	pv := f.previewAll(t)
	f.clock.Advance(time.Minute)

	_, err := f.p.Apply(context.Background(), pv.ID, "deadbeef")
	assert.True(t, commit.IsApplyError(err, commit.CodeExpired))
}

func TestApply_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Apply(context.Background(), "missing", "")
	var ae *commit.ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, commit.CodeNotFound, ae.Code)
	assert.Equal(t, 404, ae.Status())
	assertNoWrites(t, f.s, "")

	_, err = f.p.SetVerdicts(context.Background(), "missing", nil, ir.VerdictAccepted)
	assert.True(t, commit.IsApplyError(err, commit.CodeNotFound))
}

func TestApply_SecondPreviewUpdatesLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	first := f.previewAll(t)
	_, err := f.p.Apply(ctx, first.ID, "")
	require.NoError(t, err)

	// A new rule version re-commits the same keys.
	r, err := f.s.GetRule(ctx, "r1")
	require.NoError(t, err)
	_, err = f.s.SaveRule(ctx, r, "")
	require.NoError(t, err)
	second := f.previewAll(t)
	assert.Equal(t, first.CandidateSetHash, second.CandidateSetHash)

	res, err := f.p.Apply(ctx, second.ID, second.CandidateSetHash)
	require.NoError(t, err)
	assert.Zero(t, res.LinksCreated)
	assert.Equal(t, 3, res.LinksUpdated)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{})
	require.NoError(t, err)
	require.Len(t, links, 3)
	for _, l := range links {
		assert.Equal(t, 2, l.RuleVersion)
		assert.Equal(t, res.RunID, l.RunID)
	}
}

func TestApply_UnchangedLinksAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	first := f.previewAll(t)
	_, err := f.p.Apply(ctx, first.ID, "")
	require.NoError(t, err)

	second := f.previewAll(t)
	res, err := f.p.Apply(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.LinksSkipped)
	assert.Zero(t, res.LinksCreated+res.LinksUpdated)
}

func TestApply_UpdatesLegacyAliasLinkAndClearsUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.s.AddAlias(ctx, "fam-debt-v1", "fam-debt", "migration")
	require.NoError(t, err)
	require.NoError(t, f.s.InsertLink(ctx, testutil.Link("legacy", "fam-debt-v1", "ca-001", "7.01")))
	_, err = f.s.Unlink(ctx, "legacy", "wrong_section", "")
	require.NoError(t, err)

	f.saveRule(t)
	pv := f.previewAll(t)
	res, err := f.p.Apply(ctx, pv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.LinksCreated)
	assert.Equal(t, 1, res.LinksUpdated)

	l, err := f.s.GetLink(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "fam-debt", l.ScopeID)
	assert.Equal(t, ir.LinkActive, l.Status)
	assert.Nil(t, l.UnlinkedAt)
	assert.Empty(t, l.UnlinkedReason)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{DocID: "ca-001"})
	require.NoError(t, err)
	assert.Len(t, links, 1, "at most one link per key")
}

func TestApply_UndoRedo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRule(t)
	pv := f.previewAll(t)
	res, err := f.p.Apply(ctx, pv.ID, "")
	require.NoError(t, err)

	step, err := f.s.Undo(ctx)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, res.RunID, step.BatchID)
	assert.Equal(t, 3, step.Actions)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{})
	require.NoError(t, err)
	require.Len(t, links, 3, "links are never deleted")
	for _, l := range links {
		assert.Equal(t, ir.LinkUnlinked, l.Status)
		assert.Equal(t, "undone", l.UnlinkedReason)
	}

	_, err = f.s.Redo(ctx)
	require.NoError(t, err)
	active, err := f.s.ListLinks(ctx, ir.LinkFilter{Statuses: []ir.LinkStatus{ir.LinkActive}})
	require.NoError(t, err)
	assert.Len(t, active, 3)
	for _, l := range active {
		assert.Empty(t, l.UnlinkedReason)
	}
}

func TestApply_ClauseLevelCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.s.SaveRule(ctx, testutil.Rule("r2", "fam-leases", "Capital Leases"), "")
	require.NoError(t, err)
	pv, err := f.p.Preview(ctx, commit.PreviewRequest{RuleID: "r2"})
	require.NoError(t, err)
	_, err = f.p.AcceptTiers(ctx, pv.ID, ir.Tiers)
	require.NoError(t, err)

	_, err = f.p.Apply(ctx, pv.ID, "")
	require.NoError(t, err)

	links, err := f.s.ListLinks(ctx, ir.LinkFilter{ScopeID: "fam-leases"})
	require.NoError(t, err)
	require.Len(t, links, 1)
	l := links[0]
	assert.Equal(t, "b", l.ClauseID)
	assert.Equal(t, "b", l.ClauseKey)
	assert.Equal(t, "(b) Capital Leases up to $5,000,000.", l.ClauseText)
	assert.Equal(t, len(l.ClauseText), l.SpanEnd-l.SpanStart)
}
