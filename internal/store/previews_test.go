package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
)

func testCandidates(n int) []ir.Candidate {
	tiers := []ir.Tier{ir.TierHigh, ir.TierMedium, ir.TierLow}
	out := make([]ir.Candidate, n)
	for i := range out {
		out[i] = ir.Candidate{
			DocID:         fmt.Sprintf("d%d", i/4),
			SectionNumber: fmt.Sprintf("7.%02d", i%4),
			Heading:       "Indebtedness",
			MatchType:     ir.MatchExact,
			MatchedValue:  "Indebtedness",
			Confidence:    0.9,
			Tier:          tiers[i%3],
			Breakdown:     map[string]float64{"base": 0.9},
		}
	}
	return out
}

func insertTestPreview(t *testing.T, s *Store, id string, candidates []ir.Candidate) ir.Preview {
	t.Helper()
	keys := make([]ir.TargetKey, len(candidates))
	byTier := ir.NewTierCounts()
	for i, c := range candidates {
		keys[i] = c.Key()
		byTier[c.Tier]++
	}
	now := s.Now()
	p := ir.Preview{
		ID:               id,
		RuleID:           "r1",
		RuleVersion:      1,
		ScopeID:          "fam-debt",
		CandidateSetHash: ir.MustCandidateSetHash(keys),
		Lineage:          testLink("x", "", "", "").Lineage,
		CandidateCount:   len(candidates),
		ByTier:           byTier,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Hour),
	}
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertPreview(context.Background(), p, candidates)
	})
	require.NoError(t, err)
	return p
}

func TestInsertPreview_RoundTrip(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	want := insertTestPreview(t, s, "p1", testCandidates(6))

	got, err := s.GetPreview(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 6, got.ByTier.Total())

	cands, err := s.ListCandidates(ctx, "p1", CandidateQuery{})
	require.NoError(t, err)
	require.Len(t, cands, 6)
	assert.Equal(t, ir.VerdictPending, cands[0].Verdict)
	assert.Equal(t, 0.9, cands[0].Breakdown["base"])
	assert.Nil(t, cands[0].Conflicts)

	_, err = s.GetPreview(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertPreview_DuplicateCandidateRollsBack(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	c := testCandidates(1)
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertPreview(ctx, ir.Preview{
			ID: "p1", ScopeID: "fam-a", ByTier: ir.NewTierCounts(),
			CreatedAt: s.Now(), ExpiresAt: s.Now(),
		}, append(c, c[0]))
	})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.GetPreview(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCandidates_KeysetPagination(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertTestPreview(t, s, "p1", testCandidates(10))

	var seen []ir.TargetKey
	var after *ir.TargetKey
	for {
		page, err := s.ListCandidates(ctx, "p1", CandidateQuery{After: after, Limit: 3})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			seen = append(seen, c.Key())
		}
		last := page[len(page)-1].Key()
		after = &last
	}
	require.Len(t, seen, 10)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i-1].Less(seen[i]), "keys out of order at %d", i)
	}
}

func TestSetVerdictsAndAcceptTiers(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	cands := testCandidates(6)
	insertTestPreview(t, s, "p1", cands)

	n, err := s.SetVerdicts(ctx, "p1", []ir.TargetKey{cands[0].Key(), cands[1].Key(), {DocID: "nope"}}, ir.VerdictRejected)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.SetVerdicts(ctx, "p1", []ir.TargetKey{cands[0].Key()}, "maybe")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Tiers cycle high, medium, low: two high candidates.
	n, err = s.AcceptTiers(ctx, "p1", []ir.Tier{ir.TierHigh})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	accepted, err := s.ListCandidates(ctx, "p1", CandidateQuery{Verdict: ir.VerdictAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	for _, c := range accepted {
		assert.Equal(t, ir.TierHigh, c.Tier)
	}

	rejected, err := s.ListCandidates(ctx, "p1", CandidateQuery{Verdict: ir.VerdictRejected})
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	_, err = s.AcceptTiers(ctx, "p1", []ir.Tier{"great"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMarkPreviewApplied_FirstTimeOnly(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertTestPreview(t, s, "p1", testCandidates(1))

	require.NoError(t, s.MarkPreviewApplied(ctx, "p1"))
	first, err := s.GetPreview(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, first.AppliedAt)

	require.NoError(t, s.MarkPreviewApplied(ctx, "p1"))
	second, err := s.GetPreview(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, *first.AppliedAt, *second.AppliedAt)
}

func TestListPreviews_NewestFirst(t *testing.T) {
	s, _ := createTestStore(t)
	insertTestPreview(t, s, "p1", testCandidates(1))
	insertTestPreview(t, s, "p2", testCandidates(1))

	ps, err := s.ListPreviews(context.Background(), "fam-debt", 0)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "p2", ps[0].ID)
}

func TestRuns_ListAndGet(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	for i, typ := range []ir.RunType{ir.RunApply, ir.RunCanary, ir.RunApply} {
		done := s.Now()
		require.NoError(t, s.InsertRun(ctx, ir.Run{
			ID:          fmt.Sprintf("run-%d", i),
			Type:        typ,
			ScopeID:     "fam-a",
			Counts:      ir.RunCounts{Created: i},
			StartedAt:   s.Now(),
			CompletedAt: &done,
		}))
	}

	applies, err := s.ListRuns(ctx, RunFilter{ScopeID: "fam-a", Type: ir.RunApply})
	require.NoError(t, err)
	require.Len(t, applies, 2)
	assert.Equal(t, "run-2", applies[0].ID)

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, ir.RunCanary, got.Type)
	assert.Equal(t, 1, got.Counts.Created)

	_, err = s.GetRun(ctx, "run-9")
	assert.ErrorIs(t, err, ErrNotFound)
}
