package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
)

func TestInsertLink_UniqueKey(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	insertLinks(t, s, testLink("l1", "fam-a", "d1", "1.01"))
	err := s.InsertLink(ctx, testLink("l2", "fam-a", "d1", "1.01"))
	assert.ErrorIs(t, err, ErrConflict)

	// Same target under another scope is a different key.
	require.NoError(t, s.InsertLink(ctx, testLink("l3", "fam-b", "d1", "1.01")))
}

func TestGetLink_RoundTrip(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	want := testLink("l1", "fam-a", "d1", "1.01")
	insertLinks(t, s, want)

	got, err := s.GetLink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.GetLink(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindLink_PrefersCanonicalScope(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertLinks(t, s,
		testLink("old", "fam-old", "d1", "1.01"),
		testLink("new", "fam-new", "d1", "1.01"),
	)
	key := ir.TargetKey{DocID: "d1", SectionNumber: "1.01", ClauseKey: ir.SectionClauseKey}

	got, err := s.FindLink(ctx, []string{"fam-new", "fam-old"}, "fam-new", key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.ID)

	got, err = s.FindLink(ctx, []string{"fam-zzz"}, "fam-zzz", key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnlinkRelink_ClearsReasonAndLogsTwoEvents(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertLinks(t, s, testLink("l1", "fam-a", "d1", "1.01"))

	l, err := s.Unlink(ctx, "l1", "wrong_section", "reviewer note")
	require.NoError(t, err)
	assert.Equal(t, ir.LinkUnlinked, l.Status)
	assert.Equal(t, "wrong_section", l.UnlinkedReason)
	assert.NotNil(t, l.UnlinkedAt)

	l, err = s.Relink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, ir.LinkActive, l.Status)

	got, err := s.GetLink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, ir.LinkActive, got.Status)
	assert.Empty(t, got.UnlinkedReason)
	assert.Empty(t, got.UnlinkedNote)
	assert.Nil(t, got.UnlinkedAt)

	events, err := s.ListEvents(ctx, ir.EntityLink, "l1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ir.EventUnlink, events[0].Type)
	assert.Equal(t, ir.EventRelink, events[1].Type)

	// Single-form transitions are not undoable.
	pos, err := s.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestUnlink_InvalidTransitions(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertLinks(t, s, testLink("l1", "fam-a", "d1", "1.01"))

	_, err := s.Relink(ctx, "l1")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Unlink(ctx, "l1", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Unlink(ctx, "l1", "dup", "")
	require.NoError(t, err)
	_, err = s.Unlink(ctx, "l1", "dup", "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Unlink(ctx, "missing", "x", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReassign(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertLinks(t, s,
		testLink("l1", "fam-a", "d1", "1.01"),
		testLink("l2", "fam-c", "d1", "1.01"),
	)
	_, err := s.AddAlias(ctx, "fam-b-old", "fam-b", "")
	require.NoError(t, err)

	l, err := s.Reassign(ctx, "l1", "fam-b-old")
	require.NoError(t, err)
	assert.Equal(t, "fam-b", l.ScopeID)

	// fam-c already holds d1/1.01.
	_, err = s.Reassign(ctx, "l1", "fam-c")
	assert.ErrorIs(t, err, ErrConflict)

	events, err := s.ListEvents(ctx, ir.EntityLink, "l1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"from_scope":"fam-a","to_scope":"fam-b"}`, string(events[0].Payload))
}

func TestUnlinkBatch_IsUndoable(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertLinks(t, s,
		testLink("l1", "fam-a", "d1", "1.01"),
		testLink("l2", "fam-a", "d1", "1.02"),
	)
	before1, _ := s.GetLink(ctx, "l1")
	before2, _ := s.GetLink(ctx, "l2")

	batchID, links, err := s.UnlinkBatch(ctx, []string{"l1", "l2"}, "bulk_cleanup", "")
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	assert.Len(t, links, 2)

	step, err := s.Undo(ctx)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, batchID, step.BatchID)
	assert.Equal(t, 2, step.Actions)

	got1, _ := s.GetLink(ctx, "l1")
	got2, _ := s.GetLink(ctx, "l2")
	assert.Equal(t, before1, got1)
	assert.Equal(t, before2, got2)

	// Events are audit records and survive the undo.
	events, err := s.ListEvents(ctx, ir.EntityLink, "")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestUnlinkBatch_AllOrNothing(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	insertLinks(t, s, testLink("l1", "fam-a", "d1", "1.01"))

	_, _, err := s.UnlinkBatch(ctx, []string{"l1", "missing"}, "x", "")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetLink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, ir.LinkActive, got.Status)
}

func TestListLinks_StatusFilter(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	pending := testLink("l2", "fam-a", "d1", "1.02")
	pending.Status = ir.LinkPendingReview
	insertLinks(t, s, testLink("l1", "fam-a", "d1", "1.01"), pending)

	links, err := s.ListLinks(ctx, ir.LinkFilter{ScopeID: "fam-a", Statuses: []ir.LinkStatus{ir.LinkPendingReview}})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "l2", links[0].ID)

	links, err = s.ListLinks(ctx, ir.LinkFilter{DocID: "d9"})
	require.NoError(t, err)
	assert.NotNil(t, links)
	assert.Empty(t, links)
}
