package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/famlink/internal/corpus"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// undoneReason marks links whose insert was undone.
const undoneReason = "undone"

type upsertMeta struct {
	runID       string
	ruleID      string
	ruleVersion int
	lineage     ir.Lineage
	now         time.Time
}

type textKey struct{ doc, section string }

// upserter writes candidates as links inside one transaction and collects
// the undo actions and run counts for them.
type upserter struct {
	tx        *store.Tx
	index     corpus.Index
	logger    *slog.Logger
	meta      upsertMeta
	canonical string
	closure   []string
	texts     map[textKey]corpus.SectionText
	actions   []ir.Action
	counts    ir.RunCounts
}

// newUpserter resolves the alias set of scope once for the whole call.
func newUpserter(ctx context.Context, tx *store.Tx, index corpus.Index, logger *slog.Logger, scope string, meta upsertMeta) (*upserter, error) {
	canonical, err := tx.ResolveCanonicalScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	closure, err := tx.ResolveAliasClosure(ctx, canonical)
	if err != nil {
		return nil, err
	}
	return &upserter{
		tx:        tx,
		index:     index,
		logger:    logger,
		meta:      meta,
		canonical: canonical,
		closure:   closure,
		texts:     map[textKey]corpus.SectionText{},
	}, nil
}

// upsert writes c as a link with the given status. An existing link for any
// alias of the scope is updated in place and moved to the canonical scope;
// otherwise a new link is inserted. An active link is never demoted to
// pending_review.
func (u *upserter) upsert(ctx context.Context, c ir.Candidate, status ir.LinkStatus) error {
	if len(c.Conflicts) > 0 {
		u.counts.Conflicts++
	}
	if c.Tier == ir.TierLow {
		u.counts.Outliers++
	}

	text, start, end, err := u.clauseSpan(ctx, c)
	if err != nil {
		return err
	}

	existing, err := u.tx.FindLink(ctx, u.closure, u.canonical, c.Key())
	if err != nil {
		return err
	}
	if existing == nil {
		return u.insert(ctx, c, status, text, start, end)
	}

	next := *existing
	if existing.Status == ir.LinkActive && status == ir.LinkPendingReview {
		status = ir.LinkActive
	}
	next.ScopeID = u.canonical
	next.ClauseText, next.SpanStart, next.SpanEnd = text, start, end
	next.Confidence, next.Tier = c.Confidence, c.Tier
	next.Status = status
	next.RuleID, next.RuleVersion = u.meta.ruleID, u.meta.ruleVersion
	next.Lineage = u.meta.lineage
	next.UnlinkedAt, next.UnlinkedReason, next.UnlinkedNote = nil, "", ""

	if sameContent(*existing, next) {
		u.counts.Skipped++
		return nil
	}
	next.RunID = u.meta.runID
	next.UpdatedAt = u.meta.now

	forward, err := store.LinkPatch(next)
	if err != nil {
		return err
	}
	reverse, err := store.LinkPatch(*existing)
	if err != nil {
		return err
	}
	if err := u.tx.PatchLink(ctx, existing.ID, forward); err != nil {
		return err
	}
	u.actions = append(u.actions, ir.Action{
		EntityType:   ir.EntityLink,
		EntityID:     existing.ID,
		Operation:    ir.OpUpdate,
		ForwardPatch: forward,
		ReversePatch: reverse,
	})
	u.counts.Updated++
	return nil
}

func (u *upserter) insert(ctx context.Context, c ir.Candidate, status ir.LinkStatus, text string, start, end int) error {
	l := ir.Link{
		ID:            u.tx.NewID(),
		ScopeID:       u.canonical,
		DocID:         c.DocID,
		SectionNumber: c.SectionNumber,
		ClauseID:      c.ClauseID,
		ClauseKey:     ir.ClauseKey(c.ClauseID),
		ClauseText:    text,
		SpanStart:     start,
		SpanEnd:       end,
		Confidence:    c.Confidence,
		Tier:          c.Tier,
		Status:        status,
		RuleID:        u.meta.ruleID,
		RuleVersion:   u.meta.ruleVersion,
		RunID:         u.meta.runID,
		Lineage:       u.meta.lineage,
		CreatedAt:     u.meta.now,
		UpdatedAt:     u.meta.now,
	}
	if err := u.tx.InsertLink(ctx, l); err != nil {
		return err
	}

	undone := l
	undone.Status = ir.LinkUnlinked
	undoneAt := u.meta.now
	undone.UnlinkedAt = &undoneAt
	undone.UnlinkedReason = undoneReason
	forward, err := store.LinkPatch(l)
	if err != nil {
		return err
	}
	reverse, err := store.LinkPatch(undone)
	if err != nil {
		return err
	}
	u.actions = append(u.actions, ir.Action{
		EntityType:   ir.EntityLink,
		EntityID:     l.ID,
		Operation:    ir.OpInsert,
		ForwardPatch: forward,
		ReversePatch: reverse,
	})
	u.counts.Created++
	return nil
}

// clauseSpan resolves a candidate's text and span, caching section text for
// the rest of the call. A missing section commits with empty text; an
// unknown clause falls back to the whole section.
func (u *upserter) clauseSpan(ctx context.Context, c ir.Candidate) (string, int, int, error) {
	if u.index == nil {
		return "", 0, 0, nil
	}
	k := textKey{c.DocID, c.SectionNumber}
	st, ok := u.texts[k]
	if !ok {
		var err error
		st, err = u.index.GetSectionText(ctx, c.DocID, c.SectionNumber)
		if errors.Is(err, corpus.ErrNotFound) {
			u.logger.Warn("section text missing", "doc_id", c.DocID, "section_number", c.SectionNumber)
			st = corpus.SectionText{DocID: c.DocID, SectionNumber: c.SectionNumber}
		} else if err != nil {
			return "", 0, 0, fmt.Errorf("resolve clause text: %w", err)
		}
		u.texts[k] = st
	}
	if text, start, end, ok := st.Span(c.ClauseID); ok {
		return text, start, end, nil
	}
	u.logger.Warn("clause span missing", "doc_id", c.DocID, "section_number", c.SectionNumber, "clause_id", c.ClauseID)
	text, start, end, _ := st.Span("")
	return text, start, end, nil
}

// record stores the collected actions as one undo batch.
func (u *upserter) record(ctx context.Context, batchID string) error {
	if len(u.actions) == 0 {
		return nil
	}
	u.actions[0].BatchID = batchID
	_, err := u.tx.RecordAction(ctx, u.actions)
	return err
}

// sameContent reports whether b would change nothing about a.
func sameContent(a, b ir.Link) bool {
	return a.ScopeID == b.ScopeID &&
		a.Status == b.Status &&
		a.ClauseText == b.ClauseText &&
		a.SpanStart == b.SpanStart &&
		a.SpanEnd == b.SpanEnd &&
		a.Confidence == b.Confidence &&
		a.Tier == b.Tier &&
		a.RuleID == b.RuleID &&
		a.RuleVersion == b.RuleVersion &&
		a.UnlinkedAt == nil &&
		sameLineage(a.Lineage, b.Lineage)
}

// sameLineage compares version fields, ignoring the creation timestamp.
func sameLineage(a, b ir.Lineage) bool {
	af, bf := a.Fields(), b.Fields()
	for i := range af {
		if af[i].Value != bf[i].Value {
			return false
		}
	}
	return true
}
