package commit

import (
	"context"
	"fmt"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
)

// BatchRequest names the rules a pipeline commits directly, without review.
type BatchRequest struct {
	RuleIDs []string   `json:"rule_ids"`
	MinTier ir.Tier    `json:"min_tier,omitempty"`
	DocIDs  []string   `json:"doc_ids,omitempty"`
	Lineage ir.Lineage `json:"lineage"`
	JobID   string     `json:"-"`

	// Progress, when set, is called after each rule is committed.
	Progress func(done, total int) `json:"-"`
}

// BatchResult reports a batch run.
type BatchResult struct {
	BatchID string   `json:"batch_id,omitempty"`
	Runs    []ir.Run `json:"runs"`
}

// BatchRun scans the rules in one pass and upserts every candidate at or
// above MinTier (default high). High-tier candidates become active links,
// others pending_review. Each rule gets a Run (full for a single rule, batch
// for several); all link writes form one undo batch.
func (p *Protocol) BatchRun(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if len(req.RuleIDs) == 0 {
		return BatchResult{}, &ValidationError{Field: "rule_ids", Reason: "at least one rule is required"}
	}
	minTier := req.MinTier
	if minTier == "" {
		minTier = ir.TierHigh
	}
	if !minTier.Valid() {
		return BatchResult{}, &ValidationError{Field: "min_tier", Reason: fmt.Sprintf("unknown tier %q", minTier)}
	}

	rules := make([]ir.Rule, len(req.RuleIDs))
	for i, id := range req.RuleIDs {
		r, err := p.store.GetRule(ctx, id)
		if err != nil {
			return BatchResult{}, err
		}
		rules[i] = r
	}
	scanned, err := p.scanner.ScanAll(ctx, rules, scan.Options{DocIDs: req.DocIDs})
	if err != nil {
		return BatchResult{}, err
	}
	runType := ir.RunFull
	if len(rules) > 1 {
		runType = ir.RunBatch
	}
	defaults := p.lineageDefaults(ctx)

	res := BatchResult{Runs: []ir.Run{}}
	err = p.store.WithTx(ctx, func(tx *store.Tx) error {
		var actions []ir.Action
		for i, rule := range rules {
			now := tx.Now()
			lineage, err := DeriveLineage(req.Lineage, defaults, rule, now)
			if err != nil {
				return err
			}
			runID := tx.NewID()
			u, err := newUpserter(ctx, tx, p.index, p.logger, rule.ScopeID, upsertMeta{
				runID:       runID,
				ruleID:      rule.ID,
				ruleVersion: rule.Version,
				lineage:     lineage,
				now:         now,
			})
			if err != nil {
				return err
			}
			for _, c := range scanned[i] {
				if !c.Tier.AtLeast(minTier) {
					u.counts.Skipped++
					continue
				}
				status := ir.LinkPendingReview
				if c.Tier == ir.TierHigh {
					status = ir.LinkActive
				}
				if err := u.upsert(ctx, c, status); err != nil {
					return err
				}
			}
			completed := tx.Now()
			run := ir.Run{
				ID:          runID,
				Type:        runType,
				ScopeID:     u.canonical,
				RuleID:      rule.ID,
				JobID:       req.JobID,
				Counts:      u.counts,
				StartedAt:   now,
				CompletedAt: &completed,
			}
			if err := tx.InsertRun(ctx, run); err != nil {
				return err
			}
			res.Runs = append(res.Runs, run)
			actions = append(actions, u.actions...)
			if req.Progress != nil {
				req.Progress(i+1, len(rules))
			}
		}
		if len(actions) == 0 {
			return nil
		}
		actions[0].BatchID = tx.NewID()
		batchID, err := tx.RecordAction(ctx, actions)
		res.BatchID = batchID
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}
	for _, r := range res.Runs {
		applyLinks.WithLabelValues("created").Add(float64(r.Counts.Created))
		applyLinks.WithLabelValues("updated").Add(float64(r.Counts.Updated))
		applyLinks.WithLabelValues("skipped").Add(float64(r.Counts.Skipped))
	}
	p.logger.Info("batch run complete", "rules", len(rules), "batch_id", res.BatchID)
	return res, nil
}
