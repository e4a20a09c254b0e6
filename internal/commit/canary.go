package commit

import (
	"context"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
)

// DefaultCanarySample is the number of documents a canary scans.
const DefaultCanarySample = 20

// CanaryRequest names the rule to sample.
type CanaryRequest struct {
	RuleID     string   `json:"rule_id"`
	SampleSize int      `json:"sample_size,omitempty"`
	DocIDs     []string `json:"doc_ids,omitempty"`
	JobID      string   `json:"-"`
}

// Canary scans a bounded document sample and records what an apply of
// every candidate would do as a canary Run. It writes no links.
//
// Counts: Created is would-create, Skipped is already linked, Conflicts and
// Outliers count candidates with conflicts and low-tier candidates.
func (p *Protocol) Canary(ctx context.Context, req CanaryRequest) (ir.Run, error) {
	rule, err := p.store.GetRule(ctx, req.RuleID)
	if err != nil {
		return ir.Run{}, err
	}
	sample := req.SampleSize
	if sample <= 0 {
		sample = DefaultCanarySample
	}
	started := p.store.Now()
	cands, err := p.scanner.Scan(ctx, rule, scan.Options{DocIDs: req.DocIDs, MaxDocs: sample})
	if err != nil {
		return ir.Run{}, err
	}

	var run ir.Run
	err = p.store.WithTx(ctx, func(tx *store.Tx) error {
		canonical, err := tx.ResolveCanonicalScope(ctx, rule.ScopeID)
		if err != nil {
			return err
		}
		closure, err := tx.ResolveAliasClosure(ctx, canonical)
		if err != nil {
			return err
		}

		var counts ir.RunCounts
		for _, c := range cands {
			if len(c.Conflicts) > 0 {
				counts.Conflicts++
			}
			if c.Tier == ir.TierLow {
				counts.Outliers++
			}
			existing, err := tx.FindLink(ctx, closure, canonical, c.Key())
			if err != nil {
				return err
			}
			if existing != nil && existing.Status == ir.LinkActive {
				counts.Skipped++
			} else {
				counts.Created++
			}
		}

		completed := tx.Now()
		run = ir.Run{
			ID:          tx.NewID(),
			Type:        ir.RunCanary,
			ScopeID:     canonical,
			RuleID:      rule.ID,
			JobID:       req.JobID,
			Counts:      counts,
			StartedAt:   started,
			CompletedAt: &completed,
		}
		return tx.InsertRun(ctx, run)
	})
	if err != nil {
		return ir.Run{}, err
	}
	p.logger.Info("canary complete",
		"run_id", run.ID,
		"rule_id", rule.ID,
		"would_create", run.Counts.Created,
		"conflicts", run.Counts.Conflicts,
	)
	return run, nil
}
