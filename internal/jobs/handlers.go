package jobs

import (
	"context"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/export"
	"github.com/roach88/famlink/internal/ir"
)

func (e *Env) preview(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[PreviewParams](job)
	if err != nil {
		return nil, err
	}
	if err := e.requireProtocol(); err != nil {
		return nil, err
	}
	progress(10, "scanning")
	return e.Protocol.Preview(ctx, commit.PreviewRequest{
		RuleID:          p.RuleID,
		ScopeID:         p.ScopeID,
		HeadingFilter:   p.HeadingFilter,
		ArticleConcepts: p.ArticleConcepts,
		DocIDs:          p.DocIDs,
		MaxDocs:         p.MaxDocs,
		Lineage:         p.Lineage,
	})
}

func (e *Env) apply(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[ApplyParams](job)
	if err != nil {
		return nil, err
	}
	if err := e.requireProtocol(); err != nil {
		return nil, err
	}
	if len(p.AcceptTiers) > 0 {
		n, err := e.Protocol.AcceptTiers(ctx, p.PreviewID, p.AcceptTiers)
		if err != nil {
			return nil, err
		}
		e.logger().Info("accepted candidates", "job_id", job.ID, "preview_id", p.PreviewID, "count", n)
	}
	progress(20, "applying")
	return e.Protocol.Apply(ctx, p.PreviewID, p.CandidateSetHash)
}

func (e *Env) canary(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[CanaryParams](job)
	if err != nil {
		return nil, err
	}
	if err := e.requireProtocol(); err != nil {
		return nil, err
	}
	return e.Protocol.Canary(ctx, commit.CanaryRequest{
		RuleID:     p.RuleID,
		SampleSize: p.SampleSize,
		DocIDs:     p.DocIDs,
		JobID:      job.ID,
	})
}

func (e *Env) batchRun(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[BatchRunParams](job)
	if err != nil {
		return nil, err
	}
	if err := e.requireProtocol(); err != nil {
		return nil, err
	}
	return e.Protocol.BatchRun(ctx, commit.BatchRequest{
		RuleIDs: p.RuleIDs,
		MinTier: p.MinTier,
		DocIDs:  p.DocIDs,
		Lineage: p.Lineage,
		JobID:   job.ID,
		Progress: func(done, total int) {
			progress(done*100/total, "rules committed")
		},
	})
}

func (e *Env) checkDrift(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[DriftParams](job)
	if err != nil {
		return nil, err
	}
	if err := e.requireProtocol(); err != nil {
		return nil, err
	}
	return e.Protocol.Drift(ctx, p.ScopeID)
}

func (e *Env) export(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[ExportParams](job)
	if err != nil {
		return nil, err
	}
	links, err := e.Store.ListLinks(ctx, ir.LinkFilter{ScopeID: p.ScopeID, Statuses: p.Statuses})
	if err != nil {
		return nil, err
	}
	progress(50, "writing rows")
	res, err := export.Export(ctx, links, export.Format(p.Format), p.Destination)
	if err != nil {
		return nil, err
	}
	e.logger().Info("export written", "job_id", job.ID, "destination", res.Destination, "rows", res.Rows)
	return res, nil
}
