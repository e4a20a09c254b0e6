package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/famlink/internal/corpus"
	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
)

// DefaultPreviewTTL is how long a preview stays appliable.
const DefaultPreviewTTL = time.Hour

// candidatePage is the page size used when reading a preview's candidates.
const candidatePage = 500

// Protocol runs previews, applies and the other committing operations.
type Protocol struct {
	store    *store.Store
	index    corpus.Index
	scanner  *scan.Scanner
	ttl      time.Duration
	defaults LineageDefaults
	logger   *slog.Logger
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithTTL overrides DefaultPreviewTTL.
func WithTTL(ttl time.Duration) Option {
	return func(p *Protocol) { p.ttl = ttl }
}

// WithLineageDefaults sets the deployment lineage values.
func WithLineageDefaults(d LineageDefaults) Option {
	return func(p *Protocol) { p.defaults = d }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

// New creates a Protocol over st and index.
func New(st *store.Store, index corpus.Index, scanner *scan.Scanner, opts ...Option) *Protocol {
	p := &Protocol{
		store:   st,
		index:   index,
		scanner: scanner,
		ttl:     DefaultPreviewTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PreviewRequest names the rule to preview, or carries an ad-hoc filter.
type PreviewRequest struct {
	RuleID string `json:"rule_id,omitempty"`

	// Ad-hoc previews set ScopeID and HeadingFilter instead of RuleID.
	ScopeID         string          `json:"scope_id,omitempty"`
	HeadingFilter   json.RawMessage `json:"heading_filter_ast,omitempty"`
	ArticleConcepts []string        `json:"article_concepts,omitempty"`

	DocIDs  []string   `json:"doc_ids,omitempty"`
	MaxDocs int        `json:"max_docs,omitempty"`
	Lineage ir.Lineage `json:"lineage"`
}

// Preview scans, hashes and persists a candidate snapshot.
func (p *Protocol) Preview(ctx context.Context, req PreviewRequest) (ir.Preview, error) {
	rule, err := p.previewRule(ctx, req)
	if err != nil {
		return ir.Preview{}, err
	}
	cands, err := p.scanner.Scan(ctx, rule, scan.Options{DocIDs: req.DocIDs, MaxDocs: req.MaxDocs})
	if err != nil {
		return ir.Preview{}, err
	}

	keys := make([]ir.TargetKey, len(cands))
	byTier := ir.NewTierCounts()
	for i, c := range cands {
		keys[i] = c.Key()
		byTier[c.Tier]++
	}
	hash, err := ir.CandidateSetHash(keys)
	if err != nil {
		return ir.Preview{}, fmt.Errorf("preview: %w", err)
	}

	now := p.store.Now()
	lineage, err := DeriveLineage(req.Lineage, p.lineageDefaults(ctx), rule, now)
	if err != nil {
		return ir.Preview{}, err
	}

	pv := ir.Preview{
		ID:               p.store.NewID(),
		RuleID:           req.RuleID,
		RuleVersion:      rule.Version,
		ScopeID:          rule.ScopeID,
		HeadingFilter:    rule.HeadingFilter,
		CandidateSetHash: hash,
		Lineage:          lineage,
		CandidateCount:   len(cands),
		ByTier:           byTier,
		CreatedAt:        now,
		ExpiresAt:        now.Add(p.ttl),
	}
	err = p.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertPreview(ctx, pv, cands)
	})
	if err != nil {
		return ir.Preview{}, err
	}

	previewsCreated.Inc()
	previewCandidates.Observe(float64(len(cands)))
	p.logger.Info("preview created",
		"preview_id", pv.ID,
		"rule_id", pv.RuleID,
		"scope_id", pv.ScopeID,
		"candidates", pv.CandidateCount,
	)
	return pv, nil
}

func (p *Protocol) previewRule(ctx context.Context, req PreviewRequest) (ir.Rule, error) {
	if req.RuleID != "" {
		return p.store.GetRule(ctx, req.RuleID)
	}
	if req.ScopeID == "" {
		return ir.Rule{}, &ValidationError{Field: "scope_id", Reason: "required without rule_id"}
	}
	if len(req.HeadingFilter) == 0 {
		return ir.Rule{}, &ValidationError{Field: "heading_filter_ast", Reason: "required without rule_id"}
	}
	node, err := filter.Decode(req.HeadingFilter)
	if err != nil {
		return ir.Rule{}, &ValidationError{Field: "heading_filter_ast", Reason: err.Error()}
	}
	ast, err := filter.Encode(node)
	if err != nil {
		return ir.Rule{}, err
	}
	scope, err := p.store.ResolveCanonicalScope(ctx, req.ScopeID)
	if err != nil {
		return ir.Rule{}, err
	}
	return ir.Rule{
		FamilyID:        req.ScopeID,
		ScopeID:         scope,
		HeadingFilter:   ast,
		FilterDSL:       filter.Render(node),
		ArticleConcepts: req.ArticleConcepts,
		ScopeMode:       ir.ScopeCorpus,
	}, nil
}

// lineageDefaults fills an empty corpus version from the index.
func (p *Protocol) lineageDefaults(ctx context.Context) LineageDefaults {
	d := p.defaults
	if d.CorpusVersion == "" && p.index != nil {
		if v, err := p.index.Version(ctx); err == nil {
			d.CorpusVersion = v
		}
	}
	return d
}

// ApplyResult reports a committed preview.
type ApplyResult struct {
	PreviewID    string `json:"preview_id"`
	RunID        string `json:"run_id"`
	LinksCreated int    `json:"links_created"`
	LinksUpdated int    `json:"links_updated"`
	LinksSkipped int    `json:"links_skipped"`
}

// Apply commits the accepted candidates of a preview.
//
// Checks run in order not_found, expired, hash_mismatch on every call; any
// failure returns an *ApplyError before a single write. Applying a preview
// again upserts its current accepted set under a new run; unchanged links
// are counted as skipped.
func (p *Protocol) Apply(ctx context.Context, previewID, expectedHash string) (ApplyResult, error) {
	var res ApplyResult
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		res, err = p.apply(ctx, tx, previewID, expectedHash)
		return err
	})
	if err != nil {
		var ae *ApplyError
		if errors.As(err, &ae) {
			applyRejections.WithLabelValues(string(ae.Code)).Inc()
			p.logger.Warn("apply rejected", "preview_id", previewID, "code", ae.Code, "error", ae.Message)
		}
		return ApplyResult{}, err
	}
	applyLinks.WithLabelValues("created").Add(float64(res.LinksCreated))
	applyLinks.WithLabelValues("updated").Add(float64(res.LinksUpdated))
	applyLinks.WithLabelValues("skipped").Add(float64(res.LinksSkipped))
	p.logger.Info("preview applied",
		"preview_id", previewID,
		"run_id", res.RunID,
		"created", res.LinksCreated,
		"updated", res.LinksUpdated,
		"skipped", res.LinksSkipped,
	)
	return res, nil
}

func (p *Protocol) apply(ctx context.Context, tx *store.Tx, previewID, expectedHash string) (ApplyResult, error) {
	pv, err := tx.GetPreview(ctx, previewID)
	if errors.Is(err, store.ErrNotFound) {
		return ApplyResult{}, &ApplyError{Code: CodeNotFound, PreviewID: previewID, Message: "preview does not exist"}
	}
	if err != nil {
		return ApplyResult{}, err
	}
	now := tx.Now()
	if pv.Expired(now) {
		return ApplyResult{}, &ApplyError{Code: CodeExpired, PreviewID: previewID,
			Message: fmt.Sprintf("expired at %s", pv.ExpiresAt.Format(time.RFC3339))}
	}
	if err := checkHash(pv, expectedHash); err != nil {
		return ApplyResult{}, err
	}
	if err := ValidateLineage(pv.Lineage); err != nil {
		return ApplyResult{}, err
	}

	runID := tx.NewID()
	u, err := newUpserter(ctx, tx, p.index, p.logger, pv.ScopeID, upsertMeta{
		runID:       runID,
		ruleID:      pv.RuleID,
		ruleVersion: pv.RuleVersion,
		lineage:     pv.Lineage,
		now:         now,
	})
	if err != nil {
		return ApplyResult{}, err
	}

	// One pass over every candidate: accepted ones are upserted and all keys
	// are re-hashed against the stored digest.
	var keys []ir.TargetKey
	var after *ir.TargetKey
	for {
		page, err := tx.ListCandidates(ctx, previewID, store.CandidateQuery{After: after, Limit: candidatePage})
		if err != nil {
			return ApplyResult{}, err
		}
		for _, c := range page {
			keys = append(keys, c.Key())
			if c.Verdict != ir.VerdictAccepted {
				continue
			}
			if err := u.upsert(ctx, c, ir.LinkActive); err != nil {
				return ApplyResult{}, err
			}
		}
		if len(page) < candidatePage {
			break
		}
		last := page[len(page)-1].Key()
		after = &last
	}
	stored, err := ir.CandidateSetHash(keys)
	if err != nil {
		return ApplyResult{}, err
	}
	if stored != pv.CandidateSetHash {
		return ApplyResult{}, &ApplyError{Code: CodeHashMismatch, PreviewID: previewID,
			Message: "stored candidates do not match the preview digest"}
	}

	completed := tx.Now()
	run := ir.Run{
		ID:          runID,
		Type:        ir.RunApply,
		ScopeID:     u.canonical,
		RuleID:      pv.RuleID,
		PreviewID:   previewID,
		Counts:      u.counts,
		StartedAt:   now,
		CompletedAt: &completed,
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return ApplyResult{}, err
	}
	if err := u.record(ctx, runID); err != nil {
		return ApplyResult{}, err
	}
	if err := tx.MarkPreviewApplied(ctx, previewID); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{
		PreviewID:    previewID,
		RunID:        runID,
		LinksCreated: u.counts.Created,
		LinksUpdated: u.counts.Updated,
		LinksSkipped: u.counts.Skipped,
	}, nil
}

func checkHash(pv ir.Preview, expected string) error {
	if expected == "" || expected == pv.CandidateSetHash {
		return nil
	}
	return &ApplyError{Code: CodeHashMismatch, PreviewID: pv.ID,
		Message: fmt.Sprintf("expected %s, preview has %s", expected, pv.CandidateSetHash)}
}

// SetVerdicts records a reviewer verdict on candidates of a preview.
func (p *Protocol) SetVerdicts(ctx context.Context, previewID string, keys []ir.TargetKey, verdict ir.Verdict) (int, error) {
	if _, err := p.openPreview(ctx, previewID); err != nil {
		return 0, err
	}
	if !verdict.Valid() {
		return 0, &ValidationError{Field: "verdict", Reason: fmt.Sprintf("unknown verdict %q", verdict)}
	}
	var n int
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.SetVerdicts(ctx, previewID, keys, verdict)
		return err
	})
	return n, err
}

// AcceptTiers accepts every candidate of a preview in one of tiers.
func (p *Protocol) AcceptTiers(ctx context.Context, previewID string, tiers []ir.Tier) (int, error) {
	if _, err := p.openPreview(ctx, previewID); err != nil {
		return 0, err
	}
	for _, t := range tiers {
		if !t.Valid() {
			return 0, &ValidationError{Field: "tiers", Reason: fmt.Sprintf("unknown tier %q", t)}
		}
	}
	return p.store.AcceptTiers(ctx, previewID, tiers)
}

func (p *Protocol) openPreview(ctx context.Context, previewID string) (ir.Preview, error) {
	pv, err := p.store.GetPreview(ctx, previewID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Preview{}, &ApplyError{Code: CodeNotFound, PreviewID: previewID, Message: "preview does not exist"}
	}
	return pv, err
}
