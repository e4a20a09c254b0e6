package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
	"github.com/roach88/famlink/internal/testutil"
)

// Lineage stamped on every scenario preview.
var lineageDefaults = commit.LineageDefaults{
	CorpusVersion:   "corpus-2026.03",
	ParserVersion:   "parser-1.4.0",
	OntologyVersion: "ontology-12",
	GitSHA:          "3f2c9e1",
}

// Harness is the scenario execution engine. It runs against a fresh store
// on a deterministic clock and the in-memory test corpus.
type Harness struct {
	store    *store.Store
	protocol *commit.Protocol
	clock    *testutil.Clock
	logger   *slog.Logger
	seq      int64

	// preview is the most recent preview; apply and verdict actions default
	// to it and link lookups default to its scope.
	preview ir.Preview
}

type actionFunc func(h *Harness, ctx context.Context, args map[string]any) (map[string]any, error)

var actions = map[string]actionFunc{
	"save_rule":     (*Harness).saveRule,
	"add_alias":     (*Harness).addAlias,
	"preview":       (*Harness).runPreview,
	"accept_tiers":  (*Harness).acceptTiers,
	"set_verdict":   (*Harness).setVerdict,
	"apply":         (*Harness).apply,
	"unlink":        (*Harness).unlink,
	"relink":        (*Harness).relink,
	"reassign":      (*Harness).reassign,
	"undo":          (*Harness).undo,
	"redo":          (*Harness).redo,
	"advance_clock": (*Harness).advanceClock,
}

// Run executes a scenario and returns its result. Each run gets its own
// database in a temporary directory.
//
// Execution flow:
// 1. Open a fresh store and protocol over the test corpus
// 2. Execute setup steps, which must all succeed
// 3. Execute flow steps, tracing and checking expect clauses
// 4. Evaluate assertions against the trace and the tables
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "famlink-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewClock()
	st, err := store.Open(filepath.Join(dir, "famlink.db"), store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx := testutil.MemoryCorpus()
	h := &Harness{
		store: st,
		protocol: commit.New(st, idx, scan.NewScanner(idx, st, nil, logger),
			commit.WithLineageDefaults(lineageDefaults),
			commit.WithLogger(logger),
		),
		clock:  clock,
		logger: logger,
	}

	for i, step := range scenario.Setup {
		_, c, err := h.call(ctx, step.Action, step.Args)
		if err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
		if c != caseOK {
			return nil, fmt.Errorf("setup step %d (%s): completed with %s", i, step.Action, c)
		}
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Store: st, Ctx: ctx}) {
		result.AddError(msg)
	}
	return result, nil
}

// executeFlow runs every flow step and checks its expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		h.seq++
		result.AddInvocationTrace(step.Invoke, step.Args, h.seq)

		out, c, err := h.call(ctx, step.Invoke, step.Args)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}
		h.seq++
		result.AddCompletionTrace(c, out, h.seq)

		want := caseOK
		if step.Expect != nil {
			want = step.Expect.Case
		}
		if c != want {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %q, got %q", i, step.Invoke, want, c))
			continue
		}
		if step.Expect == nil {
			continue
		}
		for key, expected := range step.Expect.Result {
			if actual, ok := out[key]; !ok || !valuesEqual(actual, expected) {
				result.AddError(fmt.Sprintf("flow[%d] %s: result %s = %v, want %v", i, step.Invoke, key, out[key], expected))
			}
		}
		h.logger.Debug("flow step completed", "step", i, "action", step.Invoke, "case", c)
	}
	return nil
}

const caseOK = "ok"

// call runs one action and classifies its error into an outcome case.
// Errors without a known classification are returned as is.
func (h *Harness) call(ctx context.Context, action string, args map[string]any) (map[string]any, string, error) {
	fn, ok := actions[action]
	if !ok {
		return nil, "", fmt.Errorf("unknown action %q", action)
	}
	out, err := fn(h, ctx, args)
	c, err := outcome(err)
	if err != nil {
		return nil, "", err
	}
	if c != caseOK {
		out = nil
	}
	return out, c, nil
}

func outcome(err error) (string, error) {
	var ae *commit.ApplyError
	switch {
	case err == nil:
		return caseOK, nil
	case errors.As(err, &ae):
		return string(ae.Code), nil
	case commit.IsValidationError(err), errors.Is(err, store.ErrInvalidInput):
		return "invalid", nil
	case errors.Is(err, store.ErrNotFound):
		return "not_found", nil
	case errors.Is(err, store.ErrConflict):
		return "conflict", nil
	case errors.Is(err, store.ErrLocked):
		return "locked", nil
	}
	return "", err
}

func (h *Harness) saveRule(ctx context.Context, args map[string]any) (map[string]any, error) {
	r, err := h.store.SaveRule(ctx, ir.Rule{
		ID:              str(args, "id"),
		FamilyID:        str(args, "scope"),
		FilterDSL:       str(args, "filter"),
		ArticleConcepts: strs(args, "article_concepts"),
	}, str(args, "editor"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"version": r.Version, "scope_id": r.ScopeID}, nil
}

func (h *Harness) addAlias(ctx context.Context, args map[string]any) (map[string]any, error) {
	cycle, err := h.store.AddAlias(ctx, str(args, "legacy"), str(args, "canonical"), str(args, "source"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"cycle": cycle}, nil
}

func (h *Harness) runPreview(ctx context.Context, args map[string]any) (map[string]any, error) {
	pv, err := h.protocol.Preview(ctx, commit.PreviewRequest{
		RuleID: str(args, "rule_id"),
		DocIDs: strs(args, "doc_ids"),
	})
	if err != nil {
		return nil, err
	}
	h.preview = pv
	return map[string]any{
		"scope_id":        pv.ScopeID,
		"candidate_count": pv.CandidateCount,
		"high":            pv.ByTier[ir.TierHigh],
		"medium":          pv.ByTier[ir.TierMedium],
		"low":             pv.ByTier[ir.TierLow],
	}, nil
}

func (h *Harness) previewID(args map[string]any) string {
	if id := str(args, "preview_id"); id != "" {
		return id
	}
	return h.preview.ID
}

func (h *Harness) acceptTiers(ctx context.Context, args map[string]any) (map[string]any, error) {
	var tiers []ir.Tier
	for _, t := range strs(args, "tiers") {
		tiers = append(tiers, ir.Tier(t))
	}
	n, err := h.protocol.AcceptTiers(ctx, h.previewID(args), tiers)
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": n}, nil
}

func (h *Harness) setVerdict(ctx context.Context, args map[string]any) (map[string]any, error) {
	var keys []ir.TargetKey
	for _, s := range strs(args, "keys") {
		k, err := ir.ParseTargetKey(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		keys = append(keys, k)
	}
	n, err := h.protocol.SetVerdicts(ctx, h.previewID(args), keys, ir.Verdict(str(args, "verdict")))
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": n}, nil
}

func (h *Harness) apply(ctx context.Context, args map[string]any) (map[string]any, error) {
	res, err := h.protocol.Apply(ctx, h.previewID(args), str(args, "expected_hash"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"links_created": res.LinksCreated,
		"links_updated": res.LinksUpdated,
		"links_skipped": res.LinksSkipped,
	}, nil
}

// link finds the link at args["key"] in args["scope"] (default: the scope
// of the current preview).
func (h *Harness) link(ctx context.Context, args map[string]any) (ir.Link, error) {
	key, err := ir.ParseTargetKey(str(args, "key"))
	if err != nil {
		return ir.Link{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	scope := str(args, "scope")
	if scope == "" {
		scope = h.preview.ScopeID
	}
	links, err := h.store.ListLinks(ctx, ir.LinkFilter{ScopeID: scope, DocID: key.DocID})
	if err != nil {
		return ir.Link{}, err
	}
	for _, l := range links {
		if l.Key() == key {
			return l, nil
		}
	}
	return ir.Link{}, fmt.Errorf("link %s in %s: %w", key, scope, store.ErrNotFound)
}

func linkSummary(l ir.Link) map[string]any {
	return map[string]any{"status": string(l.Status), "scope_id": l.ScopeID}
}

func (h *Harness) unlink(ctx context.Context, args map[string]any) (map[string]any, error) {
	l, err := h.link(ctx, args)
	if err != nil {
		return nil, err
	}
	l, err = h.store.Unlink(ctx, l.ID, str(args, "reason"), str(args, "note"))
	if err != nil {
		return nil, err
	}
	return linkSummary(l), nil
}

func (h *Harness) relink(ctx context.Context, args map[string]any) (map[string]any, error) {
	l, err := h.link(ctx, args)
	if err != nil {
		return nil, err
	}
	l, err = h.store.Relink(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	return linkSummary(l), nil
}

func (h *Harness) reassign(ctx context.Context, args map[string]any) (map[string]any, error) {
	l, err := h.link(ctx, args)
	if err != nil {
		return nil, err
	}
	l, err = h.store.Reassign(ctx, l.ID, str(args, "to"))
	if err != nil {
		return nil, err
	}
	return linkSummary(l), nil
}

func (h *Harness) undo(ctx context.Context, _ map[string]any) (map[string]any, error) {
	return historySummary(h.store.Undo(ctx))
}

func (h *Harness) redo(ctx context.Context, _ map[string]any) (map[string]any, error) {
	return historySummary(h.store.Redo(ctx))
}

func historySummary(step *ir.HistoryStep, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	n := 0
	if step != nil {
		n = step.Actions
	}
	return map[string]any{"actions": n}, nil
}

func (h *Harness) advanceClock(_ context.Context, args map[string]any) (map[string]any, error) {
	d, err := time.ParseDuration(str(args, "duration"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	h.clock.Advance(d)
	return nil, nil
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func strs(args map[string]any, key string) []string {
	list, _ := args[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
