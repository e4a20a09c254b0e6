package scan

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/famlink/internal/corpus"
	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
)

// Store is the read side of the link store a scan consults. *store.Store
// and *store.Tx satisfy it.
type Store interface {
	ResolveAliasClosure(ctx context.Context, id string) ([]string, error)
	ListLinks(ctx context.Context, f ir.LinkFilter) ([]ir.Link, error)
	ConflictPolicy(ctx context.Context, scopeA, scopeB string) (string, error)
	Calibration(ctx context.Context, scopeID string) (float64, error)
}

// Options narrows a scan.
type Options struct {
	// DocIDs restricts the scan to these documents. Empty scans the cohort.
	DocIDs []string

	// MaxDocs caps the number of documents scanned. Zero means no cap.
	MaxDocs int
}

// Scanner produces candidates for rules. It holds no per-scan state and is
// safe for concurrent use.
type Scanner struct {
	index  corpus.Index
	store  Store
	scorer Scorer
	logger *slog.Logger
}

// NewScanner creates a Scanner. A nil scorer selects DefaultScorer; a nil
// logger selects slog.Default.
func NewScanner(index corpus.Index, store Store, scorer Scorer, logger *slog.Logger) *Scanner {
	if scorer == nil {
		scorer = DefaultScorer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{index: index, store: store, scorer: scorer, logger: logger}
}

// Scan returns the candidates of one rule ordered by identity key.
func (s *Scanner) Scan(ctx context.Context, rule ir.Rule, opts Options) ([]ir.Candidate, error) {
	out, err := s.ScanAll(ctx, []ir.Rule{rule}, opts)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ScanAll scans several rules as one pass. Candidates of earlier rules
// count as occupants of their sections when conflicts are computed for
// later rules. The result holds one candidate slice per rule, in rule order.
func (s *Scanner) ScanAll(ctx context.Context, rules []ir.Rule, opts Options) ([][]ir.Candidate, error) {
	st := &scanState{
		Scanner:   s,
		occupants: map[sectionKey][]occupant{},
		policies:  map[[2]string]string{},
		defs:      map[string][]corpus.Definition{},
		loaded:    map[string]bool{},
	}
	out := make([][]ir.Candidate, len(rules))
	for i, r := range rules {
		cands, err := st.scanRule(ctx, r, opts)
		if err != nil {
			return nil, fmt.Errorf("scan rule %s: %w", r.ID, err)
		}
		out[i] = cands
	}
	return out, nil
}

type sectionKey struct{ doc, section string }

type occupant struct {
	scope  string
	source string
}

// scanState carries caches that live for one ScanAll call.
type scanState struct {
	*Scanner
	occupants map[sectionKey][]occupant
	policies  map[[2]string]string
	defs      map[string][]corpus.Definition
	loaded    map[string]bool // docs whose persisted links are in occupants
}

// compiledRule is a rule prepared for matching.
type compiledRule struct {
	rule     ir.Rule
	scope    string
	closure  map[string]bool
	positive []string
	negated  []string
	concepts map[string]bool
}

func (st *scanState) compile(ctx context.Context, r ir.Rule) (compiledRule, error) {
	node, err := filter.Decode(r.HeadingFilter)
	if err != nil {
		return compiledRule{}, err
	}
	scope := r.ScopeID
	if scope == "" {
		scope = r.ScopeKey()
	}
	closure, err := st.store.ResolveAliasClosure(ctx, scope)
	if err != nil {
		return compiledRule{}, err
	}
	cr := compiledRule{
		rule:     r,
		scope:    scope,
		closure:  make(map[string]bool, len(closure)),
		positive: filter.Literals(node),
		negated:  filter.NegatedLiterals(node),
	}
	for _, id := range closure {
		cr.closure[id] = true
	}
	if len(r.ArticleConcepts) > 0 {
		cr.concepts = make(map[string]bool, len(r.ArticleConcepts))
		for _, c := range r.ArticleConcepts {
			cr.concepts[c] = true
		}
	}
	return cr, nil
}

func (st *scanState) scanRule(ctx context.Context, r ir.Rule, opts Options) ([]ir.Candidate, error) {
	cr, err := st.compile(ctx, r)
	if err != nil {
		return nil, err
	}

	var allowed map[sectionKey]bool
	docIDs := opts.DocIDs
	if r.ScopeMode == ir.ScopeInherited {
		allowed, err = st.inheritedSections(ctx, r.ParentFamilyID)
		if err != nil {
			return nil, err
		}
		docIDs = intersectDocs(docIDs, allowed)
		if len(docIDs) == 0 {
			return []ir.Candidate{}, nil
		}
	}

	q := corpus.CohortDocs(docIDs...)
	q.Limit = opts.MaxDocs
	docs, err := st.index.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	calibration, err := st.store.Calibration(ctx, cr.scope)
	if err != nil {
		return nil, err
	}

	cands := []ir.Candidate{}
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sections, err := st.index.SearchSections(ctx, d.DocID, true, 0)
		if err != nil {
			return nil, err
		}
		for _, sec := range sections {
			key := sectionKey{d.DocID, sec.SectionNumber}
			if allowed != nil && !allowed[key] {
				continue
			}
			found, err := st.scanSection(ctx, cr, sec, calibration)
			if err != nil {
				return nil, err
			}
			cands = append(cands, found...)
		}
	}

	slices.SortFunc(cands, func(a, b ir.Candidate) int {
		ka, kb := a.Key(), b.Key()
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		}
		return 0
	})
	st.logger.Debug("scan complete",
		"rule_id", r.ID,
		"scope_id", cr.scope,
		"docs", len(docs),
		"candidates", len(cands),
	)
	return cands, nil
}

// scanSection matches one section, falling back to its clause headings.
func (st *scanState) scanSection(ctx context.Context, cr compiledRule, sec corpus.Section, calibration float64) ([]ir.Candidate, error) {
	if cr.concepts != nil && !cr.concepts[sec.ArticleConcept] {
		return nil, nil
	}

	type target struct {
		clauseID string
		heading  string
		match    Match
	}
	var targets []target
	if !Excluded(sec.Heading, cr.negated) {
		if m := MatchHeading(sec.Heading, cr.positive); m.Matched() {
			targets = append(targets, target{heading: sec.Heading, match: m})
		}
	}
	if len(targets) == 0 {
		for _, c := range sec.Clauses {
			if Excluded(c.Heading, cr.negated) {
				continue
			}
			if m := MatchHeading(c.Heading, cr.positive); m.Matched() {
				targets = append(targets, target{clauseID: c.ClauseID, heading: c.Heading, match: m})
			}
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	defs, err := st.definitions(ctx, sec.DocID)
	if err != nil {
		return nil, err
	}
	key := sectionKey{sec.DocID, sec.SectionNumber}
	conflicts, err := st.conflicts(ctx, cr, key)
	if err != nil {
		return nil, err
	}

	out := make([]ir.Candidate, 0, len(targets))
	for _, t := range targets {
		score := st.scorer.Score(ScoreInput{
			Heading:        t.heading,
			ArticleConcept: sec.ArticleConcept,
			Match:          t.match,
			ConceptMatched: cr.concepts != nil,
			GroundedTerm:   groundedTerm(t.heading, t.match.Value, defs),
			Calibration:    calibration,
		})
		out = append(out, ir.Candidate{
			DocID:          sec.DocID,
			SectionNumber:  sec.SectionNumber,
			ClauseID:       t.clauseID,
			Heading:        t.heading,
			ArticleConcept: sec.ArticleConcept,
			MatchType:      t.match.Type,
			MatchedValue:   t.match.Value,
			Confidence:     score.Value,
			Tier:           score.Tier,
			Breakdown:      score.Breakdown,
			Conflicts:      conflicts,
			Verdict:        ir.VerdictPending,
		})
	}
	st.occupants[key] = append(st.occupants[key], occupant{scope: cr.scope, source: "candidate"})
	return out, nil
}

// conflicts returns the non-independent policies between cr's scope and the
// other scopes occupying key. Persisted links of the document are loaded on
// first use.
func (st *scanState) conflicts(ctx context.Context, cr compiledRule, key sectionKey) ([]ir.Conflict, error) {
	if !st.loaded[key.doc] {
		links, err := st.store.ListLinks(ctx, ir.LinkFilter{
			DocID:    key.doc,
			Statuses: []ir.LinkStatus{ir.LinkActive, ir.LinkPendingReview},
		})
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			k := sectionKey{l.DocID, l.SectionNumber}
			st.occupants[k] = append(st.occupants[k], occupant{scope: l.ScopeID, source: "link"})
		}
		st.loaded[key.doc] = true
	}

	var out []ir.Conflict
	seen := map[string]bool{}
	for _, occ := range st.occupants[key] {
		if cr.closure[occ.scope] || seen[occ.scope] {
			continue
		}
		seen[occ.scope] = true
		policy, err := st.policy(ctx, cr.scope, occ.scope)
		if err != nil {
			return nil, err
		}
		if policy == ir.PolicyIndependent {
			continue
		}
		out = append(out, ir.Conflict{ScopeID: occ.scope, Policy: policy, Source: occ.source})
	}
	return out, nil
}

func (st *scanState) policy(ctx context.Context, a, b string) (string, error) {
	pair := [2]string{a, b}
	if a > b {
		pair = [2]string{b, a}
	}
	if p, ok := st.policies[pair]; ok {
		return p, nil
	}
	p, err := st.store.ConflictPolicy(ctx, a, b)
	if err != nil {
		return "", err
	}
	st.policies[pair] = p
	return p, nil
}

func (st *scanState) definitions(ctx context.Context, docID string) ([]corpus.Definition, error) {
	if defs, ok := st.defs[docID]; ok {
		return defs, nil
	}
	defs, err := st.index.GetDefinitions(ctx, docID)
	if err != nil {
		return nil, err
	}
	st.defs[docID] = defs
	return defs, nil
}

// inheritedSections returns the sections where the parent family holds
// active links, through the parent's alias closure.
func (st *scanState) inheritedSections(ctx context.Context, parent string) (map[sectionKey]bool, error) {
	links, err := st.store.ListLinks(ctx, ir.LinkFilter{
		ScopeID:  parent,
		Statuses: []ir.LinkStatus{ir.LinkActive},
	})
	if err != nil {
		return nil, err
	}
	allowed := make(map[sectionKey]bool, len(links))
	for _, l := range links {
		allowed[sectionKey{l.DocID, l.SectionNumber}] = true
	}
	return allowed, nil
}

// intersectDocs narrows requested to the documents present in allowed.
// An empty request means every allowed document.
func intersectDocs(requested []string, allowed map[sectionKey]bool) []string {
	docs := map[string]bool{}
	for k := range allowed {
		docs[k.doc] = true
	}
	var out []string
	if len(requested) == 0 {
		for d := range docs {
			out = append(out, d)
		}
	} else {
		for _, d := range requested {
			if docs[d] {
				out = append(out, d)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// groundedTerm returns the first defined term the heading or matched value
// refers to.
func groundedTerm(heading, value string, defs []corpus.Definition) string {
	h, v := Fold(heading), Fold(value)
	for _, d := range defs {
		t := Fold(d.Term)
		if t == "" {
			continue
		}
		if t == v || strings.Contains(h, t) {
			return d.Term
		}
	}
	return ""
}
