package commit

import (
	"context"
	"slices"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
)

// DriftReport compares a scope's published rules against its active links.
type DriftReport struct {
	ScopeID string   `json:"scope_id"`
	Rules   []string `json:"rules"`

	// Added are keys the rules match today that hold no active link.
	Added []ir.TargetKey `json:"added"`

	// Removed are active links the rules no longer match.
	Removed []ir.TargetKey `json:"removed"`

	// Stale are active link ids whose lineage differs from the deployment's
	// current lineage values.
	Stale []string `json:"stale"`
}

// Drift re-scans the published rules of scopeID and diffs the result
// against the scope's active links. It writes nothing.
func (p *Protocol) Drift(ctx context.Context, scopeID string) (DriftReport, error) {
	rep := DriftReport{
		ScopeID: scopeID,
		Rules:   []string{},
		Added:   []ir.TargetKey{},
		Removed: []ir.TargetKey{},
		Stale:   []string{},
	}
	rules, err := p.store.ListRules(ctx, store.RuleFilter{ScopeID: scopeID, Status: ir.RulePublished})
	if err != nil {
		return DriftReport{}, err
	}
	for _, r := range rules {
		rep.Rules = append(rep.Rules, r.ID)
	}

	matched := map[ir.TargetKey]bool{}
	if len(rules) > 0 {
		scanned, err := p.scanner.ScanAll(ctx, rules, scan.Options{})
		if err != nil {
			return DriftReport{}, err
		}
		for _, cands := range scanned {
			for _, c := range cands {
				matched[c.Key()] = true
			}
		}
	}

	links, err := p.store.ListLinks(ctx, ir.LinkFilter{ScopeID: scopeID, Statuses: []ir.LinkStatus{ir.LinkActive}})
	if err != nil {
		return DriftReport{}, err
	}
	linked := map[ir.TargetKey]bool{}
	current := p.lineageDefaults(ctx)
	for _, l := range links {
		linked[l.Key()] = true
		if !matched[l.Key()] {
			rep.Removed = append(rep.Removed, l.Key())
		}
		if lineageDrifted(l.Lineage, current) {
			rep.Stale = append(rep.Stale, l.ID)
		}
	}
	for k := range matched {
		if !linked[k] {
			rep.Added = append(rep.Added, k)
		}
	}

	sortKeys(rep.Added)
	sortKeys(rep.Removed)
	slices.Sort(rep.Stale)
	rep.Removed = slices.Compact(rep.Removed)
	return rep, nil
}

// lineageDrifted reports whether l disagrees with any configured value.
// Unconfigured values never count as drift.
func lineageDrifted(l ir.Lineage, current LineageDefaults) bool {
	differs := func(have, want string) bool { return want != "" && have != want }
	return differs(l.CorpusVersion, current.CorpusVersion) ||
		differs(l.ParserVersion, current.ParserVersion) ||
		differs(l.OntologyVersion, current.OntologyVersion) ||
		differs(l.GitSHA, current.GitSHA)
}

func sortKeys(keys []ir.TargetKey) {
	slices.SortFunc(keys, func(a, b ir.TargetKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}
