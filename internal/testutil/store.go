package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// OpenStore opens a store in t.TempDir driven by clock. It is closed when
// the test ends.
func OpenStore(t *testing.T, clock *Clock, opts ...store.Option) *store.Store {
	t.Helper()
	all := append([]store.Option{store.WithClock(clock.Now)}, opts...)
	s, err := store.Open(filepath.Join(t.TempDir(), "famlink.db"), all...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Lineage returns a complete, non-placeholder lineage stamped at Epoch.
func Lineage() ir.Lineage {
	return ir.Lineage{
		CorpusVersion:   "corpus-2026.03",
		ParserVersion:   "parser-1.4.0",
		OntologyVersion: "ontology-12",
		RulesetVersion:  "ruleset-7",
		GitSHA:          "3f2c9e1",
		CreatedAtUTC:    Epoch.Truncate(time.Second),
	}
}

// Link returns an active section-level link stamped with Lineage.
func Link(id, scope, doc, section string) ir.Link {
	return ir.Link{
		ID:            id,
		ScopeID:       scope,
		DocID:         doc,
		SectionNumber: section,
		ClauseKey:     ir.SectionClauseKey,
		Confidence:    0.9,
		Tier:          ir.TierHigh,
		Status:        ir.LinkActive,
		Lineage:       Lineage(),
		CreatedAt:     Epoch,
		UpdatedAt:     Epoch,
	}
}

// Rule returns a draft rule on scope matching any of values.
func Rule(id, scope string, values ...string) ir.Rule {
	ast, err := filter.Encode(filter.Any(values...))
	if err != nil {
		panic(err)
	}
	return ir.Rule{
		ID:            id,
		FamilyID:      scope,
		ScopeID:       scope,
		Version:       1,
		Status:        ir.RuleDraft,
		ScopeMode:     ir.ScopeCorpus,
		HeadingFilter: ast,
		FilterDSL:     filter.Render(filter.Any(values...)),
	}
}
