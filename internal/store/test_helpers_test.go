package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
)

// testClock is a settable clock for deterministic timestamps.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// createTestStore opens a store in a temp directory with a ticking clock.
func createTestStore(t *testing.T, opts ...Option) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	path := filepath.Join(t.TempDir(), "test.db")
	all := append([]Option{WithClock(func() time.Time {
		clock.Advance(time.Millisecond)
		return clock.Now()
	})}, opts...)
	s, err := Open(path, all...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func testLink(id, scope, doc, section string) ir.Link {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return ir.Link{
		ID:            id,
		ScopeID:       scope,
		DocID:         doc,
		SectionNumber: section,
		ClauseKey:     ir.SectionClauseKey,
		ClauseText:    "text of " + section,
		SpanStart:     0,
		SpanEnd:       12,
		Confidence:    0.9,
		Tier:          ir.TierHigh,
		Status:        ir.LinkActive,
		RuleID:        "r1",
		RuleVersion:   1,
		RunID:         "run-0",
		Lineage: ir.Lineage{
			CorpusVersion:   "c1",
			ParserVersion:   "p1",
			OntologyVersion: "o1",
			RulesetVersion:  "rs1",
			GitSHA:          "abc1234",
			CreatedAtUTC:    now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func insertLinks(t *testing.T, s *Store, links ...ir.Link) {
	t.Helper()
	for _, l := range links {
		require.NoError(t, s.InsertLink(context.Background(), l))
	}
}

func testRule(id, family string, values ...string) ir.Rule {
	ast, err := filter.Encode(filter.Any(values...))
	if err != nil {
		panic(err)
	}
	return ir.Rule{ID: id, FamilyID: family, HeadingFilter: ast}
}
