package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_NoFilter(t *testing.T) {
	sql, params, err := Compile(Query{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT doc_id, title, kind, cohort FROM documents ORDER BY doc_id ASC COLLATE BINARY", sql)
	assert.Empty(t, params)
}

func TestCompile_CohortDocs(t *testing.T) {
	sql, params, err := Compile(CohortDocs("ca-001", "ca-002"))
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE (cohort = ?) AND (doc_id IN (?, ?))")
	assert.Contains(t, sql, "ORDER BY doc_id ASC COLLATE BINARY")
	assert.NotContains(t, sql, "ca-001")
	assert.Equal(t, []any{int64(1), "ca-001", "ca-002"}, params)
}

func TestCompile_Limit(t *testing.T) {
	sql, _, err := Compile(Query{Filter: Eq{Field: "kind", Value: "indenture"}, Limit: 5})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE kind = ?")
	assert.Contains(t, sql, "LIMIT 5")
}

func TestCompile_EmptyInMatchesNothing(t *testing.T) {
	sql, params, err := Compile(Query{Filter: In{Field: "doc_id"}})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 1 = 0")
	assert.Empty(t, params)
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
	}{
		{"unknown field", Eq{Field: "text", Value: "x"}},
		{"injected field", Eq{Field: "doc_id; DROP TABLE documents", Value: "x"}},
		{"bool field given string", Eq{Field: "cohort", Value: "yes"}},
		{"string field given int", In{Field: "doc_id", Values: []any{1}}},
		{"nested", And{Predicates: []Predicate{Eq{Field: "nope", Value: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compile(Query{Filter: tt.pred})
			assert.Error(t, err)
			_, err = Match(tt.pred, Document{})
			assert.Error(t, err)
		})
	}
}

func TestMatch(t *testing.T) {
	d := Document{DocID: "ca-001", Kind: "credit_agreement", Cohort: true}

	ok, err := Match(CohortDocs().Filter, d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match(CohortDocs("ca-002").Filter, d)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(Eq{Field: "cohort", Value: false}, d)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(And{}, d)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSectionText_Span(t *testing.T) {
	st := SectionText{
		Text:    "Intro. (a) first;",
		Clauses: []Clause{{ClauseID: "a", SpanStart: 7, SpanEnd: 17}, {ClauseID: "bad", SpanStart: 5, SpanEnd: 99}},
	}

	text, start, end, ok := st.Span("")
	assert.True(t, ok)
	assert.Equal(t, st.Text, text)
	assert.Equal(t, 0, start)
	assert.Equal(t, len(st.Text), end)

	text, start, end, ok = st.Span("a")
	assert.True(t, ok)
	assert.Equal(t, "(a) first;", text)
	assert.Equal(t, 7, start)
	assert.Equal(t, 17, end)

	_, _, _, ok = st.Span("bad")
	assert.False(t, ok)
	_, _, _, ok = st.Span("z")
	assert.False(t, ok)
}
