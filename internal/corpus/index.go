package corpus

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetSectionText for an unknown section.
var ErrNotFound = errors.New("corpus: not found")

// Document is one corpus document.
type Document struct {
	DocID  string `json:"doc_id"`
	Title  string `json:"title"`
	Kind   string `json:"kind,omitempty"`
	Cohort bool   `json:"cohort"`
}

// ClauseHeading is the heading of one clause inside a section.
type ClauseHeading struct {
	ClauseID string `json:"clause_id"`
	Heading  string `json:"heading"`
}

// Section is a section heading as returned by SearchSections.
type Section struct {
	DocID          string          `json:"doc_id"`
	SectionNumber  string          `json:"section_number"`
	Heading        string          `json:"heading"`
	ArticleConcept string          `json:"article_concept,omitempty"`
	Clauses        []ClauseHeading `json:"clauses,omitempty"`
}

// Definition is one defined term of a document.
type Definition struct {
	Term string `json:"term"`
	Text string `json:"text,omitempty"`
}

// Clause is one clause span inside a section's text.
type Clause struct {
	ClauseID  string `json:"clause_id"`
	Heading   string `json:"heading,omitempty"`
	SpanStart int    `json:"span_start"`
	SpanEnd   int    `json:"span_end"`
}

// SectionText is the full text of a section with its clause spans.
type SectionText struct {
	DocID         string   `json:"doc_id"`
	SectionNumber string   `json:"section_number"`
	Text          string   `json:"text"`
	Clauses       []Clause `json:"clauses,omitempty"`
}

// Span returns the text and byte span of clauseID, or of the whole section
// when clauseID is empty. ok is false for an unknown clause or a span that
// falls outside the text.
func (st SectionText) Span(clauseID string) (text string, start, end int, ok bool) {
	if clauseID == "" {
		return st.Text, 0, len(st.Text), true
	}
	for _, c := range st.Clauses {
		if c.ClauseID != clauseID {
			continue
		}
		if c.SpanStart < 0 || c.SpanEnd < c.SpanStart || c.SpanEnd > len(st.Text) {
			return "", 0, 0, false
		}
		return st.Text[c.SpanStart:c.SpanEnd], c.SpanStart, c.SpanEnd, true
	}
	return "", 0, 0, false
}

// Index is the read-only corpus index.
type Index interface {
	// Query returns documents matching q ordered by doc_id.
	Query(ctx context.Context, q Query) ([]Document, error)

	// SearchSections returns the sections of docID ordered by section
	// number. With cohortOnly a non-cohort document yields no sections.
	// limit <= 0 means no limit.
	SearchSections(ctx context.Context, docID string, cohortOnly bool, limit int) ([]Section, error)

	// GetDefinitions returns the defined terms of docID ordered by term.
	GetDefinitions(ctx context.Context, docID string) ([]Definition, error)

	// GetSectionText returns a section's text and clause spans, or
	// ErrNotFound.
	GetSectionText(ctx context.Context, docID, sectionNumber string) (SectionText, error)

	// Version identifies the corpus build; empty when unknown.
	Version(ctx context.Context) (string, error)
}
