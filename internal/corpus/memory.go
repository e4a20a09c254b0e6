package corpus

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// MemoryIndex serves a Fixture from memory. It is safe for concurrent reads.
type MemoryIndex struct {
	version string
	docs    []Document
	byID    map[string]*FixtureDocument
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex builds an index over f. Documents are ordered by doc_id and
// sections by section number.
func NewMemoryIndex(f Fixture) (*MemoryIndex, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	m := &MemoryIndex{
		version: f.Version,
		docs:    make([]Document, 0, len(f.Documents)),
		byID:    make(map[string]*FixtureDocument, len(f.Documents)),
	}
	for i := range f.Documents {
		d := f.Documents[i]
		d.Sections = slices.Clone(d.Sections)
		slices.SortFunc(d.Sections, func(a, b FixtureSection) int {
			return strings.Compare(a.SectionNumber, b.SectionNumber)
		})
		d.Definitions = slices.Clone(d.Definitions)
		slices.SortFunc(d.Definitions, func(a, b Definition) int {
			return strings.Compare(a.Term, b.Term)
		})
		m.docs = append(m.docs, d.Document)
		m.byID[d.DocID] = &d
	}
	slices.SortFunc(m.docs, func(a, b Document) int { return strings.Compare(a.DocID, b.DocID) })
	return m, nil
}

// Query returns documents matching q.
func (m *MemoryIndex) Query(ctx context.Context, q Query) ([]Document, error) {
	out := []Document{}
	for _, d := range m.docs {
		ok, err := Match(q.Filter, d)
		if err != nil {
			return nil, fmt.Errorf("query corpus: %w", err)
		}
		if !ok {
			continue
		}
		out = append(out, d)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// SearchSections returns the section headings of docID.
func (m *MemoryIndex) SearchSections(ctx context.Context, docID string, cohortOnly bool, limit int) ([]Section, error) {
	out := []Section{}
	d, ok := m.byID[docID]
	if !ok || (cohortOnly && !d.Cohort) {
		return out, nil
	}
	for _, s := range d.Sections {
		sec := Section{
			DocID:          docID,
			SectionNumber:  s.SectionNumber,
			Heading:        s.Heading,
			ArticleConcept: s.ArticleConcept,
		}
		for _, c := range s.Clauses {
			if c.Heading != "" {
				sec.Clauses = append(sec.Clauses, ClauseHeading{ClauseID: c.ClauseID, Heading: c.Heading})
			}
		}
		out = append(out, sec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetDefinitions returns the defined terms of docID.
func (m *MemoryIndex) GetDefinitions(ctx context.Context, docID string) ([]Definition, error) {
	d, ok := m.byID[docID]
	if !ok {
		return []Definition{}, nil
	}
	return append([]Definition{}, d.Definitions...), nil
}

// GetSectionText returns the text of one section.
func (m *MemoryIndex) GetSectionText(ctx context.Context, docID, sectionNumber string) (SectionText, error) {
	d, ok := m.byID[docID]
	if ok {
		for _, s := range d.Sections {
			if s.SectionNumber == sectionNumber {
				return SectionText{
					DocID:         docID,
					SectionNumber: sectionNumber,
					Text:          s.Text,
					Clauses:       slices.Clone(s.Clauses),
				}, nil
			}
		}
	}
	return SectionText{}, fmt.Errorf("section %s/%s: %w", docID, sectionNumber, ErrNotFound)
}

// Version returns the fixture version.
func (m *MemoryIndex) Version(ctx context.Context) (string, error) {
	return m.version, nil
}
