package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Fixture is a complete corpus held as plain data. It is the JSON import
// format and the backing data of MemoryIndex.
type Fixture struct {
	Version   string            `json:"version"`
	Documents []FixtureDocument `json:"documents"`
}

// FixtureDocument is one document with its sections and definitions.
type FixtureDocument struct {
	Document
	Sections    []FixtureSection `json:"sections"`
	Definitions []Definition     `json:"definitions,omitempty"`
}

// FixtureSection is one section with its text and clause spans.
type FixtureSection struct {
	SectionNumber  string   `json:"section_number"`
	Heading        string   `json:"heading"`
	ArticleConcept string   `json:"article_concept,omitempty"`
	Text           string   `json:"text"`
	Clauses        []Clause `json:"clauses,omitempty"`
}

// ReadFixture decodes a JSON fixture.
func ReadFixture(r io.Reader) (Fixture, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("read corpus fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

// LoadFixture reads a JSON fixture file.
func LoadFixture(path string) (Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("open corpus fixture: %w", err)
	}
	defer fh.Close()
	return ReadFixture(fh)
}

func (f Fixture) validate() error {
	docs := make(map[string]bool, len(f.Documents))
	for _, d := range f.Documents {
		if d.DocID == "" {
			return fmt.Errorf("corpus fixture: document without doc_id")
		}
		if docs[d.DocID] {
			return fmt.Errorf("corpus fixture: duplicate document %s", d.DocID)
		}
		docs[d.DocID] = true

		sections := make(map[string]bool, len(d.Sections))
		for _, s := range d.Sections {
			if s.SectionNumber == "" {
				return fmt.Errorf("corpus fixture: %s: section without section_number", d.DocID)
			}
			if sections[s.SectionNumber] {
				return fmt.Errorf("corpus fixture: %s: duplicate section %s", d.DocID, s.SectionNumber)
			}
			sections[s.SectionNumber] = true
			for _, c := range s.Clauses {
				if c.ClauseID == "" || c.SpanStart < 0 || c.SpanEnd < c.SpanStart || c.SpanEnd > len(s.Text) {
					return fmt.Errorf("corpus fixture: %s/%s: bad clause %q [%d,%d)",
						d.DocID, s.SectionNumber, c.ClauseID, c.SpanStart, c.SpanEnd)
				}
			}
		}
	}
	return nil
}
