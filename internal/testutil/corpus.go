package testutil

import (
	"github.com/roach88/famlink/internal/corpus"
)

// ClauseText is one clause of a fixture section before spans are computed.
type ClauseText struct {
	ID      string
	Heading string
	Text    string
}

// Section builds a fixture section whose text is intro followed by each
// clause, space separated. Clause spans are computed from that layout.
func Section(number, heading, concept, intro string, clauses ...ClauseText) corpus.FixtureSection {
	s := corpus.FixtureSection{
		SectionNumber:  number,
		Heading:        heading,
		ArticleConcept: concept,
		Text:           intro,
	}
	for _, c := range clauses {
		s.Text += " "
		start := len(s.Text)
		s.Text += c.Text
		s.Clauses = append(s.Clauses, corpus.Clause{
			ClauseID:  c.ID,
			Heading:   c.Heading,
			SpanStart: start,
			SpanEnd:   len(s.Text),
		})
	}
	return s
}

// Corpus returns the standard test corpus: two cohort credit agreements and
// one non-cohort agreement.
//
//	ca-001  7.01 Indebtedness (clauses a "Permitted Debt", b "Capital Leases")
//	        7.02 Liens
//	        7.03 Restricted Payments
//	        5.01 Financial Statements (affirmative covenants)
//	ca-002  6.01 Limitation on Indebtedness
//	        6.02 Negative Pledge
//	        6.03 Tax Liens
//	        6.04 Debt and Guarantees
//	ca-003  7.01 Indebtedness (not in cohort)
func Corpus() corpus.Fixture {
	return corpus.Fixture{
		Version: "corpus-2026.03",
		Documents: []corpus.FixtureDocument{
			{
				Document: corpus.Document{DocID: "ca-001", Title: "Acme Credit Agreement", Kind: "credit_agreement", Cohort: true},
				Sections: []corpus.FixtureSection{
					Section("5.01", "Financial Statements", "affirmative_covenants",
						"The Borrower shall deliver annual financial statements."),
					Section("7.01", "Indebtedness", "negative_covenants",
						"The Borrower shall not incur Indebtedness, except:",
						ClauseText{ID: "a", Heading: "Permitted Debt", Text: "(a) Permitted Debt;"},
						ClauseText{ID: "b", Heading: "Capital Leases", Text: "(b) Capital Leases up to $5,000,000."},
					),
					Section("7.02", "Liens", "negative_covenants",
						"The Borrower shall not create any Lien on its property."),
					Section("7.03", "Restricted Payments", "negative_covenants",
						"The Borrower shall not declare dividends."),
				},
				Definitions: []corpus.Definition{
					{Term: "Indebtedness", Text: "all obligations for borrowed money"},
					{Term: "Lien", Text: "any mortgage, pledge or security interest"},
				},
			},
			{
				Document: corpus.Document{DocID: "ca-002", Title: "Beta Facility Agreement", Kind: "credit_agreement", Cohort: true},
				Sections: []corpus.FixtureSection{
					Section("6.01", "Limitation on Indebtedness", "negative_covenants",
						"No Obligor shall incur Financial Indebtedness."),
					Section("6.02", "Negative Pledge", "negative_covenants",
						"No Obligor shall create Security over its assets."),
					Section("6.03", "Tax Liens", "negative_covenants",
						"Liens for taxes not yet due are permitted."),
					Section("6.04", "Debt and Guarantees", "negative_covenants",
						"No Obligor shall guarantee any debt."),
				},
				Definitions: []corpus.Definition{
					{Term: "Financial Indebtedness", Text: "any indebtedness for borrowed money"},
				},
			},
			{
				Document: corpus.Document{DocID: "ca-003", Title: "Gamma Notes Indenture", Kind: "indenture", Cohort: false},
				Sections: []corpus.FixtureSection{
					Section("7.01", "Indebtedness", "negative_covenants",
						"The Issuer shall not incur Indebtedness."),
				},
			},
		},
	}
}

// MemoryCorpus returns a MemoryIndex over Corpus.
func MemoryCorpus() *corpus.MemoryIndex {
	idx, err := corpus.NewMemoryIndex(Corpus())
	if err != nil {
		panic(err)
	}
	return idx
}
