// Package export writes links as a flat row-per-link table.
package export

import (
	"strconv"
	"time"

	"github.com/roach88/famlink/internal/ir"
)

// Row is one exported link. Field order is the column order.
type Row struct {
	SchemaVersion    string  `json:"schema_version"`
	ContractFormat   string  `json:"contract_format"`
	LinkID           string  `json:"link_id"`
	ScopeID          string  `json:"scope_id"`
	DocID            string  `json:"doc_id"`
	SectionNumber    string  `json:"section_number"`
	ClauseID         string  `json:"clause_id"`
	ClauseKey        string  `json:"clause_key"`
	ClauseText       string  `json:"clause_text"`
	SpanStart        int     `json:"span_start"`
	SpanEnd          int     `json:"span_end"`
	Confidence       float64 `json:"confidence"`
	Tier             string  `json:"confidence_tier"`
	Status           string  `json:"status"`
	RuleID           string  `json:"rule_id"`
	RuleVersion      int     `json:"rule_version"`
	RunID            string  `json:"run_id"`
	CorpusVersion    string  `json:"corpus_version"`
	ParserVersion    string  `json:"parser_version"`
	OntologyVersion  string  `json:"ontology_version"`
	RulesetVersion   string  `json:"ruleset_version"`
	GitSHA           string  `json:"git_sha"`
	LineageCreatedAt string  `json:"lineage_created_at_utc"`
	UpdatedAt        string  `json:"updated_at"`
}

// Columns is the CSV header.
var Columns = []string{
	"schema_version", "contract_format", "link_id", "scope_id", "doc_id",
	"section_number", "clause_id", "clause_key", "clause_text", "span_start",
	"span_end", "confidence", "confidence_tier", "status", "rule_id",
	"rule_version", "run_id", "corpus_version", "parser_version",
	"ontology_version", "ruleset_version", "git_sha", "lineage_created_at_utc",
	"updated_at",
}

// NewRow flattens l.
func NewRow(l ir.Link) Row {
	return Row{
		SchemaVersion:    ir.ExportSchemaVersion,
		ContractFormat:   ir.ContractFormat,
		LinkID:           l.ID,
		ScopeID:          l.ScopeID,
		DocID:            l.DocID,
		SectionNumber:    l.SectionNumber,
		ClauseID:         l.ClauseID,
		ClauseKey:        l.ClauseKey,
		ClauseText:       l.ClauseText,
		SpanStart:        l.SpanStart,
		SpanEnd:          l.SpanEnd,
		Confidence:       l.Confidence,
		Tier:             string(l.Tier),
		Status:           string(l.Status),
		RuleID:           l.RuleID,
		RuleVersion:      l.RuleVersion,
		RunID:            l.RunID,
		CorpusVersion:    l.Lineage.CorpusVersion,
		ParserVersion:    l.Lineage.ParserVersion,
		OntologyVersion:  l.Lineage.OntologyVersion,
		RulesetVersion:   l.Lineage.RulesetVersion,
		GitSHA:           l.Lineage.GitSHA,
		LineageCreatedAt: formatTime(l.Lineage.CreatedAtUTC, time.RFC3339),
		UpdatedAt:        formatTime(l.UpdatedAt, time.RFC3339Nano),
	}
}

func (r Row) record() []string {
	return []string{
		r.SchemaVersion, r.ContractFormat, r.LinkID, r.ScopeID, r.DocID,
		r.SectionNumber, r.ClauseID, r.ClauseKey, r.ClauseText, strconv.Itoa(r.SpanStart),
		strconv.Itoa(r.SpanEnd), strconv.FormatFloat(r.Confidence, 'f', -1, 64), r.Tier, r.Status, r.RuleID,
		strconv.Itoa(r.RuleVersion), r.RunID, r.CorpusVersion, r.ParserVersion,
		r.OntologyVersion, r.RulesetVersion, r.GitSHA, r.LineageCreatedAt,
		r.UpdatedAt,
	}
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
