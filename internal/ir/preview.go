package ir

import (
	"encoding/json"
	"time"
)

// Lineage stamps every committed artifact with the versions it was derived from.
// Every field is mandatory once a preview is persisted.
type Lineage struct {
	CorpusVersion   string    `json:"corpus_version"`
	ParserVersion   string    `json:"parser_version"`
	OntologyVersion string    `json:"ontology_version"`
	RulesetVersion  string    `json:"ruleset_version"`
	GitSHA          string    `json:"git_sha"`
	CreatedAtUTC    time.Time `json:"created_at_utc"`
}

// Fields returns the string-valued lineage fields keyed by their JSON name,
// in declaration order.
func (l Lineage) Fields() []LineageField {
	return []LineageField{
		{Name: "corpus_version", Value: l.CorpusVersion},
		{Name: "parser_version", Value: l.ParserVersion},
		{Name: "ontology_version", Value: l.OntologyVersion},
		{Name: "ruleset_version", Value: l.RulesetVersion},
		{Name: "git_sha", Value: l.GitSHA},
	}
}

// LineageField is one named lineage value.
type LineageField struct {
	Name  string
	Value string
}

// TierCounts is a candidate breakdown by confidence tier. All three tiers are
// always present when marshalled.
type TierCounts map[Tier]int

// NewTierCounts returns a breakdown with every tier at zero.
func NewTierCounts() TierCounts {
	return TierCounts{TierHigh: 0, TierMedium: 0, TierLow: 0}
}

// Total returns the sum over all tiers.
func (tc TierCounts) Total() int {
	n := 0
	for _, v := range tc {
		n += v
	}
	return n
}

// Preview is an immutable, content-addressed snapshot of a candidate set
// awaiting review. The candidate set hash is the integrity contract between
// the reviewed set and the committed set.
type Preview struct {
	ID               string          `json:"preview_id"`
	RuleID           string          `json:"rule_id,omitempty"`
	RuleVersion      int             `json:"rule_version,omitempty"`
	ScopeID          string          `json:"scope_id"`
	HeadingFilter    json.RawMessage `json:"heading_filter_ast,omitempty"`
	CandidateSetHash string          `json:"candidate_set_hash"`
	Lineage          Lineage         `json:"lineage"`
	CandidateCount   int             `json:"candidate_count"`
	ByTier           TierCounts      `json:"by_confidence_tier"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	AppliedAt        *time.Time      `json:"applied_at,omitempty"`
}

// Expired reports whether the preview's TTL has elapsed at now. A preview is
// still appliable at exactly ExpiresAt.
func (p Preview) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
