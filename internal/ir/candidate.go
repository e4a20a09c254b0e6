package ir

import (
	"fmt"
	"strings"
)

// SectionClauseKey is the clause_key used when a candidate or link targets a
// whole section rather than one clause.
const SectionClauseKey = "__section__"

// ClauseKey returns the uniqueness component for an optional clause id.
func ClauseKey(clauseID string) string {
	if clauseID == "" {
		return SectionClauseKey
	}
	return clauseID
}

// MatchType records how a heading satisfied a rule's filter.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchSubstring MatchType = "substring"
	MatchPartial   MatchType = "partial"
	MatchNone      MatchType = "none"
)

// Rank orders match types; higher wins a tie-break.
func (m MatchType) Rank() int {
	switch m {
	case MatchExact:
		return 3
	case MatchSubstring:
		return 2
	case MatchPartial:
		return 1
	}
	return 0
}

// Tier is the coarse confidence bucket of a candidate or link.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Tiers lists tiers from most to least confident.
var Tiers = []Tier{TierHigh, TierMedium, TierLow}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierHigh || t == TierMedium || t == TierLow
}

// AtLeast reports whether t is as confident as min.
func (t Tier) AtLeast(min Tier) bool {
	return t.rank() >= min.rank()
}

func (t Tier) rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

// Verdict is a reviewer's decision on a candidate.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictPending || v == VerdictAccepted || v == VerdictRejected
}

// Conflict is a non-independent ontology policy between a candidate's scope
// and another scope occupying the same section.
type Conflict struct {
	ScopeID string `json:"scope_id"`
	Policy  string `json:"policy"`
	Source  string `json:"source"` // "link" or "candidate"
}

// Candidate is a proposed, not yet committed link produced by a scan.
type Candidate struct {
	DocID          string             `json:"doc_id"`
	SectionNumber  string             `json:"section_number"`
	ClauseID       string             `json:"clause_id,omitempty"`
	Heading        string             `json:"heading"`
	ArticleConcept string             `json:"article_concept,omitempty"`
	MatchType      MatchType          `json:"match_type"`
	MatchedValue   string             `json:"matched_value,omitempty"`
	Confidence     float64            `json:"confidence"`
	Tier           Tier               `json:"confidence_tier"`
	Breakdown      map[string]float64 `json:"breakdown,omitempty"`
	Conflicts      []Conflict         `json:"conflicts,omitempty"`
	Verdict        Verdict            `json:"user_verdict"`
}

// Key returns the candidate's identity key.
func (c Candidate) Key() TargetKey {
	return TargetKey{DocID: c.DocID, SectionNumber: c.SectionNumber, ClauseKey: ClauseKey(c.ClauseID)}
}

// TargetKey identifies an annotation target inside the corpus:
// (doc_id, section_number, clause_key).
type TargetKey struct {
	DocID         string `json:"doc_id"`
	SectionNumber string `json:"section_number"`
	ClauseKey     string `json:"clause_key"`
}

// Less orders keys by doc, then section, then clause key.
func (k TargetKey) Less(o TargetKey) bool {
	if k.DocID != o.DocID {
		return k.DocID < o.DocID
	}
	if k.SectionNumber != o.SectionNumber {
		return k.SectionNumber < o.SectionNumber
	}
	return k.ClauseKey < o.ClauseKey
}

// String renders the key as doc/section/clause.
func (k TargetKey) String() string {
	return k.DocID + "/" + k.SectionNumber + "/" + k.ClauseKey
}

// ParseTargetKey parses doc/section or doc/section/clause. A missing clause
// targets the whole section.
func ParseTargetKey(s string) (TargetKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return TargetKey{}, fmt.Errorf("%q: want doc/section or doc/section/clause", s)
	}
	clause := ""
	if len(parts) == 3 {
		clause = parts[2]
	}
	return TargetKey{DocID: parts[0], SectionNumber: parts[1], ClauseKey: ClauseKey(clause)}, nil
}
