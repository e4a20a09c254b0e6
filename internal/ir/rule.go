package ir

import (
	"encoding/json"
	"time"
)

// RuleStatus is the publication state of a rule.
type RuleStatus string

const (
	RuleDraft     RuleStatus = "draft"
	RulePublished RuleStatus = "published"
)

// Valid reports whether s is a known rule status.
func (s RuleStatus) Valid() bool {
	return s == RuleDraft || s == RulePublished
}

// ScopeMode controls which sections a rule scans.
type ScopeMode string

const (
	// ScopeCorpus scans every cohort document in the corpus index.
	ScopeCorpus ScopeMode = "corpus"

	// ScopeInherited scans only sections where the parent family holds active links.
	ScopeInherited ScopeMode = "inherited"
)

// Valid reports whether m is a known scope mode. Empty defaults to corpus.
func (m ScopeMode) Valid() bool {
	return m == "" || m == ScopeCorpus || m == ScopeInherited
}

// Rule is a versioned heading-matching rule for one family scope.
//
// HeadingFilter holds the JSON form of the filter AST (see package filter);
// FilterDSL is its string rendering and is kept in sync on every save.
type Rule struct {
	ID              string          `json:"rule_id"`
	FamilyID        string          `json:"family_id"`
	OntologyNodeID  string          `json:"ontology_node_id"`
	ScopeID         string          `json:"scope_id"`
	Version         int             `json:"version"`
	Status          RuleStatus      `json:"status"`
	HeadingFilter   json.RawMessage `json:"heading_filter_ast"`
	ArticleConcepts []string        `json:"article_concepts"`
	FilterDSL       string          `json:"filter_dsl"`
	LockedBy        string          `json:"locked_by,omitempty"`
	LockedAt        *time.Time      `json:"locked_at,omitempty"`
	ParentFamilyID  string          `json:"parent_family_id,omitempty"`
	ParentRuleID    string          `json:"parent_rule_id,omitempty"`
	ParentRunID     string          `json:"parent_run_id,omitempty"`
	ScopeMode       ScopeMode       `json:"scope_mode"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ScopeKey returns the scope identifier a rule annotates: the ontology node
// when one is recorded, otherwise the family id.
func (r Rule) ScopeKey() string {
	if r.OntologyNodeID != "" {
		return r.OntologyNodeID
	}
	return r.FamilyID
}
