package ir

import "time"

// LinkStatus is the lifecycle state of a committed annotation.
// Links are never hard-deleted; unlinking is a status transition.
type LinkStatus string

const (
	LinkActive        LinkStatus = "active"
	LinkPendingReview LinkStatus = "pending_review"
	LinkUnlinked      LinkStatus = "unlinked"
)

// Valid reports whether s is a known link status.
func (s LinkStatus) Valid() bool {
	return s == LinkActive || s == LinkPendingReview || s == LinkUnlinked
}

// Link is a committed annotation of a scope onto one document location.
// At most one row exists per (scope_id, doc_id, section_number, clause_key).
type Link struct {
	ID             string     `json:"link_id"`
	ScopeID        string     `json:"scope_id"`
	DocID          string     `json:"doc_id"`
	SectionNumber  string     `json:"section_number"`
	ClauseID       string     `json:"clause_id,omitempty"`
	ClauseKey      string     `json:"clause_key"`
	ClauseText     string     `json:"clause_text,omitempty"`
	SpanStart      int        `json:"span_start"`
	SpanEnd        int        `json:"span_end"`
	Confidence     float64    `json:"confidence"`
	Tier           Tier       `json:"confidence_tier"`
	Status         LinkStatus `json:"status"`
	RuleID         string     `json:"rule_id,omitempty"`
	RuleVersion    int        `json:"rule_version,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
	Lineage        Lineage    `json:"lineage"`
	UnlinkedAt     *time.Time `json:"unlinked_at,omitempty"`
	UnlinkedReason string     `json:"unlinked_reason,omitempty"`
	UnlinkedNote   string     `json:"unlinked_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Key returns the link's target key.
func (l Link) Key() TargetKey {
	return TargetKey{DocID: l.DocID, SectionNumber: l.SectionNumber, ClauseKey: l.ClauseKey}
}

// LinkFilter narrows link listings. ScopeID is expanded through the alias
// closure by the store.
type LinkFilter struct {
	ScopeID  string
	DocID    string
	Statuses []LinkStatus
	Limit    int
}
