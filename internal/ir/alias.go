package ir

import (
	"encoding/json"
	"time"
)

// ScopeAlias maps a historical or alternate scope id to its canonical
// ontology node id.
type ScopeAlias struct {
	LegacyID    string    `json:"legacy_id"`
	CanonicalID string    `json:"canonical_id"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// PolicyIndependent is the conflict policy assumed when none is recorded.
const PolicyIndependent = "independent"

// ConflictPolicy is the ontology-derived relationship between two scopes.
type ConflictPolicy struct {
	ScopeA string `json:"scope_a"`
	ScopeB string `json:"scope_b"`
	Policy string `json:"policy"`
}

// EventType names an audit event.
type EventType string

const (
	EventUnlink     EventType = "unlink"
	EventRelink     EventType = "relink"
	EventReassign   EventType = "reassign"
	EventAliasCycle EventType = "alias_cycle"
)

// Event is an audit record of an explicit status transition or a condition
// flagged for review.
type Event struct {
	ID         int64           `json:"event_id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Type       EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SectionEmbedding is a cached embedding vector for one corpus section.
type SectionEmbedding struct {
	DocID         string    `json:"doc_id"`
	SectionNumber string    `json:"section_number"`
	Model         string    `json:"model"`
	ContentHash   string    `json:"content_hash"`
	Vector        []float32 `json:"vector"`
	UpdatedAt     time.Time `json:"updated_at"`
}
