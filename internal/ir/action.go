package ir

import "time"

// EntityType names the table an action or event refers to.
type EntityType string

const (
	EntityLink  EntityType = "link"
	EntityRule  EntityType = "rule"
	EntityAlias EntityType = "scope_alias"
)

// Operation names the mutation an action records.
type Operation string

const (
	OpInsert   Operation = "insert"
	OpUpdate   Operation = "update"
	OpUnlink   Operation = "unlink"
	OpRelink   Operation = "relink"
	OpReassign Operation = "reassign"
)

// Patch maps column names to the values they hold after the patch is applied.
// Forward patches carry the post-mutation state of every column the
// mutation touched; reverse patches carry the pre-mutation state.
type Patch map[string]any

// Action is one reversible entity mutation inside an undo batch.
type Action struct {
	ID           int64      `json:"action_id"`
	BatchID      string     `json:"batch_id"`
	EntityType   EntityType `json:"entity_type"`
	EntityID     string     `json:"entity_id"`
	Operation    Operation  `json:"operation"`
	ForwardPatch Patch      `json:"forward_patch"`
	ReversePatch Patch      `json:"reverse_patch"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HistoryStep reports the batch an undo or redo replayed.
type HistoryStep struct {
	BatchID  string `json:"batch_id"`
	Actions  int    `json:"actions"`
	Position int64  `json:"position"`
}
