package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/famlink/internal/ir"
)

// InsertEvent appends an audit event. payload is marshalled to JSON.
func (q *Queries) InsertEvent(ctx context.Context, entityType ir.EntityType, entityID string, eventType ir.EventType, payload any) error {
	data := "{}"
	if payload != nil {
		var err error
		if data, err = marshalJSON(payload); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO events (entity_type, entity_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(entityType), entityID, string(eventType), data, formatTime(q.Now()))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns events for one entity in insertion order. An empty
// entityID lists every event of entityType; an empty entityType lists all.
func (q *Queries) ListEvents(ctx context.Context, entityType ir.EntityType, entityID string) ([]ir.Event, error) {
	query := `SELECT event_id, entity_type, entity_id, event_type, payload, created_at FROM events`
	var args []any
	switch {
	case entityType != "" && entityID != "":
		query += ` WHERE entity_type = ? AND entity_id = ?`
		args = append(args, string(entityType), entityID)
	case entityType != "":
		query += ` WHERE entity_type = ?`
		args = append(args, string(entityType))
	}
	query += ` ORDER BY event_id ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var e ir.Event
		var entType, evType, payload, created string
		if err := rows.Scan(&e.ID, &entType, &e.EntityID, &evType, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EntityType = ir.EntityType(entType)
		e.Type = ir.EventType(evType)
		e.Payload = json.RawMessage(payload)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
