package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ArchivedEvent is a monitoring event written to durable storage. The
// in-memory ring buffer remains the authoritative recent view; this table
// exists so history survives the buffer's FIFO eviction.
type ArchivedEvent struct {
	ID        string          `json:"id"`
	PatternID string          `json:"pattern_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) SaveEvent(e *ArchivedEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO monitor_events (id, pattern_id, type, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.PatternID, e.Type, nullableJSON(e.Data))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(patternID string, limit int) ([]ArchivedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, pattern_id, type, data, created_at FROM monitor_events`
	args := []any{}
	if patternID != "" {
		query += ` WHERE pattern_id = ?`
		args = append(args, patternID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []ArchivedEvent
	for rows.Next() {
		var e ArchivedEvent
		var data *string
		if err := rows.Scan(&e.ID, &e.PatternID, &e.Type, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data != nil {
			e.Data = json.RawMessage(*data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneEvents deletes archived events older than the cutoff.
func (s *Store) PruneEvents(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM monitor_events WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
