package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PatternRun is one persisted pattern execution.
type PatternRun struct {
	ID           string          `json:"id"`
	PatternID    string          `json:"pattern_id"`
	SessionID    string          `json:"session_id,omitempty"`
	Status       string          `json:"status"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
}

const runColumns = `id, pattern_id, session_id, status, data, error_message, started_at, completed_at, duration_ms`

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*PatternRun, error) {
	r := &PatternRun{}
	var sessionID, data, errMsg *string
	var durationMS *int64
	err := scanner.Scan(&r.ID, &r.PatternID, &sessionID, &r.Status, &data, &errMsg, &r.StartedAt, &r.CompletedAt, &durationMS)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		r.SessionID = *sessionID
	}
	if data != nil {
		r.Data = json.RawMessage(*data)
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	if durationMS != nil {
		r.DurationMS = *durationMS
	}
	return r, nil
}

func (s *Store) SavePatternRun(r *PatternRun) error {
	_, err := s.db.Exec(`
		INSERT INTO pattern_runs (id, pattern_id, session_id, status, data, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			error_message = excluded.error_message`,
		r.ID, r.PatternID, r.SessionID, r.Status, nullableJSON(r.Data), r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save pattern run: %w", err)
	}
	return nil
}

// FinishPatternRun marks a run terminal and records its outcome.
func (s *Store) FinishPatternRun(id, status string, data json.RawMessage, errMsg string, duration time.Duration) error {
	_, err := s.db.Exec(`
		UPDATE pattern_runs
		SET status = ?, data = ?, error_message = ?, duration_ms = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, nullableJSON(data), errMsg, duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("finish pattern run: %w", err)
	}
	return nil
}

func (s *Store) GetPatternRun(id string) (*PatternRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM pattern_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern run: %w", err)
	}
	return r, nil
}

func (s *Store) ListPatternRuns(limit int) ([]PatternRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM pattern_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pattern runs: %w", err)
	}
	defer rows.Close()

	var runs []PatternRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
