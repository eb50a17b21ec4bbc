package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledExecution is a recurring or one-shot pattern execution driven by
// the scheduler.
type ScheduledExecution struct {
	ID         string     `json:"id"`
	PatternID  string     `json:"pattern_id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanScheduled(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledExecution, error) {
	e := &ScheduledExecution{}
	var lastStatus, lastError *string
	err := scanner.Scan(&e.ID, &e.PatternID, &e.Name, &e.Schedule, &e.Status,
		&e.NextRunAt, &e.LastRunAt, &lastStatus, &lastError, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		e.LastStatus = *lastStatus
	}
	if lastError != nil {
		e.LastError = *lastError
	}
	return e, nil
}

const scheduledColumns = `id, pattern_id, name, schedule, status, next_run_at, last_run_at, last_status, last_error, created_at`

func (s *Store) SaveScheduledExecution(e *ScheduledExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_executions (id, pattern_id, name, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		e.ID, e.PatternID, e.Name, e.Schedule, e.Status, e.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled execution: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledExecution(id string) (*ScheduledExecution, error) {
	row := s.db.QueryRow(`SELECT `+scheduledColumns+` FROM scheduled_executions WHERE id = ?`, id)
	e, err := scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled execution: %w", err)
	}
	return e, nil
}

func (s *Store) ListScheduledExecutions() ([]ScheduledExecution, error) {
	rows, err := s.db.Query(`SELECT ` + scheduledColumns + ` FROM scheduled_executions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled executions: %w", err)
	}
	defer rows.Close()

	var out []ScheduledExecution
	for rows.Next() {
		e, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetDueScheduledExecutions returns active entries whose next run time has
// passed.
func (s *Store) GetDueScheduledExecutions(now time.Time) ([]ScheduledExecution, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduledColumns+`
		FROM scheduled_executions
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due scheduled executions: %w", err)
	}
	defer rows.Close()

	var out []ScheduledExecution
	for rows.Next() {
		e, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpdateScheduledAfterRun records the outcome of a fired execution and its
// next due time. A nil next time deactivates the entry.
func (s *Store) UpdateScheduledAfterRun(id string, lastStatus, lastError string, next *time.Time) error {
	status := "active"
	if next == nil {
		status = "done"
	}
	_, err := s.db.Exec(`
		UPDATE scheduled_executions
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?, status = ?
		WHERE id = ?`,
		lastStatus, lastError, next, status, id)
	if err != nil {
		return fmt.Errorf("update scheduled execution: %w", err)
	}
	return nil
}

func (s *Store) DeleteScheduledExecution(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_executions WHERE id = ?`, id)
	return err
}
