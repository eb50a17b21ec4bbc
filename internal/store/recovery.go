package store

import (
	"fmt"
	"time"
)

// RecoveryRecord is one persisted recovery attempt.
type RecoveryRecord struct {
	PatternID string        `json:"pattern_id"`
	Strategy  string        `json:"strategy"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (s *Store) SaveRecoveryRecord(r *RecoveryRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO recovery_records (pattern_id, strategy, success, duration_ms, error)
		VALUES (?, ?, ?, ?, ?)`,
		r.PatternID, r.Strategy, r.Success, r.Duration.Milliseconds(), r.Error)
	if err != nil {
		return fmt.Errorf("save recovery record: %w", err)
	}
	return nil
}

// ListRecoveryRecords returns records, newest first, optionally filtered by
// pattern id.
func (s *Store) ListRecoveryRecords(patternID string, limit int) ([]RecoveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT pattern_id, strategy, success, duration_ms, error, created_at FROM recovery_records`
	args := []any{}
	if patternID != "" {
		query += ` WHERE pattern_id = ?`
		args = append(args, patternID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recovery records: %w", err)
	}
	defer rows.Close()

	var records []RecoveryRecord
	for rows.Next() {
		var r RecoveryRecord
		var durationMS int64
		var errMsg *string
		if err := rows.Scan(&r.PatternID, &r.Strategy, &r.Success, &durationMS, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recovery record: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if errMsg != nil {
			r.Error = *errMsg
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
