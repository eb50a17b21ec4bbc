// Package store persists pattern run history, recovery records, archived
// monitoring events, and scheduled executions in sqlite. Checkpoints stay
// in memory; their format is not part of the persisted surface.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akontos/syntonia/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pattern_runs (
			id            TEXT PRIMARY KEY,
			pattern_id    TEXT NOT NULL,
			session_id    TEXT,
			status        TEXT DEFAULT 'running',
			data          TEXT,
			error_message TEXT,
			started_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at  DATETIME,
			duration_ms   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pattern ON pattern_runs(pattern_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS recovery_records (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_id  TEXT NOT NULL,
			strategy    TEXT NOT NULL,
			success     BOOLEAN NOT NULL,
			duration_ms INTEGER,
			error       TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recovery_pattern ON recovery_records(pattern_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id         TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pattern ON monitor_events(pattern_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_executions (
			id          TEXT PRIMARY KEY,
			pattern_id  TEXT NOT NULL,
			name        TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			status      TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sched_next_run ON scheduled_executions(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
