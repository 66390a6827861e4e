// Package history persists dispatch and tick records to SQLite so operators
// can inspect what the orchestrator did across restarts. The store is
// advisory: every write failure is logged and swallowed.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store records orchestrator activity in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the history database and runs migrations.
// Use path ":memory:" in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("history store migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project TEXT NOT NULL,
			issue_iid INTEGER NOT NULL,
			role TEXT NOT NULL,
			level TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			session_action TEXT NOT NULL DEFAULT '',
			session_key TEXT NOT NULL DEFAULT '',
			from_label TEXT NOT NULL DEFAULT '',
			to_label TEXT NOT NULL DEFAULT '',
			dispatched_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			projects INTEGER NOT NULL DEFAULT 0,
			pickups INTEGER NOT NULL DEFAULT 0,
			fixes INTEGER NOT NULL DEFAULT 0,
			reviews INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_project
			ON dispatches(project, dispatched_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch is one recorded pickup.
type Dispatch struct {
	Project       string
	IssueIID      int
	Role          string
	Level         string
	Model         string
	SessionAction string
	SessionKey    string
	FromLabel     string
	ToLabel       string
}

// RecordDispatch inserts a dispatch row.
func (s *Store) RecordDispatch(d Dispatch) error {
	_, err := s.db.Exec(`INSERT INTO dispatches
		(project, issue_iid, role, level, model, session_action, session_key, from_label, to_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Project, d.IssueIID, d.Role, d.Level, d.Model, d.SessionAction, d.SessionKey, d.FromLabel, d.ToLabel)
	return err
}

// Tick is one recorded heartbeat pass.
type Tick struct {
	StartedAt time.Time
	Duration  time.Duration
	Projects  int
	Pickups   int
	Fixes     int
	Reviews   int
	Skipped   int
	Errors    int
}

// RecordTick inserts a tick summary row.
func (s *Store) RecordTick(t Tick) error {
	_, err := s.db.Exec(`INSERT INTO ticks
		(started_at, duration_ms, projects, pickups, fixes, reviews, skipped, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StartedAt.UTC(), t.Duration.Milliseconds(), t.Projects, t.Pickups, t.Fixes, t.Reviews, t.Skipped, t.Errors)
	return err
}

// RecentDispatches returns the newest dispatches for a project.
func (s *Store) RecentDispatches(project string, limit int) ([]Dispatch, error) {
	rows, err := s.db.Query(`SELECT project, issue_iid, role, level, model, session_action, session_key, from_label, to_label
		FROM dispatches WHERE project = ? ORDER BY id DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		var d Dispatch
		if err := rows.Scan(&d.Project, &d.IssueIID, &d.Role, &d.Level, &d.Model,
			&d.SessionAction, &d.SessionKey, &d.FromLabel, &d.ToLabel); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
