// Package history persists finished runs to a local sqlite database so
// past results survive the process. Each row stores the summary columns
// used for listing plus the full JSON report for faithful re-reads.
package history

import (
	"bytes"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stagehand-ci/stagehand/internal/report"
)

// Entry is one persisted run as listed by the `runs` command.
type Entry struct {
	RunID      string
	Workflow   string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		report TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return nil
}

// Save persists a finished run's report.
func (s *Store) Save(rep *report.Report) error {
	var buf bytes.Buffer
	if err := rep.Write(&buf); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, workflow, status, started_at, finished_at, report)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.Workflow, string(rep.Status), rep.StartedAt, rep.FinishedAt, buf.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rep.RunID, err)
	}
	return nil
}

// Get re-reads the full report of a persisted run.
func (s *Store) Get(runID string) (*report.Report, error) {
	row := s.db.QueryRow(`SELECT report FROM runs WHERE run_id = ?`, runID)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return report.Parse(bytes.NewReader([]byte(raw)))
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, workflow, status, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Workflow, &e.Status, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
