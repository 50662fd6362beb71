// Package sqlite provides SQLite-based persistent storage for dataflow runs.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/dataflow/internal/domain"
	"github.com/tutu-network/dataflow/internal/infra/telemetry"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/journal.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "journal.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			pipeline    TEXT NOT NULL,
			tasks       INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			error       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS events (
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			task_id    INTEGER NOT NULL,
			at_usec    INTEGER NOT NULL,
			channel    TEXT,
			seqno      INTEGER NOT NULL DEFAULT 0,
			from_state TEXT NOT NULL DEFAULT '',
			event      TEXT NOT NULL DEFAULT '',
			to_state   TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(run_id, task_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// ─── Run Repository ─────────────────────────────────────────────────────────

// Run is one execution of a pipeline.
type Run struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	Tasks      int       `json:"tasks"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// StartRun records a new running pipeline and returns its id.
func (d *DB) StartRun(pipeline string, tasks int) (string, error) {
	id := uuid.NewString()
	_, err := d.db.Exec(
		`INSERT INTO runs (id, pipeline, tasks, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, pipeline, tasks, RunRunning, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun marks a run finished with the given status.
func (d *DB) FinishRun(id, status, errMsg string) error {
	result, err := d.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), errMsg, id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNonExistent)
	}
	return nil
}

// GetRun retrieves a single run; nil when absent.
func (d *DB) GetRun(id string) (*Run, error) {
	row := d.db.QueryRow(
		`SELECT id, pipeline, tasks, status, started_at, finished_at, error FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// Runs returns the most recent runs first. limit <= 0 returns all.
func (d *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT id, pipeline, tasks, status, started_at, finished_at, error
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ─── Event Repository ───────────────────────────────────────────────────────

// InsertEvents appends a batch of events to a run in one transaction.
func (d *DB) InsertEvents(runID string, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO events (run_id, seq, kind, task_id, at_usec, channel, seqno, from_state, event, to_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		var ch sql.NullString
		if e.Channel != nil {
			ch = sql.NullString{String: e.Channel.String(), Valid: true}
		}
		if _, err := stmt.Exec(runID, int64(e.Seq), string(e.Kind), e.TaskID, e.At,
			ch, int64(e.Seqno), e.From, e.Event, e.To); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Events returns a run's events in sequence order. limit <= 0 returns all.
func (d *DB) Events(runID string, limit int) ([]telemetry.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT seq, kind, task_id, at_usec, channel, seqno, from_state, event, to_state
		 FROM events WHERE run_id = ? ORDER BY seq LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var e telemetry.Event
		var kind string
		var seq, seqno int64
		var ch sql.NullString
		if err := rows.Scan(&seq, &kind, &e.TaskID, &e.At, &ch, &seqno, &e.From, &e.Event, &e.To); err != nil {
			return nil, err
		}
		e.Seq, e.Seqno, e.Kind = uint64(seq), uint64(seqno), telemetry.Kind(kind)
		if ch.Valid {
			if id, err := domain.ParseChannelID(ch.String); err == nil {
				e.Channel = &id
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(&r.ID, &r.Pipeline, &r.Tasks, &r.Status, &startedAt, &finishedAt, &r.Error)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	r.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		r.FinishedAt = time.UnixMilli(finishedAt.Int64)
	}
	return &r, nil
}
