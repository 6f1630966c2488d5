// Package historydb persists a row per run to a local SQLite database, an
// optional feature the original has no equivalent of (it only prints a
// report and exits); grounded on studiowebux-restcli's internal/history
// package, which keeps the same kind of one-row-per-execution ledger for
// its own load-test runs using mattn/go-sqlite3.
package historydb

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loadbench/mb/internal/stats"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	request_file TEXT NOT NULL,
	requests INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	bytes_sent INTEGER NOT NULL,
	bytes_received INTEGER NOT NULL,
	connects INTEGER NOT NULL,
	reconnects INTEGER NOT NULL,
	connect_failures INTEGER NOT NULL
);`

// DB wraps a sqlite3-backed history store.
type DB struct {
	sql *sql.DB
}

// Open creates (or reuses) the sqlite3 database at path and ensures the
// runs table exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("historydb: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("historydb: migrate: %w", err)
	}
	return &DB{sql: db}, nil
}

// Close releases the underlying sqlite3 connection.
func (d *DB) Close() error { return d.sql.Close() }

// RecordRun inserts one row summarizing a finished run.
func (d *DB) RecordRun(startedAt time.Time, requestFile string, t stats.Totals) error {
	_, err := d.sql.Exec(
		`INSERT INTO runs (started_at, duration_ms, request_file, requests, errors, bytes_sent, bytes_received, connects, reconnects, connect_failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		startedAt.UTC().Format(time.RFC3339),
		t.Duration.Milliseconds(),
		requestFile,
		t.Requests,
		t.Errors,
		t.BytesSent,
		t.BytesRecv,
		t.Connects,
		t.Reconnects,
		t.ConnFailures,
	)
	if err != nil {
		return fmt.Errorf("historydb: insert run: %w", err)
	}
	return nil
}

// Run is one row read back from the runs table, for a future `mb history`
// subcommand to render.
type Run struct {
	ID          int64
	StartedAt   time.Time
	Duration    time.Duration
	RequestFile string
	Totals      stats.Totals
}

// Recent returns the most recent n runs, newest first.
func (d *DB) Recent(n int) ([]Run, error) {
	rows, err := d.sql.Query(
		`SELECT id, started_at, duration_ms, request_file, requests, errors, bytes_sent, bytes_received, connects, reconnects, connect_failures
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("historydb: query recent: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var durationMS int64
		if err := rows.Scan(&r.ID, &startedAt, &durationMS, &r.RequestFile,
			&r.Totals.Requests, &r.Totals.Errors, &r.Totals.BytesSent, &r.Totals.BytesRecv,
			&r.Totals.Connects, &r.Totals.Reconnects, &r.Totals.ConnFailures); err != nil {
			return nil, fmt.Errorf("historydb: scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Totals.Duration = r.Duration
		out = append(out, r)
	}
	return out, rows.Err()
}
