// Package journal keeps a local SQLite record of pipeline runs: when each
// scrape or aggregation cycle ran, what it saw and how it ended. The journal
// is operational bookkeeping only; the durable data lives in PostgreSQL.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	kind          TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL,
	rows_seen     INTEGER NOT NULL DEFAULT 0,
	rows_skipped  INTEGER NOT NULL DEFAULT 0,
	rows_inserted INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);
`

// Run is one recorded cycle.
type Run struct {
	ID           int64
	Kind         string // "scrape" or "aggregate"
	StartedAt    time.Time
	FinishedAt   time.Time
	RowsSeen     int
	RowsSkipped  int
	RowsInserted int
	Status       string // "ok", "empty" or "failed"
	Error        string
}

// Journal wraps the SQLite run log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. An empty path or ":memory:"
// keeps the journal in memory.
func Open(path string) (*Journal, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one run and returns its assigned ID.
func (j *Journal) Record(r Run) (int64, error) {
	res, err := j.db.Exec(`
		INSERT INTO runs (kind, started_at, finished_at, rows_seen, rows_skipped, rows_inserted, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Kind, r.StartedAt, r.FinishedAt, r.RowsSeen, r.RowsSkipped, r.RowsInserted, r.Status, r.Error)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the newest runs of the given kind, most recent first. An
// empty kind returns runs of every kind.
func (j *Journal) Recent(kind string, limit int) ([]Run, error) {
	query := `
		SELECT id, kind, started_at, finished_at, rows_seen, rows_skipped, rows_inserted, status, COALESCE(error, '')
		FROM runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt,
			&r.RowsSeen, &r.RowsSkipped, &r.RowsInserted, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
