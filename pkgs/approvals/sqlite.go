package approvals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const approvalsSchema = `
CREATE TABLE IF NOT EXISTS approval_outcomes (
	call_id    TEXT PRIMARY KEY,
	tool       TEXT NOT NULL,
	arguments  TEXT,
	outcome    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	decided_at TEXT NOT NULL
)`

// A SQLiteSink stores audit records in a SQLite database. The table
// is append-only: the call_id primary key rejects double writes.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the database at the given
// path and returns a Sink backed by it.
func NewSQLiteSink(path string) (*SQLiteSink, error) {

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("unable to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("unable to configure database: %w", err)
		}
	}

	if _, err := db.Exec(approvalsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to create schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, r Record) error {

	args, err := json.Marshal(r.Call.Arguments)
	if err != nil {
		return fmt.Errorf("unable to encode arguments: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approval_outcomes (call_id, tool, arguments, outcome, reason, decided_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.CallID,
		r.Call.Name,
		string(args),
		string(r.Outcome),
		r.Reason,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: '%s'", ErrDuplicateRecord, r.CallID)
		}
		return fmt.Errorf("unable to record outcome: %w", err)
	}

	return nil
}

// List implements Sink.
func (s *SQLiteSink) List(ctx context.Context) ([]Record, error) {

	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, tool, arguments, outcome, reason, decided_at FROM approval_outcomes ORDER BY decided_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record

	for rows.Next() {

		var r Record
		var args, decidedAt string

		if err := rows.Scan(&r.CallID, &r.Call.Name, &args, &r.Outcome, &r.Reason, &decidedAt); err != nil {
			return nil, fmt.Errorf("unable to scan outcome: %w", err)
		}

		if args != "" && args != "null" {
			if err := json.Unmarshal([]byte(args), &r.Call.Arguments); err != nil {
				return nil, fmt.Errorf("unable to decode arguments: %w", err)
			}
		}

		ts, err := time.Parse(time.RFC3339Nano, decidedAt)
		if err != nil {
			return nil, fmt.Errorf("unable to parse timestamp: %w", err)
		}
		r.Timestamp = ts

		out = append(out, r)
	}

	return out, rows.Err()
}
