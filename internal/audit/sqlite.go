package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteSchema creates the decision table and the triggers that make it
// append-only at the storage layer.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id    TEXT NOT NULL UNIQUE,
	ts          TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	caller_id   TEXT NOT NULL,
	session_id  TEXT,
	outcome     TEXT NOT NULL,
	reason      TEXT,
	safeguard   INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	record      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);
CREATE TRIGGER IF NOT EXISTS decisions_no_update BEFORE UPDATE ON decisions
BEGIN
	SELECT RAISE(ABORT, 'audit records are append-only');
END;
CREATE TRIGGER IF NOT EXISTS decisions_no_delete BEFORE DELETE ON decisions
BEGIN
	SELECT RAISE(ABORT, 'audit records are append-only');
END;
`

// SQLiteSink stores decision records in a SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	// A single writer keeps inserts ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append inserts rec.
func (s *SQLiteSink) Append(ctx context.Context, rec Record) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}
	rec.PrevHash = ""
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}

	safeguard := 0
	if rec.Safeguard {
		safeguard = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (audit_id, ts, decision_id, caller_id, session_id, outcome, reason, safeguard, error, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AuditID, rec.Timestamp, rec.DecisionID, rec.CallerID, rec.SessionID,
		rec.Outcome, rec.Reason, safeguard, rec.Error, string(body))
	if err != nil {
		return "", fmt.Errorf("audit: insert record: %w", err)
	}
	return rec.AuditID, nil
}

// Records returns stored records in insertion order, optionally filtered
// by session.
func (s *SQLiteSink) Records(ctx context.Context, sessionID string) ([]Record, error) {
	query := `SELECT record FROM decisions ORDER BY seq`
	args := []any{}
	if sessionID != "" {
		query = `SELECT record FROM decisions WHERE session_id = ? ORDER BY seq`
		args = append(args, sessionID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("audit: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
