package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists audit entries in a local SQLite database. It also
// mirrors every entry to slog so the trail shows up in the process log.
type Store struct {
	db *sql.DB
}

// Open creates the database (and its parent directory) if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	action TEXT NOT NULL,
	subject TEXT NOT NULL,
	blueprint TEXT NOT NULL,
	session TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LogAction appends one entry. Failures are logged, never returned:
// audit storage trouble must not abort the audited operation.
func (s *Store) LogAction(action, subject, blueprint, session, reason string) {
	at := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO audit_log (at, action, subject, blueprint, session, reason) VALUES (?, ?, ?, ?, ?, ?)`,
		at, action, subject, blueprint, session, reason,
	)
	if err != nil {
		slog.Error("Failed to persist audit entry.", "action", action, "subject", subject, "err", err)
	}
	slog.Info("Audit event.",
		"action", action, "subject", subject, "blueprint", blueprint, "session", session, "reason", reason)
}

// History returns the most recent entries, newest first.
func (s *Store) History(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT at, action, subject, blueprint, session, reason FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&at, &e.Action, &e.Subject, &e.Blueprint, &e.Session, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// openDB opens a SQLite database with standard pragmas (WAL mode, busy timeout).
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
