// Package store manages the SQLite database backing todos, schedules, chat
// history and reminder delivery records. It is the single serialization
// point for concurrent conversation contexts: every adapter shares one
// Store, and SQLite (WAL + busy_timeout) orders the writes.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// TimeLayout is the canonical minute-resolution timestamp format used for
// event times, due times and reminders ("YYYY-MM-DD HH:MM", local time).
const TimeLayout = "2006-01-02 15:04"

// createdAtLayout is the second-resolution format for row creation times.
const createdAtLayout = "2006-01-02 15:04:05"

// Store manages the SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Open creates a Store and initializes the schema. Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure SQLite for concurrent access. busy_timeout first so
	// subsequent pragmas wait on locks; retry covers concurrent
	// initialization of the same file.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, now: time.Now}, nil
}

// execWithRetry executes a statement, retrying on "database is locked".
func execWithRetry(db *sql.DB, stmt string, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = db.Exec(stmt); err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowCreatedAt() string {
	return s.now().Format(createdAtLayout)
}

// nullable maps an empty string to SQL NULL.
func nullable(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func fromNull(value sql.NullString) string {
	if value.Valid {
		return value.String
	}
	return ""
}

// NormalizeTag lowercases and trims a tag, defaulting to "default".
func NormalizeTag(tag string) string {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	if normalized == "" {
		return "default"
	}
	return normalized
}
