// Package history persists recognized transcripts in a local SQLite
// database so dictated text survives the daemon and can be reviewed or
// re-injected later.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recognized and injected piece of text.
type Entry struct {
	ID        int64
	Text      string
	Mode      string
	Language  string
	Duration  time.Duration
	CreatedAt time.Time
}

// Store is an append-mostly transcript log backed by SQLite.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database location under the user data
// directory.
func DefaultPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "voxd", "history.sqlite")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "voxd", "history.sqlite")
}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	text        TEXT NOT NULL,
	mode        TEXT NOT NULL,
	language    TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at);
`

// Open opens (or creates) the database at path with WAL journaling and
// applies the schema. Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection avoids lock
	// contention and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing database at path for reading only. It never
// creates a file or alters the schema, which makes it the right entry for
// the CLI: a query tool should not leave an empty database behind.
func OpenReadOnly(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one transcript and returns its row id.
func (s *Store) Append(text, mode, language string, duration time.Duration) (int64, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	res, err := s.db.Exec(`
		INSERT INTO transcripts (text, mode, language, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, text, mode, language, duration.Milliseconds(), now)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit transcripts, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, text, mode, language, duration_ms, created_at
		FROM transcripts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		var createdAt float64
		if err := rows.Scan(&e.ID, &e.Text, &e.Mode, &e.Language, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt = timeFromUnix(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
