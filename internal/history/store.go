// Package history keeps a log of completed detections in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded detection.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	Outcome    string    `json:"outcome"`
	Class      string    `json:"class,omitempty"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists entries.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	class      TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_created ON detections(created_at DESC);
`

// Open opens (and creates if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer; the driver serialises through this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record inserts e, filling ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (id, source, outcome, class, confidence, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Source, e.Outcome, e.Class, e.Confidence, e.Message, e.CreatedAt.UnixNano())
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, outcome, class, confidence, message, created_at
		 FROM detections ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			id      string
			created int64
		)
		if err := rows.Scan(&id, &e.Source, &e.Outcome, &e.Class, &e.Confidence, &e.Message, &created); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return errors.New("history store already closed")
	}
	err := s.db.Close()
	s.db = nil
	return err
}
