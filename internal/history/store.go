// Package history keeps a sqlite record of finished recognition sessions and
// the control events that drove them.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one finished push-to-talk session.
type Entry struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Bytes     int64         `json:"bytes"`
	Phase     string        `json:"phase"`
	Text      string        `json:"text"`
	Spoken    string        `json:"spoken"`
	Lang      string        `json:"lang"`
	Error     string        `json:"error,omitempty"`
}

// Event is one control action (press, release, mode) and where it came from.
type Event struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			phase TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			spoken TEXT NOT NULL DEFAULT '',
			lang TEXT NOT NULL DEFAULT '',
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			source TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT
		);
	`)
	return err
}

// Record stores a finished session.
func (s *Store) Record(ctx context.Context, e Entry) error {
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, started_at, duration_ms, bytes, phase, text, spoken, lang, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StartedAt.UnixMilli(), e.Duration.Milliseconds(), e.Bytes, e.Phase,
		e.Text, e.Spoken, e.Lang, errText,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, bytes, phase, text, spoken, lang, COALESCE(error,'')
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, durMS int64
		if err := rows.Scan(&e.ID, &started, &durMS, &e.Bytes, &e.Phase, &e.Text, &e.Spoken, &e.Lang, &e.Error); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.Duration = time.Duration(durMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Log records a control event. Failures are logged, not returned.
func (s *Store) Log(source, action, detail string) {
	if _, err := s.db.Exec(
		`INSERT INTO events (ts, source, action, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UnixMilli(), source, action, detail,
	); err != nil {
		slog.Error("event log write failed", "err", err)
	}
}

// Events returns recent control events (newest first).
func (s *Store) Events(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, ts, source, action, COALESCE(detail,'') FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.Action, &e.Detail); err != nil {
			return nil, err
		}
		e.Time = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
