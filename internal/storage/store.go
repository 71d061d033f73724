// Package storage persists learning events and profile entries.
//
// Architecture:
// - One SQLite database (WAL mode) under the data directory
// - events: append-only log, indexed by category, timestamp and subject
// - profile: small key -> JSON aggregate table, overwritten wholesale
//
// Directory structure:
// ~/.local/share/sage/
// ├── sage.db          # SQLite database
// └── config.yaml      # optional config override
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Atharva-Kanherkar/sage/internal/event"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DatabaseFile is the name of the SQLite file inside the data directory.
const DatabaseFile = "sage.db"

// DefaultScanLimit bounds scans that pass a non-positive limit.
const DefaultScanLimit = 100

// Store handles persistence of events and profile entries.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the database under baseDir and ensures the schema.
// Calling New repeatedly on the same directory is safe: the schema is only
// created when missing and existing rows are kept.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create base directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, DatabaseFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		action TEXT NOT NULL,
		data JSON,
		timestamp INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		subject TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);

	CREATE TABLE IF NOT EXISTS profile (
		key TEXT PRIMARY KEY,
		value JSON NOT NULL,
		updated INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Append persists an event and returns its assigned ID. The ID is also
// written back into e.
func (s *Store) Append(ctx context.Context, e *event.Event) (int64, error) {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return 0, fmt.Errorf("storage: serialize event data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (category, action, data, timestamp, session_id, subject)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Category), e.Action, string(dataJSON), e.Timestamp, e.SessionID, nullString(e.Subject))
	if err != nil {
		return 0, fmt.Errorf("storage: insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: read event id: %w", err)
	}
	e.ID = id
	return id, nil
}

// Scan returns up to limit events, most recent first. An empty category
// scans every category.
func (s *Store) Scan(ctx context.Context, category event.Category, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = DefaultScanLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if category == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, category, action, data, timestamp, session_id, subject
			FROM events
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, category, action, data, timestamp, session_id, subject
			FROM events
			WHERE category = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		`, string(category), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ScanBySubject returns up to limit events tagged with subject, most recent first.
func (s *Store) ScanBySubject(ctx context.Context, subject string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = DefaultScanLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, action, data, timestamp, session_id, subject
		FROM events
		WHERE subject = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: scan events by subject: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ClearEvents removes every event.
func (s *Store) ClearEvents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("storage: clear events: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var e event.Event
		var category string
		var dataJSON, subject sql.NullString

		if err := rows.Scan(&e.ID, &category, &e.Action, &dataJSON, &e.Timestamp, &e.SessionID, &subject); err != nil {
			return nil, fmt.Errorf("storage: read event row: %w", err)
		}

		e.Category = event.Category(category)
		e.Subject = subject.String
		e.Data = event.Data{}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &e.Data); err != nil {
				return nil, fmt.Errorf("storage: decode event %d data: %w", e.ID, err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate events: %w", err)
	}
	return events, nil
}

// ProfileRecord is one named aggregate in the profile table.
type ProfileRecord struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Updated time.Time       `json:"updated"`
}

// GetProfile returns the entry stored under key, or nil if there is none.
func (s *Store) GetProfile(ctx context.Context, key string) (*ProfileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated FROM profile WHERE key = ?
	`, key)

	var r ProfileRecord
	var value string
	var updated int64
	err := row.Scan(&r.Key, &value, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get profile %q: %w", key, err)
	}

	r.Value = json.RawMessage(value)
	r.Updated = time.UnixMilli(updated)
	return &r, nil
}

// PutProfile replaces the entry stored under key.
func (s *Store) PutProfile(ctx context.Context, key string, value json.RawMessage, updated time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profile (key, value, updated) VALUES (?, ?, ?)
	`, key, string(value), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("storage: put profile %q: %w", key, err)
	}
	return nil
}

// ListProfile returns every profile entry ordered by key.
func (s *Store) ListProfile(ctx context.Context) ([]ProfileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated FROM profile ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("storage: list profile: %w", err)
	}
	defer rows.Close()

	var records []ProfileRecord
	for rows.Next() {
		var r ProfileRecord
		var value string
		var updated int64
		if err := rows.Scan(&r.Key, &value, &updated); err != nil {
			return nil, fmt.Errorf("storage: read profile row: %w", err)
		}
		r.Value = json.RawMessage(value)
		r.Updated = time.UnixMilli(updated)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ClearAll wipes events and profile entries in a single transaction, so no
// reader can observe one table cleared and the other stale.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("storage: clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profile`); err != nil {
		return fmt.Errorf("storage: clear profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit clear: %w", err)
	}
	return nil
}

// Stats holds storage statistics.
type Stats struct {
	TotalEvents    int64            `json:"total_events"`
	ByCategory     map[string]int64 `json:"by_category"`
	Sessions       int64            `json:"sessions"`
	ProfileEntries int64            `json:"profile_entries"`
	DatabaseSize   int64            `json:"database_size"`
}

// Stats returns statistics about stored events and profile entries.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByCategory: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT session_id) FROM events`).
		Scan(&stats.TotalEvents, &stats.Sessions); err != nil {
		return stats, fmt.Errorf("storage: count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM events GROUP BY category`)
	if err != nil {
		return stats, fmt.Errorf("storage: count by category: %w", err)
	}
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("storage: read category count: %w", err)
		}
		stats.ByCategory[category] = count
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profile`).Scan(&stats.ProfileEntries); err != nil {
		return stats, fmt.Errorf("storage: count profile: %w", err)
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
