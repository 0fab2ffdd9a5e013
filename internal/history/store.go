package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// busyTimeoutMs is the maximum time to wait for a database lock.
	busyTimeoutMs = 5000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second

	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// schema is created on open; the table is append-mostly and indexed for
// the two query shapes the API exposes (per-control recent, prune by age).
const schema = `
CREATE TABLE IF NOT EXISTS state_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	control_uuid TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'value',
	value        TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT 'stream',
	created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_state_events_uuid_time
	ON state_events (control_uuid, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_state_events_time
	ON state_events (created_at);
`

// Event source values.
const (
	SourceStream  = "stream"
	SourceCommand = "command"
	SourceRefresh = "refresh"
)

// Entry is one recorded state event.
type Entry struct {
	// ID is the auto-incremented primary key for the row.
	ID int64 `json:"id"`

	// ControlUUID identifies the control, possibly composite.
	ControlUUID string `json:"control_uuid"`

	// State is the logical state name ("value" for stream events).
	State string `json:"state"`

	// Value is the recorded value, JSON-encoded at rest.
	Value any `json:"value"`

	// Source identifies how the event was observed (stream, command, refresh).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the event (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Store persists state events to SQLite.
//
// All methods are safe for concurrent use; the connection pool is
// limited to a single connection because SQLite supports one writer.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and if needed creates) the history database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMs)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying history database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	// Owner read/write only; ignore failure on first run before the
	// file exists.
	_ = os.Chmod(path, filePermissions)

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing history database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Record inserts one state event.
//
// The value is stored JSON-encoded so bools, numbers, and strings all
// round-trip with their types intact.
func (s *Store) Record(ctx context.Context, controlUUID, state string, value any, source string) error {
	if controlUUID == "" {
		return ErrInvalidEvent
	}
	if state == "" {
		state = "value"
	}
	if source == "" {
		source = SourceStream
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO state_events (control_uuid, state, value, source) VALUES (?, ?, ?, ?)",
		controlUUID, state, string(valueJSON), source,
	)
	if err != nil {
		return fmt.Errorf("inserting state event: %w", err)
	}

	return nil
}

// Recent returns the newest events for a control, newest first.
// limit defaults to 50 and is clamped to 500.
func (s *Store) Recent(ctx context.Context, controlUUID string, limit int) ([]Entry, error) {
	if controlUUID == "" {
		return nil, ErrInvalidEvent
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, control_uuid, state, value, source, created_at
		 FROM state_events
		 WHERE control_uuid = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		controlUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var valueJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.ControlUUID, &entry.State, &valueJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state event: %w", err)
		}

		if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}

		timestamp, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state events: %w", err)
	}

	return entries, nil
}

// Prune deletes events older than the retention window and returns the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().Add(-retention).Format("2006-01-02T15:04:05Z")
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM state_events WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseTimestamp parses a timestamp stored by SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
