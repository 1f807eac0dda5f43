package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a unified SQLite-based storage that provides access to
// the record, checkpoint, telemetry and scheduler stores through
// wrapper types sharing one database file.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.keapsync/data/keapsync.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".keapsync", "data", "keapsync.db"), nil
}

// NewStore opens (creating if needed) the database at path and applies
// pending migrations. If path is empty, DefaultPath is used.
func NewStore(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background(), migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func dsn(path string) string {
	values := url.Values{}
	values.Add("_pragma", "foreign_keys(1)")
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + values.Encode()
}

// migrate applies all pending goose migrations from fsys.
func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migration %s: %w", r.Source.Path, r.Error)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordSink returns a RecordSink backed by this store.
func (s *Store) RecordSink() driven.RecordSink {
	return &recordSink{store: s}
}

// CheckpointStore returns a CheckpointStore backed by this store.
func (s *Store) CheckpointStore() driven.CheckpointStore {
	return &checkpointStore{store: s}
}

// TelemetryStore returns a TelemetryStore backed by this store.
func (s *Store) TelemetryStore() driven.TelemetryStore {
	return &telemetryStore{store: s}
}

// SchedulerStore returns a SchedulerStore backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// ==================== Helper Functions ====================

// formatTime formats t in UTC with timeLayout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// formatNullableTime formats a time, or returns nil for zero time.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// formatTimePtr formats a time pointer, or returns nil.
func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime parses a nullable timestamp to time.Time.
// Returns zero time if the string is empty or invalid.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseTimePtr parses a nullable timestamp, or returns nil.
func parseTimePtr(s sql.NullString) *time.Time {
	t := parseNullableTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt returns nil for a nil pointer, otherwise the value.
func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// boolToInt converts a bool to 1 (true) or 0 (false).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
