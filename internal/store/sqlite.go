// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns schema creation and the device (credential) queries

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that text comparison in ORDER BY matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS devices (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			api_key        TEXT NOT NULL UNIQUE,
			last_heartbeat TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS watch_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id     TEXT NOT NULL,
			entry_id      TEXT,
			video_id      TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			channel_name  TEXT NOT NULL DEFAULT '',
			channel_id    TEXT,
			thumbnail_url TEXT,
			video_url     TEXT,
			watched_at    TEXT NOT NULL,
			duration      INTEGER,
			received_at   TEXT NOT NULL,
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_watch_history_device ON watch_history(device_id);
		CREATE INDEX IF NOT EXISTS idx_watch_history_watched ON watch_history(watched_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_watch_history_entry ON watch_history(device_id, entry_id);

		CREATE TABLE IF NOT EXISTS blocks (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			youtube_id     TEXT NOT NULL,
			title          TEXT NOT NULL DEFAULT '',
			channel_name   TEXT,
			thumbnail_url  TEXT,
			custom_message TEXT,
			device_id      TEXT,
			created_at     TEXT NOT NULL,

			CHECK (type IN ('video', 'channel', 'keyword')),
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_blocks_youtube ON blocks(youtube_id);
		CREATE INDEX IF NOT EXISTS idx_blocks_device ON blocks(device_id);

		CREATE TABLE IF NOT EXISTS block_attempts (
			id           TEXT PRIMARY KEY,
			device_id    TEXT NOT NULL,
			youtube_id   TEXT NOT NULL,
			type         TEXT NOT NULL,
			video_title  TEXT NOT NULL DEFAULT '',
			channel_name TEXT NOT NULL DEFAULT '',
			attempted_at TEXT NOT NULL,

			CHECK (type IN ('video', 'channel', 'keyword')),
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_block_attempts_device ON block_attempts(device_id);
		CREATE INDEX IF NOT EXISTS idx_block_attempts_date ON block_attempts(attempted_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString converts an empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const deviceColumns = `id, name, api_key, last_heartbeat, created_at`

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var lastHeartbeat sql.NullString
	var createdAt string

	if err := row.Scan(&d.ID, &d.Name, &d.APIKey, &lastHeartbeat, &createdAt); err != nil {
		return nil, err
	}

	var err error
	d.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastHeartbeat.Valid && lastHeartbeat.String != "" {
		hb, err := parseTime(lastHeartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_heartbeat: %w", err)
		}
		d.LastHeartbeat = &hb
	}
	return &d, nil
}

// FindDeviceByAPIKey retrieves the device holding apiKey.
// Returns ErrNotFound if no device holds it.
func (s *SQLiteStore) FindDeviceByAPIKey(ctx context.Context, apiKey string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE api_key = ?`, apiKey)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device by api key: %w", err)
	}
	return d, nil
}

// FindDeviceByID retrieves a device by ID.
// Returns ErrNotFound if the device doesn't exist.
func (s *SQLiteStore) FindDeviceByID(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// UpsertDevice inserts the device if its id is new and returns the stored row.
// Concurrent callers with the same id all get the single stored row back.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, d *Device) (*Device, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO devices (id, name, api_key, last_heartbeat, created_at)
		VALUES (?, ?, ?, NULL, ?)
		ON CONFLICT(id) DO NOTHING
	`, d.ID, d.Name, d.APIKey, formatTime(d.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			// api_key collision with a different device
			return nil, false, ErrDuplicate
		}
		return nil, false, fmt.Errorf("inserting device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}

	stored, err := scanDevice(tx.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, d.ID))
	if err != nil {
		return nil, false, fmt.Errorf("reading back device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing device: %w", err)
	}

	created := rows == 1
	if created {
		s.logger.Debug("created device", "id", d.ID)
	}
	return stored, created, nil
}

// TouchHeartbeat records a liveness signal for the device.
// Returns ErrNotFound if the device doesn't exist.
func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_heartbeat = ? WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDevices returns all devices, most recently created first.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}
