// ABOUTME: SQLite-backed agent state using mattn/go-sqlite3
// ABOUTME: Schema is versioned with golang-migrate over embedded SQL files

package agent

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/2389/ytwatch/internal/apiclient"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// LocalState implements State on a SQLite file.
type LocalState struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ State = (*LocalState)(nil)

// OpenLocalState opens (creating if needed) the state database at path and
// migrates it to the latest schema. ":memory:" opens a private database.
func OpenLocalState(path string) (*LocalState, error) {
	logger := slog.Default().With("component", "agent.state")

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("agent state opened", "path", path)
	return &LocalState{db: db, logger: logger, now: time.Now}, nil
}

// migrateUp applies pending migrations. The migrate instance is not closed
// because that would close db, which the caller owns.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating state database: %w", err)
	}
	return nil
}

// Identity returns the stored identity, or the zero Identity before the first save.
func (s *LocalState) Identity(ctx context.Context) (Identity, error) {
	var (
		id           Identity
		registeredAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, device_name, api_key, registered_at FROM identity WHERE id = 1`,
	).Scan(&id.DeviceID, &id.DeviceName, &id.APIKey, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, fmt.Errorf("reading identity: %w", err)
	}
	if registeredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, registeredAt.String)
		if err != nil {
			return Identity{}, fmt.Errorf("parsing registered_at: %w", err)
		}
		id.RegisteredAt = &t
	}
	return id, nil
}

// SaveIdentity replaces the stored identity.
func (s *LocalState) SaveIdentity(ctx context.Context, id Identity) error {
	var registeredAt any
	if id.RegisteredAt != nil {
		registeredAt = id.RegisteredAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity (id, device_id, device_name, api_key, registered_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			device_name = excluded.device_name,
			api_key = excluded.api_key,
			registered_at = excluded.registered_at`,
		id.DeviceID, id.DeviceName, id.APIKey, registeredAt,
	)
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// ClearAPIKey forgets the key and registration time but keeps the device id.
func (s *LocalState) ClearAPIKey(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE identity SET api_key = '', registered_at = NULL WHERE id = 1`); err != nil {
		return fmt.Errorf("clearing api key: %w", err)
	}
	return nil
}

// Append buffers item, assigning an entry id when it has none, and returns the
// new buffer length. A repeated entry id yields ErrDuplicateEntry.
func (s *LocalState) Append(ctx context.Context, item apiclient.HistoryItem) (int, error) {
	if item.EntryID == "" {
		item.EntryID = uuid.NewString()
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("encoding history item: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history_buffer (entry_id, payload, observed_at) VALUES (?, ?, ?)`,
		item.EntryID, string(payload), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			n, lenErr := s.Len(ctx)
			if lenErr != nil {
				return 0, lenErr
			}
			return n, ErrDuplicateEntry
		}
		return 0, fmt.Errorf("buffering history item: %w", err)
	}
	return s.Len(ctx)
}

// Peek returns up to limit buffered entries, oldest first, without removing
// them. A non-positive limit returns all of them.
func (s *LocalState) Peek(ctx context.Context, limit int) ([]BufferedEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM history_buffer ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history buffer: %w", err)
	}
	defer rows.Close()

	var out []BufferedEntry
	for rows.Next() {
		var (
			e       BufferedEntry
			payload string
		)
		if err := rows.Scan(&e.Seq, &payload); err != nil {
			return nil, fmt.Errorf("scanning history buffer: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Item); err != nil {
			return nil, fmt.Errorf("decoding buffered item %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove deletes the entries with the given sequence numbers in one transaction.
func (s *LocalState) Remove(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM history_buffer WHERE seq = ?`)
	if err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()

	for _, seq := range seqs {
		if _, err := stmt.ExecContext(ctx, seq); err != nil {
			return fmt.Errorf("removing buffered item %d: %w", seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}
	return nil
}

// Len returns the number of buffered entries.
func (s *LocalState) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_buffer`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting history buffer: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *LocalState) Close() error {
	return s.db.Close()
}
