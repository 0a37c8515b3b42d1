// ABOUTME: Block rule and block attempt persistence for SQLiteStore
// ABOUTME: Device views are the union of global rules and rules scoped to that device

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const blockColumns = `id, type, youtube_id, title, channel_name, thumbnail_url, custom_message, device_id, created_at`

func scanBlock(row rowScanner) (*Block, error) {
	var b Block
	var blockType, createdAt string
	var channelName, thumbnailURL, customMessage, deviceID sql.NullString

	if err := row.Scan(&b.ID, &blockType, &b.YouTubeID, &b.Title, &channelName,
		&thumbnailURL, &customMessage, &deviceID, &createdAt); err != nil {
		return nil, err
	}

	b.Type = BlockType(blockType)
	b.ChannelName = channelName.String
	b.ThumbnailURL = thumbnailURL.String
	b.CustomMessage = customMessage.String
	if deviceID.Valid {
		id := deviceID.String
		b.DeviceID = &id
	}

	var err error
	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &b, nil
}

func (s *SQLiteStore) queryBlocks(ctx context.Context, query string, args ...any) ([]*Block, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying blocks: %w", err)
	}
	defer rows.Close()

	blocks := []*Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning block row: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating block rows: %w", err)
	}
	return blocks, nil
}

// CreateBlock stores a new block rule.
// Returns ErrNotFound if the block is scoped to an unknown device.
func (s *SQLiteStore) CreateBlock(ctx context.Context, b *Block) error {
	var deviceID any
	if b.DeviceID != nil {
		deviceID = *b.DeviceID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		string(b.Type),
		b.YouTubeID,
		b.Title,
		nullString(b.ChannelName),
		nullString(b.ThumbnailURL),
		nullString(b.CustomMessage),
		deviceID,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting block: %w", err)
	}

	s.logger.Info("created block", "id", b.ID, "type", b.Type, "youtube_id", b.YouTubeID, "global", b.Global())
	return nil
}

// DeleteBlock permanently removes a block rule.
// Returns ErrNotFound if the block doesn't exist.
func (s *SQLiteStore) DeleteBlock(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting block: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted block", "id", id)
	return nil
}

// ListBlocks returns every block rule, newest first.
func (s *SQLiteStore) ListBlocks(ctx context.Context) ([]*Block, error) {
	return s.queryBlocks(ctx, `
		SELECT `+blockColumns+` FROM blocks
		ORDER BY created_at DESC, rowid DESC
	`)
}

// QueryBlocksForDevice returns global blocks plus the device's own blocks, newest first.
func (s *SQLiteStore) QueryBlocksForDevice(ctx context.Context, deviceID string) ([]*Block, error) {
	return s.queryBlocks(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE device_id IS NULL OR device_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, deviceID)
}

// InsertBlockAttempt appends an enforcement record.
// Returns ErrNotFound if the device doesn't exist.
func (s *SQLiteStore) InsertBlockAttempt(ctx context.Context, a *BlockAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_attempts (id, device_id, youtube_id, type, video_title, channel_name, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.DeviceID,
		a.YouTubeID,
		string(a.Type),
		a.VideoTitle,
		a.ChannelName,
		formatTime(a.AttemptedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting block attempt: %w", err)
	}

	s.logger.Debug("logged block attempt", "device_id", a.DeviceID, "youtube_id", a.YouTubeID)
	return nil
}

// ListRecentAttempts returns the latest attempts with the device name joined in.
func (s *SQLiteStore) ListRecentAttempts(ctx context.Context, limit int) ([]*BlockAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ba.id, ba.device_id, COALESCE(d.name, ''), ba.youtube_id, ba.type,
		       ba.video_title, ba.channel_name, ba.attempted_at
		FROM block_attempts ba
		LEFT JOIN devices d ON ba.device_id = d.id
		ORDER BY ba.attempted_at DESC, ba.rowid DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying block attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*BlockAttempt{}
	for rows.Next() {
		var a BlockAttempt
		var attemptType, attemptedAt string
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.DeviceName, &a.YouTubeID, &attemptType,
			&a.VideoTitle, &a.ChannelName, &attemptedAt); err != nil {
			return nil, fmt.Errorf("scanning block attempt row: %w", err)
		}
		a.Type = BlockType(attemptType)
		a.AttemptedAt, err = parseTime(attemptedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing attempted_at: %w", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating block attempt rows: %w", err)
	}
	return attempts, nil
}

// CountAttempts counts attempts at or after since.
func (s *SQLiteStore) CountAttempts(ctx context.Context, since time.Time) (int, error) {
	var count int
	var err error
	if since.IsZero() {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM block_attempts`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM block_attempts WHERE attempted_at >= ?`,
			formatTime(since),
		).Scan(&count)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("counting block attempts: %w", err)
	}
	return count, nil
}
