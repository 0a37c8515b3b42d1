// ABOUTME: Watch history persistence for SQLiteStore
// ABOUTME: Atomic, order-preserving batch insert with per-entry idempotency keys

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertWatchHistoryBatch writes every entry in one transaction. Entries whose
// (device_id, entry_id) pair already exists are skipped, which makes re-sending
// a batch after a lost acknowledgement harmless.
func (s *SQLiteStore) InsertWatchHistoryBatch(ctx context.Context, deviceID string, entries []*WatchHistoryEntry) (InsertResult, error) {
	result := InsertResult{Accepted: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO watch_history (
			device_id, entry_id, video_id, title, channel_name, channel_id,
			thumbnail_url, video_url, watched_at, duration, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return InsertResult{}, fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		var duration any
		if e.Duration != nil {
			duration = *e.Duration
		}

		res, err := stmt.ExecContext(ctx,
			deviceID,
			nullString(e.EntryID),
			e.VideoID,
			e.Title,
			e.ChannelName,
			nullString(e.ChannelID),
			nullString(e.ThumbnailURL),
			nullString(e.VideoURL),
			formatTime(e.WatchedAt),
			duration,
			formatTime(e.ReceivedAt),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return InsertResult{}, ErrNotFound
			}
			return InsertResult{}, fmt.Errorf("inserting history entry %d: %w", i, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return InsertResult{}, fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 1 {
			id, err := res.LastInsertId()
			if err != nil {
				return InsertResult{}, fmt.Errorf("getting history id: %w", err)
			}
			e.ID = id
			e.DeviceID = deviceID
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("committing history batch: %w", err)
	}

	s.logger.Debug("inserted watch history", "device_id", deviceID, "accepted", result.Accepted, "inserted", result.Inserted)
	return result, nil
}

// ListWatchHistory returns a device's history, newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListWatchHistory(ctx context.Context, deviceID string, limit int) ([]*WatchHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, entry_id, video_id, title, channel_name, channel_id,
		       thumbnail_url, video_url, watched_at, duration, received_at
		FROM watch_history
		WHERE device_id = ?
		ORDER BY watched_at DESC, id DESC
		LIMIT ?
	`, deviceID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying watch history: %w", err)
	}
	defer rows.Close()

	var entries []*WatchHistoryEntry
	for rows.Next() {
		var e WatchHistoryEntry
		var entryID, channelID, thumbnailURL, videoURL sql.NullString
		var duration sql.NullInt64
		var watchedAt, receivedAt string

		if err := rows.Scan(
			&e.ID, &e.DeviceID, &entryID, &e.VideoID, &e.Title, &e.ChannelName, &channelID,
			&thumbnailURL, &videoURL, &watchedAt, &duration, &receivedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}

		e.EntryID = entryID.String
		e.ChannelID = channelID.String
		e.ThumbnailURL = thumbnailURL.String
		e.VideoURL = videoURL.String
		if duration.Valid {
			d := duration.Int64
			e.Duration = &d
		}

		e.WatchedAt, err = parseTime(watchedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing watched_at: %w", err)
		}
		e.ReceivedAt, err = parseTime(receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return entries, nil
}
