// ABOUTME: Store interfaces and data types for ytwatch persistence
// ABOUTME: Defines Device, WatchHistoryEntry, Block, BlockAttempt and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing unique key
var ErrDuplicate = errors.New("already exists")

// DefaultOnlineWindow is how recent a heartbeat must be for a device to count as online.
const DefaultOnlineWindow = 2 * time.Minute

// Device is one monitored browser/machine identity.
type Device struct {
	ID            string
	Name          string
	APIKey        string
	LastHeartbeat *time.Time
	CreatedAt     time.Time
}

// Online reports whether the device heartbeated within window of now.
// It is derived at read time and never stored.
func (d *Device) Online(now time.Time, window time.Duration) bool {
	if d.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*d.LastHeartbeat) < window
}

// WatchHistoryEntry is one playback event reported by a device.
type WatchHistoryEntry struct {
	ID           int64
	DeviceID     string
	EntryID      string // client idempotency key, may be empty
	VideoID      string
	Title        string
	ChannelName  string
	ChannelID    string
	ThumbnailURL string
	VideoURL     string
	WatchedAt    time.Time
	Duration     *int64 // seconds
	ReceivedAt   time.Time
}

// BlockType identifies what a block rule targets
type BlockType string

const (
	BlockTypeVideo   BlockType = "video"
	BlockTypeChannel BlockType = "channel"
	BlockTypeKeyword BlockType = "keyword"
)

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeVideo, BlockTypeChannel, BlockTypeKeyword:
		return true
	}
	return false
}

// Block is a content restriction rule. A nil DeviceID means the rule is global.
type Block struct {
	ID            string
	Type          BlockType
	YouTubeID     string
	Title         string
	ChannelName   string
	ThumbnailURL  string
	CustomMessage string
	DeviceID      *string
	CreatedAt     time.Time
}

// Global reports whether the block applies to every device.
func (b *Block) Global() bool {
	return b.DeviceID == nil
}

// BlockAttempt records one time enforcement fired on a device.
type BlockAttempt struct {
	ID          string
	DeviceID    string
	DeviceName  string // populated by ListRecentAttempts only
	YouTubeID   string
	Type        BlockType
	VideoTitle  string
	ChannelName string
	AttemptedAt time.Time
}

// InsertResult reports the outcome of a history batch insert.
type InsertResult struct {
	Accepted int // items in the batch
	Inserted int // rows actually written (entries with a known entry id are skipped)
}

// DeviceStore is the credential store. It exclusively owns device rows.
type DeviceStore interface {
	// FindDeviceByAPIKey returns ErrNotFound when no device holds the key.
	FindDeviceByAPIKey(ctx context.Context, apiKey string) (*Device, error)
	FindDeviceByID(ctx context.Context, id string) (*Device, error)

	// UpsertDevice inserts d unless a device with d.ID already exists. It always
	// returns the stored row; created is false when the row pre-existed, in which
	// case the stored api key is returned unchanged.
	UpsertDevice(ctx context.Context, d *Device) (stored *Device, created bool, err error)

	// TouchHeartbeat sets last_heartbeat. Returns ErrNotFound for unknown ids.
	TouchHeartbeat(ctx context.Context, id string, at time.Time) error
	ListDevices(ctx context.Context) ([]*Device, error)
}

// HistoryStore persists watch history.
type HistoryStore interface {
	// InsertWatchHistoryBatch writes all entries for deviceID in one transaction,
	// in slice order. Either every new entry is written or none is.
	InsertWatchHistoryBatch(ctx context.Context, deviceID string, entries []*WatchHistoryEntry) (InsertResult, error)
	// ListWatchHistory returns the newest entries first.
	ListWatchHistory(ctx context.Context, deviceID string, limit int) ([]*WatchHistoryEntry, error)
}

// BlockStore persists block rules and enforcement attempts.
type BlockStore interface {
	CreateBlock(ctx context.Context, b *Block) error
	// DeleteBlock returns ErrNotFound when no block has the id.
	DeleteBlock(ctx context.Context, id string) error
	ListBlocks(ctx context.Context) ([]*Block, error)
	// QueryBlocksForDevice returns global blocks plus blocks scoped to deviceID, newest first.
	QueryBlocksForDevice(ctx context.Context, deviceID string) ([]*Block, error)

	InsertBlockAttempt(ctx context.Context, a *BlockAttempt) error
	ListRecentAttempts(ctx context.Context, limit int) ([]*BlockAttempt, error)
	// CountAttempts counts attempts at or after since. A zero since counts all.
	CountAttempts(ctx context.Context, since time.Time) (int, error)
}

// Store is everything the service persists.
type Store interface {
	DeviceStore
	HistoryStore
	BlockStore
	Close() error
}

// clampLimit applies the default and ceiling used by list queries.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
