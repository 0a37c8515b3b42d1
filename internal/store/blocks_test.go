// ABOUTME: Tests for block rules and block attempt persistence
// ABOUTME: Verifies the global + device union, ordering, deletion and attempt stats

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlock(youtubeID string, deviceID *string, createdAt time.Time) *Block {
	return &Block{
		ID:        uuid.NewString(),
		Type:      BlockTypeVideo,
		YouTubeID: youtubeID,
		Title:     "Video " + youtubeID,
		DeviceID:  deviceID,
		CreatedAt: createdAt,
	}
}

func strPtr(s string) *string { return &s }

func TestQueryBlocksForDevice_Union(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"X", "Y"} {
		_, _, err := store.UpsertDevice(ctx, newTestDevice(id))
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	global := newTestBlock("global", nil, now)
	scoped := newTestBlock("scoped", strPtr("X"), now.Add(time.Second))
	require.NoError(t, store.CreateBlock(ctx, global))
	require.NoError(t, store.CreateBlock(ctx, scoped))

	forX, err := store.QueryBlocksForDevice(ctx, "X")
	require.NoError(t, err)
	require.Len(t, forX, 2)
	assert.Equal(t, "scoped", forX[0].YouTubeID, "newest first")
	assert.Equal(t, "global", forX[1].YouTubeID)
	assert.True(t, forX[1].Global())
	require.NotNil(t, forX[0].DeviceID)
	assert.Equal(t, "X", *forX[0].DeviceID)

	forY, err := store.QueryBlocksForDevice(ctx, "Y")
	require.NoError(t, err)
	require.Len(t, forY, 1)
	assert.Equal(t, "global", forY[0].YouTubeID)
}

func TestQueryBlocksForDevice_SameTimestampNewestInsertFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.CreateBlock(ctx, newTestBlock("first", nil, now)))
	require.NoError(t, store.CreateBlock(ctx, newTestBlock("second", nil, now)))

	blocks, err := store.QueryBlocksForDevice(ctx, "anyone")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "second", blocks[0].YouTubeID)
}

func TestQueryBlocksForDevice_EmptyIsNotNil(t *testing.T) {
	store := newTestStore(t)

	blocks, err := store.QueryBlocksForDevice(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, blocks)
	assert.Empty(t, blocks)
}

func TestCreateBlock_Fields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := &Block{
		ID:            uuid.NewString(),
		Type:          BlockTypeChannel,
		YouTubeID:     "@somehandle",
		Title:         "Channel somehandle",
		ChannelName:   "Some Handle",
		ThumbnailURL:  "https://example.com/t.jpg",
		CustomMessage: "Not on school nights",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateBlock(ctx, b))

	blocks, err := store.ListBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	got := blocks[0]
	assert.Equal(t, BlockTypeChannel, got.Type)
	assert.Equal(t, "Some Handle", got.ChannelName)
	assert.Equal(t, "Not on school nights", got.CustomMessage)
	assert.Equal(t, "https://example.com/t.jpg", got.ThumbnailURL)
	assert.Nil(t, got.DeviceID)
}

func TestCreateBlock_UnknownDevice(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateBlock(context.Background(), newTestBlock("v", strPtr("ghost"), time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBlock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := newTestBlock("v", nil, time.Now())
	require.NoError(t, store.CreateBlock(ctx, b))

	require.NoError(t, store.DeleteBlock(ctx, b.ID))
	assert.ErrorIs(t, store.DeleteBlock(ctx, b.ID), ErrNotFound)

	blocks, err := store.ListBlocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestBlockAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := newTestDevice("dev-1")
	d.Name = "Kid laptop"
	_, _, err := store.UpsertDevice(ctx, d)
	require.NoError(t, err)

	today := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	yesterday := today.Add(-24 * time.Hour)

	for i, at := range []time.Time{yesterday, today, today.Add(time.Hour)} {
		require.NoError(t, store.InsertBlockAttempt(ctx, &BlockAttempt{
			ID:          uuid.NewString(),
			DeviceID:    "dev-1",
			YouTubeID:   "abc123",
			Type:        BlockTypeVideo,
			VideoTitle:  "Title",
			ChannelName: "Chan",
			AttemptedAt: at,
		}), "attempt %d", i)
	}

	recent, err := store.ListRecentAttempts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Kid laptop", recent[0].DeviceName)
	assert.True(t, recent[0].AttemptedAt.After(recent[1].AttemptedAt))

	startOfDay := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	count, err := store.CountAttempts(ctx, startOfDay)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := store.CountAttempts(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestInsertBlockAttempt_UnknownDevice(t *testing.T) {
	store := newTestStore(t)

	err := store.InsertBlockAttempt(context.Background(), &BlockAttempt{
		ID:          uuid.NewString(),
		DeviceID:    "ghost",
		YouTubeID:   "v",
		Type:        BlockTypeVideo,
		AttemptedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
