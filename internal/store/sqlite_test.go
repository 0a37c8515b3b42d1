// ABOUTME: Tests for SQLite store setup and the device (credential) queries
// ABOUTME: Covers schema creation, reopening, idempotent upsert and heartbeat updates

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func newTestDevice(id string) *Device {
	return &Device{
		ID:        id,
		Name:      "Device " + id,
		APIKey:    uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, created, err := store.UpsertDevice(ctx, newTestDevice("mem-1"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.FindDeviceByID(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "mem-1", got.ID)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	_, _, err = store.UpsertDevice(ctx, newTestDevice("keep"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.FindDeviceByID(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "keep", got.ID)
}

func TestUpsertDevice_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newTestDevice("dev-1")
	stored, created, err := store.UpsertDevice(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.APIKey, stored.APIKey)

	// Same id, different proposed key: the original key wins.
	second := newTestDevice("dev-1")
	second.Name = "Renamed"
	stored, created, err = store.UpsertDevice(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.APIKey, stored.APIKey)
	assert.Equal(t, first.Name, stored.Name)

	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestUpsertDevice_ConcurrentSameID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	keys := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, _, err := store.UpsertDevice(ctx, newTestDevice("racer"))
			if assert.NoError(t, err) {
				keys[i] = stored.APIKey
			}
		}(i)
	}
	wg.Wait()

	for _, k := range keys[1:] {
		assert.Equal(t, keys[0], k)
	}

	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestUpsertDevice_APIKeyCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestDevice("a")
	_, _, err := store.UpsertDevice(ctx, a)
	require.NoError(t, err)

	b := newTestDevice("b")
	b.APIKey = a.APIKey
	_, _, err = store.UpsertDevice(ctx, b)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestFindDeviceByAPIKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := newTestDevice("dev-key")
	_, _, err := store.UpsertDevice(ctx, d)
	require.NoError(t, err)

	got, err := store.FindDeviceByAPIKey(ctx, d.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "dev-key", got.ID)
	assert.Nil(t, got.LastHeartbeat)

	_, err = store.FindDeviceByAPIKey(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindDeviceByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchHeartbeat(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertDevice(ctx, newTestDevice("hb"))
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, store.TouchHeartbeat(ctx, "hb", at))

	got, err := store.FindDeviceByID(ctx, "hb")
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, at.Equal(*got.LastHeartbeat))

	assert.True(t, got.Online(at.Add(time.Minute), DefaultOnlineWindow))
	assert.False(t, got.Online(at.Add(3*time.Minute), DefaultOnlineWindow))

	assert.ErrorIs(t, store.TouchHeartbeat(ctx, "nope", at), ErrNotFound)
}

func TestDeviceOnline_NeverHeartbeated(t *testing.T) {
	d := newTestDevice("x")
	assert.False(t, d.Online(time.Now(), DefaultOnlineWindow))
}
