// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping SQLiteStore semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	devices  map[string]*Device // keyed by device ID
	byKey    map[string]string  // api key -> device ID
	history  []*WatchHistoryEntry
	entryIDs map[string]bool // "deviceID:entryID"
	blocks   []*Block        // insertion order
	attempts []*BlockAttempt
	nextID   int64

	// FailNext makes the next mutating call return this error (then resets).
	FailNext error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		devices:  make(map[string]*Device),
		byKey:    make(map[string]string),
		entryIDs: make(map[string]bool),
	}
}

func (m *MockStore) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func copyDevice(d *Device) *Device {
	c := *d
	if d.LastHeartbeat != nil {
		hb := *d.LastHeartbeat
		c.LastHeartbeat = &hb
	}
	return &c
}

// FindDeviceByAPIKey retrieves the device holding apiKey.
func (m *MockStore) FindDeviceByAPIKey(ctx context.Context, apiKey string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[apiKey]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(m.devices[id]), nil
}

// FindDeviceByID retrieves a device by ID.
func (m *MockStore) FindDeviceByID(ctx context.Context, id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(d), nil
}

// UpsertDevice inserts the device if its id is new and returns the stored row.
func (m *MockStore) UpsertDevice(ctx context.Context, d *Device) (*Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, false, err
	}

	if existing, ok := m.devices[d.ID]; ok {
		return copyDevice(existing), false, nil
	}
	if _, taken := m.byKey[d.APIKey]; taken {
		return nil, false, ErrDuplicate
	}

	stored := copyDevice(d)
	stored.LastHeartbeat = nil
	m.devices[stored.ID] = stored
	m.byKey[stored.APIKey] = stored.ID
	return copyDevice(stored), true, nil
}

// TouchHeartbeat records a liveness signal for the device.
func (m *MockStore) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	hb := at.UTC()
	d.LastHeartbeat = &hb
	return nil
}

// ListDevices returns all devices, most recently created first.
func (m *MockStore) ListDevices(ctx context.Context) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, copyDevice(d))
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.After(devices[j].CreatedAt)
	})
	return devices, nil
}

// InsertWatchHistoryBatch appends all entries or none.
func (m *MockStore) InsertWatchHistoryBatch(ctx context.Context, deviceID string, entries []*WatchHistoryEntry) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return InsertResult{}, err
	}
	if _, ok := m.devices[deviceID]; !ok {
		return InsertResult{}, ErrNotFound
	}

	result := InsertResult{Accepted: len(entries)}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.EntryID != "" {
			key := deviceID + ":" + e.EntryID
			if m.entryIDs[key] || seen[key] {
				continue
			}
			seen[key] = true
		}
		m.nextID++
		c := *e
		c.ID = m.nextID
		c.DeviceID = deviceID
		e.ID = c.ID
		e.DeviceID = deviceID
		m.history = append(m.history, &c)
		result.Inserted++
	}
	for key := range seen {
		m.entryIDs[key] = true
	}
	return result, nil
}

// ListWatchHistory returns a device's history, newest first.
func (m *MockStore) ListWatchHistory(ctx context.Context, deviceID string, limit int) ([]*WatchHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*WatchHistoryEntry
	for _, e := range m.history {
		if e.DeviceID == deviceID {
			c := *e
			entries = append(entries, &c)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].WatchedAt.Equal(entries[j].WatchedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].WatchedAt.After(entries[j].WatchedAt)
	})

	limit = clampLimit(limit)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CreateBlock stores a new block rule.
func (m *MockStore) CreateBlock(ctx context.Context, b *Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if b.DeviceID != nil {
		if _, ok := m.devices[*b.DeviceID]; !ok {
			return ErrNotFound
		}
	}
	for _, existing := range m.blocks {
		if existing.ID == b.ID {
			return ErrDuplicate
		}
	}

	c := *b
	m.blocks = append(m.blocks, &c)
	return nil
}

// DeleteBlock permanently removes a block rule.
func (m *MockStore) DeleteBlock(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	for i, b := range m.blocks {
		if b.ID == id {
			m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// newestFirst mirrors "ORDER BY created_at DESC, rowid DESC".
func (m *MockStore) newestFirst(keep func(*Block) bool) []*Block {
	blocks := []*Block{}
	for i := len(m.blocks) - 1; i >= 0; i-- {
		if keep(m.blocks[i]) {
			c := *m.blocks[i]
			blocks = append(blocks, &c)
		}
	}
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].CreatedAt.After(blocks[j].CreatedAt)
	})
	return blocks
}

// ListBlocks returns every block rule, newest first.
func (m *MockStore) ListBlocks(ctx context.Context) ([]*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestFirst(func(*Block) bool { return true }), nil
}

// QueryBlocksForDevice returns global blocks plus the device's own blocks, newest first.
func (m *MockStore) QueryBlocksForDevice(ctx context.Context, deviceID string) ([]*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestFirst(func(b *Block) bool {
		return b.DeviceID == nil || *b.DeviceID == deviceID
	}), nil
}

// InsertBlockAttempt appends an enforcement record.
func (m *MockStore) InsertBlockAttempt(ctx context.Context, a *BlockAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.devices[a.DeviceID]; !ok {
		return ErrNotFound
	}
	c := *a
	m.attempts = append(m.attempts, &c)
	return nil
}

// ListRecentAttempts returns the latest attempts with the device name joined in.
func (m *MockStore) ListRecentAttempts(ctx context.Context, limit int) ([]*BlockAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempts := []*BlockAttempt{}
	for i := len(m.attempts) - 1; i >= 0; i-- {
		c := *m.attempts[i]
		if d, ok := m.devices[c.DeviceID]; ok {
			c.DeviceName = d.Name
		}
		attempts = append(attempts, &c)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].AttemptedAt.After(attempts[j].AttemptedAt)
	})

	limit = clampLimit(limit)
	if len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts, nil
}

// CountAttempts counts attempts at or after since.
func (m *MockStore) CountAttempts(ctx context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, a := range m.attempts {
		if since.IsZero() || !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
