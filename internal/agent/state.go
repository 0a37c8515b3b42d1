// ABOUTME: Durable agent state: device identity and the unsent watch history buffer
// ABOUTME: Defines the State interface and an in-memory implementation for tests

package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2389/ytwatch/internal/apiclient"
)

// ErrDuplicateEntry is returned by Append when the entry id is already buffered.
var ErrDuplicateEntry = errors.New("entry already buffered")

// Identity is the device's registration. APIKey is empty while unregistered.
type Identity struct {
	DeviceID     string
	DeviceName   string
	APIKey       string
	RegisteredAt *time.Time
}

// Registered reports whether the identity carries an API key.
func (i Identity) Registered() bool {
	return i.APIKey != ""
}

// BufferedEntry is one history item waiting for upload.
type BufferedEntry struct {
	Seq  int64
	Item apiclient.HistoryItem
}

// State is the single source of truth for credentials and buffered history.
// Every protocol operation re-reads it rather than caching.
type State interface {
	// Identity returns the zero Identity when nothing has been saved.
	Identity(ctx context.Context) (Identity, error)
	SaveIdentity(ctx context.Context, id Identity) error
	// ClearAPIKey forgets the key but keeps the device id.
	ClearAPIKey(ctx context.Context) error

	// Append buffers an item and returns the buffer length after the append.
	Append(ctx context.Context, item apiclient.HistoryItem) (int, error)
	// Peek returns up to limit of the oldest entries without removing them.
	Peek(ctx context.Context, limit int) ([]BufferedEntry, error)
	// Remove deletes exactly the given sequence numbers.
	Remove(ctx context.Context, seqs []int64) error
	Len(ctx context.Context) (int, error)

	Close() error
}

// MemoryState is a State held in memory.
type MemoryState struct {
	mu       sync.Mutex
	identity Identity
	buffer   []BufferedEntry
	nextSeq  int64
	entryIDs map[string]bool
}

var _ State = (*MemoryState)(nil)

func NewMemoryState() *MemoryState {
	return &MemoryState{nextSeq: 1, entryIDs: make(map[string]bool)}
}

func (m *MemoryState) Identity(_ context.Context) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity, nil
}

func (m *MemoryState) SaveIdentity(_ context.Context, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = id
	return nil
}

func (m *MemoryState) ClearAPIKey(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.APIKey = ""
	m.identity.RegisteredAt = nil
	return nil
}

func (m *MemoryState) Append(_ context.Context, item apiclient.HistoryItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.EntryID != "" {
		if m.entryIDs[item.EntryID] {
			return len(m.buffer), ErrDuplicateEntry
		}
		m.entryIDs[item.EntryID] = true
	}
	m.buffer = append(m.buffer, BufferedEntry{Seq: m.nextSeq, Item: item})
	m.nextSeq++
	return len(m.buffer), nil
}

func (m *MemoryState) Peek(_ context.Context, limit int) ([]BufferedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.buffer)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]BufferedEntry, n)
	copy(out, m.buffer[:n])
	return out, nil
}

func (m *MemoryState) Remove(_ context.Context, seqs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[int64]bool, len(seqs))
	for _, s := range seqs {
		drop[s] = true
	}
	kept := m.buffer[:0]
	for _, e := range m.buffer {
		if drop[e.Seq] {
			delete(m.entryIDs, e.Item.EntryID)
			continue
		}
		kept = append(kept, e)
	}
	m.buffer = kept
	return nil
}

func (m *MemoryState) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer), nil
}

func (m *MemoryState) Close() error { return nil }
