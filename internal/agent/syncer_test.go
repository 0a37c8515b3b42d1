// ABOUTME: Tests for the history sync pipeline
// ABOUTME: Buffer-cap flush, clear-after-ack, single in-flight flush and rejected-item handling

package agent

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ytwatch/internal/apiclient"
)

func newTestSyncer(t *testing.T, f *fakeServer, bufferCap int) (*Syncer, *MemoryState) {
	t.Helper()
	state := NewMemoryState()
	session := NewSession(state, f.client(), "dev-1", "Test", nil)
	return NewSyncer(state, session, f.client(), bufferCap, nil), state
}

func observeN(t *testing.T, s *Syncer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Observe(context.Background(), Entry{VideoID: fmt.Sprintf("v%d", i)}))
	}
}

func TestSyncer_BufferCapFlush(t *testing.T) {
	f := newFakeServer(t)
	s, state := newTestSyncer(t, f, 5)
	ctx := context.Background()

	observeN(t, s, 4)
	assert.Equal(t, 0, f.uploadCount(), "below cap nothing is sent")

	require.NoError(t, s.Observe(ctx, Entry{VideoID: "v4"}))
	assert.Equal(t, 1, f.uploadCount(), "the cap-th observation flushes before returning")

	n, _ := state.Len(ctx)
	assert.Zero(t, n)

	items := f.uploadedItems()
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, fmt.Sprintf("v%d", i), item.VideoID, "array order preserved")
		assert.NotEmpty(t, item.EntryID)
		assert.NotNil(t, item.WatchedAt)
	}

	require.NoError(t, s.Observe(ctx, Entry{VideoID: "v5"}))
	n, _ = state.Len(ctx)
	assert.Equal(t, 1, n, "next observation lands in an emptied buffer")
}

func TestSyncer_KeepsBufferOnFailure(t *testing.T) {
	f := newFakeServer(t)
	s, state := newTestSyncer(t, f, 3)
	ctx := context.Background()
	f.failHistory(http.StatusServiceUnavailable, map[string]string{"error": "down", "kind": "internal"})

	observeN(t, s, 3)
	n, _ := state.Len(ctx)
	assert.Equal(t, 3, n, "nothing is cleared without an ack")

	// After a failed flush, further observations do not retry.
	f.failHistory(0, nil)
	require.NoError(t, s.Observe(ctx, Entry{VideoID: "v3"}))
	assert.Equal(t, 0, f.uploadCount())

	sent, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sent)
	n, _ = state.Len(ctx)
	assert.Zero(t, n)
}

func TestSyncer_RetriedBatchReusesEntryIDs(t *testing.T) {
	f := newFakeServer(t)
	s, _ := newTestSyncer(t, f, 100)
	ctx := context.Background()
	observeN(t, s, 2)

	f.failHistory(http.StatusInternalServerError, map[string]string{"error": "x", "kind": "internal"})
	_, err := s.Flush(ctx)
	require.Error(t, err)

	f.failHistory(0, nil)
	before, _ := s.state.Peek(ctx, 0)
	_, err = s.Flush(ctx)
	require.NoError(t, err)

	items := f.uploadedItems()
	require.Len(t, items, 2)
	assert.Equal(t, before[0].Item.EntryID, items[0].EntryID)
}

func TestSyncer_BatchesOfAtMost100(t *testing.T) {
	f := newFakeServer(t)
	s, state := newTestSyncer(t, f, 1000)
	observeN(t, s, 250)

	sent, err := s.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, sent)

	f.mu.Lock()
	sizes := []int{}
	for _, b := range f.uploads {
		sizes = append(sizes, len(b))
	}
	f.mu.Unlock()
	assert.Equal(t, []int{100, 100, 50}, sizes)

	n, _ := state.Len(context.Background())
	assert.Zero(t, n)
}

func TestSyncer_SingleFlushInFlight(t *testing.T) {
	f := newFakeServer(t)
	s, _ := newTestSyncer(t, f, 100)
	observeN(t, s, 2)
	// Register before gating so the first flush blocks on the upload itself.
	_, err := s.session.Ensure(context.Background())
	require.NoError(t, err)

	gate := make(chan struct{})
	f.mu.Lock()
	f.historyGate = gate
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Flush(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return s.inFlight.Load() }, time.Second, 5*time.Millisecond)

	_, err = s.Flush(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, f.uploadedItems(), 2, "entries sent exactly once")
}

func TestSyncer_DropsItemizedRejections(t *testing.T) {
	f := newFakeServer(t)
	s, state := newTestSyncer(t, f, 100)
	ctx := context.Background()
	observeN(t, s, 3)

	f.failHistory(http.StatusBadRequest, map[string]any{
		"error": "invalid watch history batch",
		"kind":  "validation",
		"items": []apiclient.ItemError{{Index: 1, Message: "video_id too long"}},
	})

	_, err := s.Flush(ctx)
	require.Error(t, err)

	rest, _ := state.Peek(ctx, 0)
	require.Len(t, rest, 2)
	assert.Equal(t, "v0", rest[0].Item.VideoID)
	assert.Equal(t, "v2", rest[1].Item.VideoID)
}

func TestSyncer_AuthFailureInvalidatesSession(t *testing.T) {
	f := newFakeServer(t)
	s, state := newTestSyncer(t, f, 100)
	ctx := context.Background()
	observeN(t, s, 1)
	_, err := s.session.Ensure(ctx)
	require.NoError(t, err)

	f.forgetKeys()
	_, err = s.Flush(ctx)
	require.Error(t, err)

	id, _ := state.Identity(ctx)
	assert.False(t, id.Registered())
	n, _ := state.Len(ctx)
	assert.Equal(t, 1, n)

	sent, err := s.Tick(ctx)
	require.NoError(t, err, "next tick re-registers and uploads")
	assert.Equal(t, 1, sent)
}

func TestSyncer_ObserveRequiresVideoID(t *testing.T) {
	f := newFakeServer(t)
	s, _ := newTestSyncer(t, f, 100)
	assert.Error(t, s.Observe(context.Background(), Entry{VideoID: "  "}))
}
