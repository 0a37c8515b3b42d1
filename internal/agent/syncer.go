// ABOUTME: History sync pipeline: durable buffer plus batched, clear-after-ack uploads
// ABOUTME: One flush at a time; a full buffer flushes inline unless the last flush failed

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/apiclient"
)

// ErrSyncInProgress is returned by Flush while another flush is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Entry is one observed video.
type Entry struct {
	VideoID     string
	Title       string
	ChannelName string
	ChannelID   string
	VideoURL    string
	WatchedAt   time.Time
	Duration    *int64
}

// Syncer buffers observed entries and uploads them.
type Syncer struct {
	state     State
	session   *Session
	api       *apiclient.Client
	bufferCap int
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	inFlight atomic.Bool
	// holdCap is set after a failed flush so a full buffer does not retry on
	// every observation; the next scheduled Tick clears it.
	holdCap atomic.Bool
}

// NewSyncer creates a Syncer that buffers into state and flushes once bufferCap entries are held.
func NewSyncer(state State, session *Session, api *apiclient.Client, bufferCap int, logger *slog.Logger) *Syncer {
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		state:     state,
		session:   session,
		api:       api,
		bufferCap: bufferCap,
		batchSize: maxBatch,
		logger:    logger.With("component", "sync"),
		now:       time.Now,
	}
}

// Observe buffers e. When the buffer reaches its cap the call flushes before
// returning, so the next observation lands in an emptied buffer.
func (s *Syncer) Observe(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.VideoID) == "" {
		return fmt.Errorf("observe: video id is required")
	}
	watchedAt := e.WatchedAt
	if watchedAt.IsZero() {
		watchedAt = s.now()
	}
	watchedAt = watchedAt.UTC()

	n, err := s.state.Append(ctx, apiclient.HistoryItem{
		EntryID:     uuid.NewString(),
		VideoID:     e.VideoID,
		Title:       e.Title,
		ChannelName: e.ChannelName,
		ChannelID:   e.ChannelID,
		VideoURL:    e.VideoURL,
		WatchedAt:   &watchedAt,
		Duration:    e.Duration,
	})
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}

	if n >= s.bufferCap && !s.holdCap.Load() {
		if _, err := s.Flush(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			s.logger.Warn("buffer-cap flush failed", "buffered", n, "error", err)
		}
	}
	return nil
}

// Tick is the scheduled flush. It re-enables cap flushes.
func (s *Syncer) Tick(ctx context.Context) (int, error) {
	s.holdCap.Store(false)
	return s.Flush(ctx)
}

// Flush uploads the buffer oldest first in batches, deleting each batch only
// after the server acknowledges it. It stops at the first failure and returns
// the number of entries acknowledged so far.
func (s *Syncer) Flush(ctx context.Context) (int, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return 0, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	sent := 0
	for {
		batch, err := s.state.Peek(ctx, s.batchSize)
		if err != nil {
			s.holdCap.Store(true)
			return sent, err
		}
		if len(batch) == 0 {
			if sent > 0 {
				s.logger.Info("history synced", "entries", sent)
			}
			return sent, nil
		}

		n, err := s.sendBatch(ctx, batch)
		sent += n
		if err != nil {
			s.holdCap.Store(true)
			return sent, err
		}
	}
}

func (s *Syncer) sendBatch(ctx context.Context, batch []BufferedEntry) (int, error) {
	id, err := s.session.Ensure(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: %w", err)
	}

	items := make([]apiclient.HistoryItem, len(batch))
	seqs := make([]int64, len(batch))
	for i, e := range batch {
		items[i] = e.Item
		seqs[i] = e.Seq
	}

	resp, err := s.api.SubmitHistory(ctx, id.APIKey, items)
	if err != nil {
		if s.session.Invalidate(ctx, err) {
			return 0, fmt.Errorf("sync: %w", err)
		}
		if dropped := s.dropRejected(ctx, batch, err); dropped > 0 {
			return 0, fmt.Errorf("sync: dropped %d rejected entries: %w", dropped, err)
		}
		return 0, fmt.Errorf("sync: %w", err)
	}

	if err := s.state.Remove(ctx, seqs); err != nil {
		return 0, fmt.Errorf("sync: clearing acknowledged entries: %w", err)
	}
	s.logger.Debug("batch acknowledged", "count", resp.Count, "inserted", resp.Inserted)
	return len(batch), nil
}

// dropRejected removes entries the server itemized as invalid so they cannot
// block the buffer forever. The rest of the batch stays for the next attempt.
func (s *Syncer) dropRejected(ctx context.Context, batch []BufferedEntry, err error) int {
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || len(apiErr.Items) == 0 {
		return 0
	}

	var seqs []int64
	for _, item := range apiErr.Items {
		if item.Index < 0 || item.Index >= len(batch) {
			continue
		}
		e := batch[item.Index]
		s.logger.Warn("dropping rejected history entry", "video_id", e.Item.VideoID, "reason", item.Message)
		seqs = append(seqs, e.Seq)
	}
	if len(seqs) == 0 {
		return 0
	}
	if rmErr := s.state.Remove(ctx, seqs); rmErr != nil {
		s.logger.Error("failed to drop rejected entries", "error", rmErr)
		return 0
	}
	return len(seqs)
}

// Pending returns the number of buffered entries.
func (s *Syncer) Pending(ctx context.Context) (int, error) {
	return s.state.Len(ctx)
}
