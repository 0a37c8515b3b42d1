// ABOUTME: Watch history ingestion handler
// ABOUTME: Validates the whole batch before one transactional insert, itemizing every bad entry

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/ytwatch/internal/auth"
	"github.com/2389/ytwatch/internal/store"
	"github.com/2389/ytwatch/internal/youtube"
)

// Batch and field limits for POST /api/v1/watch-history.
const (
	maxBatchItems  = 100
	maxIDLength    = 255
	maxEntryID     = 128
	maxTitleLength = 1000
	maxURLLength   = 2048
)

// historyItem is one uploaded entry. watched_at accepts an RFC 3339 string or Unix
// milliseconds; duration accepts any non-negative number of seconds.
type historyItem struct {
	EntryID      string          `json:"entry_id"`
	VideoID      string          `json:"video_id"`
	Title        string          `json:"title"`
	ChannelName  string          `json:"channel_name"`
	ChannelID    string          `json:"channel_id"`
	ThumbnailURL string          `json:"thumbnail_url"`
	VideoURL     string          `json:"video_url"`
	WatchedAt    json.RawMessage `json:"watched_at"`
	Duration     json.Number     `json:"duration"`
}

type historyRequest struct {
	Videos []historyItem `json:"videos"`
}

type historyResponse struct {
	Success  bool `json:"success"`
	Count    int  `json:"count"`
	Inserted int  `json:"inserted"`
}

// handleWatchHistory handles POST /api/v1/watch-history. The batch is all-or-nothing:
// any invalid item rejects every item.
func (s *Server) handleWatchHistory(w http.ResponseWriter, r *http.Request) {
	device := auth.MustDeviceFromContext(r.Context())

	var req historyRequest
	if !decodeJSON(w, r, &req) {
		s.metrics.historyBatches.WithLabelValues("rejected").Inc()
		return
	}

	if len(req.Videos) == 0 || len(req.Videos) > maxBatchItems {
		s.metrics.historyBatches.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, kindValidation,
			fmt.Sprintf("videos must contain 1-%d items, got %d", maxBatchItems, len(req.Videos)))
		return
	}

	receivedAt := s.now().UTC()
	entries := make([]*store.WatchHistoryEntry, 0, len(req.Videos))
	var problems []itemError
	for i, item := range req.Videos {
		entry, msg := item.toEntry(device.ID, receivedAt)
		if msg != "" {
			problems = append(problems, itemError{Index: i, Message: msg})
			continue
		}
		entries = append(entries, entry)
	}
	if len(problems) > 0 {
		s.metrics.historyBatches.WithLabelValues("rejected").Inc()
		s.logger.Warn("rejected watch history batch", "device_id", device.ID, "items", len(req.Videos), "invalid", len(problems))
		writeItemErrors(w, "invalid watch history batch", problems)
		return
	}

	result, err := s.store.InsertWatchHistoryBatch(r.Context(), device.ID, entries)
	if err != nil {
		s.metrics.historyBatches.WithLabelValues("error").Inc()
		s.logger.Error("storing watch history", "device_id", device.ID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to store watch history")
		return
	}

	s.metrics.historyBatches.WithLabelValues("accepted").Inc()
	s.metrics.historyItems.WithLabelValues("inserted").Add(float64(result.Inserted))
	s.metrics.historyItems.WithLabelValues("duplicate").Add(float64(result.Accepted - result.Inserted))
	s.logger.Info("stored watch history", "device_id", device.ID, "count", result.Accepted, "inserted", result.Inserted)

	writeJSON(w, http.StatusOK, historyResponse{Success: true, Count: result.Accepted, Inserted: result.Inserted})
}

// toEntry validates the item and converts it, or returns a message describing the problem.
func (item historyItem) toEntry(deviceID string, receivedAt time.Time) (*store.WatchHistoryEntry, string) {
	videoID := strings.TrimSpace(item.VideoID)
	if videoID == "" {
		return nil, "video_id is required"
	}

	checks := []struct {
		field string
		value string
		max   int
	}{
		{"video_id", videoID, maxIDLength},
		{"entry_id", item.EntryID, maxEntryID},
		{"title", item.Title, maxTitleLength},
		{"channel_name", item.ChannelName, maxIDLength},
		{"channel_id", item.ChannelID, maxIDLength},
		{"thumbnail_url", item.ThumbnailURL, maxURLLength},
		{"video_url", item.VideoURL, maxURLLength},
	}
	for _, c := range checks {
		if utf8.RuneCountInString(c.value) > c.max {
			return nil, fmt.Sprintf("%s exceeds %d characters", c.field, c.max)
		}
	}

	watchedAt, err := parseWatchedAt(item.WatchedAt, receivedAt)
	if err != nil {
		return nil, err.Error()
	}

	duration, err := parseDuration(item.Duration)
	if err != nil {
		return nil, err.Error()
	}

	entry := &store.WatchHistoryEntry{
		DeviceID:     deviceID,
		EntryID:      strings.TrimSpace(item.EntryID),
		VideoID:      videoID,
		Title:        item.Title,
		ChannelName:  item.ChannelName,
		ChannelID:    item.ChannelID,
		ThumbnailURL: item.ThumbnailURL,
		VideoURL:     item.VideoURL,
		WatchedAt:    watchedAt,
		Duration:     duration,
		ReceivedAt:   receivedAt,
	}
	if entry.ThumbnailURL == "" {
		entry.ThumbnailURL = youtube.ThumbnailURL(videoID)
	}
	if entry.VideoURL == "" {
		entry.VideoURL = youtube.WatchURL(videoID)
	}
	return entry, ""
}

// parseWatchedAt accepts null/absent (receipt time), an RFC 3339 string or Unix milliseconds.
func parseWatchedAt(raw json.RawMessage, fallback time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, errors.New("watched_at is not a valid string")
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, errors.New("watched_at must be RFC 3339 or Unix milliseconds")
		}
		return checkWatchedAtRange(t.UTC())
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, errors.New("watched_at must be RFC 3339 or Unix milliseconds")
	}
	return checkWatchedAtRange(time.UnixMilli(ms).UTC())
}

// checkWatchedAtRange keeps stored timestamps within the four-digit years
// the text column layout can round-trip.
func checkWatchedAtRange(t time.Time) (time.Time, error) {
	if t.Year() < 0 || t.Year() > 9999 {
		return time.Time{}, errors.New("watched_at must fall between years 0000 and 9999 UTC")
	}
	return t, nil
}

// parseDuration converts a number of seconds, truncating fractions.
func parseDuration(n json.Number) (*int64, error) {
	if n == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, errors.New("duration must be a non-negative number of seconds")
	}
	secs := int64(f)
	return &secs, nil
}
