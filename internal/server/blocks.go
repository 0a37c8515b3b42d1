// ABOUTME: Device-facing block handlers: rule distribution and attempt reporting
// ABOUTME: A device sees global rules plus its own; attempts are always recorded against the caller

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/auth"
	"github.com/2389/ytwatch/internal/store"
)

// blockJSON is the wire form of a block rule. A null device_id means global.
type blockJSON struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	YouTubeID     string    `json:"youtube_id"`
	Title         string    `json:"title"`
	ChannelName   string    `json:"channel_name,omitempty"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	CustomMessage string    `json:"custom_message,omitempty"`
	DeviceID      *string   `json:"device_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func toBlockJSON(b *store.Block) blockJSON {
	return blockJSON{
		ID:            b.ID,
		Type:          string(b.Type),
		YouTubeID:     b.YouTubeID,
		Title:         b.Title,
		ChannelName:   b.ChannelName,
		ThumbnailURL:  b.ThumbnailURL,
		CustomMessage: b.CustomMessage,
		DeviceID:      b.DeviceID,
		CreatedAt:     b.CreatedAt,
	}
}

func toBlockList(blocks []*store.Block) []blockJSON {
	out := make([]blockJSON, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockJSON(b))
	}
	return out
}

type blocksResponse struct {
	DeviceID string      `json:"device_id,omitempty"`
	Blocks   []blockJSON `json:"blocks"`
	Count    int         `json:"count"`
}

type attemptRequest struct {
	DeviceID    string `json:"device_id"`
	YouTubeID   string `json:"youtube_id"`
	Type        string `json:"type"`
	VideoTitle  string `json:"video_title"`
	ChannelName string `json:"channel_name"`
}

// handleDeviceBlocks handles GET /api/v1/blocks/{id} for the authenticated device.
func (s *Server) handleDeviceBlocks(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if !auth.RequireSameDevice(w, r, deviceID) {
		return
	}

	blocks, err := s.store.QueryBlocksForDevice(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("querying blocks", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch blocks")
		return
	}

	writeJSON(w, http.StatusOK, blocksResponse{
		DeviceID: deviceID,
		Blocks:   toBlockList(blocks),
		Count:    len(blocks),
	})
}

// handleReportAttempt handles POST /api/v1/blocks/attempts. device_id in the body is
// optional but, when present, must name the authenticated device.
func (s *Server) handleReportAttempt(w http.ResponseWriter, r *http.Request) {
	device := auth.MustDeviceFromContext(r.Context())

	var req attemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID != "" && !auth.RequireSameDevice(w, r, req.DeviceID) {
		return
	}

	youtubeID := strings.TrimSpace(req.YouTubeID)
	if youtubeID == "" || len(youtubeID) > maxIDLength {
		writeError(w, http.StatusBadRequest, kindValidation, "youtube_id is required (max 255 characters)")
		return
	}
	blockType := store.BlockType(req.Type)
	if blockType == "" {
		blockType = store.BlockTypeVideo
	}
	if !blockType.Valid() {
		writeError(w, http.StatusBadRequest, kindValidation, "type must be video, channel or keyword")
		return
	}
	if len(req.VideoTitle) > maxTitleLength || len(req.ChannelName) > maxIDLength {
		writeError(w, http.StatusBadRequest, kindValidation, "video_title or channel_name too long")
		return
	}

	attempt := &store.BlockAttempt{
		ID:          uuid.NewString(),
		DeviceID:    device.ID,
		YouTubeID:   youtubeID,
		Type:        blockType,
		VideoTitle:  orUnknown(req.VideoTitle),
		ChannelName: orUnknown(req.ChannelName),
		AttemptedAt: s.now().UTC(),
	}
	if err := s.store.InsertBlockAttempt(r.Context(), attempt); err != nil {
		s.logger.Error("logging block attempt", "device_id", device.ID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to log block attempt")
		return
	}

	s.metrics.attempts.Inc()
	s.logger.Info("block attempt", "device_id", device.ID, "youtube_id", youtubeID, "type", blockType)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Block attempt logged",
	})
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
