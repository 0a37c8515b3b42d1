// ABOUTME: Management handlers used by the monitoring party
// ABOUTME: Login, block CRUD, attempt listing and stats, device listing and per-device history

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/auth"
	"github.com/2389/ytwatch/internal/store"
	"github.com/2389/ytwatch/internal/youtube"
)

const maxCustomMessage = 2000

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createBlockRequest struct {
	URL           string `json:"url"`
	CustomMessage string `json:"custom_message"`
	DeviceID      string `json:"device_id"`
}

type attemptJSON struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	YouTubeID   string    `json:"youtube_id"`
	Type        string    `json:"type"`
	VideoTitle  string    `json:"video_title"`
	ChannelName string    `json:"channel_name"`
	AttemptedAt time.Time `json:"attempted_at"`
}

type deviceJSON struct {
	DeviceID      string     `json:"device_id"`
	DeviceName    string     `json:"device_name"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	Online        bool       `json:"online"`
	CreatedAt     time.Time  `json:"created_at"`
}

type historyEntryJSON struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelName  string    `json:"channel_name"`
	ChannelID    string    `json:"channel_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	WatchedAt    time.Time `json:"watched_at"`
	Duration     *int64    `json:"duration,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// handleLogin handles POST /api/v1/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil || s.config.Auth.AdminPasswordHash == "" {
		writeError(w, http.StatusForbidden, kindForbidden, "password login disabled: set auth.admin_password_hash")
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := auth.CheckPassword(s.config.Auth.AdminPasswordHash, req.Password); err != nil {
		s.metrics.logins.WithLabelValues("failure").Inc()
		s.logger.Warn("management login failed", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, kindUnauthenticated, "invalid password")
		return
	}

	ttl := s.config.Auth.TokenTTL
	token, err := s.verifier.Generate(auth.ManagerSubject, ttl)
	if err != nil {
		s.metrics.logins.WithLabelValues("error").Inc()
		s.logger.Error("signing management token", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to issue token")
		return
	}

	s.metrics.logins.WithLabelValues("success").Inc()
	s.logger.Info("management login", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: s.now().UTC().Add(ttl)})
}

// handleListBlocks handles GET /api/v1/blocks.
func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.store.ListBlocks(r.Context())
	if err != nil {
		s.logger.Error("listing blocks", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch blocks")
		return
	}
	writeJSON(w, http.StatusOK, blocksResponse{Blocks: toBlockList(blocks), Count: len(blocks)})
}

// handleCreateBlock handles POST /api/v1/blocks. The URL decides the rule type and target.
func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "url is required")
		return
	}
	target, err := youtube.ParseURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid YouTube URL")
		return
	}
	if utf8.RuneCountInString(req.CustomMessage) > maxCustomMessage {
		writeError(w, http.StatusBadRequest, kindValidation, "custom_message exceeds 2000 characters")
		return
	}

	var deviceID *string
	if id := strings.TrimSpace(req.DeviceID); id != "" {
		if _, err := s.store.FindDeviceByID(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, kindNotFound, "device not found")
				return
			}
			s.logger.Error("looking up device", "device_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, kindInternal, "failed to add block")
			return
		}
		deviceID = &id
	}

	meta := youtube.Placeholder(target)
	block := &store.Block{
		ID:            uuid.NewString(),
		Type:          store.BlockType(target.Kind),
		YouTubeID:     target.ID,
		Title:         meta.Title,
		ChannelName:   meta.ChannelName,
		ThumbnailURL:  meta.ThumbnailURL,
		CustomMessage: strings.TrimSpace(req.CustomMessage),
		DeviceID:      deviceID,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.store.CreateBlock(r.Context(), block); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, kindNotFound, "device not found")
			return
		}
		s.logger.Error("creating block", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to add block")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"block":   toBlockJSON(block),
	})
}

// handleDeleteBlock handles DELETE /api/v1/blocks/{id}.
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteBlock(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, kindNotFound, "block not found")
			return
		}
		s.logger.Error("deleting block", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to delete block")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Block deleted successfully",
	})
}

// handleListAttempts handles GET /api/v1/blocks/attempts?limit=N.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	attempts, err := s.store.ListRecentAttempts(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing block attempts", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch attempts")
		return
	}

	out := make([]attemptJSON, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptJSON{
			ID:          a.ID,
			DeviceID:    a.DeviceID,
			DeviceName:  a.DeviceName,
			YouTubeID:   a.YouTubeID,
			Type:        string(a.Type),
			VideoTitle:  a.VideoTitle,
			ChannelName: a.ChannelName,
			AttemptedAt: a.AttemptedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out, "count": len(out)})
}

// handleAttemptStats handles GET /api/v1/blocks/attempts/stats. "today" starts at UTC midnight.
func (s *Server) handleAttemptStats(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	today, err := s.store.CountAttempts(r.Context(), midnight)
	if err != nil {
		s.logger.Error("counting block attempts", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch stats")
		return
	}
	total, err := s.store.CountAttempts(r.Context(), time.Time{})
	if err != nil {
		s.logger.Error("counting block attempts", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"today": today, "total": total})
}

// handleListDevices handles GET /api/v1/devices. Online is derived from the last heartbeat.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch devices")
		return
	}

	now := s.now()
	window := s.config.Devices.OnlineWindow
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON{
			DeviceID:      d.ID,
			DeviceName:    d.Name,
			LastHeartbeat: d.LastHeartbeat,
			Online:        d.Online(now, window),
			CreatedAt:     d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// handleDeviceHistory handles GET /api/v1/devices/{device_id}/history?limit=N.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	if _, err := s.store.FindDeviceByID(r.Context(), deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, kindNotFound, "device not found")
			return
		}
		s.logger.Error("looking up device", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch history")
		return
	}

	entries, err := s.store.ListWatchHistory(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("listing watch history", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to fetch history")
		return
	}

	out := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryJSON{
			ID:           e.ID,
			DeviceID:     e.DeviceID,
			VideoID:      e.VideoID,
			Title:        e.Title,
			ChannelName:  e.ChannelName,
			ChannelID:    e.ChannelID,
			ThumbnailURL: e.ThumbnailURL,
			VideoURL:     e.VideoURL,
			WatchedAt:    e.WatchedAt,
			Duration:     e.Duration,
			ReceivedAt:   e.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "history": out, "count": len(out)})
}
