// ABOUTME: Registration, heartbeat, health and index handlers
// ABOUTME: Registration is idempotent per device id; heartbeats stamp last_heartbeat

package server

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/auth"
	"github.com/2389/ytwatch/internal/store"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

const maxDeviceName = 255

type registerRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type registerResponse struct {
	DeviceID string `json:"device_id"`
	APIKey   string `json:"api_key"`
	Message  string `json:"message"`
}

type heartbeatResponse struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// validateDevice checks a registration request, returning a message for the first problem.
func validateDevice(id, name string) string {
	if !deviceIDPattern.MatchString(id) {
		return "device_id must be 1-255 characters of letters, digits, '-' or '_'"
	}
	if name == "" || utf8.RuneCountInString(name) > maxDeviceName {
		return "device_name must be 1-255 characters"
	}
	return ""
}

// handleRegister handles POST /api/v1/register.
// A new device gets a fresh key (201); a known device gets its existing key back (200).
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		s.metrics.registrations.WithLabelValues("rejected").Inc()
		return
	}

	name := strings.TrimSpace(req.DeviceName)
	if msg := validateDevice(req.DeviceID, name); msg != "" {
		s.metrics.registrations.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, kindValidation, msg)
		return
	}

	stored, created, err := s.store.UpsertDevice(r.Context(), &store.Device{
		ID:        req.DeviceID,
		Name:      name,
		APIKey:    uuid.NewString(),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.metrics.registrations.WithLabelValues("error").Inc()
		s.logger.Error("registering device", "device_id", req.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to register device")
		return
	}

	if !created {
		s.metrics.registrations.WithLabelValues("existing").Inc()
		s.logger.Info("device re-registered", "device_id", stored.ID)
		writeJSON(w, http.StatusOK, registerResponse{
			DeviceID: stored.ID,
			APIKey:   stored.APIKey,
			Message:  "Device already registered",
		})
		return
	}

	s.metrics.registrations.WithLabelValues("created").Inc()
	s.logger.Info("device registered", "device_id", stored.ID, "device_name", stored.Name)
	writeJSON(w, http.StatusCreated, registerResponse{
		DeviceID: stored.ID,
		APIKey:   stored.APIKey,
		Message:  "Device registered successfully",
	})
}

// handleHeartbeat handles GET and POST /api/v1/heartbeat/{device_id}.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	if !auth.RequireSameDevice(w, r, deviceID) {
		return
	}

	now := s.now().UTC()
	if err := s.store.TouchHeartbeat(r.Context(), deviceID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, kindNotFound, "device not found")
			return
		}
		s.logger.Error("recording heartbeat", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to record heartbeat")
		return
	}

	s.metrics.heartbeats.Inc()
	writeJSON(w, http.StatusOK, heartbeatResponse{DeviceID: deviceID, Timestamp: now, Status: "ok"})
}

// handleHealth returns 200 OK with the server time.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "ytwatch",
		"version":    Version,
		"status":     "running",
		"management": s.verifier != nil,
	})
}
