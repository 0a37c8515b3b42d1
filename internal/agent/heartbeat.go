// ABOUTME: Periodic liveness signal to the server
// ABOUTME: An auth failure invalidates the session; the next tick re-registers

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/ytwatch/internal/apiclient"
)

// Heartbeater sends one heartbeat per Tick.
type Heartbeater struct {
	session *Session
	api     *apiclient.Client
	logger  *slog.Logger
}

// NewHeartbeater creates a Heartbeater for the session's device.
func NewHeartbeater(session *Session, api *apiclient.Client, logger *slog.Logger) *Heartbeater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeater{session: session, api: api, logger: logger.With("component", "heartbeat")}
}

// Tick registers if needed and sends a heartbeat. Failures are returned for the
// caller to log; there is no retry before the next tick.
func (h *Heartbeater) Tick(ctx context.Context) error {
	id, err := h.session.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	resp, err := h.api.Heartbeat(ctx, id.APIKey, id.DeviceID)
	if err != nil {
		h.session.Invalidate(ctx, err)
		return fmt.Errorf("heartbeat: %w", err)
	}

	h.logger.Debug("heartbeat acknowledged", "device_id", id.DeviceID, "server_time", resp.Timestamp)
	return nil
}
