// ABOUTME: Device session: registration and credential invalidation
// ABOUTME: Credentials are re-read from State on every call; nothing is cached in memory

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/apiclient"
)

// ErrNotRegistered is returned by Credentials when no API key is stored.
var ErrNotRegistered = errors.New("device not registered")

// Session owns the Authenticated <-> Unauthenticated transitions.
type Session struct {
	state      State
	api        *apiclient.Client
	deviceID   string
	deviceName string
	logger     *slog.Logger
	now        func() time.Time

	// mu serializes registration so concurrent ticks register once.
	mu sync.Mutex
}

// NewSession creates a session. deviceID may be empty, in which case a stored
// id is reused or a new one generated on first registration.
func NewSession(state State, api *apiclient.Client, deviceID, deviceName string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		state:      state,
		api:        api,
		deviceID:   deviceID,
		deviceName: deviceName,
		logger:     logger.With("component", "session"),
		now:        time.Now,
	}
}

// Credentials returns the stored identity, or ErrNotRegistered if it has no key.
func (s *Session) Credentials(ctx context.Context) (Identity, error) {
	id, err := s.state.Identity(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !id.Registered() {
		return id, ErrNotRegistered
	}
	return id, nil
}

// Ensure returns registered credentials, registering first when there are none.
func (s *Session) Ensure(ctx context.Context) (Identity, error) {
	id, err := s.Credentials(ctx)
	if !errors.Is(err, ErrNotRegistered) {
		return id, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have registered while we waited.
	id, err = s.Credentials(ctx)
	if !errors.Is(err, ErrNotRegistered) {
		return id, err
	}
	return s.registerLocked(ctx, id)
}

// Register runs the registration handshake and stores the issued key. It is
// idempotent: the server returns the existing key for a known device id.
func (s *Session) Register(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.state.Identity(ctx)
	if err != nil {
		return Identity{}, err
	}
	return s.registerLocked(ctx, id)
}

func (s *Session) registerLocked(ctx context.Context, id Identity) (Identity, error) {
	prevID := id.DeviceID
	switch {
	case s.deviceID != "":
		id.DeviceID = s.deviceID
	case id.DeviceID == "":
		id.DeviceID = uuid.NewString()
	}
	id.DeviceName = s.deviceName
	if id.DeviceID != prevID {
		id.APIKey = ""
		id.RegisteredAt = nil
	}

	// Persist the id before the network call so a crash cannot fork identities.
	if err := s.state.SaveIdentity(ctx, id); err != nil {
		return Identity{}, err
	}

	resp, err := s.api.Register(ctx, id.DeviceID, id.DeviceName)
	if err != nil {
		return Identity{}, fmt.Errorf("registering device %s: %w", id.DeviceID, err)
	}

	now := s.now().UTC()
	id.APIKey = resp.APIKey
	id.RegisteredAt = &now
	if err := s.state.SaveIdentity(ctx, id); err != nil {
		return Identity{}, err
	}

	s.logger.Info("device registered", "device_id", id.DeviceID, "device_name", id.DeviceName)
	return id, nil
}

// Invalidate clears the stored key when err is an authentication failure, so
// the next scheduled operation re-registers. It reports whether it did.
func (s *Session) Invalidate(ctx context.Context, err error) bool {
	if !apiclient.IsAuthFailure(err) {
		return false
	}
	if clearErr := s.state.ClearAPIKey(ctx); clearErr != nil {
		s.logger.Error("failed to clear api key", "error", clearErr)
		return false
	}
	s.logger.Warn("credentials rejected, will re-register on next tick", "error", err)
	return true
}
