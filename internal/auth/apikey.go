// ABOUTME: Device API key authentication guard for the device-facing endpoints
// ABOUTME: Resolves X-API-Key (or a bearer key) to a device and enforces same-device access

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/store"
)

// APIKeyHeader is the header devices send their key in.
const APIKeyHeader = "X-API-Key"

// DeviceLookup resolves an API key to the device holding it.
type DeviceLookup interface {
	FindDeviceByAPIKey(ctx context.Context, apiKey string) (*store.Device, error)
}

// ExtractAPIKey returns the key from X-API-Key, falling back to "Authorization: Bearer".
func ExtractAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return ""
	}
	return token
}

// APIKeyMiddleware authenticates a device by its API key and attaches it to the context.
// Keys that are not canonical UUIDs are rejected without a storage lookup.
func APIKeyMiddleware(devices DeviceLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, KindUnauthenticated, "API key required")
				return
			}

			if !canonicalUUID(key) {
				writeError(w, http.StatusUnauthorized, KindUnauthenticated, "invalid API key")
				return
			}

			device, err := devices.FindDeviceByAPIKey(r.Context(), key)
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, KindUnauthenticated, "invalid API key")
				return
			}
			if err != nil {
				logger.Error("api key lookup failed", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, KindInternal, "internal error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), device)))
		})
	}
}

// canonicalUUID accepts only the 36-character hyphenated form that keys are issued in.
// uuid.Parse alone also takes urn:uuid:, braced and bare-hex spellings.
func canonicalUUID(key string) bool {
	if len(key) != 36 {
		return false
	}
	_, err := uuid.Parse(key)
	return err == nil
}

// RequireSameDevice checks that claimed names the authenticated device. On mismatch it
// writes a 403 and returns false; the caller must stop handling the request.
func RequireSameDevice(w http.ResponseWriter, r *http.Request, claimed string) bool {
	device := DeviceFromContext(r.Context())
	if device == nil {
		writeError(w, http.StatusUnauthorized, KindUnauthenticated, "API key required")
		return false
	}
	if device.ID != claimed {
		writeError(w, http.StatusForbidden, KindForbidden, "access denied for this device")
		return false
	}
	return true
}
