// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Carries the authenticated device or management subject via context.Context

package auth

import (
	"context"

	"github.com/2389/ytwatch/internal/store"
)

// ManagerSubject is the JWT subject carried by management tokens.
const ManagerSubject = "manager"

type deviceContextKey struct{}

type subjectContextKey struct{}

// WithDevice returns a new context with the authenticated device attached.
func WithDevice(ctx context.Context, device *store.Device) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, device)
}

// DeviceFromContext retrieves the authenticated device, returning nil if not present.
func DeviceFromContext(ctx context.Context) *store.Device {
	d, _ := ctx.Value(deviceContextKey{}).(*store.Device)
	return d
}

// MustDeviceFromContext retrieves the authenticated device, panicking if not present.
// Only call it behind APIKeyMiddleware.
func MustDeviceFromContext(ctx context.Context) *store.Device {
	d := DeviceFromContext(ctx)
	if d == nil {
		panic("auth: device not found in context")
	}
	return d
}

// WithSubject returns a new context carrying a verified management token subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the management subject, or "" if the request was not
// authenticated with a management token.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectContextKey{}).(string)
	return s
}
