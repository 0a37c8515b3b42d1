// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests device and subject propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/2389/ytwatch/internal/store"
)

func TestWithDevice_RoundTrip(t *testing.T) {
	device := &store.Device{ID: "dev-1", Name: "Laptop"}

	ctx := WithDevice(context.Background(), device)
	got := DeviceFromContext(ctx)

	if got != device {
		t.Errorf("DeviceFromContext() = %v, want %v", got, device)
	}
}

func TestDeviceFromContext_Missing(t *testing.T) {
	if got := DeviceFromContext(context.Background()); got != nil {
		t.Errorf("DeviceFromContext() = %v, want nil", got)
	}
}

func TestDeviceFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), deviceContextKey{}, "not a device")
	if got := DeviceFromContext(ctx); got != nil {
		t.Errorf("DeviceFromContext() = %v, want nil", got)
	}
}

func TestMustDeviceFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustDeviceFromContext() did not panic")
		}
	}()
	MustDeviceFromContext(context.Background())
}

func TestSubjectFromContext(t *testing.T) {
	if got := SubjectFromContext(context.Background()); got != "" {
		t.Errorf("SubjectFromContext() = %q, want empty", got)
	}

	ctx := WithSubject(context.Background(), ManagerSubject)
	if got := SubjectFromContext(ctx); got != ManagerSubject {
		t.Errorf("SubjectFromContext() = %q, want %q", got, ManagerSubject)
	}
}
