// ABOUTME: Tests for bcrypt password hashing and comparison
// ABOUTME: Uses the default cost, so these are the slowest tests in the package

package auth

import (
	"errors"
	"testing"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if err := CheckPassword(hash, "correct horse"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	if err := CheckPassword(hash, "battery staple"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("CheckPassword() wrong password error = %v, want ErrInvalidPassword", err)
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("HashPassword(\"\") should fail")
	}
}

func TestCheckPassword_NoHashConfigured(t *testing.T) {
	if err := CheckPassword("", "anything"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("CheckPassword() error = %v, want ErrInvalidPassword", err)
	}
	if err := CheckPassword("not-a-bcrypt-hash", "anything"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("CheckPassword() error = %v, want ErrInvalidPassword", err)
	}
}
