package errors

import (
	"fmt"
	"testing"
)

func TestAlmanacError_Error(t *testing.T) {
	err := &AlmanacError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "capsule not found: c1",
	}

	expected := "NOT_FOUND: capsule not found: c1"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("period is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "period is required" {
		t.Errorf("Message = %q, want %q", err.Message, "period is required")
	}
}

func TestNewForbidden(t *testing.T) {
	err := NewForbidden("u1", "c1")

	if err.Code != ErrForbidden {
		t.Errorf("Code = %q, want %q", err.Code, ErrForbidden)
	}
	if err.Status != 403 {
		t.Errorf("Status = %d, want 403", err.Status)
	}
	if err.Details["actor_id"] != "u1" {
		t.Errorf("Details[actor_id] = %v, want %q", err.Details["actor_id"], "u1")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("pin", "p1")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "p1" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "p1")
	}
	if err.Details["entity"] != "pin" {
		t.Errorf("Details[entity] = %v, want %q", err.Details["entity"], "pin")
	}
}

func TestNewModelNotConfigured(t *testing.T) {
	err := NewModelNotConfigured("missing api key")

	if err.Code != ErrModelNotConfigured {
		t.Errorf("Code = %q, want %q", err.Code, ErrModelNotConfigured)
	}
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("disk full"))
	if err.Message != "disk full" {
		t.Errorf("Message = %q, want %q", err.Message, "disk full")
	}

	err = NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	err := NewNotFound("capsule", "c1")

	if !Is(err, ErrNotFound) {
		t.Error("Is(err, ErrNotFound) = false, want true")
	}
	if Is(err, ErrInternal) {
		t.Error("Is(err, ErrInternal) = true, want false")
	}
	if Is(fmt.Errorf("plain"), ErrNotFound) {
		t.Error("Is(plain, ErrNotFound) = true, want false")
	}

	wrapped := fmt.Errorf("regenerate: %w", NewModelNotConfigured("no key"))
	if !Is(wrapped, ErrModelNotConfigured) {
		t.Error("Is(wrapped, ErrModelNotConfigured) = false, want true")
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewForbidden("u", "c"))
	aErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() ok = false, want true")
	}
	if aErr.Status != 403 {
		t.Errorf("Status = %d, want 403", aErr.Status)
	}

	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As(plain) ok = true, want false")
	}
}
