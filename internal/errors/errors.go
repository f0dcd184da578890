package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an Almanac error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"      // 400
	ErrForbidden          ErrorCode = "FORBIDDEN"            // 403
	ErrNotFound           ErrorCode = "NOT_FOUND"            // 404
	ErrConflict           ErrorCode = "CONFLICT"             // 409
	ErrCancelled          ErrorCode = "CANCELLED"            // 499
	ErrInternal           ErrorCode = "INTERNAL"             // 500
	ErrModelNotConfigured ErrorCode = "MODEL_NOT_CONFIGURED" // 503
)

// AlmanacError represents a structured error with code, status, and details.
type AlmanacError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *AlmanacError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *AlmanacError {
	return &AlmanacError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewForbidden creates a 403 error when the actor lacks the role for a mutation.
func NewForbidden(actorID, capsuleID string) *AlmanacError {
	return &AlmanacError{
		Code:    ErrForbidden,
		Status:  403,
		Message: fmt.Sprintf("user %q cannot edit history of capsule %q", actorID, capsuleID),
		Details: map[string]any{"actor_id": actorID, "capsule_id": capsuleID},
	}
}

// NewNotFound creates a 404 error for a missing entity.
func NewNotFound(entity, identifier string) *AlmanacError {
	return &AlmanacError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", entity, identifier),
		Details: map[string]any{"entity": entity, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *AlmanacError {
	return &AlmanacError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when the caller's context ends mid-operation.
func NewCancelled(op string) *AlmanacError {
	return &AlmanacError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewModelNotConfigured creates a 503 error for a misconfigured model collaborator.
// Callers must not degrade to fallback content for this error.
func NewModelNotConfigured(reason string) *AlmanacError {
	return &AlmanacError{
		Code:    ErrModelNotConfigured,
		Status:  503,
		Message: fmt.Sprintf("model collaborator not configured: %s", reason),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *AlmanacError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AlmanacError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error (or anything it wraps) is an AlmanacError with the given code.
func Is(err error, code ErrorCode) bool {
	var aErr *AlmanacError
	if stderrors.As(err, &aErr) {
		return aErr.Code == code
	}
	return false
}

// As extracts the AlmanacError from err, if any.
func As(err error) (*AlmanacError, bool) {
	var aErr *AlmanacError
	if stderrors.As(err, &aErr) {
		return aErr, true
	}
	return nil, false
}
