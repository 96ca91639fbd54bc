// Package apperror defines the error taxonomy shared by every layer.
//
// Services and repositories return these errors (usually wrapped with
// fmt.Errorf("...: %w", err)). Only the HTTP layer translates them into
// status codes, see handler/response.go.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUpstream        = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // sentinel category, matched with errors.Is
	Message string // human-readable error message
	Field   string // optional: request field causing the error
	cause   error  // optional: underlying failure, kept for logs
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the category and the underlying cause, so errors.Is
// matches either of them.
func (e *AppError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ValidationFailed covers malformed input as well as duplicate resources
// (for example a second wishlist entry for the same URL).
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is returned for missing, malformed or expired credentials.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

func QuotaExceeded(limit, used int) *AppError {
	return &AppError{
		Err:     ErrQuotaExceeded,
		Message: fmt.Sprintf("free checks exhausted (%d of %d used). Upgrade to premium for unlimited checks", used, limit),
	}
}

// Upstream wraps a failed call to an external collaborator (LLM, payment
// provider, SMS or email). The cause is kept for logging but never shown
// to clients.
func Upstream(service string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s is unavailable, please try again", service),
		cause:   cause,
	}
}
