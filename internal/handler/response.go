// Package handler translates HTTP requests into service calls and service
// results back into JSON.
//
// Handlers own no business rules. They decode the body, read the
// authenticated user from the context, call one service method and hand
// the result (or the error) to writeJSON / writeError.
package handler

// RESPONSE HELPERS:
// Every error response has the same shape:
//   {"error": "quota_exceeded", "message": "free plan limit of 3 checks reached"}
// plus "field" for validation errors, so the frontend can highlight the
// offending input without parsing the message.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/veriqo/internal/apperror"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable error type, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // the invalid input, for validation errors
}

// writeJSON sends a JSON response with the given status code. Headers must
// be set before WriteHeader; anything set afterwards is silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error category to its HTTP status and wire name.
// Quota exhaustion is a 403: the caller is known but not entitled to more.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrQuotaExceeded):
		return http.StatusForbidden, "quota_exceeded"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status and sends it.
//
// errors.As walks the wrap chain, so a service error like
//   fmt.Errorf("service/wishlist: adding item: %w", apperror.ValidationFailed(...))
// still surfaces the AppError's message and field.
//
// Errors without an AppError are internal: the raw text may carry SQL or
// file paths, so the client gets a generic message and the log gets the rest.
func writeError(w http.ResponseWriter, err error) {
	status, kind := errorStatus(err)

	var appErr *apperror.AppError
	if status == http.StatusInternalServerError || !errors.As(err, &appErr) {
		slog.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}
	if status == http.StatusBadGateway {
		// The cause names the upstream failure; the client only needs the service.
		slog.Warn("upstream failure", slog.String("error", err.Error()))
	}

	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Malformed or oversized bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be %d bytes or fewer", maxBodyBytes))
		}
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}

// messageResponse is the body of endpoints that only acknowledge.
type messageResponse struct {
	Message string `json:"message"`
}
