package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case names the constructor, the sentinel it should (or should not)
// match, and the expectation. Wrapping with fmt.Errorf mirrors what the
// service layer does before the handler sees the error.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("analysis", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("amazon_url", "Please provide a valid Amazon product URL"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Unauthenticated wraps ErrUnauthenticated",
			err:       Unauthenticated("token expired"),
			target:    ErrUnauthenticated,
			wantMatch: true,
		},
		{
			name:      "QuotaExceeded wraps ErrQuotaExceeded",
			err:       QuotaExceeded(3, 3),
			target:    ErrQuotaExceeded,
			wantMatch: true,
		},
		{
			name:      "Upstream wraps ErrUpstream",
			err:       Upstream("payment provider", errors.New("dial tcp: timeout")),
			target:    ErrUpstream,
			wantMatch: true,
		},
		{
			name:      "wrapped Forbidden still matches",
			err:       fmt.Errorf("service/history: %w", Forbidden("export requires premium")),
			target:    ErrForbidden,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("analysis", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "QuotaExceeded does NOT match ErrForbidden",
			err:       QuotaExceeded(3, 3),
			target:    ErrForbidden,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("wishlist item", "abc123"),
			wantMessage: "wishlist item not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("product_urls", "compare needs 2 or 3 products"),
			wantMessage: "compare needs 2 or 3 products",
		},
		{
			name:        "QuotaExceeded reports usage",
			err:         QuotaExceeded(3, 3),
			wantMessage: "free checks exhausted (3 of 3 used). Upgrade to premium for unlimited checks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream("LLM", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.Message != "LLM is unavailable, please try again" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}
