package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})
}

// =========================================================================
// LOGGER
// =========================================================================

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := chimiddleware.RequestID(Logger(logger)(okHandler()))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/reset-password?token=secret", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
	line := buf.String()
	assert.Contains(t, line, "level=WARN")
	assert.Contains(t, line, "status=418")
	assert.Contains(t, line, "bytes=15")
	assert.Contains(t, line, "path=/api/auth/reset-password")
	assert.Contains(t, line, "requestID=")
	assert.NotContains(t, line, "secret")
}

// =========================================================================
// RATE LIMITER
// =========================================================================

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(5, time.Minute, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"), "burst spent")
	assert.True(t, rl.Allow("2.2.2.2"), "buckets are per client")

	// 5 per minute refills one token every 12s.
	now = now.Add(12 * time.Second)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
}

func TestRateLimiter_ForgetsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, time.Hour, 1)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("1.1.1.1"))
	now = now.Add(11 * time.Minute)
	rl.Allow("2.2.2.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "1.1.1.1")
	assert.Contains(t, rl.clients, "2.2.2.2")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, 1)
	h := rl.Middleware(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusTeapot, send("10.0.0.1:5000").Code)

	rr := send("10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "same IP, different port")
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited","message":"too many requests, please try again later"}`, rr.Body.String())

	assert.Equal(t, http.StatusTeapot, send("10.0.0.2:5000").Code)
}
