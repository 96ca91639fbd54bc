package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/veriqo/internal/auth"
	"github.com/sakif/veriqo/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                8080,
		DBPath:              ":memory:",
		LogLevel:            slog.LevelInfo,
		FrontendURL:         "http://localhost:3000",
		CORSOrigins:         []string{"http://localhost:3000"},
		JWTSecret:           "server-test-secret-0123",
		TokenTTL:            time.Hour,
		ResetTokenTTL:       time.Hour,
		OTPTTL:              10 * time.Minute,
		FreeChecksPerWindow: 3,
		QuotaWindow:         720 * time.Hour,
		HistoryLimit:        10,
		AffiliateTag:        "veriqo-20",
		GeminiModel:         "gemini-1.5-flash",
		ScrapeEnabled:       false,
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	return newTestServerWith(t, testConfig())
}

func newTestServerWith(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(s.close)
	return s.Handler()
}

func do(h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthRoute(t *testing.T) {
	h := newTestServer(t)

	rr := do(h, http.MethodGet, "/api/", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

func TestProtectedRoutesNeedSession(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{"/api/auth/me", "/api/history", "/api/wishlist", "/api/admin/stats"} {
		rr := do(h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestRegisterThenCookieSession(t *testing.T) {
	h := newTestServer(t)

	rr := do(h, http.MethodPost, "/api/auth/register",
		`{"email":"route@example.com","password":"password123","name":"Route"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			session = c
		}
	}
	require.NotNil(t, session)

	rr = do(h, http.MethodGet, "/api/auth/me", "", session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "route@example.com")

	// Signed in but not an admin.
	rr = do(h, http.MethodGet, "/api/admin/stats", "", session)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// No LLM key configured.
	rr = do(h, http.MethodPost, "/api/analyze", `{"amazon_url":"https://www.amazon.com/dp/B0TESTTEST"}`, session)
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	// No Stripe key configured.
	rr = do(h, http.MethodPost, "/api/payments/checkout", `{"plan_id":"monthly"}`, session)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestOptionalIntegrations(t *testing.T) {
	h := newTestServer(t)

	rr := do(h, http.MethodGet, "/api/auth/google/login", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(h, http.MethodPost, "/api/webhook/stripe", `{}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"error"}`, rr.Body.String())

	rr = do(h, http.MethodGet, "/api/payments/plans", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "yearly")

	rr = do(h, http.MethodGet, "/api/insights", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	h := newTestServer(t)

	var last int
	for range authBurst + 1 {
		last = do(h, http.MethodPost, "/api/auth/login", `{"email":"x@example.com","password":"password123"}`).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/", "").Code)
}

func TestRateLimitIgnoresForwardedHeadersByDefault(t *testing.T) {
	h := newTestServer(t)

	limited := 0
	for i := range 20 {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/otp/verify",
			strings.NewReader(`{"phone":"+15550001111","code":"000000"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 20-authBurst, limited)
}

func TestRateLimitUsesForwardedHeadersBehindTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustProxyHeaders = true
	h := newTestServerWith(t, cfg)

	for i := range 20 {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"x@example.com","password":"password123"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.NotEqual(t, http.StatusTooManyRequests, rr.Code, "client %d", i+1)
	}
}
