package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// newTestTokenService uses a fixed secret so tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", time.Hour); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	ts, err := NewTokenService("this-is-16-chars", 0)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	if ts.TTL() != DefaultTokenTTL {
		t.Errorf("TTL() = %v, want %v", ts.TTL(), DefaultTokenTTL)
	}
}

// =========================================================================
// ISSUE / VERIFY
// =========================================================================

func TestIssue_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if got := strings.Count(token, "."); got != 2 {
		t.Errorf("Issue() token has %d dots, want 2", got)
	}
}

func TestIssue_RequiresUserID(t *testing.T) {
	ts := newTestTokenService(t)
	if _, err := ts.Issue(""); err == nil {
		t.Fatal("Issue(\"\") should fail")
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-abc-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != "user-abc-123" {
		t.Errorf("Verify() userID = %q, want %q", got, "user-abc-123")
	}
}

func TestVerify_Expired(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueWithDuration("user-123", -time.Second)
	if err != nil {
		t.Fatalf("IssueWithDuration() error = %v", err)
	}

	_, err = ts.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_ExpiresAfterTTL(t *testing.T) {
	ts := newTestTokenService(t)
	issued := time.Now()
	ts.now = func() time.Time { return issued }

	token, err := ts.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	ts.now = func() time.Time { return issued.Add(59 * time.Minute) }
	if _, err := ts.Verify(token); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	ts.now = func() time.Time { return issued.Add(61 * time.Minute) }
	if _, err := ts.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_Invalid(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Issue("user-123")

	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", time.Hour)
	foreign, _ := other.Issue("user-123")

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt.token"},
		{"tampered signature", valid[:len(valid)-3] + "xxx"},
		{"wrong secret", foreign},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTEyMyIsImlzcyI6InZlcmlxbyJ9."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ts.Verify(tc.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("Verify() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
