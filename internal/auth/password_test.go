package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(bcrypt.MinCost)
}

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_LooksBcryptAndIsSalted(t *testing.T) {
	ps := newTestPasswordService()

	hash1, err := ps.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hash2, _ := ps.Hash("same-password")

	if !strings.HasPrefix(hash1, "$2") {
		t.Errorf("Hash() does not look like a bcrypt hash: %q", hash1)
	}
	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password (salt must be random)")
	}
}

func TestHash_Length(t *testing.T) {
	ps := newTestPasswordService()

	cases := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "12345", true},
		{"minimum", "123456", false},
		{"exactly 72 bytes", strings.Repeat("a", 72), false},
		{"73 bytes", strings.Repeat("a", 73), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ps.Hash(tc.password)
			if tc.wantErr && !errors.Is(err, ErrPasswordLength) {
				t.Fatalf("Hash() error = %v, want ErrPasswordLength", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Hash() unexpected error = %v", err)
			}
		})
	}
}

// =========================================================================
// Matches / Verify TESTS
// =========================================================================

func TestMatches(t *testing.T) {
	ps := newTestPasswordService()
	hash, err := ps.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if !ps.Matches(hash, "correct-horse-battery-staple") {
		t.Error("Matches() = false for the correct password")
	}
	if ps.Matches(hash, "wrong-horse") {
		t.Error("Matches() = true for a wrong password")
	}
	if ps.Matches(hash, "") {
		t.Error("Matches() = true for an empty password")
	}
	if ps.Matches("not-a-valid-bcrypt-hash", "password") {
		t.Error("Matches() = true for a garbage hash")
	}
}

func TestHashMatches_RoundTrip(t *testing.T) {
	ps := newTestPasswordService()

	for _, pw := range []string{"hello123", "p@$$w0rd!#%", "пароль-密码", "  leading and trailing  "} {
		t.Run(pw, func(t *testing.T) {
			hash, err := ps.Hash(pw)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", pw, err)
			}
			if err := ps.Verify(hash, pw); err != nil {
				t.Errorf("Verify() failed for %q: %v", pw, err)
			}
		})
	}
}
