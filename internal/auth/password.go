package auth

// PASSWORD HASHING:
// bcrypt generates a random salt per hash and embeds it, together with the
// cost, in the output:
//
//	$2a$12$<22-char salt><31-char hash>
//
// so a single TEXT column holds everything Matches needs.

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// defaultCost takes roughly 250ms per hash on a modern server.
	defaultCost = 12

	MinPasswordLength = 6
	// MaxPasswordLength is bcrypt's input limit. Longer input would be
	// silently truncated, so it is rejected instead.
	MaxPasswordLength = 72
)

var ErrPasswordLength = fmt.Errorf("auth: password must be between %d and %d bytes", MinPasswordLength, MaxPasswordLength)

// PasswordService hashes and checks passwords. The cost is a field so tests
// can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest returns a PasswordService with the given cost.
// Never use a low cost in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt digest of plaintext.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength || len(plaintext) > MaxPasswordLength {
		return "", ErrPasswordLength
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Matches reports whether plaintext matches the stored digest. A malformed
// digest never matches. The comparison is constant-time.
func (p *PasswordService) Matches(hash, plaintext string) bool {
	return p.Verify(hash, plaintext) == nil
}

// Verify is Matches with the reason for a mismatch.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errors.New("auth: invalid password")
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
