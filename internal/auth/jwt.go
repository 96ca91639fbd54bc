// Package auth issues and verifies credentials: bcrypt password hashes,
// HS256 bearer tokens, and the Google OAuth code exchange.
//
// TOKENS ARE STATELESS:
// A token carries the user ID ("sub") and an absolute expiry ("exp"),
// signed with the shared JWT secret. Verification needs no DB lookup and
// there is no revocation list: a leaked token stays valid until it expires.
// Logout only clears the cookie on the client.
//
// TOKEN FORMAT (three base64 parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:    {"alg":"HS256","typ":"JWT"}
//	- Payload:   {"iss":"veriqo","sub":"<userID>","iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "veriqo"

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers everything else: bad signature, wrong
	// algorithm, wrong issuer, missing subject, garbage input.
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService signs and verifies access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. A ttl of zero means DefaultTokenTTL.
// Example secret: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL reports the lifetime of tokens from Issue. Handlers use it as the
// cookie MaxAge so the cookie and the token expire together.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed token for userID that expires after the
// configured TTL.
func (s *TokenService) Issue(userID string) (string, error) {
	return s.IssueWithDuration(userID, s.ttl)
}

// IssueWithDuration creates a token with a custom lifetime. Tests use a
// negative duration to produce an already-expired token.
func (s *TokenService) IssueWithDuration(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot issue a token without a user ID")
	}
	now := s.now()

	c := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm, issuer and expiry of tokenStr and
// returns the user ID it was issued for. Every failure is either
// ErrTokenExpired or ErrTokenInvalid.
//
// jwt.WithValidMethods pins HS256, which rules out "alg":"none" and
// algorithm-confusion tricks.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || c.Subject == "" {
		return "", ErrTokenInvalid
	}
	return c.Subject, nil
}
