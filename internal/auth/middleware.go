package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the HttpOnly cookie that carries the session token for
// browser clients.
const CookieName = "token"

// contextKey is unexported so no other package can read or shadow the
// values stored under it.
type contextKey string

const userIDKey contextKey = "userID"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests without a valid token with 401 and stores
// the authenticated user ID in the request context otherwise.
//
// The token may arrive as "Authorization: Bearer <token>" (API clients,
// the browser extension) or in the token cookie (the web app). When both
// are present the header wins, even if it is the invalid one.
//
// Expired, malformed and missing tokens all produce the same
// unauthenticated response.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				message := "valid authentication required"
				if errors.Is(err, ErrTokenExpired) {
					message = "token expired"
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthenticated","message":"` + message + `"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns a context carrying userID, as RequireAuth does.
// Handler tests use it to skip token plumbing.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user ID, or ("", false) for
// anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// TokenFromRequest returns the raw token, bearer header first, cookie second.
func TokenFromRequest(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	token, ok := TokenFromRequest(r)
	if !ok {
		return "", errNoToken
	}
	return tokens.Verify(token)
}

// bearerToken parses "Bearer <token>"; the scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
