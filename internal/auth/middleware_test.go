package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// whoami echoes the authenticated user ID.
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := UserIDFromContext(r.Context())
	w.Write([]byte(id))
})

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	alice, _ := ts.Issue("alice")
	bob, _ := ts.Issue("bob")
	expired, _ := ts.IssueWithDuration("alice", -time.Minute)

	cases := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{"bearer header", "Bearer " + alice, "", http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + alice, "", http.StatusOK, "alice"},
		{"cookie only", "", alice, http.StatusOK, "alice"},
		{"header wins over cookie", "Bearer " + bob, alice, http.StatusOK, "bob"},
		{"invalid header is not rescued by cookie", "Bearer garbage", alice, http.StatusUnauthorized, ""},
		{"no credentials", "", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"malformed", "Bearer a.b.c", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + alice, "", http.StatusUnauthorized, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tc.cookie})
			}
			rr := httptest.NewRecorder()

			RequireAuth(ts)(whoami).ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, tc.wantBody, rr.Body.String())
			} else {
				assert.Contains(t, rr.Body.String(), `"error":"unauthenticated"`)
			}
		})
	}
}

func TestRequireAuth_ExpiredMessage(t *testing.T) {
	ts := newTestTokenService(t)
	expired, _ := ts.IssueWithDuration("alice", -time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rr := httptest.NewRecorder()
	RequireAuth(ts)(whoami).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "token expired")
}
