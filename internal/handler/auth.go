package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/auth"
	"github.com/sakif/veriqo/internal/service"
)

const stateCookieName = "oauth_state"

// GoogleAuthenticator is the OAuth half of Google sign-in.
// *auth.GoogleProvider implements it.
type GoogleAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// AuthHandler manages sign-in (password, phone OTP, Google), the session
// cookie and password recovery.
//
// SESSION COOKIE:
// Every successful sign-in returns the token in the body (API clients, the
// browser extension) and also sets it as an HttpOnly cookie (the web app).
// RequireAuth accepts either.
type AuthHandler struct {
	svc          *service.AuthService
	google       GoogleAuthenticator // nil when Google sign-in is not configured
	cookieTTL    time.Duration
	frontendURL  string
	secureCookie bool
	logger       *slog.Logger
}

type AuthHandlerOptions struct {
	CookieTTL   time.Duration
	FrontendURL string
	// SecureCookie marks cookies HTTPS-only. Off for local development.
	SecureCookie bool
}

func NewAuthHandler(svc *service.AuthService, google GoogleAuthenticator, opts AuthHandlerOptions, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		google:       google,
		cookieTTL:    opts.CookieTTL,
		frontendURL:  opts.FrontendURL,
		secureCookie: opts.SecureCookie,
		logger:       logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/auth/register {"email","password","name"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setSession(w, res.Token)
	writeJSON(w, http.StatusCreated, res)
}

// HandleLogin
//
// HTTP: POST /api/auth/login {"email","password"}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setSession(w, res.Token)
	writeJSON(w, http.StatusOK, res)
}

type otpRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// HandleSendOTP texts a one-time passcode.
//
// HTTP: POST /api/auth/otp/send {"phone"}
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SendOTP(r.Context(), req.Phone); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code sent"})
}

// HandleVerifyOTP signs in (or up) with a phone passcode.
//
// HTTP: POST /api/auth/otp/verify {"phone","code"}
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.VerifyOTP(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setSession(w, res.Token)
	writeJSON(w, http.StatusOK, res)
}

// HandleGoogleLogin redirects the browser to Google's consent screen.
//
// HTTP: GET /api/auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes both into a short-lived HttpOnly cookie and
// into the consent URL. The callback only proceeds when Google echoes back
// the same value the browser's cookie holds.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.NotFound("sign-in provider", "google"))
		return
	}
	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth flow and lands the browser on
// the frontend with the session cookie set. Failures land on the login
// page with an error flag instead of a raw error body.
//
// HTTP: GET /api/auth/google/callback?code=...&state=...
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.NotFound("sign-in provider", "google"))
		return
	}
	q := r.URL.Query()

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("google callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.frontendURL+"/login?error=denied", http.StatusSeeOther)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	gu, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.frontendURL+"/login?error=oauth", http.StatusSeeOther)
		return
	}
	res, err := h.svc.LoginWithGoogle(r.Context(), gu)
	if err != nil {
		h.logger.Error("google callback: sign-in failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.frontendURL+"/login?error=oauth", http.StatusSeeOther)
		return
	}

	h.setSession(w, res.Token)
	http.Redirect(w, r, h.frontendURL+"/dashboard", http.StatusSeeOther)
}

// HandleLogout clears the session cookie. Tokens are stateless, so a copy
// held elsewhere stays valid until it expires.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleCompleteOnboarding
//
// HTTP: PUT /api/auth/complete-onboarding
func (h *AuthHandler) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := h.svc.CompleteOnboarding(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleForgotPassword always answers the same way, so the endpoint cannot
// be used to find out which emails have accounts.
//
// HTTP: POST /api/auth/forgot-password {"email"}
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "If an account exists for that email, a reset link has been sent.",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// HandleResetPassword
//
// HTTP: POST /api/auth/reset-password {"token","new_password"}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentUserID reads the user RequireAuth put in the context. Routes
// outside RequireAuth get Unauthenticated.
func currentUserID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthenticated("valid authentication required")
	}
	return id, nil
}
