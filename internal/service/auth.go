// Package service holds the business rules. Handlers parse HTTP and call
// services; services call repositories and external collaborators through
// interfaces, so every rule here is testable without a network.
//
//	Handler (HTTP) → Service (rules) → Repository (storage)
//	                               ↘ Gateway / Completer / Scraper / Notifier
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/auth"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/notify"
	"github.com/sakif/veriqo/internal/quota"
	"github.com/sakif/veriqo/internal/repository"
)

const (
	DefaultResetTokenTTL = time.Hour
	DefaultOTPTTL        = 10 * time.Minute
	otpDigits            = 6
	maxNameLength        = 100
)

// Notifier delivers passcodes and reset links.
type Notifier interface {
	notify.SMSSender
	notify.EmailSender
}

// AuthOptions are the scalar settings AuthService needs from Config.
type AuthOptions struct {
	FrontendURL   string
	ResetTokenTTL time.Duration
	OTPTTL        time.Duration
}

// AuthService owns every way of becoming authenticated: email + password,
// phone + OTP, Google sign-in, and password reset.
type AuthService struct {
	users     repository.UserRepository
	codes     repository.CodeStore
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	quota     *quota.Tracker
	notifier  Notifier
	opts      AuthOptions
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	codes repository.CodeStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	tracker *quota.Tracker,
	notifier Notifier,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = DefaultResetTokenTTL
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = DefaultOTPTTL
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	return &AuthService{
		users:     users,
		codes:     codes,
		tokens:    tokens,
		passwords: passwords,
		quota:     tracker,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// UserView is the user as shown to its owner: effective tier, plus the
// number of metered checks left (quota.Unlimited for premium).
type UserView struct {
	model.User
	ChecksRemaining int `json:"checks_remaining"`
}

// AuthResult bundles the user and a fresh session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	User  UserView `json:"user"`
	Token string   `json:"token"`
}

// View builds the UserView for u at the current time. An expired premium
// tier is shown as free even before the next quota check demotes it.
func (s *AuthService) View(u *model.User) UserView {
	return newUserView(u, s.quota, s.now())
}

func newUserView(u *model.User, tracker *quota.Tracker, now time.Time) UserView {
	v := UserView{User: *u, ChecksRemaining: tracker.Policy().Evaluate(u, now).Remaining}
	v.Tier = u.EffectiveTier(now)
	return v
}

// =========================================================================
// EMAIL + PASSWORD
// =========================================================================

func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperror.ValidationFailed("name", fmt.Sprintf("name must be %d characters or fewer", maxNameLength))
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        &email,
		Name:         name,
		PasswordHash: &hash,
		Provider:     model.ProviderPassword,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("provider", string(user.Provider)))
	return s.issue(user)
}

// Login never says which half of the credentials was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.Unauthenticated("invalid email or password")

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: loading %s: %w", email, err)
	}
	if user.PasswordHash == nil || !s.passwords.Matches(*user.PasswordHash, password) {
		return nil, invalid
	}
	return s.issue(user)
}

// =========================================================================
// PHONE + OTP
// =========================================================================

// SendOTP stores a fresh six-digit code for phone, replacing any earlier
// one, and texts it.
func (s *AuthService) SendOTP(ctx context.Context, phone string) error {
	phone, err := normalizePhone(phone)
	if err != nil {
		return err
	}

	code, err := randomDigits(otpDigits)
	if err != nil {
		return fmt.Errorf("service/auth: generating otp: %w", err)
	}
	if err := s.codes.PutCode(ctx, model.CodeOTP, phone, code, s.opts.OTPTTL); err != nil {
		return fmt.Errorf("service/auth: storing otp: %w", err)
	}

	msg := fmt.Sprintf("Your Veriqo verification code is %s. It expires in %d minutes.", code, int(s.opts.OTPTTL.Minutes()))
	if err := s.notifier.SendSMS(ctx, phone, msg); err != nil {
		return apperror.Upstream("sms service", err)
	}
	return nil
}

// VerifyOTP consumes the code and signs the phone's owner in, creating the
// account on first use.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	ok, err := s.codes.ConsumeCode(ctx, model.CodeOTP, phone, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("service/auth: consuming otp: %w", err)
	}
	if !ok {
		return nil, apperror.Unauthenticated("invalid or expired code")
	}

	user, err := s.users.GetUserByPhone(ctx, phone)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{Phone: &phone, Provider: model.ProviderPhone}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating phone user: %w", err)
		}
		s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("provider", string(user.Provider)))
	default:
		return nil, fmt.Errorf("service/auth: loading phone user: %w", err)
	}
	return s.issue(user)
}

// =========================================================================
// GOOGLE
// =========================================================================

// LoginWithGoogle signs in the account owning the Google email, creating it
// on first login and refreshing name and picture on later ones.
func (s *AuthService) LoginWithGoogle(ctx context.Context, gu *auth.GoogleUser) (*AuthResult, error) {
	if gu == nil || gu.Email == "" {
		return nil, apperror.Unauthenticated("google account has no email")
	}
	email := strings.ToLower(gu.Email)

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		name, picture := user.Name, user.Picture
		if gu.Name != "" {
			name = gu.Name
		}
		if gu.Picture != "" {
			picture = gu.Picture
		}
		if name != user.Name || picture != user.Picture {
			if err := s.users.UpdateProfile(ctx, user.ID, name, picture); err != nil {
				return nil, fmt.Errorf("service/auth: refreshing google profile: %w", err)
			}
			user.Name, user.Picture = name, picture
		}
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			Email:    &email,
			Name:     gu.Name,
			Picture:  gu.Picture,
			Provider: model.ProviderGoogle,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating google user: %w", err)
		}
		s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("provider", string(user.Provider)))
	default:
		return nil, fmt.Errorf("service/auth: loading google user: %w", err)
	}
	return s.issue(user)
}

// =========================================================================
// SESSION
// =========================================================================

// Me returns the caller's view. A valid token for a user that no longer
// exists is treated as unauthenticated.
func (s *AuthService) Me(ctx context.Context, userID string) (*UserView, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := s.View(user)
	return &v, nil
}

func (s *AuthService) CompleteOnboarding(ctx context.Context, userID string) (*UserView, error) {
	if err := s.users.SetOnboardingCompleted(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("user not found")
		}
		return nil, fmt.Errorf("service/auth: completing onboarding: %w", err)
	}
	return s.Me(ctx, userID)
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

// ForgotPassword emails a single-use reset link when the address belongs
// to an account. The result is the same either way, so the endpoint cannot
// be used to discover registered emails.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("service/auth: loading %s: %w", email, err)
	}

	token := uuid.NewString()
	if err := s.codes.PutCode(ctx, model.CodePasswordReset, token, user.ID, s.opts.ResetTokenTTL); err != nil {
		return fmt.Errorf("service/auth: storing reset token: %w", err)
	}

	link := s.opts.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("Someone asked to reset your Veriqo password. Open %s within %d minutes to choose a new one. If this wasn't you, ignore this email.",
		link, int(s.opts.ResetTokenTTL.Minutes()))
	if err := s.notifier.SendEmail(ctx, email, "Reset your Veriqo password", body); err != nil {
		s.logger.Error("failed to send password reset email",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ResetPassword sets a new password using a token from ForgotPassword. The
// password is checked before the token is spent.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	userID, err := s.codes.TakeCode(ctx, model.CodePasswordReset, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("token", "invalid or expired reset token")
		}
		return fmt.Errorf("service/auth: taking reset token: %w", err)
	}

	if err := s.users.SetPasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("service/auth: setting password for %s: %w", userID, err)
	}
	s.logger.Info("password reset", slog.String("userID", userID))
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

func (s *AuthService) currentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("user not found")
		}
		return nil, fmt.Errorf("service/auth: loading user %s: %w", userID, err)
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: s.View(user), Token: token}, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordLength) {
			return "", apperror.ValidationFailed("password",
				fmt.Sprintf("password must be between %d and %d characters", auth.MinPasswordLength, auth.MaxPasswordLength))
		}
		return "", fmt.Errorf("service/auth: hashing password: %w", err)
	}
	return hash, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "invalid email address")
	}
	return email, nil
}

var phoneRE = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// normalizePhone strips spaces, dashes and parentheses.
func normalizePhone(phone string) (string, error) {
	phone = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, phone)
	if !phoneRE.MatchString(phone) {
		return "", apperror.ValidationFailed("phone", "invalid phone number")
	}
	return phone, nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for range n {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
