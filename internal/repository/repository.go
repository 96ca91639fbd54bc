// Package repository declares the storage contracts the services depend on.
//
// Services accept these interfaces; internal/repository/sqlite and
// internal/repository/redis provide the implementations, and service tests
// provide in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/veriqo/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository is the User Record Store.
//
// CreateUser returns an apperror validation error when the email or phone
// is already registered. Lookups return apperror.ErrNotFound.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
	UpdateProfile(ctx context.Context, id, name, picture string) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	SetOnboardingCompleted(ctx context.Context, id string) error
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	CountUsers(ctx context.Context, now time.Time) (total, premium int, err error)
	CountPremiumByPlan(ctx context.Context, now time.Time) (map[string]int, error)
}

// UsageStore holds the metered-usage counters. Every method is atomic at
// the storage layer.
type UsageStore interface {
	// ConsumeUsage applies the window reset and premium-expiry demotion, then
	// adds n to the counter only if the result stays within limit (premium
	// users are never limited). It returns the updated user, or an
	// apperror.ErrQuotaExceeded error with the counter untouched.
	ConsumeUsage(ctx context.Context, userID string, n, limit int, window time.Duration, now time.Time) (*model.User, error)
	// ReleaseUsage gives back n previously consumed units, never going below zero.
	ReleaseUsage(ctx context.Context, userID string, n int) error
	// ResetUsage zeroes the counter and restarts the window at now.
	ResetUsage(ctx context.Context, userID string, now time.Time) error
}

type AnalysisRepository interface {
	CreateAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysisByID(ctx context.Context, id string) (*model.Analysis, error)
	// FindAnalysisByURL returns the user's most recent analysis of url.
	FindAnalysisByURL(ctx context.Context, userID, url string) (*model.Analysis, error)
	ListAnalysesByUser(ctx context.Context, userID string, opts ListOptions) ([]model.Analysis, error)
	ListAnalyses(ctx context.Context, opts ListOptions) ([]model.Analysis, error)
	CountAnalysesByVerdict(ctx context.Context) (map[model.Verdict]int, error)
	SetAnalysisPublic(ctx context.Context, id string, public bool, slug string) error
	LatestPublicAnalysis(ctx context.Context) (*model.Analysis, error)
	// GetPublicAnalysis matches either the id or the slug of a public analysis.
	GetPublicAnalysis(ctx context.Context, idOrSlug string) (*model.Analysis, error)
}

type PaymentRepository interface {
	CreateTransaction(ctx context.Context, tx *model.PaymentTransaction) error
	GetTransactionBySession(ctx context.Context, sessionID string) (*model.PaymentTransaction, error)
	// CompleteTransaction marks a pending transaction completed and grants the
	// purchased premium period to its owner in one atomic step. completed is
	// false when the transaction was already completed, in which case nothing
	// changes.
	CompleteTransaction(ctx context.Context, sessionID string, now time.Time) (tx *model.PaymentTransaction, completed bool, err error)
}

type WishlistRepository interface {
	AddWishlistItem(ctx context.Context, item *model.WishlistItem) error
	ListWishlist(ctx context.Context, userID string) ([]model.WishlistItem, error)
	DeleteWishlistItem(ctx context.Context, userID, id string) error
}

type PriceAlertRepository interface {
	CreatePriceAlert(ctx context.Context, alert *model.PriceAlert) error
	ListPriceAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error)
	DeletePriceAlert(ctx context.Context, userID, id string) error
	SetPriceAlertActive(ctx context.Context, userID, id string, active bool) (*model.PriceAlert, error)
	RecordPriceCheck(ctx context.Context, id string, price float64, triggered bool, at time.Time) error
}

// MaxCodeAttempts is how many wrong values ConsumeCode tolerates before
// the code is burned and a new one must be requested.
const MaxCodeAttempts = 5

// CodeStore keeps single-use codes (OTP passcodes, reset tokens) with an
// expiry. A code disappears when it is consumed, found expired, or guessed
// wrong MaxCodeAttempts times.
type CodeStore interface {
	// PutCode stores value under key, replacing any earlier code and its
	// failed-attempt count.
	PutCode(ctx context.Context, kind model.CodeKind, key, value string, ttl time.Duration) error
	// ConsumeCode deletes the code only if it matches value and is unexpired.
	// A mismatch counts as a failed attempt.
	ConsumeCode(ctx context.Context, kind model.CodeKind, key, value string) (bool, error)
	// TakeCode returns and deletes an unexpired code, or apperror.ErrNotFound.
	TakeCode(ctx context.Context, kind model.CodeKind, key string) (string, error)
}
