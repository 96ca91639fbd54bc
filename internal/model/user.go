// Package model defines the data structures used throughout the application.
package model

import "time"

// Tier is the subscription level of a user.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// AuthProvider records how an account was first created.
type AuthProvider string

const (
	ProviderPassword AuthProvider = "password"
	ProviderGoogle   AuthProvider = "google"
	ProviderPhone    AuthProvider = "phone"
)

// User represents an account.
//
// OPTIONAL FIELDS ARE POINTERS:
// An account is identified by an email OR a phone number, never necessarily
// both. Password-less accounts (Google, phone OTP) have no PasswordHash.
// Free accounts have no SubscriptionExpires. A nil pointer means "absent",
// so there is no guessing whether "" means missing.
type User struct {
	ID                  string       `json:"id"`
	Email               *string      `json:"email,omitempty"`
	Phone               *string      `json:"phone,omitempty"`
	Name                string       `json:"name"`
	Picture             string       `json:"picture,omitempty"`
	PasswordHash        *string      `json:"-"`
	Provider            AuthProvider `json:"auth_provider"`
	Tier                Tier         `json:"subscription_type"`
	SubscriptionPlan    string       `json:"subscription_plan,omitempty"`
	SubscriptionExpires *time.Time   `json:"subscription_expires,omitempty"`
	UsageCount          int          `json:"checks_used_this_month"`
	UsageWindowStart    time.Time    `json:"month_reset_date"`
	OnboardingCompleted bool         `json:"onboarding_completed"`
	IsAdmin             bool         `json:"is_admin"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// IsPremiumAt reports whether the user holds an unexpired premium tier at t.
// A premium row whose expiry has passed counts as free.
func (u *User) IsPremiumAt(t time.Time) bool {
	if u.Tier != TierPremium {
		return false
	}
	return u.SubscriptionExpires != nil && u.SubscriptionExpires.After(t)
}

// EffectiveTier is the tier the user is entitled to at t.
func (u *User) EffectiveTier(t time.Time) Tier {
	if u.IsPremiumAt(t) {
		return TierPremium
	}
	return TierFree
}

// Handle returns the login handle shown in logs and admin lists.
func (u *User) Handle() string {
	switch {
	case u.Email != nil:
		return *u.Email
	case u.Phone != nil:
		return *u.Phone
	default:
		return u.ID
	}
}

// CodeKind namespaces single-use codes in the code store.
type CodeKind string

const (
	CodeOTP           CodeKind = "otp"            // keyed by phone number, value is the passcode
	CodePasswordReset CodeKind = "password_reset" // keyed by the reset token, value is the user ID
)
