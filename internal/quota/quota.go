// Package quota is the usage gate for metered features (analyze, compare).
//
// POLICY:
//   - Premium users (unexpired premium tier) are never metered.
//   - Free users get FreeLimit checks per rolling window. The window starts
//     at registration and restarts the first time a request arrives more
//     than Window after its start.
//   - A premium tier whose expiry has passed counts as free, and is written
//     back as free the next time usage is consumed.
//
// ATOMICITY:
// Evaluate is a pure read used for display ("3 checks left"). The actual
// gate is Tracker.Consume, which hands the whole check-reset-increment
// sequence to repository.UsageStore as one atomic step, so two concurrent
// requests cannot both spend the last check.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

const (
	DefaultFreeLimit = 3
	DefaultWindow    = 30 * 24 * time.Hour

	// Unlimited is reported as the remaining count for premium users.
	Unlimited = -1
)

// Policy holds the metering limits.
type Policy struct {
	FreeLimit int
	Window    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{FreeLimit: DefaultFreeLimit, Window: DefaultWindow}
}

// Decision is the outcome of evaluating a user against the policy.
type Decision struct {
	Premium     bool
	Used        int       // usage within the current window, after any reset
	Remaining   int       // Unlimited for premium users
	WindowReset bool      // the stored window has lapsed and would be restarted
	ResetsAt    time.Time // end of the current window (zero for premium)
}

// CanProceed reports whether n more units fit.
func (d Decision) CanProceed(n int) bool {
	return d.Premium || d.Remaining >= n
}

// Evaluate applies the policy to u at now without changing anything.
func (p Policy) Evaluate(u *model.User, now time.Time) Decision {
	if u.IsPremiumAt(now) {
		return Decision{Premium: true, Used: u.UsageCount, Remaining: Unlimited}
	}

	d := Decision{Used: u.UsageCount, ResetsAt: u.UsageWindowStart.Add(p.Window)}
	// A lapsed premium row restarts the free window when it is demoted.
	if u.Tier == model.TierPremium || now.Sub(u.UsageWindowStart) > p.Window {
		d.Used = 0
		d.WindowReset = true
		d.ResetsAt = now.Add(p.Window)
	}
	d.Remaining = max(p.FreeLimit-d.Used, 0)
	return d
}

// Tracker applies the policy against the usage store.
type Tracker struct {
	store  repository.UsageStore
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

func NewTracker(store repository.UsageStore, policy Policy, logger *slog.Logger) *Tracker {
	if policy.FreeLimit < 0 {
		policy.FreeLimit = 0
	}
	if policy.Window <= 0 {
		policy.Window = DefaultWindow
	}
	return &Tracker{store: store, policy: policy, now: time.Now, logger: logger}
}

func (t *Tracker) Policy() Policy {
	return t.policy
}

// Evaluate is Policy.Evaluate at the tracker's clock.
func (t *Tracker) Evaluate(u *model.User) Decision {
	return t.policy.Evaluate(u, t.now())
}

// Consume reserves n units for userID. It fails with an
// apperror.ErrQuotaExceeded error, leaving the counter untouched, when the
// whole batch does not fit.
func (t *Tracker) Consume(ctx context.Context, userID string, n int) (*model.User, error) {
	if n <= 0 {
		return nil, fmt.Errorf("quota: consuming %d units: amount must be positive", n)
	}
	u, err := t.store.ConsumeUsage(ctx, userID, n, t.policy.FreeLimit, t.policy.Window, t.now())
	if err != nil {
		return nil, fmt.Errorf("quota: %w", err)
	}
	t.logger.Debug("usage consumed",
		slog.String("userID", userID),
		slog.Int("units", n),
		slog.Int("used", u.UsageCount),
	)
	return u, nil
}

// Release refunds units reserved by Consume for work that then failed.
// A failed refund is logged, never returned: the caller is already
// reporting the original failure.
func (t *Tracker) Release(ctx context.Context, userID string, n int) {
	if n <= 0 {
		return
	}
	if err := t.store.ReleaseUsage(ctx, userID, n); err != nil {
		t.logger.Error("failed to release usage",
			slog.String("userID", userID),
			slog.Int("units", n),
			slog.String("error", err.Error()),
		)
	}
}

// Reset zeroes the user's usage and restarts the window now.
func (t *Tracker) Reset(ctx context.Context, userID string) error {
	if err := t.store.ResetUsage(ctx, userID, t.now()); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	return nil
}
