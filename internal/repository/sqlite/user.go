package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

// compile-time checks that *DB implements the user-facing interfaces
var (
	_ repository.UserRepository = (*DB)(nil)
	_ repository.UsageStore     = (*DB)(nil)
)

const userColumns = `id, email, phone, name, picture, password_hash, auth_provider, tier,
	subscription_plan, subscription_expires, usage_count, usage_window_start,
	onboarding_completed, is_admin, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                  model.User
		email, phone, hash sql.NullString
		expires            sql.NullTime
		provider, tier     string
	)
	err := row.Scan(
		&u.ID,
		&email,
		&phone,
		&u.Name,
		&u.Picture,
		&hash,
		&provider,
		&tier,
		&u.SubscriptionPlan,
		&expires,
		&u.UsageCount,
		&u.UsageWindowStart,
		&u.OnboardingCompleted,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = stringPtr(email)
	u.Phone = stringPtr(phone)
	u.PasswordHash = stringPtr(hash)
	u.Provider = model.AuthProvider(provider)
	u.Tier = model.Tier(tier)
	u.SubscriptionExpires = timePtr(expires)
	return &u, nil
}

// CreateUser inserts a new free-tier user. ID, timestamps and the usage
// window start are filled in on the passed struct.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.Email == nil && user.Phone == nil {
		return apperror.ValidationFailed("email", "email or phone is required")
	}

	now := utc(time.Now())
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.UsageWindowStart = now
	if user.Tier == "" {
		user.Tier = model.TierFree
	}
	if user.Provider == "" {
		user.Provider = model.ProviderPassword
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullString(user.Email),
		nullString(user.Phone),
		user.Name,
		user.Picture,
		nullString(user.PasswordHash),
		string(user.Provider),
		string(user.Tier),
		user.SubscriptionPlan,
		nullTime(user.SubscriptionExpires),
		user.UsageCount,
		user.UsageWindowStart,
		user.OnboardingCompleted,
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ValidationFailed("email", "an account with this email or phone already exists")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Handle(), err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUserWhere(ctx, "id = ?", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUserWhere(ctx, "email = ?", email)
}

func (db *DB) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	return db.getUserWhere(ctx, "phone = ?", phone)
}

func (db *DB) getUserWhere(ctx context.Context, cond, arg string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, arg)
	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", arg)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", arg, err)
	}
	return u, nil
}

func (db *DB) UpdateProfile(ctx context.Context, id, name, picture string) error {
	return db.updateUser(ctx, id, `name = ?, picture = ?`, name, picture)
}

func (db *DB) SetPasswordHash(ctx context.Context, id, hash string) error {
	return db.updateUser(ctx, id, `password_hash = ?`, hash)
}

func (db *DB) SetOnboardingCompleted(ctx context.Context, id string) error {
	return db.updateUser(ctx, id, `onboarding_completed = 1`)
}

func (db *DB) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	return db.updateUser(ctx, id, `is_admin = ?`, isAdmin)
}

// updateUser applies a SET clause to one user and reports NotFound when no
// row matched.
func (db *DB) updateUser(ctx context.Context, id, set string, args ...any) error {
	args = append(args, utc(time.Now()), id)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update of user %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// ListUsers returns users newest first.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limitOrDefault(opts.Limit, 100), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// CountUsers counts all users and those holding an unexpired premium tier.
func (db *DB) CountUsers(ctx context.Context, now time.Time) (total, premium int, err error) {
	counts, err := db.premiumUsers(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	for _, n := range counts {
		premium += n
	}
	return total, premium, nil
}

// CountPremiumByPlan groups unexpired premium users by purchased plan.
func (db *DB) CountPremiumByPlan(ctx context.Context, now time.Time) (map[string]int, error) {
	return db.premiumUsers(ctx, now)
}

// premiumUsers filters expiry in Go; SQLite would compare the stored
// timestamps as text.
func (db *DB) premiumUsers(ctx context.Context, now time.Time) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT subscription_plan, subscription_expires FROM users WHERE tier = 'premium'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing premium users: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			plan    string
			expires sql.NullTime
		)
		if err := rows.Scan(&plan, &expires); err != nil {
			return nil, fmt.Errorf("sqlite: scanning premium user: %w", err)
		}
		if expires.Valid && expires.Time.After(now) {
			counts[plan]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating premium users: %w", err)
	}
	return counts, nil
}

// =========================================================================
// USAGE (QUOTA) COUNTERS
// =========================================================================

// ConsumeUsage is the atomic check-and-increment behind the quota tracker.
//
// Inside one transaction it:
//  1. loads the user,
//  2. returns an unexpired premium user untouched (premium is not metered),
//  3. demotes an expired premium tier back to free with a fresh window,
//  4. restarts the usage window when it is older than window,
//  5. increments usage_count by n with a guarded UPDATE that only matches
//     while the new count stays within limit.
//
// Two concurrent requests can no longer both pass a "2 < 3" check: the
// second UPDATE sees the first one's increment and matches zero rows.
func (db *DB) ConsumeUsage(ctx context.Context, userID string, n, limit int, window time.Duration, now time.Time) (*model.User, error) {
	now = utc(now)
	var (
		user     *model.User
		exceeded bool
	)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
		if err != nil {
			if isNoRows(err) {
				return apperror.NotFound("user", userID)
			}
			return fmt.Errorf("loading user: %w", err)
		}

		if u.IsPremiumAt(now) {
			user = u
			return nil
		}

		if u.Tier == model.TierPremium {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET tier = 'free', subscription_expires = NULL,
				 usage_count = 0, usage_window_start = ?, updated_at = ? WHERE id = ?`,
				now, now, userID,
			); err != nil {
				return fmt.Errorf("demoting expired premium: %w", err)
			}
			u.Tier = model.TierFree
			u.SubscriptionExpires = nil
			u.UsageCount = 0
			u.UsageWindowStart = now
		}

		if now.Sub(u.UsageWindowStart) > window {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET usage_count = 0, usage_window_start = ?, updated_at = ? WHERE id = ?`,
				now, now, userID,
			); err != nil {
				return fmt.Errorf("resetting usage window: %w", err)
			}
			u.UsageCount = 0
			u.UsageWindowStart = now
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE users SET usage_count = usage_count + ?, updated_at = ?
			 WHERE id = ? AND usage_count + ? <= ?`,
			n, now, userID, n, limit,
		)
		if err != nil {
			return fmt.Errorf("incrementing usage: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking usage increment: %w", err)
		}
		if affected == 0 {
			// Commit the reset/demotion anyway; only the increment is refused.
			user = u
			exceeded = true
			return nil
		}

		u.UsageCount += n
		u.UpdatedAt = now
		user = u
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: consuming usage for user %s: %w", userID, err)
	}

	if exceeded {
		return nil, apperror.QuotaExceeded(limit, user.UsageCount)
	}
	return user, nil
}

// ReleaseUsage refunds n units, clamped at zero. Premium rows are skipped
// since ConsumeUsage never charged them.
func (db *DB) ReleaseUsage(ctx context.Context, userID string, n int) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET usage_count = MAX(usage_count - ?, 0), updated_at = ? WHERE id = ? AND tier = 'free'`,
		n, utc(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: releasing usage for user %s: %w", userID, err)
	}
	return nil
}

func (db *DB) ResetUsage(ctx context.Context, userID string, now time.Time) error {
	now = utc(now)
	return db.updateUser(ctx, userID, `usage_count = 0, usage_window_start = ?`, now)
}
