package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

var _ repository.PaymentRepository = (*DB)(nil)

const transactionColumns = `id, session_id, user_id, plan_id, amount_cents, currency, period_days,
	status, created_at, completed_at`

func scanTransaction(row rowScanner) (*model.PaymentTransaction, error) {
	var (
		t         model.PaymentTransaction
		status    string
		completed sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.UserID,
		&t.PlanID,
		&t.AmountCents,
		&t.Currency,
		&t.PeriodDays,
		&status,
		&t.CreatedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}
	t.Status = model.TransactionStatus(status)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

// CreateTransaction records a new pending checkout session.
func (db *DB) CreateTransaction(ctx context.Context, t *model.PaymentTransaction) error {
	if t.SessionID == "" {
		return apperror.ValidationFailed("session_id", "session id is required")
	}
	if t.PeriodDays <= 0 {
		return apperror.ValidationFailed("period_days", "period must be positive")
	}
	t.ID = uuid.NewString()
	t.Status = model.TransactionPending
	t.CreatedAt = utc(time.Now())
	t.CompletedAt = nil

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID,
		t.SessionID,
		t.UserID,
		t.PlanID,
		t.AmountCents,
		t.Currency,
		t.PeriodDays,
		string(t.Status),
		t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ValidationFailed("session_id", "checkout session already recorded")
		}
		return fmt.Errorf("sqlite: inserting transaction %s: %w", t.SessionID, err)
	}
	return nil
}

func (db *DB) GetTransactionBySession(ctx context.Context, sessionID string) (*model.PaymentTransaction, error) {
	t, err := scanTransaction(db.conn.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE session_id = ?`, sessionID))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("payment session", sessionID)
		}
		return nil, fmt.Errorf("sqlite: getting transaction %s: %w", sessionID, err)
	}
	return t, nil
}

// CompleteTransaction is the single point where a payment turns into
// premium time.
//
// IDEMPOTENCY:
// The status flip is a guarded UPDATE (... AND status = 'pending'). The poll
// path and the webhook path may both observe "paid" for the same session,
// possibly at the same moment; only the first UPDATE matches a row, and only
// that caller extends the subscription. Every later call sees zero affected
// rows and returns completed=false without touching the user.
//
// RENEWAL:
// The new expiry is counted from the later of now and the current unexpired
// expiry, so renewing early never forfeits paid days.
func (db *DB) CompleteTransaction(ctx context.Context, sessionID string, now time.Time) (*model.PaymentTransaction, bool, error) {
	now = utc(now)
	var (
		result    *model.PaymentTransaction
		completed bool
	)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE payment_transactions SET status = 'completed', completed_at = ?
			 WHERE session_id = ? AND status = 'pending'`,
			now, sessionID,
		)
		if err != nil {
			return fmt.Errorf("completing transaction: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking transaction completion: %w", err)
		}

		t, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM payment_transactions WHERE session_id = ?`, sessionID))
		if err != nil {
			if isNoRows(err) {
				return apperror.NotFound("payment session", sessionID)
			}
			return fmt.Errorf("loading transaction: %w", err)
		}
		result = t

		if affected == 0 {
			return nil
		}
		completed = true

		var (
			tier    string
			expires sql.NullTime
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT tier, subscription_expires FROM users WHERE id = ?`, t.UserID,
		).Scan(&tier, &expires); err != nil {
			if isNoRows(err) {
				return apperror.NotFound("user", t.UserID)
			}
			return fmt.Errorf("loading subscriber: %w", err)
		}

		start := now
		if model.Tier(tier) == model.TierPremium && expires.Valid && expires.Time.After(now) {
			start = utc(expires.Time)
		}
		newExpiry := start.Add(time.Duration(t.PeriodDays) * 24 * time.Hour)

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET tier = 'premium', subscription_plan = ?, subscription_expires = ?, updated_at = ?
			 WHERE id = ?`,
			t.PlanID, newExpiry, now, t.UserID,
		); err != nil {
			return fmt.Errorf("granting premium: %w", err)
		}
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("sqlite: completing transaction %s: %w", sessionID, err)
	}
	return result, completed, nil
}
