package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

var _ repository.CodeStore = (*DB)(nil)

// PutCode stores (or replaces) a code. Issuing a new OTP for a phone
// invalidates the previous one and clears its failed attempts.
func (db *DB) PutCode(ctx context.Context, kind model.CodeKind, key, value string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).Unix()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO one_time_codes (kind, code_key, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, code_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, attempts = 0`,
		string(kind), key, value, expires,
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing %s code: %w", kind, err)
	}
	return nil
}

// ConsumeCode deletes the code if value matches and it has not expired.
// A mismatch bumps the attempt counter; the code is burned once it reaches
// repository.MaxCodeAttempts. An expired code is purged on sight.
func (db *DB) ConsumeCode(ctx context.Context, kind model.CodeKind, key, value string) (bool, error) {
	now := time.Now().Unix()
	var matched bool

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM one_time_codes WHERE kind = ? AND code_key = ? AND expires_at <= ?`,
			string(kind), key, now,
		); err != nil {
			return fmt.Errorf("purging expired code: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM one_time_codes WHERE kind = ? AND code_key = ? AND value = ?`,
			string(kind), key, value,
		)
		if err != nil {
			return fmt.Errorf("deleting code: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking code deletion: %w", err)
		}
		if n == 1 {
			matched = true
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE one_time_codes SET attempts = attempts + 1 WHERE kind = ? AND code_key = ?`,
			string(kind), key,
		); err != nil {
			return fmt.Errorf("counting failed attempt: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM one_time_codes WHERE kind = ? AND code_key = ? AND attempts >= ?`,
			string(kind), key, repository.MaxCodeAttempts,
		); err != nil {
			return fmt.Errorf("burning code: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("sqlite: consuming %s code: %w", kind, err)
	}
	return matched, nil
}

// TakeCode atomically reads and deletes a code via DELETE ... RETURNING.
func (db *DB) TakeCode(ctx context.Context, kind model.CodeKind, key string) (string, error) {
	now := time.Now().Unix()
	if err := db.purgeExpiredCode(ctx, kind, key, now); err != nil {
		return "", err
	}

	var value string
	err := db.conn.QueryRowContext(ctx,
		`DELETE FROM one_time_codes WHERE kind = ? AND code_key = ? AND expires_at > ? RETURNING value`,
		string(kind), key, now,
	).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", apperror.NotFound(string(kind)+" code", "provided")
		}
		return "", fmt.Errorf("sqlite: taking %s code: %w", kind, err)
	}
	return value, nil
}

func (db *DB) purgeExpiredCode(ctx context.Context, kind model.CodeKind, key string, now int64) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM one_time_codes WHERE kind = ? AND code_key = ? AND expires_at <= ?`,
		string(kind), key, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: purging expired %s code: %w", kind, err)
	}
	return nil
}
