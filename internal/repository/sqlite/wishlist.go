package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

var (
	_ repository.WishlistRepository   = (*DB)(nil)
	_ repository.PriceAlertRepository = (*DB)(nil)
)

// AddWishlistItem stores a new item. The UNIQUE (user_id, product_url)
// constraint rejects a second entry for the same product.
func (db *DB) AddWishlistItem(ctx context.Context, item *model.WishlistItem) error {
	item.ID = xid.New().String()
	item.CreatedAt = utc(time.Now())

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO wishlist_items (id, user_id, product_url, product_name, product_image, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.UserID,
		item.ProductURL,
		item.ProductName,
		nullString(item.ProductImage),
		nullString(item.Notes),
		item.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ValidationFailed("product_url", "product already in wishlist")
		}
		return fmt.Errorf("sqlite: inserting wishlist item: %w", err)
	}
	return nil
}

// ListWishlist returns the user's items, newest first.
func (db *DB) ListWishlist(ctx context.Context, userID string) ([]model.WishlistItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, product_url, product_name, product_image, notes, created_at
		 FROM wishlist_items WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing wishlist: %w", err)
	}
	defer rows.Close()

	items := []model.WishlistItem{}
	for rows.Next() {
		var (
			it           model.WishlistItem
			image, notes sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductURL, &it.ProductName, &image, &notes, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning wishlist item: %w", err)
		}
		it.ProductImage = stringPtr(image)
		it.Notes = stringPtr(notes)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating wishlist: %w", err)
	}
	return items, nil
}

// DeleteWishlistItem removes an item owned by userID. Someone else's item
// looks exactly like a missing one.
func (db *DB) DeleteWishlistItem(ctx context.Context, userID, id string) error {
	return db.deleteOwned(ctx, "wishlist_items", "wishlist item", userID, id)
}

func (db *DB) deleteOwned(ctx context.Context, table, resource, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting %s %s: %w", resource, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking delete of %s %s: %w", resource, id, err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

// =========================================================================
// PRICE ALERTS
// =========================================================================

const priceAlertColumns = `id, user_id, product_url, product_name, target_price, last_price,
	last_checked, active, triggered, created_at`

func scanPriceAlert(row rowScanner) (*model.PriceAlert, error) {
	var (
		a       model.PriceAlert
		last    sql.NullFloat64
		checked sql.NullTime
	)
	err := row.Scan(&a.ID, &a.UserID, &a.ProductURL, &a.ProductName, &a.TargetPrice,
		&last, &checked, &a.Active, &a.Triggered, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		p := last.Float64
		a.LastPrice = &p
	}
	a.LastChecked = timePtr(checked)
	return &a, nil
}

func (db *DB) CreatePriceAlert(ctx context.Context, alert *model.PriceAlert) error {
	alert.ID = xid.New().String()
	alert.CreatedAt = utc(time.Now())
	alert.Active = true
	alert.Triggered = false

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO price_alerts (`+priceAlertColumns+`)
		 VALUES (?, ?, ?, ?, ?, NULL, NULL, 1, 0, ?)`,
		alert.ID,
		alert.UserID,
		alert.ProductURL,
		alert.ProductName,
		alert.TargetPrice,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting price alert: %w", err)
	}
	return nil
}

func (db *DB) ListPriceAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+priceAlertColumns+` FROM price_alerts WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing price alerts: %w", err)
	}
	defer rows.Close()

	alerts := []model.PriceAlert{}
	for rows.Next() {
		a, err := scanPriceAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning price alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating price alerts: %w", err)
	}
	return alerts, nil
}

func (db *DB) DeletePriceAlert(ctx context.Context, userID, id string) error {
	return db.deleteOwned(ctx, "price_alerts", "price alert", userID, id)
}

// SetPriceAlertActive re-arms or pauses an alert. Re-arming clears the
// triggered flag so the alert can fire again.
func (db *DB) SetPriceAlertActive(ctx context.Context, userID, id string, active bool) (*model.PriceAlert, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE price_alerts SET active = ?, triggered = CASE WHEN ? THEN 0 ELSE triggered END
		 WHERE id = ? AND user_id = ?`,
		active, active, id, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: toggling price alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking toggle of price alert %s: %w", id, err)
	}
	if n == 0 {
		return nil, apperror.NotFound("price alert", id)
	}

	a, err := scanPriceAlert(db.conn.QueryRowContext(ctx,
		`SELECT `+priceAlertColumns+` FROM price_alerts WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: reloading price alert %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) RecordPriceCheck(ctx context.Context, id string, price float64, triggered bool, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE price_alerts SET last_price = ?, last_checked = ?, triggered = ? WHERE id = ?`,
		price, utc(at), triggered, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: recording price check for alert %s: %w", id, err)
	}
	return nil
}
