package model

import "time"

// WishlistItem is a saved product. (UserID, ProductURL) is unique.
type WishlistItem struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ProductURL   string    `json:"product_url"`
	ProductName  string    `json:"product_name"`
	ProductImage *string   `json:"product_image,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"added_at"`
}

// PriceAlert watches a product page until its price drops to TargetPrice.
type PriceAlert struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ProductURL  string     `json:"product_url"`
	ProductName string     `json:"product_name"`
	TargetPrice float64    `json:"target_price"`
	LastPrice   *float64   `json:"last_price,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	Active      bool       `json:"is_active"`
	Triggered   bool       `json:"triggered"`
	CreatedAt   time.Time  `json:"created_at"`
}
