package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

const (
	maxNotesLength   = 500
	maxProductName   = 300
	priceCheckFanout = 4
)

// =========================================================================
// WISHLIST
// =========================================================================

type WishlistService struct {
	repo   repository.WishlistRepository
	logger *slog.Logger
}

func NewWishlistService(repo repository.WishlistRepository, logger *slog.Logger) *WishlistService {
	return &WishlistService{repo: repo, logger: logger}
}

// WishlistInput is a new wishlist entry as submitted by the client.
type WishlistInput struct {
	ProductURL   string  `json:"product_url"`
	ProductName  string  `json:"product_name"`
	ProductImage *string `json:"product_image"`
	Notes        *string `json:"notes"`
}

// Add saves a product. A second entry for the same URL is rejected.
func (s *WishlistService) Add(ctx context.Context, userID string, in WishlistInput) (*model.WishlistItem, error) {
	productURL, err := normalizeProductURL(in.ProductURL, "product_url")
	if err != nil {
		return nil, err
	}
	name, err := productName(in.ProductName)
	if err != nil {
		return nil, err
	}
	if in.Notes != nil && len(*in.Notes) > maxNotesLength {
		return nil, apperror.ValidationFailed("notes", fmt.Sprintf("notes must be %d characters or fewer", maxNotesLength))
	}

	item := &model.WishlistItem{
		UserID:       userID,
		ProductURL:   productURL,
		ProductName:  name,
		ProductImage: trimmedOrNil(in.ProductImage),
		Notes:        trimmedOrNil(in.Notes),
	}
	if err := s.repo.AddWishlistItem(ctx, item); err != nil {
		return nil, fmt.Errorf("service/wishlist: adding item: %w", err)
	}
	return item, nil
}

func (s *WishlistService) List(ctx context.Context, userID string) ([]model.WishlistItem, error) {
	items, err := s.repo.ListWishlist(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/wishlist: listing: %w", err)
	}
	return items, nil
}

// Remove deletes one of the user's items; other users' items are NotFound.
func (s *WishlistService) Remove(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteWishlistItem(ctx, userID, id); err != nil {
		return fmt.Errorf("service/wishlist: removing %s: %w", id, err)
	}
	return nil
}

// =========================================================================
// PRICE ALERTS
// =========================================================================

type PriceAlertService struct {
	repo    repository.PriceAlertRepository
	fetcher ProductFetcher
	logger  *slog.Logger
	now     func() time.Time
}

func NewPriceAlertService(repo repository.PriceAlertRepository, fetcher ProductFetcher, logger *slog.Logger) *PriceAlertService {
	return &PriceAlertService{repo: repo, fetcher: fetcher, logger: logger, now: time.Now}
}

type PriceAlertInput struct {
	ProductURL  string  `json:"product_url"`
	ProductName string  `json:"product_name"`
	TargetPrice float64 `json:"target_price"`
}

func (s *PriceAlertService) Create(ctx context.Context, userID string, in PriceAlertInput) (*model.PriceAlert, error) {
	productURL, err := normalizeProductURL(in.ProductURL, "product_url")
	if err != nil {
		return nil, err
	}
	if in.TargetPrice <= 0 {
		return nil, apperror.ValidationFailed("target_price", "target price must be greater than zero")
	}
	name, err := productName(in.ProductName)
	if err != nil {
		return nil, err
	}

	alert := &model.PriceAlert{
		UserID:      userID,
		ProductURL:  productURL,
		ProductName: name,
		TargetPrice: in.TargetPrice,
	}
	if err := s.repo.CreatePriceAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("service/alerts: creating alert: %w", err)
	}
	return alert, nil
}

func (s *PriceAlertService) List(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	alerts, err := s.repo.ListPriceAlerts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/alerts: listing: %w", err)
	}
	return alerts, nil
}

func (s *PriceAlertService) Remove(ctx context.Context, userID, id string) error {
	if err := s.repo.DeletePriceAlert(ctx, userID, id); err != nil {
		return fmt.Errorf("service/alerts: removing %s: %w", id, err)
	}
	return nil
}

// Toggle flips the alert between active and paused.
func (s *PriceAlertService) Toggle(ctx context.Context, userID, id string) (*model.PriceAlert, error) {
	alerts, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a.ID != id {
			continue
		}
		updated, err := s.repo.SetPriceAlertActive(ctx, userID, id, !a.Active)
		if err != nil {
			return nil, fmt.Errorf("service/alerts: toggling %s: %w", id, err)
		}
		return updated, nil
	}
	return nil, apperror.NotFound("price alert", id)
}

// PriceCheck is the outcome of checking one alert.
type PriceCheck struct {
	AlertID      string   `json:"alert_id"`
	ProductName  string   `json:"product_name"`
	TargetPrice  float64  `json:"target_price"`
	CurrentPrice *float64 `json:"current_price"`
	Triggered    bool     `json:"triggered"`
	Error        string   `json:"error,omitempty"`
}

type PriceCheckReport struct {
	Checked   int          `json:"checked"`
	Triggered int          `json:"triggered"`
	Failed    int          `json:"failed"`
	Results   []PriceCheck `json:"results"`
}

// errNoPrice means the page loaded but showed no price.
var errNoPrice = errors.New("no price found on product page")

// Check scrapes the current price of every active alert. An alert triggers
// when the price is at or below its target. Pages that cannot be read are
// reported per alert and do not fail the whole check.
func (s *PriceAlertService) Check(ctx context.Context, userID string) (*PriceCheckReport, error) {
	if s.fetcher == nil {
		return nil, apperror.Upstream("price service", errors.New("product scraping is disabled"))
	}
	alerts, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	var active []model.PriceAlert
	for _, a := range alerts {
		if a.Active {
			active = append(active, a)
		}
	}

	results := make([]PriceCheck, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceCheckFanout)
	for i, a := range active {
		g.Go(func() error {
			results[i] = s.checkOne(gctx, a)
			return nil
		})
	}
	g.Wait()

	report := &PriceCheckReport{Checked: len(results), Results: results}
	for _, r := range results {
		switch {
		case r.Error != "":
			report.Failed++
		case r.Triggered:
			report.Triggered++
		}
	}
	s.logger.Info("price alerts checked",
		slog.String("userID", userID),
		slog.Int("checked", report.Checked),
		slog.Int("triggered", report.Triggered),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *PriceAlertService) checkOne(ctx context.Context, a model.PriceAlert) PriceCheck {
	pc := PriceCheck{AlertID: a.ID, ProductName: a.ProductName, TargetPrice: a.TargetPrice}

	p, err := s.fetcher.Fetch(ctx, a.ProductURL)
	if err == nil && p.PriceValue == nil {
		err = errNoPrice
	}
	if err != nil {
		s.logger.Warn("price check failed", slog.String("alertID", a.ID), slog.String("error", err.Error()))
		pc.Error = "could not read the current price"
		return pc
	}

	price := *p.PriceValue
	pc.CurrentPrice = &price
	pc.Triggered = price <= a.TargetPrice
	if err := s.repo.RecordPriceCheck(ctx, a.ID, price, pc.Triggered, s.now()); err != nil {
		s.logger.Error("failed to record price check", slog.String("alertID", a.ID), slog.String("error", err.Error()))
		pc.Error = "could not save the price check"
	}
	return pc
}

// =========================================================================
// HELPERS
// =========================================================================

func productName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Amazon Product", nil
	}
	if len(name) > maxProductName {
		return "", apperror.ValidationFailed("product_name", fmt.Sprintf("product name must be %d characters or fewer", maxProductName))
	}
	return name, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
