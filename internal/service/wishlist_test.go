package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/scrape"
)

func ptr[T any](v T) *T { return &v }

// =========================================================================
// WISHLIST
// =========================================================================

func TestWishlist_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "w@example.com")

	item, err := env.wishlist.Add(ctx, id, WishlistInput{
		ProductURL:  productURL("B000000001"),
		ProductName: "  Kettle ",
		Notes:       ptr("for the office"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Kettle", item.ProductName)
	assert.Nil(t, item.ProductImage)

	unnamed, err := env.wishlist.Add(ctx, id, WishlistInput{ProductURL: productURL("B000000002")})
	require.NoError(t, err)
	assert.Equal(t, "Amazon Product", unnamed.ProductName)

	items, err := env.wishlist.List(ctx, id)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, env.wishlist.Remove(ctx, id, item.ID))
	items, err = env.wishlist.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, unnamed.ID, items[0].ID)
}

func TestWishlist_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "w@example.com")

	_, err := env.wishlist.Add(ctx, id, WishlistInput{ProductURL: "https://example.com/item"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.wishlist.Add(ctx, id, WishlistInput{
		ProductURL: productURL("B000000001"),
		Notes:      ptr(strings.Repeat("n", maxNotesLength+1)),
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.wishlist.Add(ctx, id, WishlistInput{ProductURL: productURL("B000000001")})
	require.NoError(t, err)
	_, err = env.wishlist.Add(ctx, id, WishlistInput{ProductURL: productURL("B000000001")})
	assert.ErrorIs(t, err, apperror.ErrValidation, "duplicate product")
}

func TestWishlist_RemoveOthersItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.register(t, "owner@example.com")
	other := env.register(t, "other@example.com")

	item, err := env.wishlist.Add(ctx, owner, WishlistInput{ProductURL: productURL("B000000001")})
	require.NoError(t, err)

	err = env.wishlist.Remove(ctx, other, item.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	items, err := env.wishlist.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

// =========================================================================
// PRICE ALERTS
// =========================================================================

func TestPriceAlerts_CreateAndToggle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "p@example.com")

	_, err := env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000001"), TargetPrice: 0})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	alert, err := env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000001"), TargetPrice: 19.99})
	require.NoError(t, err)
	assert.True(t, alert.Active)

	paused, err := env.alerts.Toggle(ctx, id, alert.ID)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	resumed, err := env.alerts.Toggle(ctx, id, alert.ID)
	require.NoError(t, err)
	assert.True(t, resumed.Active)

	other := env.register(t, "other@example.com")
	_, err = env.alerts.Toggle(ctx, other, alert.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, env.alerts.Remove(ctx, other, alert.ID), apperror.ErrNotFound)

	require.NoError(t, env.alerts.Remove(ctx, id, alert.ID))
	alerts, err := env.alerts.List(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestPriceAlerts_Check(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "p@example.com")

	env.fetcher.set(productURL("B000000001"), &scrape.Product{Price: "$15.00", PriceValue: ptr(15.0)})
	env.fetcher.set(productURL("B000000002"), &scrape.Product{Price: "$40.00", PriceValue: ptr(40.0)})
	env.fetcher.set(productURL("B000000004"), &scrape.Product{Name: "No price shown"})

	cheap, err := env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000001"), TargetPrice: 20})
	require.NoError(t, err)
	_, err = env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000002"), TargetPrice: 20})
	require.NoError(t, err)
	_, err = env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000003"), TargetPrice: 20})
	require.NoError(t, err)
	_, err = env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000004"), TargetPrice: 20})
	require.NoError(t, err)
	paused, err := env.alerts.Create(ctx, id, PriceAlertInput{ProductURL: productURL("B000000001"), TargetPrice: 50})
	require.NoError(t, err)
	_, err = env.alerts.Toggle(ctx, id, paused.ID)
	require.NoError(t, err)

	report, err := env.alerts.Check(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked, "paused alerts are skipped")
	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 2, report.Failed)

	alerts, err := env.alerts.List(ctx, id)
	require.NoError(t, err)
	for _, a := range alerts {
		if a.ID != cheap.ID {
			continue
		}
		assert.True(t, a.Triggered)
		require.NotNil(t, a.LastPrice)
		assert.InDelta(t, 15.0, *a.LastPrice, 0.001)
		assert.NotNil(t, a.LastChecked)
	}
}

func TestPriceAlerts_CheckWithoutScraper(t *testing.T) {
	env := newTestEnv(t)
	id := env.register(t, "p@example.com")

	alerts := NewPriceAlertService(env.db, nil, discardLogger())
	_, err := alerts.Check(context.Background(), id)
	assert.ErrorIs(t, err, apperror.ErrUpstream)
}
