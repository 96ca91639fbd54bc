package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/veriqo/internal/service"
)

// WishlistHandler serves the saved-products list and price alerts. Every
// route is owner-scoped: ids belonging to someone else are not found.
type WishlistHandler struct {
	wishlist *service.WishlistService
	alerts   *service.PriceAlertService
	logger   *slog.Logger
}

func NewWishlistHandler(wishlist *service.WishlistService, alerts *service.PriceAlertService, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{wishlist: wishlist, alerts: alerts, logger: logger}
}

// HandleListWishlist
//
// HTTP: GET /api/wishlist
func (h *WishlistHandler) HandleListWishlist(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.wishlist.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleAddWishlist
//
// HTTP: POST /api/wishlist {"product_url","product_name","product_image","notes"}
func (h *WishlistHandler) HandleAddWishlist(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in service.WishlistInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.wishlist.Add(r.Context(), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// HandleRemoveWishlist
//
// HTTP: DELETE /api/wishlist/{id}
func (h *WishlistHandler) HandleRemoveWishlist(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.wishlist.Remove(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "removed from wishlist"})
}

// HandleListAlerts
//
// HTTP: GET /api/price-alerts
func (h *WishlistHandler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	alerts, err := h.alerts.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleCreateAlert
//
// HTTP: POST /api/price-alerts {"product_url","product_name","target_price"}
func (h *WishlistHandler) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in service.PriceAlertInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	alert, err := h.alerts.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// HandleRemoveAlert
//
// HTTP: DELETE /api/price-alerts/{id}
func (h *WishlistHandler) HandleRemoveAlert(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.alerts.Remove(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "price alert deleted"})
}

// HandleToggleAlert pauses or re-arms an alert.
//
// HTTP: PUT /api/price-alerts/{id}/toggle
func (h *WishlistHandler) HandleToggleAlert(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	alert, err := h.alerts.Toggle(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// HandleCheckAlerts scrapes current prices for every active alert.
//
// HTTP: POST /api/price-alerts/check
func (h *WishlistHandler) HandleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.alerts.Check(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
