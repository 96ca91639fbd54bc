package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/veriqo/internal/billing"
	"github.com/sakif/veriqo/internal/service"
)

// maxWebhookBytes matches the payload ceiling Stripe documents for events.
const maxWebhookBytes = 65536

// PaymentHandler serves plan listing, checkout, the browser's status poll
// and the provider webhook.
type PaymentHandler struct {
	svc    *service.SubscriptionService
	logger *slog.Logger
}

func NewPaymentHandler(svc *service.SubscriptionService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// HandlePlans
//
// HTTP: GET /api/payments/plans
func (h *PaymentHandler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Plans())
}

type checkoutRequest struct {
	PlanID    string `json:"plan_id"`
	OriginURL string `json:"origin_url"`
}

type checkoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// HandleCheckout opens a checkout session and returns where to send the
// browser.
//
// HTTP: POST /api/payments/checkout {"plan_id","origin_url"}
func (h *PaymentHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	origin := req.OriginURL
	if origin == "" {
		origin = r.Header.Get("Origin")
	}
	sess, err := h.svc.Checkout(r.Context(), userID, req.PlanID, origin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: sess.URL, SessionID: sess.ID})
}

// HandleStatus is polled by the success page until the payment settles.
//
// HTTP: GET /api/payments/status/{session_id}
func (h *PaymentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.svc.PollStatus(r.Context(), userID, chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type webhookAck struct {
	Status string `json:"status"`
}

// HandleStripeWebhook applies a provider event.
//
// HTTP: POST /api/webhook/stripe
//
// ALWAYS 200:
// A non-2xx answer makes the provider redeliver for days. Failures here are
// either permanent (bad signature, unknown session) or already covered by
// the poll path, so they are logged and acknowledged with "error" instead.
func (h *PaymentHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Warn("webhook: reading body failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, webhookAck{Status: "error"})
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		level := slog.LevelError
		if errors.Is(err, billing.ErrInvalidSignature) {
			level = slog.LevelWarn
		}
		h.logger.Log(r.Context(), level, "webhook: processing failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, webhookAck{Status: "error"})
		return
	}
	writeJSON(w, http.StatusOK, webhookAck{Status: "ok"})
}

// =========================================================================
// HEALTH
// =========================================================================

type healthResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// HandleHealth
//
// HTTP: GET /api/
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Message: "Veriqo API v1.0", Status: "healthy"})
}
