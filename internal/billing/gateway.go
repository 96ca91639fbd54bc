package billing

import (
	"context"
	"errors"
)

// ErrInvalidSignature means a webhook payload could not be authenticated.
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// PaymentStatusPaid is the provider's payment_status once money has moved.
const PaymentStatusPaid = "paid"

type CheckoutRequest struct {
	Plan          Plan
	UserID        string
	CustomerEmail string // optional, prefills the checkout form
	SuccessURL    string // may contain {CHECKOUT_SESSION_ID}
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// SessionStatus is the provider's live view of a checkout session.
type SessionStatus struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`         // open | complete | expired
	PaymentStatus string `json:"payment_status"` // unpaid | paid | no_payment_required
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
}

func (s *SessionStatus) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// WebhookEvent is an authenticated webhook, reduced to what reconciliation
// needs. SessionID is empty for event types that do not concern checkout.
type WebhookEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
}

func (e *WebhookEvent) Paid() bool {
	return e.SessionID != "" && e.PaymentStatus == PaymentStatusPaid
}

// Gateway is the payment provider as seen by the subscription service.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	SessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	// ParseWebhook authenticates payload against its signature header and
	// decodes it. Authentication failures wrap ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
