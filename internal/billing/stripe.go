package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

var _ Gateway = (*StripeGateway)(nil)

// StripeGateway implements Gateway with Stripe Checkout in one-off payment
// mode: each purchase is a fixed amount for a fixed premium period, and
// renewal is simply another purchase.
//
// It uses its own client.API instead of the package-level stripe.Key, so
// the key comes from Config and tests can point the backend at a fake.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

// newStripeGatewayWithBackends lets tests swap the HTTP backend.
func newStripeGatewayWithBackends(secretKey, webhookSecret string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Plan.Currency),
					UnitAmount: stripe.Int64(req.Plan.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Plan.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("plan_id", req.Plan.ID)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("billing: creating stripe checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) SessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: fetching stripe checkout session %s: %w", sessionID, err)
	}
	return &SessionStatus{
		SessionID:     sess.ID,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header (HMAC-SHA256 over
// "<timestamp>.<payload>", five-minute tolerance) before decoding anything.
//
// checkout.session.completed carries payment_status "paid" for card
// payments; delayed methods complete later with
// checkout.session.async_payment_succeeded. Both are mapped to a session
// event. Other event types come back with an empty SessionID.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := &WebhookEvent{ID: event.ID, Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if event.Data == nil {
			return nil, errors.New("billing: webhook event has no data")
		}
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("billing: decoding checkout session from webhook: %w", err)
		}
		ev.SessionID = sess.ID
		ev.PaymentStatus = string(sess.PaymentStatus)
	}
	return ev, nil
}
