package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/billing"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

// ErrPaymentsDisabled is the cause reported when no gateway is configured.
var ErrPaymentsDisabled = errors.New("payments are not configured")

type SubscriptionOptions struct {
	FrontendURL string
	// AllowedOrigins may be used as the return address after checkout.
	// FrontendURL is always allowed.
	AllowedOrigins []string
}

// SubscriptionService is the subscription reconciler.
//
// TWO PATHS, ONE TRANSITION:
// A checkout session is paid at the provider and we learn about it twice:
// the browser polls PollStatus after being redirected back, and the
// provider pushes a webhook (at least once, possibly late, possibly
// repeated). Both paths funnel into PaymentRepository.CompleteTransaction,
// which flips pending -> completed with a guarded update and grants the
// premium period in the same transaction. Whichever path arrives first
// does the grant; every other observation is a no-op.
type SubscriptionService struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	gateway  billing.Gateway // nil when payments are disabled
	catalog  billing.Catalog
	opts     SubscriptionOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewSubscriptionService(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	gateway billing.Gateway,
	catalog billing.Catalog,
	opts SubscriptionOptions,
	logger *slog.Logger,
) *SubscriptionService {
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	return &SubscriptionService{
		payments: payments,
		users:    users,
		gateway:  gateway,
		catalog:  catalog,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SubscriptionService) Plans() []billing.Plan {
	return s.catalog.List()
}

// Checkout opens a provider checkout session for planID and records it as
// a pending transaction. originURL, when allowed, is where the browser
// returns afterwards.
func (s *SubscriptionService) Checkout(ctx context.Context, userID, planID, originURL string) (*billing.CheckoutSession, error) {
	plan, err := s.catalog.Lookup(planID)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, apperror.Upstream("payment service", ErrPaymentsDisabled)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("user not found")
		}
		return nil, fmt.Errorf("service/subscription: loading user %s: %w", userID, err)
	}

	base := s.returnBase(originURL)
	req := billing.CheckoutRequest{
		Plan:       plan,
		UserID:     user.ID,
		SuccessURL: base + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/pricing",
	}
	if user.Email != nil {
		req.CustomerEmail = *user.Email
	}

	sess, err := s.gateway.CreateCheckout(ctx, req)
	if err != nil {
		return nil, apperror.Upstream("payment service", err)
	}

	tx := &model.PaymentTransaction{
		SessionID:   sess.ID,
		UserID:      user.ID,
		PlanID:      plan.ID,
		AmountCents: plan.AmountCents,
		Currency:    plan.Currency,
		PeriodDays:  plan.PeriodDays,
	}
	if err := s.payments.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("service/subscription: recording session %s: %w", sess.ID, err)
	}

	s.logger.Info("checkout started",
		slog.String("userID", user.ID),
		slog.String("plan", plan.ID),
		slog.String("sessionID", sess.ID),
	)
	return sess, nil
}

// returnBase picks the origin the provider redirects back to. Anything
// not explicitly allowed falls back to FrontendURL.
func (s *SubscriptionService) returnBase(origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" || origin == s.opts.FrontendURL {
		return s.opts.FrontendURL
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return s.opts.FrontendURL
	}
	if slices.Contains(s.opts.AllowedOrigins, u.Scheme+"://"+u.Host) {
		return u.Scheme + "://" + u.Host
	}
	return s.opts.FrontendURL
}

// PollStatus reads the session's live status from the provider and
// completes the transaction if it has been paid. Sessions belonging to
// another user are reported as not found.
func (s *SubscriptionService) PollStatus(ctx context.Context, userID, sessionID string) (*billing.SessionStatus, error) {
	tx, err := s.payments.GetTransactionBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/subscription: %w", err)
	}
	if tx.UserID != userID {
		return nil, apperror.NotFound("payment session", sessionID)
	}
	if s.gateway == nil {
		return nil, apperror.Upstream("payment service", ErrPaymentsDisabled)
	}

	st, err := s.gateway.SessionStatus(ctx, sessionID)
	if err != nil {
		return nil, apperror.Upstream("payment service", err)
	}
	if st.Paid() {
		if err := s.complete(ctx, sessionID, "poll"); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// HandleWebhook authenticates and applies a provider event. Events that do
// not report a paid checkout are accepted and ignored. The caller
// acknowledges the delivery whatever this returns.
func (s *SubscriptionService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return ErrPaymentsDisabled
	}
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("service/subscription: %w", err)
	}
	if !ev.Paid() {
		s.logger.Debug("webhook ignored", slog.String("eventID", ev.ID), slog.String("type", ev.Type))
		return nil
	}
	return s.complete(ctx, ev.SessionID, "webhook")
}

func (s *SubscriptionService) complete(ctx context.Context, sessionID, source string) error {
	tx, completed, err := s.payments.CompleteTransaction(ctx, sessionID, s.now())
	if err != nil {
		return fmt.Errorf("service/subscription: completing %s via %s: %w", sessionID, source, err)
	}
	if !completed {
		s.logger.Debug("payment already completed",
			slog.String("sessionID", sessionID),
			slog.String("source", source),
		)
		return nil
	}
	s.logger.Info("premium granted",
		slog.String("userID", tx.UserID),
		slog.String("plan", tx.PlanID),
		slog.String("sessionID", sessionID),
		slog.String("source", source),
	)
	return nil
}
