package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/veriqo/internal/auth"
	"github.com/sakif/veriqo/internal/billing"
	"github.com/sakif/veriqo/internal/llm"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/notify"
	"github.com/sakif/veriqo/internal/quota"
	"github.com/sakif/veriqo/internal/repository/sqlite"
	"github.com/sakif/veriqo/internal/scrape"
)

// =========================================================================
// FAKES FOR EXTERNAL COLLABORATORS
// =========================================================================
//
// Repositories are the real SQLite implementation on an in-memory
// database, so the atomic quota and payment transitions are exercised for
// real. Everything that would leave the process is faked here.

// fakeCompleter answers like a well-behaved model. The score is looked up
// by any key (usually an ASIN) found in the prompt.
type fakeCompleter struct {
	mu     sync.Mutex
	scores map[string]int
	name   string // product_name to report; empty means "Product <score>"
	raw    string // returned verbatim when set
	err    error
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.raw != "" {
		return f.raw, nil
	}

	score := 75
	for key, s := range f.scores {
		if strings.Contains(prompt, key) {
			score = s
		}
	}
	name := f.name
	if name == "" {
		name = fmt.Sprintf("Product %d", score)
	}
	return fmt.Sprintf(`Here you go:
{"product_name": %q, "verdict": %q, "confidence_score": %d,
 "top_complaints": [{"title": "Battery", "description": "Short battery life", "frequency": "10%% of reviews"}],
 "who_should_not_buy": ["Frequent travelers"], "summary": "Solid overall.", "alternatives": []}`,
		name, model.VerdictForScore(score), score), nil
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFetcher serves canned product pages by URL. Unknown URLs fail the
// way a blocked scrape does.
type fakeFetcher struct {
	mu       sync.Mutex
	products map[string]*scrape.Product
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*scrape.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[url]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: 503 from %s", scrape.ErrStatus, url)
}

func (f *fakeFetcher) set(url string, p *scrape.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[url] = p
}

// fakeGateway is an in-memory payment provider. Webhooks are JSON-encoded
// WebhookEvents and only the signature "valid" authenticates.
type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*billing.SessionStatus
	next      int
	createErr error
	statusErr error
	lastReq   billing.CheckoutRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*billing.SessionStatus)}
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := fmt.Sprintf("cs_test_%d", g.next)
	g.sessions[id] = &billing.SessionStatus{
		SessionID:     id,
		Status:        "open",
		PaymentStatus: "unpaid",
		AmountTotal:   req.Plan.AmountCents,
		Currency:      req.Plan.Currency,
	}
	g.lastReq = req
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *fakeGateway) SessionStatus(_ context.Context, id string) (*billing.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	st, ok := g.sessions[id]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	cp := *st
	return &cp, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*billing.WebhookEvent, error) {
	if signature != "valid" {
		return nil, billing.ErrInvalidSignature
	}
	var ev billing.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].Status = "complete"
	g.sessions[id].PaymentStatus = billing.PaymentStatusPaid
}

func paidEvent(sessionID string) []byte {
	b, _ := json.Marshal(billing.WebhookEvent{
		ID:            "evt_" + sessionID,
		Type:          "checkout.session.completed",
		SessionID:     sessionID,
		PaymentStatus: billing.PaymentStatusPaid,
	})
	return b
}

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================

const testFrontend = "https://app.veriqo.test"

type testEnv struct {
	db        *sqlite.DB
	tracker   *quota.Tracker
	completer *fakeCompleter
	fetcher   *fakeFetcher
	gateway   *fakeGateway
	notifier  *notify.Recorder

	auth     *AuthService
	analysis *AnalysisService
	subs     *SubscriptionService
	wishlist *WishlistService
	alerts   *PriceAlertService
	admin    *AdminService
	insights *InsightService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	logger := discardLogger()
	env := &testEnv{
		db:        db,
		tracker:   quota.NewTracker(db, quota.DefaultPolicy(), logger),
		completer: &fakeCompleter{scores: map[string]int{}},
		fetcher:   &fakeFetcher{products: map[string]*scrape.Product{}},
		gateway:   newFakeGateway(),
		notifier:  &notify.Recorder{},
	}
	analyzer := llm.NewAnalyzer(env.completer, "fake-model", logger)
	catalog := billing.DefaultCatalog()

	env.auth = NewAuthService(db, db, tokens, auth.NewPasswordServiceForTest(4), env.tracker, env.notifier,
		AuthOptions{FrontendURL: testFrontend}, logger)
	env.analysis = NewAnalysisService(db, db, env.tracker, analyzer, env.fetcher, AnalysisOptions{}, logger)
	env.subs = NewSubscriptionService(db, db, env.gateway, catalog,
		SubscriptionOptions{FrontendURL: testFrontend, AllowedOrigins: []string{"http://localhost:3000"}}, logger)
	env.wishlist = NewWishlistService(db, logger)
	env.alerts = NewPriceAlertService(db, env.fetcher, logger)
	env.admin = NewAdminService(db, db, env.tracker, catalog, analyzer, logger)
	env.insights = NewInsightService(db)
	return env
}

// register creates a password user and returns its id.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	res, err := e.auth.Register(context.Background(), email, "password123", "Test User")
	require.NoError(t, err)
	return res.User.ID
}

// makePremium sells userID a monthly plan through the payment repository.
func (e *testEnv) makePremium(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	tx := &model.PaymentTransaction{
		SessionID:   "cs_seed_" + userID,
		UserID:      userID,
		PlanID:      billing.PlanMonthly,
		AmountCents: 699,
		Currency:    "usd",
		PeriodDays:  30,
	}
	require.NoError(t, e.db.CreateTransaction(ctx, tx))
	_, completed, err := e.db.CompleteTransaction(ctx, tx.SessionID, time.Now())
	require.NoError(t, err)
	require.True(t, completed)
}

func (e *testEnv) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := e.db.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func productURL(asin string) string {
	return "https://www.amazon.com/dp/" + asin
}
