// Package server is the composition root: it builds every repository,
// service and handler from the Config, mounts them on a chi router and
// runs the HTTP server until a shutdown signal arrives.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqlite.DB (users, analyses, payments, wishlist, alerts, codes)
//	  → optional: redis.CodeStore, GeminiCompleter, Scraper, StripeGateway, GoogleProvider
//	  → services (receive repository interfaces, never the concrete DB)
//	  → handlers (receive services, never repositories)
//	  → routes
//
// Optional integrations degrade instead of failing startup: without a
// Gemini key analyses report an upstream error, without Stripe checkout
// does, without Google the Google routes are not found.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/veriqo/internal/auth"
	"github.com/sakif/veriqo/internal/billing"
	"github.com/sakif/veriqo/internal/config"
	"github.com/sakif/veriqo/internal/handler"
	"github.com/sakif/veriqo/internal/llm"
	"github.com/sakif/veriqo/internal/middleware"
	"github.com/sakif/veriqo/internal/notify"
	"github.com/sakif/veriqo/internal/quota"
	"github.com/sakif/veriqo/internal/repository"
	redisRepo "github.com/sakif/veriqo/internal/repository/redis"
	sqliteRepo "github.com/sakif/veriqo/internal/repository/sqlite"
	"github.com/sakif/veriqo/internal/scrape"
	"github.com/sakif/veriqo/internal/service"
)

// Credential endpoints allow authRequests per minute per client IP.
const (
	authRequests = 10
	authBurst    = 5
)

// Server owns the router and every resource that must be closed on
// shutdown.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	closers []io.Closer
}

// New opens the database, connects the configured integrations and mounts
// the routes. On error, everything already opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Server, err error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	deps, err := s.buildDeps(ctx)
	if err != nil {
		return nil, err
	}
	s.setupRoutes(deps)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type deps struct {
	tokens   *auth.TokenService
	google   handler.GoogleAuthenticator
	auth     *service.AuthService
	analysis *service.AnalysisService
	subs     *service.SubscriptionService
	wishlist *service.WishlistService
	alerts   *service.PriceAlertService
	admin    *service.AdminService
	insights *service.InsightService
}

func (s *Server) buildDeps(ctx context.Context) (*deps, error) {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// === ONE-TIME CODES ===
	// Redis when configured so codes survive across replicas, SQLite otherwise.
	var codes repository.CodeStore = s.db
	if cfg.RedisAddr != "" {
		rc, err := redisRepo.New(ctx, redisRepo.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "veriqo",
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s.closers = append(s.closers, rc)
		codes = rc
		s.logger.Info("one-time codes stored in redis", slog.String("addr", cfg.RedisAddr))
	}

	// === LLM ===
	var completer llm.Completer
	if cfg.LLMEnabled() {
		gc, err := llm.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		s.closers = append(s.closers, gc)
		completer = gc
	} else {
		s.logger.Warn("GEMINI_API_KEY not set: analyses will fail with an upstream error")
	}
	analyzer := llm.NewAnalyzer(completer, cfg.GeminiModel, s.logger)

	// === PRODUCT PAGES ===
	// Left as a nil interface (not a nil *Scraper) when disabled.
	var fetcher service.ProductFetcher
	if cfg.ScrapeEnabled {
		fetcher = scrape.New(cfg.ScrapeTimeout)
	}

	// === PAYMENTS ===
	var gateway billing.Gateway
	if cfg.PaymentsEnabled() {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if cfg.StripeWebhookSecret == "" {
			s.logger.Warn("STRIPE_WEBHOOK_SECRET not set: webhooks will be rejected, payments rely on polling")
		}
	} else {
		s.logger.Warn("STRIPE_SECRET_KEY not set: checkout is disabled")
	}

	var google handler.GoogleAuthenticator
	if cfg.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL)
	}

	tracker := quota.NewTracker(s.db, quota.Policy{
		FreeLimit: cfg.FreeChecksPerWindow,
		Window:    cfg.QuotaWindow,
	}, s.logger)
	catalog := billing.DefaultCatalog()

	return &deps{
		tokens: tokens,
		google: google,
		auth: service.NewAuthService(s.db, codes, tokens, auth.NewPasswordService(), tracker,
			notify.NewLogSender(s.logger), service.AuthOptions{
				FrontendURL:   cfg.FrontendURL,
				ResetTokenTTL: cfg.ResetTokenTTL,
				OTPTTL:        cfg.OTPTTL,
			}, s.logger),
		analysis: service.NewAnalysisService(s.db, s.db, tracker, analyzer, fetcher, service.AnalysisOptions{
			AffiliateTag: cfg.AffiliateTag,
			HistoryLimit: cfg.HistoryLimit,
		}, s.logger),
		subs: service.NewSubscriptionService(s.db, s.db, gateway, catalog, service.SubscriptionOptions{
			FrontendURL:    cfg.FrontendURL,
			AllowedOrigins: cfg.CORSOrigins,
		}, s.logger),
		wishlist: service.NewWishlistService(s.db, s.logger),
		alerts:   service.NewPriceAlertService(s.db, fetcher, s.logger),
		admin:    service.NewAdminService(s.db, s.db, tracker, catalog, analyzer, s.logger),
		insights: service.NewInsightService(s.db),
	}, nil
}

// setupRoutes mounts the API under /api.
//
// MIDDLEWARE ORDER:
//  1. RequestID: tags the request for the log line
//  2. RealIP, only with TrustProxyHeaders: rewrites RemoteAddr from proxy
//     headers. The rate limiter keys on RemoteAddr, so without a trusted
//     proxy those client-supplied headers must be ignored.
//  3. Logger
//  4. Recoverer: a panic becomes a 500 instead of killing the process
//  5. CORS: the web app calls from another origin with credentials
func (s *Server) setupRoutes(d *deps) {
	s.router.Use(chimiddleware.RequestID)
	if s.config.TrustProxyHeaders {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(d.auth, d.google, handler.AuthHandlerOptions{
		CookieTTL:    d.tokens.TTL(),
		FrontendURL:  s.config.FrontendURL,
		SecureCookie: strings.HasPrefix(s.config.FrontendURL, "https://"),
	}, s.logger)
	analysisHandler := handler.NewAnalysisHandler(d.analysis, s.logger)
	wishlistHandler := handler.NewWishlistHandler(d.wishlist, d.alerts, s.logger)
	adminHandler := handler.NewAdminHandler(d.admin, s.logger)
	insightHandler := handler.NewInsightHandler(d.insights)
	paymentHandler := handler.NewPaymentHandler(d.subs, s.logger)

	limiter := middleware.NewRateLimiter(authRequests, time.Minute, authBurst)
	requireAuth := auth.RequireAuth(d.tokens)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/", handler.HandleHealth)

		// === Public ===
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/auth/register", authHandler.HandleRegister)
			r.Post("/auth/login", authHandler.HandleLogin)
			r.Post("/auth/otp/send", authHandler.HandleSendOTP)
			r.Post("/auth/otp/verify", authHandler.HandleVerifyOTP)
			r.Post("/auth/forgot-password", authHandler.HandleForgotPassword)
			r.Post("/auth/reset-password", authHandler.HandleResetPassword)
		})
		r.Get("/auth/google/login", authHandler.HandleGoogleLogin)
		r.Get("/auth/google/callback", authHandler.HandleGoogleCallback)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Get("/insights", insightHandler.HandleLatest)
		r.Get("/insights/{idOrSlug}", insightHandler.HandleGet)
		r.Get("/payments/plans", paymentHandler.HandlePlans)
		r.Post("/webhook/stripe", paymentHandler.HandleStripeWebhook)

		// === Authenticated ===
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/me", authHandler.HandleMe)
			r.Put("/auth/complete-onboarding", authHandler.HandleCompleteOnboarding)

			r.Post("/analyze", analysisHandler.HandleAnalyze)
			r.Post("/compare", analysisHandler.HandleCompare)
			r.Get("/history", analysisHandler.HandleHistory)
			r.Get("/history/export", analysisHandler.HandleExport)

			r.Get("/wishlist", wishlistHandler.HandleListWishlist)
			r.Post("/wishlist", wishlistHandler.HandleAddWishlist)
			r.Delete("/wishlist/{id}", wishlistHandler.HandleRemoveWishlist)

			r.Get("/price-alerts", wishlistHandler.HandleListAlerts)
			r.Post("/price-alerts", wishlistHandler.HandleCreateAlert)
			r.Post("/price-alerts/check", wishlistHandler.HandleCheckAlerts)
			r.Delete("/price-alerts/{id}", wishlistHandler.HandleRemoveAlert)
			r.Put("/price-alerts/{id}/toggle", wishlistHandler.HandleToggleAlert)

			r.Post("/payments/checkout", paymentHandler.HandleCheckout)
			r.Get("/payments/status/{session_id}", paymentHandler.HandleStatus)

			r.Route("/admin", func(r chi.Router) {
				r.Use(adminHandler.AdminOnly)
				r.Get("/stats", adminHandler.HandleStats)
				r.Get("/users", adminHandler.HandleListUsers)
				r.Patch("/users/{id}", adminHandler.HandleUpdateUser)
				r.Post("/users/{id}/reset-checks", adminHandler.HandleResetChecks)
				r.Get("/analyses", adminHandler.HandleListAnalyses)
				r.Patch("/analyses/{id}", adminHandler.HandleUpdateAnalysis)
				r.Get("/ai-config", adminHandler.HandleAIConfig)
			})
		})
	})
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the database and integrations.
//
// WriteTimeout is generous because an analysis waits on a scrape and an
// LLM call back to back.
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Bool("llm", s.config.LLMEnabled()),
			slog.Bool("payments", s.config.PaymentsEnabled()),
			slog.Bool("google", s.config.GoogleEnabled()),
			slog.Bool("scrape", s.config.ScrapeEnabled),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// close releases integrations in reverse order of creation, then the
// database.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}
