// Package config builds the application's Config once at startup.
//
// Values come from, in order of precedence: process environment, a .env
// file in the working directory, an optional CONFIG_FILE (yaml/toml/json),
// and finally the defaults below. After Load returns, nothing else in the
// program reads the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Port        int
	DBPath      string
	LogLevel    slog.Level
	FrontendURL string
	CORSOrigins []string
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	OTPTTL        time.Duration

	FreeChecksPerWindow int
	QuotaWindow         time.Duration
	HistoryLimit        int
	AffiliateTag        string

	StripeSecretKey     string
	StripeWebhookSecret string

	GeminiAPIKey string
	GeminiModel  string

	ScrapeEnabled bool
	ScrapeTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
}

var defaults = map[string]any{
	"PORT":                  8080,
	"DB_PATH":               "data/veriqo.db",
	"LOG_LEVEL":             "info",
	"FRONTEND_URL":          "http://localhost:3000",
	"CORS_ORIGINS":          "",
	"TRUST_PROXY_HEADERS":   false,
	"JWT_SECRET":            "",
	"TOKEN_TTL":             "168h",
	"RESET_TOKEN_TTL":       "1h",
	"OTP_TTL":               "10m",
	"FREE_CHECKS_PER_MONTH": 3,
	"QUOTA_WINDOW":          "720h",
	"HISTORY_LIMIT":         10,
	"AFFILIATE_TAG":         "veriqo-20",
	"STRIPE_SECRET_KEY":     "",
	"STRIPE_WEBHOOK_SECRET": "",
	"GEMINI_API_KEY":        "",
	"GEMINI_MODEL":          "gemini-1.5-flash",
	"SCRAPE_ENABLED":        true,
	"SCRAPE_TIMEOUT":        "8s",
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"GOOGLE_CLIENT_ID":      "",
	"GOOGLE_CLIENT_SECRET":  "",
	"GOOGLE_CALLBACK_URL":   "",
}

// Load reads .env (if present) into the environment and builds a validated
// Config.
func Load() (*Config, error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	level, err := parseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                v.GetInt("PORT"),
		DBPath:              v.GetString("DB_PATH"),
		LogLevel:            level,
		FrontendURL:         strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
		TrustProxyHeaders:   v.GetBool("TRUST_PROXY_HEADERS"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		TokenTTL:            v.GetDuration("TOKEN_TTL"),
		ResetTokenTTL:       v.GetDuration("RESET_TOKEN_TTL"),
		OTPTTL:              v.GetDuration("OTP_TTL"),
		FreeChecksPerWindow: v.GetInt("FREE_CHECKS_PER_MONTH"),
		QuotaWindow:         v.GetDuration("QUOTA_WINDOW"),
		HistoryLimit:        v.GetInt("HISTORY_LIMIT"),
		AffiliateTag:        v.GetString("AFFILIATE_TAG"),
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		GeminiAPIKey:        v.GetString("GEMINI_API_KEY"),
		GeminiModel:         v.GetString("GEMINI_MODEL"),
		ScrapeEnabled:       v.GetBool("SCRAPE_ENABLED"),
		ScrapeTimeout:       v.GetDuration("SCRAPE_TIMEOUT"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		GoogleClientID:      v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:   v.GetString("GOOGLE_CALLBACK_URL"),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{cfg.FrontendURL}
	}
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = fmt.Sprintf("http://localhost:%d/api/auth/google/callback", cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.FreeChecksPerWindow < 0 {
		errs = append(errs, errors.New("FREE_CHECKS_PER_MONTH must not be negative"))
	}
	if c.QuotaWindow <= 0 {
		errs = append(errs, errors.New("QUOTA_WINDOW must be positive"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// PaymentsEnabled reports whether Stripe is configured.
func (c *Config) PaymentsEnabled() bool { return c.StripeSecretKey != "" }

// LLMEnabled reports whether an LLM API key is configured.
func (c *Config) LLMEnabled() bool { return c.GeminiAPIKey != "" }

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimRight(strings.TrimSpace(part), "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}
