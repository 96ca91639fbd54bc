package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/billing"
	"github.com/sakif/veriqo/internal/llm"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/quota"
	"github.com/sakif/veriqo/internal/repository"
)

// Disclaimers are shown next to every verdict.
var Disclaimers = []string{
	"Veriqo provides independent, informational summaries based on publicly available customer feedback.",
	"Veriqo does not verify reviews and makes no guarantees about product quality.",
	"Veriqo is not affiliated with Amazon or any brand. As an Amazon Associate we earn from qualifying purchases.",
}

const slugSuffixLen = 6

// AdminService backs the admin dashboard. Every method assumes the caller
// already passed Authorize.
type AdminService struct {
	users    repository.UserRepository
	analyses repository.AnalysisRepository
	quota    *quota.Tracker
	catalog  billing.Catalog
	analyzer *llm.Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdminService(
	users repository.UserRepository,
	analyses repository.AnalysisRepository,
	tracker *quota.Tracker,
	catalog billing.Catalog,
	analyzer *llm.Analyzer,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		users:    users,
		analyses: analyses,
		quota:    tracker,
		catalog:  catalog,
		analyzer: analyzer,
		logger:   logger,
		now:      time.Now,
	}
}

// Authorize fails with Forbidden unless userID is an admin.
func (s *AdminService) Authorize(ctx context.Context, userID string) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Unauthenticated("user not found")
		}
		return fmt.Errorf("service/admin: loading user %s: %w", userID, err)
	}
	if !u.IsAdmin {
		return apperror.Forbidden("admin access required")
	}
	return nil
}

type Stats struct {
	TotalUsers    int                   `json:"total_users"`
	PremiumUsers  int                   `json:"premium_users"`
	FreeUsers     int                   `json:"free_users"`
	TotalAnalyses int                   `json:"total_analyses"`
	Verdicts      map[model.Verdict]int `json:"verdict_distribution"`
	PremiumByPlan map[string]int        `json:"premium_by_plan"`
	// MRRCents approximates monthly recurring revenue: each active plan's
	// price spread over 30-day months.
	MRRCents int64   `json:"mrr_cents"`
	MRR      float64 `json:"mrr"`
}

func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	now := s.now()

	total, premium, err := s.users.CountUsers(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("service/admin: counting users: %w", err)
	}
	byPlan, err := s.users.CountPremiumByPlan(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("service/admin: counting plans: %w", err)
	}
	verdicts, err := s.analyses.CountAnalysesByVerdict(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/admin: counting analyses: %w", err)
	}

	st := &Stats{
		TotalUsers:    total,
		PremiumUsers:  premium,
		FreeUsers:     total - premium,
		Verdicts:      verdicts,
		PremiumByPlan: byPlan,
	}
	for _, n := range verdicts {
		st.TotalAnalyses += n
	}
	for planID, n := range byPlan {
		plan, ok := s.catalog[planID]
		if !ok {
			s.logger.Warn("premium users on unknown plan", slog.String("plan", planID), slog.Int("users", n))
			continue
		}
		st.MRRCents += plan.MonthlyEquivalentCents() * int64(n)
	}
	st.MRR = float64(st.MRRCents) / 100
	return st, nil
}

func (s *AdminService) ListUsers(ctx context.Context, opts repository.ListOptions) ([]UserView, error) {
	users, err := s.users.ListUsers(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing users: %w", err)
	}
	now := s.now()
	views := make([]UserView, len(users))
	for i := range users {
		views[i] = newUserView(&users[i], s.quota, now)
	}
	return views, nil
}

// SetAdmin grants or revokes admin access. Admins cannot revoke their own.
func (s *AdminService) SetAdmin(ctx context.Context, actorID, targetID string, isAdmin bool) (*UserView, error) {
	if actorID == targetID && !isAdmin {
		return nil, apperror.ValidationFailed("is_admin", "you cannot remove your own admin access")
	}
	if err := s.users.SetAdmin(ctx, targetID, isAdmin); err != nil {
		return nil, fmt.Errorf("service/admin: updating %s: %w", targetID, err)
	}
	s.logger.Info("admin flag changed",
		slog.String("actorID", actorID),
		slog.String("userID", targetID),
		slog.Bool("isAdmin", isAdmin),
	)
	return s.userView(ctx, targetID)
}

// ResetChecks gives the user a fresh quota window.
func (s *AdminService) ResetChecks(ctx context.Context, actorID, targetID string) (*UserView, error) {
	if err := s.quota.Reset(ctx, targetID); err != nil {
		return nil, fmt.Errorf("service/admin: %w", err)
	}
	s.logger.Info("checks reset", slog.String("actorID", actorID), slog.String("userID", targetID))
	return s.userView(ctx, targetID)
}

func (s *AdminService) ListAnalyses(ctx context.Context, opts repository.ListOptions) ([]model.Analysis, error) {
	list, err := s.analyses.ListAnalyses(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing analyses: %w", err)
	}
	return list, nil
}

// SetAnalysisPublic flags an analysis for the public teaser. Publishing
// assigns a slug from the product name once; unpublishing keeps it so
// shared links work again after a re-publish.
func (s *AdminService) SetAnalysisPublic(ctx context.Context, id string, public bool) (*model.Analysis, error) {
	a, err := s.analyses.GetAnalysisByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: %w", err)
	}

	newSlug := ""
	if public && a.Slug == "" {
		newSlug = InsightSlug(a.ProductName, a.ID)
	}
	if err := s.analyses.SetAnalysisPublic(ctx, id, public, newSlug); err != nil {
		return nil, fmt.Errorf("service/admin: publishing %s: %w", id, err)
	}

	a.IsPublic = public
	if newSlug != "" {
		a.Slug = newSlug
	}
	return a, nil
}

// InsightSlug is the product name slug plus the tail of the id, which
// keeps slugs unique when two analyses share a product.
func InsightSlug(productName, id string) string {
	base := slug.Make(productName)
	if len(base) > 60 {
		base = strings.TrimRight(base[:60], "-")
	}
	suffix := id
	if len(suffix) > slugSuffixLen {
		suffix = suffix[len(suffix)-slugSuffixLen:]
	}
	if base == "" {
		return "insight-" + suffix
	}
	return base + "-" + suffix
}

type AIConfig struct {
	Model       string   `json:"model"`
	Configured  bool     `json:"configured"`
	Disclaimers []string `json:"disclaimers"`
}

func (s *AdminService) AIConfig() AIConfig {
	return AIConfig{
		Model:       s.analyzer.Model(),
		Configured:  s.analyzer.Configured(),
		Disclaimers: Disclaimers,
	}
}

func (s *AdminService) userView(ctx context.Context, id string) (*UserView, error) {
	u, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: loading %s: %w", id, err)
	}
	v := newUserView(u, s.quota, s.now())
	return &v, nil
}

// =========================================================================
// PUBLIC INSIGHTS
// =========================================================================

// Insight is a published analysis with everything about its owner removed.
type Insight struct {
	ID              string          `json:"id"`
	Slug            string          `json:"slug,omitempty"`
	ProductURL      string          `json:"amazon_url"`
	ProductName     string          `json:"product_name"`
	ProductImage    *string         `json:"product_image"`
	Verdict         model.Verdict   `json:"verdict"`
	ConfidenceScore int             `json:"confidence_score"`
	Concerns        []model.Concern `json:"top_complaints"`
	UnsuitableFor   []string        `json:"who_should_not_buy"`
	Summary         string          `json:"summary"`
	AffiliateURL    string          `json:"affiliate_url"`
	CreatedAt       time.Time       `json:"analyzed_at"`
}

func newInsight(a *model.Analysis) Insight {
	return Insight{
		ID:              a.ID,
		Slug:            a.Slug,
		ProductURL:      a.ProductURL,
		ProductName:     a.ProductName,
		ProductImage:    a.ProductImage,
		Verdict:         a.Verdict,
		ConfidenceScore: a.ConfidenceScore,
		Concerns:        a.Concerns,
		UnsuitableFor:   a.UnsuitableFor,
		Summary:         a.Summary,
		AffiliateURL:    a.AffiliateURL,
		CreatedAt:       a.CreatedAt,
	}
}

// InsightService serves published analyses without authentication.
type InsightService struct {
	analyses repository.AnalysisRepository
}

func NewInsightService(analyses repository.AnalysisRepository) *InsightService {
	return &InsightService{analyses: analyses}
}

// Latest returns at most one insight: the most recently created public
// analysis, however many are public.
func (s *InsightService) Latest(ctx context.Context) ([]Insight, error) {
	a, err := s.analyses.LatestPublicAnalysis(ctx)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return []Insight{}, nil
		}
		return nil, fmt.Errorf("service/insights: %w", err)
	}
	return []Insight{newInsight(a)}, nil
}

// Get finds a public analysis by id or slug.
func (s *InsightService) Get(ctx context.Context, idOrSlug string) (*Insight, error) {
	a, err := s.analyses.GetPublicAnalysis(ctx, idOrSlug)
	if err != nil {
		return nil, fmt.Errorf("service/insights: %w", err)
	}
	in := newInsight(a)
	return &in, nil
}
