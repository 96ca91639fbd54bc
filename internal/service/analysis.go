package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/llm"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/quota"
	"github.com/sakif/veriqo/internal/repository"
	"github.com/sakif/veriqo/internal/scrape"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
	MinCompare          = 2
	MaxCompare          = 3
	DefaultAffiliateTag = "veriqo-20"
	maxExportRows       = 1000
)

// ProductFetcher is the best-effort page scraper.
type ProductFetcher interface {
	Fetch(ctx context.Context, url string) (*scrape.Product, error)
}

type AnalysisOptions struct {
	AffiliateTag string
	HistoryLimit int
}

// AnalysisService is the analysis orchestrator: quota gate, optional page
// enrichment, model verdict, affiliate link, persistence.
type AnalysisService struct {
	analyses repository.AnalysisRepository
	users    repository.UserRepository
	quota    *quota.Tracker
	analyzer *llm.Analyzer
	fetcher  ProductFetcher // nil disables enrichment
	opts     AnalysisOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewAnalysisService(
	analyses repository.AnalysisRepository,
	users repository.UserRepository,
	tracker *quota.Tracker,
	analyzer *llm.Analyzer,
	fetcher ProductFetcher,
	opts AnalysisOptions,
	logger *slog.Logger,
) *AnalysisService {
	if opts.AffiliateTag == "" {
		opts.AffiliateTag = DefaultAffiliateTag
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	opts.HistoryLimit = min(opts.HistoryLimit, MaxHistoryLimit)
	return &AnalysisService{
		analyses: analyses,
		users:    users,
		quota:    tracker,
		analyzer: analyzer,
		fetcher:  fetcher,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// =========================================================================
// ANALYZE
// =========================================================================

// Analyze produces a verdict for productURL and charges one check.
//
// The check is reserved atomically before the slow part of the pipeline
// and refunded if the pipeline fails, so a user cannot start more
// analyses than they have checks left, and never pays for a failure.
func (s *AnalysisService) Analyze(ctx context.Context, userID, productURL string) (*model.Analysis, error) {
	if err := s.precheckQuota(ctx, userID, 1); err != nil {
		return nil, err
	}
	productURL, err := NormalizeProductURL(productURL)
	if err != nil {
		return nil, err
	}

	if _, err := s.quota.Consume(ctx, userID, 1); err != nil {
		return nil, err
	}

	a, err := s.runPipeline(ctx, userID, productURL)
	if err != nil {
		s.quota.Release(ctx, userID, 1)
		return nil, err
	}

	s.logger.Info("analysis completed",
		slog.String("userID", userID),
		slog.String("analysisID", a.ID),
		slog.String("verdict", string(a.Verdict)),
		slog.Int("score", a.ConfidenceScore),
		slog.Bool("fallback", a.FallbackUsed),
	)
	return a, nil
}

// precheckQuota rejects a request that cannot fit before input is even
// validated. Consume remains the authoritative gate.
func (s *AnalysisService) precheckQuota(ctx context.Context, userID string, n int) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Unauthenticated("user not found")
		}
		return fmt.Errorf("service/analysis: loading user %s: %w", userID, err)
	}
	d := s.quota.Evaluate(user)
	if !d.CanProceed(n) {
		return apperror.QuotaExceeded(s.quota.Policy().FreeLimit, d.Used)
	}
	return nil
}

func (s *AnalysisService) runPipeline(ctx context.Context, userID, productURL string) (*model.Analysis, error) {
	product := s.enrich(ctx, productURL)

	in := llm.Input{URL: productURL}
	if product != nil {
		in.ProductName = product.Name
		in.Price = product.Price
		in.Rating = product.Rating
		in.ReviewSnippets = product.Reviews
	}

	res, fallback, err := s.analyzer.Analyze(ctx, in)
	if err != nil {
		return nil, apperror.Upstream("analysis service", err)
	}

	a := &model.Analysis{
		UserID:          userID,
		ProductURL:      productURL,
		ASIN:            ExtractASIN(productURL),
		ProductName:     res.ProductName,
		ProductImage:    res.ProductImage,
		Verdict:         res.Verdict,
		ConfidenceScore: res.ConfidenceScore,
		Concerns:        res.Concerns,
		UnsuitableFor:   res.UnsuitableFor,
		Summary:         res.Summary,
		Alternatives:    res.Alternatives,
		AffiliateURL:    AffiliateURL(productURL, s.opts.AffiliateTag),
		FallbackUsed:    fallback,
		CreatedAt:       s.now(),
	}
	mergeEnrichment(a, res, product)

	if err := s.analyses.CreateAnalysis(ctx, a); err != nil {
		return nil, fmt.Errorf("service/analysis: saving analysis: %w", err)
	}
	return a, nil
}

// enrich returns nil when scraping is disabled or fails.
func (s *AnalysisService) enrich(ctx context.Context, productURL string) *scrape.Product {
	if s.fetcher == nil {
		return nil
	}
	p, err := s.fetcher.Fetch(ctx, productURL)
	if err != nil {
		s.logger.Warn("product enrichment failed",
			slog.String("url", productURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return p
}

// mergeEnrichment lets scraped facts replace what the model left generic.
func mergeEnrichment(a *model.Analysis, res *llm.Result, p *scrape.Product) {
	if p != nil {
		if res.HasGenericName() && p.Name != "" {
			a.ProductName = p.Name
		}
		if a.ProductImage == nil && p.Image != "" {
			img := p.Image
			a.ProductImage = &img
		}
		if p.Price != "" {
			price := p.Price
			a.Price = &price
		}
		a.Rating = p.Rating
	}
	if strings.TrimSpace(a.ProductName) == "" {
		a.ProductName = "Amazon Product"
	}
}

// =========================================================================
// COMPARE
// =========================================================================

// CompareSummary describes how far apart the compared scores are.
type CompareSummary struct {
	HighestScore   int    `json:"highest_score"`
	LowestScore    int    `json:"lowest_score"`
	ScoreSpread    int    `json:"score_spread"`
	Recommendation string `json:"recommendation"`
}

type CompareResult struct {
	Products []model.Analysis `json:"products"`
	Winner   *model.Analysis  `json:"winner"`
	Summary  CompareSummary   `json:"comparison_summary"`
}

// Compare analyses 2 or 3 products and picks the highest-scoring one.
// Products the user has already analysed are reused and cost nothing;
// each fresh analysis costs one check, reserved up front as a batch.
func (s *AnalysisService) Compare(ctx context.Context, userID string, productURLs []string) (*CompareResult, error) {
	if len(productURLs) < MinCompare || len(productURLs) > MaxCompare {
		return nil, apperror.ValidationFailed("product_urls",
			fmt.Sprintf("provide between %d and %d product URLs", MinCompare, MaxCompare))
	}

	urls := make([]string, len(productURLs))
	for i, raw := range productURLs {
		u, err := NormalizeProductURL(raw)
		if err != nil {
			return nil, err
		}
		urls[i] = u
	}

	cached := make(map[string]*model.Analysis, len(urls))
	var fresh []string
	for _, u := range urls {
		if _, seen := cached[u]; seen {
			continue
		}
		a, err := s.analyses.FindAnalysisByURL(ctx, userID, u)
		switch {
		case err == nil:
			cached[u] = a
		case errors.Is(err, apperror.ErrNotFound):
			cached[u] = nil
			fresh = append(fresh, u)
		default:
			return nil, fmt.Errorf("service/analysis: looking up %s: %w", u, err)
		}
	}

	if len(fresh) > 0 {
		if err := s.precheckQuota(ctx, userID, len(fresh)); err != nil {
			return nil, err
		}
		if _, err := s.quota.Consume(ctx, userID, len(fresh)); err != nil {
			return nil, err
		}

		results := make([]*model.Analysis, len(fresh))
		var done atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for i, u := range fresh {
			g.Go(func() error {
				a, err := s.runPipeline(gctx, userID, u)
				if err != nil {
					return err
				}
				results[i] = a
				done.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			s.quota.Release(ctx, userID, len(fresh)-int(done.Load()))
			return nil, err
		}
		for i, u := range fresh {
			cached[u] = results[i]
		}
	}

	res := &CompareResult{Products: make([]model.Analysis, 0, len(urls))}
	for _, u := range urls {
		res.Products = append(res.Products, *cached[u])
	}
	res.Winner, res.Summary = pickWinner(res.Products)

	s.logger.Info("comparison completed",
		slog.String("userID", userID),
		slog.Int("products", len(res.Products)),
		slog.Int("fresh", len(fresh)),
		slog.String("winnerID", res.Winner.ID),
	)
	return res, nil
}

// pickWinner returns the first product with the maximum score.
func pickWinner(products []model.Analysis) (*model.Analysis, CompareSummary) {
	best, low := 0, products[0].ConfidenceScore
	for i, p := range products {
		if p.ConfidenceScore > products[best].ConfidenceScore {
			best = i
		}
		low = min(low, p.ConfidenceScore)
	}
	winner := products[best]
	sum := CompareSummary{
		HighestScore: winner.ConfidenceScore,
		LowestScore:  low,
		ScoreSpread:  winner.ConfidenceScore - low,
	}
	switch {
	case sum.ScoreSpread == 0:
		sum.Recommendation = "These products scored the same. Compare their concerns to decide."
	case sum.ScoreSpread < 10:
		sum.Recommendation = fmt.Sprintf("%s edges ahead, but the products are closely matched.", winner.ProductName)
	default:
		sum.Recommendation = fmt.Sprintf("%s is the clear winner with a confidence score of %d.", winner.ProductName, winner.ConfidenceScore)
	}
	return &winner, sum
}

// =========================================================================
// HISTORY
// =========================================================================

// History returns the user's analyses, newest first. limit <= 0 means the
// configured default; it is capped at MaxHistoryLimit.
func (s *AnalysisService) History(ctx context.Context, userID string, limit int) ([]model.Analysis, error) {
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	list, err := s.analyses.ListAnalysesByUser(ctx, userID, repository.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("service/analysis: listing history: %w", err)
	}
	return list, nil
}

var exportHeader = []string{"Date", "Product", "URL", "Verdict", "Confidence", "Price", "Rating", "Summary"}

// ExportCSV writes the user's full history as CSV. Premium only.
func (s *AnalysisService) ExportCSV(ctx context.Context, userID string, w io.Writer) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Unauthenticated("user not found")
		}
		return fmt.Errorf("service/analysis: loading user %s: %w", userID, err)
	}
	if !user.IsPremiumAt(s.now()) {
		return apperror.Forbidden("history export is a premium feature")
	}

	list, err := s.analyses.ListAnalysesByUser(ctx, userID, repository.ListOptions{Limit: maxExportRows})
	if err != nil {
		return fmt.Errorf("service/analysis: listing history for export: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("service/analysis: writing csv: %w", err)
	}
	for _, a := range list {
		var price, rating string
		if a.Price != nil {
			price = *a.Price
		}
		if a.Rating != nil {
			rating = strconv.FormatFloat(*a.Rating, 'f', 1, 64)
		}
		if err := cw.Write([]string{
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.ProductName,
			a.ProductURL,
			string(a.Verdict),
			strconv.Itoa(a.ConfidenceScore),
			price,
			rating,
			a.Summary,
		}); err != nil {
			return fmt.Errorf("service/analysis: writing csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// =========================================================================
// URL HELPERS
// =========================================================================

var amazonHostRE = regexp.MustCompile(`^(?:[a-z0-9-]+\.)*amazon\.(?:com|ca|com\.mx|com\.br|co\.uk|de|fr|it|es|nl|se|pl|com\.tr|ae|sa|in|co\.jp|sg|com\.au|eg)$`)

var shortHosts = map[string]bool{"amzn.to": true, "amzn.eu": true, "amzn.asia": true, "a.co": true}

// NormalizeProductURL accepts amazon product links (any regional store or
// a short link), adding https:// when the scheme is missing.
func NormalizeProductURL(raw string) (string, error) {
	return normalizeProductURL(raw, "amazon_url")
}

// normalizeProductURL reports validation failures against field.
func normalizeProductURL(raw, field string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperror.ValidationFailed(field, "product URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperror.ValidationFailed(field, "invalid URL")
	}
	host := strings.ToLower(u.Hostname())
	if !amazonHostRE.MatchString(host) && !shortHosts[host] {
		return "", apperror.ValidationFailed(field, "please provide a valid Amazon product URL")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

var asinRE = regexp.MustCompile(`/(?:dp|gp/product|product)/([A-Z0-9]{10})(?:[/?]|$)`)

// ExtractASIN returns the 10-character product id in the URL path, or "".
func ExtractASIN(productURL string) string {
	m := asinRE.FindStringSubmatch(productURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// AffiliateURL sets the associate tag on productURL, replacing any tag the
// link already carried.
func AffiliateURL(productURL, tag string) string {
	u, err := url.Parse(productURL)
	if err != nil {
		return productURL
	}
	q := u.Query()
	q.Set("tag", tag)
	u.RawQuery = q.Encode()
	return u.String()
}
