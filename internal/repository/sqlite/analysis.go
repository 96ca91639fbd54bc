package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

var _ repository.AnalysisRepository = (*DB)(nil)

const analysisColumns = `id, user_id, product_url, asin, product_name, product_image, price, rating,
	verdict, confidence_score, concerns, unsuitable_for, summary, alternatives, affiliate_url,
	fallback_used, is_public, slug, created_at`

// The list-valued fields are stored as JSON text columns. They are always
// read and written whole, never queried into.
func marshalList(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanAnalysis(row rowScanner) (*model.Analysis, error) {
	var (
		a                                  model.Analysis
		image, price, slug                 sql.NullString
		rating                             sql.NullFloat64
		verdict                            string
		concerns, unsuitable, alternatives string
	)
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ProductURL,
		&a.ASIN,
		&a.ProductName,
		&image,
		&price,
		&rating,
		&verdict,
		&a.ConfidenceScore,
		&concerns,
		&unsuitable,
		&a.Summary,
		&alternatives,
		&a.AffiliateURL,
		&a.FallbackUsed,
		&a.IsPublic,
		&slug,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Verdict = model.Verdict(verdict)
	a.ProductImage = stringPtr(image)
	a.Price = stringPtr(price)
	if rating.Valid {
		r := rating.Float64
		a.Rating = &r
	}
	if slug.Valid {
		a.Slug = slug.String
	}
	if err := json.Unmarshal([]byte(concerns), &a.Concerns); err != nil {
		return nil, fmt.Errorf("decoding concerns: %w", err)
	}
	if err := json.Unmarshal([]byte(unsuitable), &a.UnsuitableFor); err != nil {
		return nil, fmt.Errorf("decoding unsuitable_for: %w", err)
	}
	if err := json.Unmarshal([]byte(alternatives), &a.Alternatives); err != nil {
		return nil, fmt.Errorf("decoding alternatives: %w", err)
	}
	return &a, nil
}

// CreateAnalysis validates the record's shape and stores it.
func (db *DB) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	if !a.Verdict.Valid() {
		return apperror.ValidationFailed("verdict", fmt.Sprintf("unknown verdict %q", a.Verdict))
	}
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 100 {
		return apperror.ValidationFailed("confidence_score", "confidence score must be between 0 and 100")
	}
	if a.Concerns == nil {
		a.Concerns = []model.Concern{}
	}
	if a.UnsuitableFor == nil {
		a.UnsuitableFor = []string{}
	}
	if a.Alternatives == nil {
		a.Alternatives = []string{}
	}

	concerns, err := marshalList(a.Concerns)
	if err != nil {
		return fmt.Errorf("sqlite: encoding concerns: %w", err)
	}
	unsuitable, err := marshalList(a.UnsuitableFor)
	if err != nil {
		return fmt.Errorf("sqlite: encoding unsuitable_for: %w", err)
	}
	alternatives, err := marshalList(a.Alternatives)
	if err != nil {
		return fmt.Errorf("sqlite: encoding alternatives: %w", err)
	}

	if a.ID == "" {
		a.ID = xid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = utc(a.CreatedAt)

	var rating sql.NullFloat64
	if a.Rating != nil {
		rating = sql.NullFloat64{Float64: *a.Rating, Valid: true}
	}
	var slug sql.NullString
	if a.Slug != "" {
		slug = sql.NullString{String: a.Slug, Valid: true}
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		a.ProductURL,
		a.ASIN,
		a.ProductName,
		nullString(a.ProductImage),
		nullString(a.Price),
		rating,
		string(a.Verdict),
		a.ConfidenceScore,
		concerns,
		unsuitable,
		a.Summary,
		alternatives,
		a.AffiliateURL,
		a.FallbackUsed,
		a.IsPublic,
		slug,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting analysis for user %s: %w", a.UserID, err)
	}
	return nil
}

func (db *DB) GetAnalysisByID(ctx context.Context, id string) (*model.Analysis, error) {
	a, err := scanAnalysis(db.conn.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("analysis", id)
		}
		return nil, fmt.Errorf("sqlite: getting analysis %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) FindAnalysisByURL(ctx context.Context, userID, url string) (*model.Analysis, error) {
	a, err := scanAnalysis(db.conn.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE user_id = ? AND product_url = ?
		 ORDER BY created_at DESC LIMIT 1`,
		userID, url,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("analysis", url)
		}
		return nil, fmt.Errorf("sqlite: finding analysis of %s: %w", url, err)
	}
	return a, nil
}

// ListAnalysesByUser returns the user's analyses, most recent first.
func (db *DB) ListAnalysesByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Analysis, error) {
	return db.listAnalyses(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limitOrDefault(opts.Limit, 10), opts.Offset,
	)
}

// ListAnalyses returns analyses across all users, most recent first.
func (db *DB) ListAnalyses(ctx context.Context, opts repository.ListOptions) ([]model.Analysis, error) {
	return db.listAnalyses(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limitOrDefault(opts.Limit, 100), opts.Offset,
	)
}

func (db *DB) listAnalyses(ctx context.Context, query string, args ...any) ([]model.Analysis, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing analyses: %w", err)
	}
	defer rows.Close()

	analyses := []model.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning analysis: %w", err)
		}
		analyses = append(analyses, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating analyses: %w", err)
	}
	return analyses, nil
}

func (db *DB) CountAnalysesByVerdict(ctx context.Context) (map[model.Verdict]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM analyses GROUP BY verdict`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting verdicts: %w", err)
	}
	defer rows.Close()

	counts := map[model.Verdict]int{
		model.VerdictPositive: 0,
		model.VerdictNeutral:  0,
		model.VerdictNegative: 0,
	}
	for rows.Next() {
		var (
			verdict string
			n       int
		)
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scanning verdict count: %w", err)
		}
		counts[model.Verdict(verdict)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating verdict counts: %w", err)
	}
	return counts, nil
}

// SetAnalysisPublic flags or unflags an analysis for the public teaser.
// An empty slug leaves the existing slug in place.
func (db *DB) SetAnalysisPublic(ctx context.Context, id string, public bool, slug string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE analyses SET is_public = ?, slug = COALESCE(NULLIF(?, ''), slug) WHERE id = ?`,
		public, slug, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ValidationFailed("slug", "slug already in use")
		}
		return fmt.Errorf("sqlite: publishing analysis %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking publish of analysis %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("analysis", id)
	}
	return nil
}

func (db *DB) LatestPublicAnalysis(ctx context.Context) (*model.Analysis, error) {
	a, err := scanAnalysis(db.conn.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE is_public = 1
		 ORDER BY created_at DESC LIMIT 1`))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("public analysis", "latest")
		}
		return nil, fmt.Errorf("sqlite: getting latest public analysis: %w", err)
	}
	return a, nil
}

func (db *DB) GetPublicAnalysis(ctx context.Context, idOrSlug string) (*model.Analysis, error) {
	a, err := scanAnalysis(db.conn.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE is_public = 1 AND (id = ? OR slug = ?)`,
		idOrSlug, idOrSlug,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("public analysis", idOrSlug)
		}
		return nil, fmt.Errorf("sqlite: getting public analysis %s: %w", idOrSlug, err)
	}
	return a, nil
}
