package model

import "time"

// Verdict is the three-valued purchase recommendation.
type Verdict string

const (
	VerdictPositive Verdict = "positive"
	VerdictNeutral  Verdict = "neutral"
	VerdictNegative Verdict = "negative"
)

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPositive, VerdictNeutral, VerdictNegative:
		return true
	}
	return false
}

// VerdictForScore maps a confidence score onto its usual verdict band:
// 70-100 positive, 40-69 neutral, 0-39 negative.
func VerdictForScore(score int) Verdict {
	switch {
	case score >= 70:
		return VerdictPositive
	case score >= 40:
		return VerdictNeutral
	default:
		return VerdictNegative
	}
}

// Concern is one recurring theme pulled out of the product's reviews.
type Concern struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Frequency   string `json:"frequency"`
}

// Analysis is an immutable verdict record owned by the user who requested it.
// IsPublic and Slug are the only fields changed after creation (admin publish).
type Analysis struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ProductURL      string    `json:"amazon_url"`
	ASIN            string    `json:"asin,omitempty"`
	ProductName     string    `json:"product_name"`
	ProductImage    *string   `json:"product_image"`
	Price           *string   `json:"price,omitempty"`
	Rating          *float64  `json:"rating,omitempty"`
	Verdict         Verdict   `json:"verdict"`
	ConfidenceScore int       `json:"confidence_score"`
	Concerns        []Concern `json:"top_complaints"`
	UnsuitableFor   []string  `json:"who_should_not_buy"`
	Summary         string    `json:"summary"`
	Alternatives    []string  `json:"alternatives,omitempty"`
	AffiliateURL    string    `json:"affiliate_url"`
	FallbackUsed    bool      `json:"fallback_used"`
	IsPublic        bool      `json:"is_public"`
	Slug            string    `json:"slug,omitempty"`
	CreatedAt       time.Time `json:"analyzed_at"`
}
