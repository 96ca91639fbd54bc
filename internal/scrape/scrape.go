// Package scrape pulls product metadata out of an Amazon product page.
//
// Every field is best effort: Amazon changes markup often and blocks many
// clients, so callers must treat an error or an empty Product as "no
// enrichment" and carry on.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultTimeout   = 8 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 4 << 20
	maxReviews       = 5
	maxReviewLen     = 400
)

// ErrStatus is wrapped when the page answers with a non-200 status.
var ErrStatus = errors.New("scrape: unexpected status")

// Product is what could be read off the page. Zero values mean "not found".
type Product struct {
	Name       string
	Image      string
	Price      string   // as displayed, e.g. "$24.99"
	PriceValue *float64 // Price parsed as a number
	Rating     *float64 // average stars out of 5
	Reviews    []string // a few review bodies, trimmed
}

// Empty reports whether nothing useful was found.
func (p *Product) Empty() bool {
	return p.Name == "" && p.Image == "" && p.Price == "" && p.Rating == nil && len(p.Reviews) == 0
}

type Scraper struct {
	client    *http.Client
	userAgent string
}

func New(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scraper{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// Fetch downloads and parses the page at url.
func (s *Scraper) Fetch(ctx context.Context, url string) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape: building request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, url)
	}
	return Parse(io.LimitReader(resp.Body, maxBodyBytes))
}

// Parse reads a product page.
func Parse(r io.Reader) (*Product, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("scrape: parsing html: %w", err)
	}

	p := &Product{
		Name:  collapse(doc.Find("#productTitle").First().Text()),
		Image: productImage(doc),
	}

	price := collapse(doc.Find(".a-price .a-offscreen").First().Text())
	if price == "" {
		price = collapse(doc.Find("#priceblock_ourprice, #priceblock_dealprice").First().Text())
	}
	if price != "" {
		p.Price = price
		if v, ok := ParsePrice(price); ok {
			p.PriceValue = &v
		}
	}

	rating, _ := doc.Find("#acrPopover").First().Attr("title")
	if rating == "" {
		rating = doc.Find("span.a-icon-alt").First().Text()
	}
	if v, ok := parseRating(rating); ok {
		p.Rating = &v
	}

	doc.Find(`[data-hook="review-body"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if text := collapse(sel.Text()); text != "" {
			p.Reviews = append(p.Reviews, truncate(text, maxReviewLen))
		}
		return len(p.Reviews) < maxReviews
	})

	return p, nil
}

func productImage(doc *goquery.Document) string {
	img := doc.Find("#landingImage, #imgBlkFront").First()
	if src, ok := img.Attr("data-old-hires"); ok && src != "" {
		return src
	}
	src, _ := img.Attr("src")
	return strings.TrimSpace(src)
}

var numberRE = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice extracts the numeric amount from a display price such as
// "$1,299.99". Thousands separators are assumed to be commas.
func ParsePrice(s string) (float64, bool) {
	m := numberRE.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var ratingRE = regexp.MustCompile(`(\d(?:\.\d)?)\s+out of\s+5`)

func parseRating(s string) (float64, bool) {
	m := ratingRE.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
