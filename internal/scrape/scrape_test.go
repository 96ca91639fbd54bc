package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<!DOCTYPE html>
<html><body>
  <span id="productTitle">
      Acme   Electric Kettle, 1.7L
  </span>
  <div id="imgTagWrapperId">
    <img id="landingImage" src="https://m.media-amazon.com/images/I/small.jpg"
         data-old-hires="https://m.media-amazon.com/images/I/large.jpg">
  </div>
  <span class="a-price"><span class="a-offscreen">$1,299.99</span><span aria-hidden="true">$1,299.99</span></span>
  <span id="acrPopover" title="4.3 out of 5 stars"></span>
  <div data-hook="review-body"><span>Boils fast, lid feels flimsy.</span></div>
  <div data-hook="review-body"><span>   </span></div>
  <div data-hook="review-body"><span>Stopped working after two months.</span></div>
</body></html>`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(productPage))
	require.NoError(t, err)

	assert.Equal(t, "Acme Electric Kettle, 1.7L", p.Name)
	assert.Equal(t, "https://m.media-amazon.com/images/I/large.jpg", p.Image)
	assert.Equal(t, "$1,299.99", p.Price)
	require.NotNil(t, p.PriceValue)
	assert.InDelta(t, 1299.99, *p.PriceValue, 0.001)
	require.NotNil(t, p.Rating)
	assert.InDelta(t, 4.3, *p.Rating, 0.001)
	assert.Equal(t, []string{"Boils fast, lid feels flimsy.", "Stopped working after two months."}, p.Reviews)
	assert.False(t, p.Empty())
}

func TestParse_EmptyPage(t *testing.T) {
	p, err := Parse(strings.NewReader(`<html><body><h1>Robot check</h1></body></html>`))
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Nil(t, p.PriceValue)
}

func TestParse_CapsReviews(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		b.WriteString(`<div data-hook="review-body">` + strings.Repeat("x", 600) + `</div>`)
	}
	b.WriteString("</body></html>")

	p, err := Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, p.Reviews, maxReviews)
	assert.Equal(t, maxReviewLen+1, len([]rune(p.Reviews[0])))
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$24.99", 24.99, true},
		{"$1,299.99", 1299.99, true},
		{"USD 7", 7, true},
		{"Currently unavailable", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParsePrice(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.InDelta(t, tc.want, got, 0.001, tc.in)
	}
}

func TestFetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(productPage))
	}))
	defer srv.Close()

	p, err := New(time.Second).Fetch(context.Background(), srv.URL+"/dp/B000000001")
	require.NoError(t, err)
	assert.Equal(t, "Acme Electric Kettle, 1.7L", p.Name)
	assert.Contains(t, gotUA, "Mozilla")
}

func TestFetch_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(time.Second).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(20*time.Millisecond).Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}
