package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

func newTestAnalysis(userID, url string, createdAt time.Time) *model.Analysis {
	price := "$19.99"
	rating := 4.3
	return &model.Analysis{
		UserID:          userID,
		ProductURL:      url,
		ASIN:            "B08N5WRWNW",
		ProductName:     "Echo Dot",
		Price:           &price,
		Rating:          &rating,
		Verdict:         model.VerdictPositive,
		ConfidenceScore: 82,
		Concerns: []model.Concern{
			{Title: "Sound", Description: "Bass is thin", Frequency: "12% of reviews"},
		},
		UnsuitableFor: []string{"Audiophiles"},
		Summary:       "Solid smart speaker.",
		AffiliateURL:  url + "?tag=veriqo-20",
		CreatedAt:     createdAt,
	}
}

// =========================================================================
// CREATE / GET TESTS
// =========================================================================

func TestAnalysisCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "analyst@example.com")

	a := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B08N5WRWNW", time.Time{})
	if err := db.CreateAnalysis(ctx, a); err != nil {
		t.Fatalf("CreateAnalysis() error = %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatal("CreateAnalysis() did not set ID and CreatedAt")
	}
	if a.Alternatives == nil {
		t.Error("Alternatives should be normalised to an empty slice")
	}

	found, err := db.GetAnalysisByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAnalysisByID() error = %v", err)
	}
	if found.Verdict != model.VerdictPositive || found.ConfidenceScore != 82 {
		t.Errorf("verdict = %q/%d, want positive/82", found.Verdict, found.ConfidenceScore)
	}
	if len(found.Concerns) != 1 || found.Concerns[0].Title != "Sound" {
		t.Errorf("Concerns = %+v, want one 'Sound' concern", found.Concerns)
	}
	if len(found.UnsuitableFor) != 1 || found.UnsuitableFor[0] != "Audiophiles" {
		t.Errorf("UnsuitableFor = %v", found.UnsuitableFor)
	}
	if found.Price == nil || *found.Price != "$19.99" {
		t.Errorf("Price = %v, want $19.99", found.Price)
	}
	if found.Rating == nil || *found.Rating != 4.3 {
		t.Errorf("Rating = %v, want 4.3", found.Rating)
	}
	if found.ProductImage != nil {
		t.Errorf("ProductImage = %v, want nil", *found.ProductImage)
	}
}

func TestAnalysisCreate_RejectsBadShape(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "shape@example.com")

	tests := []struct {
		name   string
		mutate func(a *model.Analysis)
		field  string
	}{
		{"unknown verdict", func(a *model.Analysis) { a.Verdict = "buy" }, "verdict"},
		{"score too high", func(a *model.Analysis) { a.ConfidenceScore = 101 }, "confidence_score"},
		{"negative score", func(a *model.Analysis) { a.ConfidenceScore = -1 }, "confidence_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B000000001", time.Time{})
			tt.mutate(a)

			err := db.CreateAnalysis(context.Background(), a)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("CreateAnalysis() error = %v, want validation error", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestGetAnalysisByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetAnalysisByID(context.Background(), "nope")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetAnalysisByID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// LOOKUP AND LIST TESTS
// =========================================================================

func TestFindAnalysisByURL_ReturnsLatestForUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")
	url := "https://www.amazon.com/dp/B08N5WRWNW"
	base := time.Now().Add(-time.Hour)

	older := newTestAnalysis(alice.ID, url, base)
	newer := newTestAnalysis(alice.ID, url, base.Add(time.Minute))
	for _, a := range []*model.Analysis{older, newer} {
		if err := db.CreateAnalysis(ctx, a); err != nil {
			t.Fatalf("CreateAnalysis() error = %v", err)
		}
	}

	found, err := db.FindAnalysisByURL(ctx, alice.ID, url)
	if err != nil {
		t.Fatalf("FindAnalysisByURL() error = %v", err)
	}
	if found.ID != newer.ID {
		t.Errorf("FindAnalysisByURL() = %s, want latest %s", found.ID, newer.ID)
	}

	// Cache entries are per user.
	if _, err := db.FindAnalysisByURL(ctx, bob.ID, url); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("FindAnalysisByURL() for other user error = %v, want ErrNotFound", err)
	}
}

func TestListAnalysesByUser_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "history@example.com")
	other := createTestUser(t, db, "other@example.com")
	base := time.Now().Add(-time.Hour)

	var ids []string
	for i := 0; i < 3; i++ {
		a := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B00000000"+string(rune('1'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := db.CreateAnalysis(ctx, a); err != nil {
			t.Fatalf("CreateAnalysis() error = %v", err)
		}
		ids = append(ids, a.ID)
	}
	if err := db.CreateAnalysis(ctx, newTestAnalysis(other.ID, "https://www.amazon.com/dp/B000000009", base)); err != nil {
		t.Fatalf("CreateAnalysis() error = %v", err)
	}

	list, err := db.ListAnalysesByUser(ctx, user.ID, repository.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListAnalysesByUser() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Errorf("order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, ids[2], ids[1])
	}

	all, err := db.ListAnalyses(ctx, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListAnalyses() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}
}

func TestListAnalysesByUser_EmptyIsNotNil(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "empty@example.com")

	list, err := db.ListAnalysesByUser(context.Background(), user.ID, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListAnalysesByUser() error = %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("list = %v, want empty non-nil slice", list)
	}
}

func TestCountAnalysesByVerdict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "counts@example.com")

	a := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B000000001", time.Time{})
	b := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B000000002", time.Time{})
	b.Verdict = model.VerdictNegative
	b.ConfidenceScore = 20
	for _, x := range []*model.Analysis{a, b} {
		if err := db.CreateAnalysis(ctx, x); err != nil {
			t.Fatalf("CreateAnalysis() error = %v", err)
		}
	}

	counts, err := db.CountAnalysesByVerdict(ctx)
	if err != nil {
		t.Fatalf("CountAnalysesByVerdict() error = %v", err)
	}
	want := map[model.Verdict]int{
		model.VerdictPositive: 1,
		model.VerdictNeutral:  0,
		model.VerdictNegative: 1,
	}
	for v, n := range want {
		if counts[v] != n {
			t.Errorf("counts[%s] = %d, want %d", v, counts[v], n)
		}
	}
}

// =========================================================================
// PUBLISH TESTS
// =========================================================================

func TestPublicAnalyses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "publish@example.com")

	if _, err := db.LatestPublicAnalysis(ctx); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("LatestPublicAnalysis() on empty db error = %v, want ErrNotFound", err)
	}

	a := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B08N5WRWNW", time.Time{})
	if err := db.CreateAnalysis(ctx, a); err != nil {
		t.Fatalf("CreateAnalysis() error = %v", err)
	}

	// Unpublished analyses are invisible.
	if _, err := db.GetPublicAnalysis(ctx, a.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("GetPublicAnalysis() before publish error = %v, want ErrNotFound", err)
	}

	if err := db.SetAnalysisPublic(ctx, a.ID, true, "echo-dot-abc"); err != nil {
		t.Fatalf("SetAnalysisPublic() error = %v", err)
	}

	latest, err := db.LatestPublicAnalysis(ctx)
	if err != nil {
		t.Fatalf("LatestPublicAnalysis() error = %v", err)
	}
	if latest.ID != a.ID || latest.Slug != "echo-dot-abc" {
		t.Errorf("latest = %s/%s, want %s/echo-dot-abc", latest.ID, latest.Slug, a.ID)
	}

	for _, key := range []string{a.ID, "echo-dot-abc"} {
		if _, err := db.GetPublicAnalysis(ctx, key); err != nil {
			t.Errorf("GetPublicAnalysis(%q) error = %v", key, err)
		}
	}

	// Unpublishing with an empty slug keeps the slug.
	if err := db.SetAnalysisPublic(ctx, a.ID, false, ""); err != nil {
		t.Fatalf("SetAnalysisPublic(false) error = %v", err)
	}
	found, _ := db.GetAnalysisByID(ctx, a.ID)
	if found.IsPublic || found.Slug != "echo-dot-abc" {
		t.Errorf("after unpublish IsPublic=%v Slug=%q", found.IsPublic, found.Slug)
	}
}

func TestSetAnalysisPublic_Errors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "slugs@example.com")

	if err := db.SetAnalysisPublic(ctx, "missing", true, ""); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetAnalysisPublic(missing) error = %v, want ErrNotFound", err)
	}

	a := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B000000001", time.Time{})
	b := newTestAnalysis(user.ID, "https://www.amazon.com/dp/B000000002", time.Time{})
	for _, x := range []*model.Analysis{a, b} {
		if err := db.CreateAnalysis(ctx, x); err != nil {
			t.Fatalf("CreateAnalysis() error = %v", err)
		}
	}
	if err := db.SetAnalysisPublic(ctx, a.ID, true, "same-slug"); err != nil {
		t.Fatalf("SetAnalysisPublic() error = %v", err)
	}
	if err := db.SetAnalysisPublic(ctx, b.ID, true, "same-slug"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("SetAnalysisPublic() duplicate slug error = %v, want ErrValidation", err)
	}
}
