package catalog

import (
	"strings"
	"testing"

	"github.com/bww-labs/souqbot/internal/models"
)

func TestScoreCountsTermFieldPairs(t *testing.T) {
	fields := SearchFields{
		NameAr: "قميص قطن ازرق",
		NameEn: "blue cotton shirt",
		Slug:   "blue-cotton-shirt",
		SKU:    "SH-100",
	}

	tests := []struct {
		name  string
		terms []string
		want  int
	}{
		{"no terms", nil, 0},
		{"no match", []string{"laptop"}, 0},
		{"one term one field", []string{"قميص"}, 1},
		// "blue" and "cotton" each hit NameEn and Slug: 2 terms x 2 fields.
		{"two terms two fields", []string{"blue", "cotton"}, 4},
		{"case insensitive", []string{"BLUE"}, 2},
		{"sku match", []string{"sh-100"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(fields, tt.terms); got != tt.want {
				t.Errorf("Score(%v) = %d, want %d", tt.terms, got, tt.want)
			}
		})
	}
}

func TestScoreIgnoresTermsBeyondCap(t *testing.T) {
	fields := SearchFields{NameEn: "shirt"}
	terms := make([]string, 0, MaxSearchTerms+3)
	for i := 0; i < MaxSearchTerms; i++ {
		terms = append(terms, "nomatch")
	}
	// This matching term sits past the cap and must not count.
	terms = append(terms, "shirt")
	if got := Score(fields, terms); got != 0 {
		t.Errorf("Score beyond cap = %d, want 0", got)
	}
}

func TestRankByScore(t *testing.T) {
	cands := []models.ProductCandidate{
		{ID: 1, Score: 2},
		{ID: 2, Score: 4},
		{ID: 3, Score: 2},
		{ID: 4, Score: 4},
	}
	ranked := rankByScore(cands, 3)
	wantIDs := []int64{4, 2, 3}
	if len(ranked) != len(wantIDs) {
		t.Fatalf("rankByScore returned %d candidates, want %d", len(ranked), len(wantIDs))
	}
	for i, want := range wantIDs {
		if ranked[i].ID != want {
			t.Errorf("ranked[%d].ID = %d, want %d", i, ranked[i].ID, want)
		}
	}
}

func TestNormalizeTerms(t *testing.T) {
	got := normalizeTerms([]string{"  Shirt ", "", "قميص", "shirt"})
	want := []string{"shirt", "قميص"}
	if len(got) != len(want) {
		t.Fatalf("normalizeTerms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalizeTerms[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	many := make([]string, MaxSearchTerms+5)
	for i := range many {
		many[i] = "t" + strings.Repeat("x", i+1)
	}
	if got := normalizeTerms(many); len(got) != MaxSearchTerms {
		t.Errorf("normalizeTerms cap = %d terms, want %d", len(got), MaxSearchTerms)
	}
}

func TestTruncateField(t *testing.T) {
	if got := truncateField("short"); got != "short" {
		t.Errorf("truncateField(short) = %q", got)
	}
	long := strings.Repeat("م", MaxFieldLen+50)
	got := truncateField(long)
	if r := []rune(got); len(r) != MaxFieldLen {
		t.Errorf("truncateField length = %d runes, want %d", len(r), MaxFieldLen)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncateField should end with ellipsis")
	}
}

func seedCatalog() *InMemoryCatalog {
	return NewInMemoryCatalog(
		InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 10, DisplayName: "قميص قطن", Price: 250, Stock: 5},
			Fields:    SearchFields{NameAr: "قميص قطن", NameEn: "cotton shirt", Slug: "cotton-shirt"},
		},
		InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 20, DisplayName: "قميص حرير", Price: 900, Stock: 2},
			Fields:    SearchFields{NameAr: "قميص حرير", NameEn: "silk shirt", Slug: "silk-shirt"},
		},
		InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 30, DisplayName: "بنطلون جينز", Price: 400, Stock: 0},
			Fields:    SearchFields{NameAr: "بنطلون جينز", NameEn: "denim jeans", Slug: "denim-jeans"},
		},
		InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 40, DisplayName: "محذوف", Price: 1, Stock: 1},
			Fields:    SearchFields{NameAr: "محذوف", NameEn: "deleted thing"},
			Deleted:   true,
		},
	)
}

func TestInMemorySearchByTextNumericID(t *testing.T) {
	c := seedCatalog()
	hits, err := c.SearchByText("20", 3)
	if err != nil {
		t.Fatalf("SearchByText failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 20 {
		t.Fatalf("numeric query should resolve to exact id, got %v", hits)
	}
}

func TestInMemorySearchByTextSubstring(t *testing.T) {
	c := seedCatalog()
	hits, err := c.SearchByText("قميص", 3)
	if err != nil {
		t.Fatalf("SearchByText failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("want 2 shirt hits, got %d", len(hits))
	}
	if hits[0].ID != 20 {
		t.Errorf("newest product should rank first, got id %d", hits[0].ID)
	}
}

func TestInMemorySearchByTextOrdersByIDRegardlessOfSeedOrder(t *testing.T) {
	c := NewInMemoryCatalog(
		InMemoryProduct{Candidate: models.ProductCandidate{ID: 7, DisplayName: "جاكيت شتوي"}, Fields: SearchFields{NameAr: "جاكيت شتوي"}},
		InMemoryProduct{Candidate: models.ProductCandidate{ID: 42, DisplayName: "جاكيت جلد"}, Fields: SearchFields{NameAr: "جاكيت جلد"}},
		InMemoryProduct{Candidate: models.ProductCandidate{ID: 13, DisplayName: "جاكيت جينز"}, Fields: SearchFields{NameAr: "جاكيت جينز"}},
	)
	hits, err := c.SearchByText("جاكيت", 5)
	if err != nil {
		t.Fatalf("SearchByText failed: %v", err)
	}
	if len(hits) != 3 || hits[0].ID != 42 || hits[1].ID != 13 || hits[2].ID != 7 {
		t.Errorf("want ids [42 13 7], got %v", hits)
	}
}

func TestInMemorySearchByTextExcludesDeleted(t *testing.T) {
	c := seedCatalog()
	hits, err := c.SearchByText("deleted", 3)
	if err != nil {
		t.Fatalf("SearchByText failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted product must not surface, got %v", hits)
	}
}

func TestInMemorySearchByTermsRanking(t *testing.T) {
	c := seedCatalog()
	hits, err := c.SearchByTerms([]string{"cotton", "shirt"}, 5)
	if err != nil {
		t.Fatalf("SearchByTerms failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("want 2 hits, got %d", len(hits))
	}
	// "cotton" and "shirt" both hit NameEn and Slug of product 10.
	if hits[0].ID != 10 || hits[0].Score != 4 {
		t.Errorf("hits[0] = id %d score %d, want id 10 score 4", hits[0].ID, hits[0].Score)
	}
	if hits[1].ID != 20 || hits[1].Score != 2 {
		t.Errorf("hits[1] = id %d score %d, want id 20 score 2", hits[1].ID, hits[1].Score)
	}
}

func TestInMemoryGetContext(t *testing.T) {
	c := seedCatalog()
	ctx, err := c.GetContext(10)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if ctx == nil || ctx.Product.ID != 10 {
		t.Fatalf("GetContext(10) = %+v", ctx)
	}

	ctx, err = c.GetContext(9999)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if ctx != nil {
		t.Errorf("GetContext for missing product should be nil, got %+v", ctx)
	}
}
