// Package catalog provides read-only product lookup for souqbot.
//
// It consumes the storefront's PostgreSQL schema (products, product_images,
// product_variants) and exposes text search, term-scored search, and 1-hop
// product context assembly for grounded answers.
package catalog

import (
	"sort"
	"strings"

	"github.com/bww-labs/souqbot/internal/models"
)

// Search and context bounds.
const (
	// MaxSearchTerms caps the keyword list used for term-scored search.
	MaxSearchTerms = 12
	// MaxFieldLen bounds string values returned from the catalog (raw rows
	// can carry long HTML descriptions).
	MaxFieldLen = 800
	// MaxImages caps images returned per product context.
	MaxImages = 10
	// MaxVariants caps variants returned per product context.
	MaxVariants = 20
	// termFetchBudget caps candidate rows fetched before Go-side scoring.
	termFetchBudget = 200
)

// Lookup is the catalog interface consumed by the dialogue orchestrator.
type Lookup interface {
	// SearchByText finds products by substring match across localized name,
	// slug, sku and product code. A purely numeric query tries an exact-id
	// lookup first. Results are ordered by id descending.
	SearchByText(query string, limit int) ([]models.ProductCandidate, error)

	// SearchByTerms runs term-scored search: score = count of (term × field)
	// substring matches across the searchable fields, ordered score
	// descending then id descending.
	SearchByTerms(terms []string, limit int) ([]models.ProductCandidate, error)

	// GetContext assembles detail + images + variants for one product, or
	// nil when not found (soft-deleted rows excluded).
	GetContext(productID int64) (*models.ProductContext, error)
}

// SearchFields is the scored field set: Arabic name, English name, slug,
// sku, product code.
type SearchFields struct {
	NameAr      string
	NameEn      string
	Slug        string
	SKU         string
	ProductCode string
}

func (f SearchFields) list() [5]string {
	return [5]string{f.NameAr, f.NameEn, f.Slug, f.SKU, f.ProductCode}
}

// Score counts case-insensitive (term × field) substring matches. A row
// matching two terms in two fields each scores 4.
func Score(fields SearchFields, terms []string) int {
	if len(terms) > MaxSearchTerms {
		terms = terms[:MaxSearchTerms]
	}
	score := 0
	fl := fields.list()
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		for _, f := range fl {
			if f != "" && strings.Contains(strings.ToLower(f), t) {
				score++
			}
		}
	}
	return score
}

// rankByScore orders candidates by score descending, ties broken by id
// descending, and trims to limit.
func rankByScore(cands []models.ProductCandidate, limit int) []models.ProductCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ID > cands[j].ID
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}

// truncateField bounds a string value, marking the cut with an ellipsis.
func truncateField(s string) string {
	r := []rune(s)
	if len(r) <= MaxFieldLen {
		return s
	}
	return string(r[:MaxFieldLen-1]) + "…"
}

// normalizeTerms trims, lowercases, drops empties and duplicates, and caps
// the term list.
func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxSearchTerms {
			break
		}
	}
	return out
}
