package catalog

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bww-labs/souqbot/internal/models"
)

// InMemoryProduct is one seeded product for the in-memory catalog.
type InMemoryProduct struct {
	Candidate models.ProductCandidate
	Fields    SearchFields
	Context   *models.ProductContext
	Deleted   bool
}

// InMemoryCatalog is a Lookup over a fixed product slice. Used in tests and
// available as a seed backend for local development.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	products []InMemoryProduct
}

var _ Lookup = (*InMemoryCatalog)(nil)

// NewInMemoryCatalog creates an in-memory catalog seeded with products.
func NewInMemoryCatalog(products ...InMemoryProduct) *InMemoryCatalog {
	return &InMemoryCatalog{products: products}
}

// Add appends a product to the catalog.
func (c *InMemoryCatalog) Add(p InMemoryProduct) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = append(c.products, p)
}

// SearchByText finds products by substring match; numeric queries try an
// exact-id lookup first.
func (c *InMemoryCatalog) SearchByText(query string, limit int) ([]models.ProductCandidate, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if id, err := strconv.ParseInt(q, 10, 64); err == nil {
		for _, p := range c.products {
			if !p.Deleted && p.Candidate.ID == id {
				return []models.ProductCandidate{p.Candidate}, nil
			}
		}
	}

	lower := strings.ToLower(q)
	var hits []models.ProductCandidate
	for _, p := range c.products {
		if p.Deleted {
			continue
		}
		for _, field := range p.Fields.list() {
			if field != "" && strings.Contains(strings.ToLower(field), lower) {
				hits = append(hits, p.Candidate)
				break
			}
		}
	}
	// Newest first, like the SQL backend.
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID > hits[j].ID })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchByTerms scores every product against the terms and returns the top
// rows by score then id.
func (c *InMemoryCatalog) SearchByTerms(terms []string, limit int) ([]models.ProductCandidate, error) {
	terms = normalizeTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var hits []models.ProductCandidate
	for _, p := range c.products {
		if p.Deleted {
			continue
		}
		if s := Score(p.Fields, terms); s > 0 {
			cand := p.Candidate
			cand.Score = s
			hits = append(hits, cand)
		}
	}
	return rankByScore(hits, limit), nil
}

// GetContext returns the seeded context for one product, nil when absent.
func (c *InMemoryCatalog) GetContext(productID int64) (*models.ProductContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.Deleted || p.Candidate.ID != productID {
			continue
		}
		if p.Context != nil {
			return p.Context, nil
		}
		return &models.ProductContext{
			Product: models.ProductDetail{
				ID:          p.Candidate.ID,
				DisplayName: p.Candidate.DisplayName,
				Price:       p.Candidate.Price,
				Stock:       p.Candidate.Stock,
			},
		}, nil
	}
	return nil, nil
}
