// Package catalog provides read-only product lookup for souqbot.
//
// This file implements the PostgreSQL-backed catalog against the storefront
// schema. The catalog never writes.
package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bww-labs/souqbot/internal/models"
	"github.com/lib/pq"
)

// Connection pool configuration for the catalog database.
const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 5 * time.Minute
)

// Opts holds configuration options for the Postgres catalog.
type Opts struct {
	DSN string
}

// Option defines a configuration option for the Postgres catalog.
type Option func(*Opts)

// WithDSN sets the catalog PostgreSQL connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// PostgresCatalog is a Lookup backed by the storefront PostgreSQL database.
type PostgresCatalog struct {
	db *sql.DB
}

// Compile-time check that PostgresCatalog implements Lookup.
var _ Lookup = (*PostgresCatalog)(nil)

// NewPostgresCatalog opens a read-only connection to the storefront catalog.
func NewPostgresCatalog(opts ...Option) (*PostgresCatalog, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresCatalog invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog DSN not set")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open catalog connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Catalog ping failed", "error", err)
		return nil, err
	}
	return &PostgresCatalog{db: db}, nil
}

const candidateColumns = `
	id,
	slug,
	sku,
	product_code,
	COALESCE(name->>'ar', name->>'en', '') AS display_name,
	COALESCE(name->>'ar', '') AS name_ar,
	COALESCE(name->>'en', '') AS name_en,
	COALESCE(consumer_price, 0),
	COALESCE(stock_quantity, 0),
	COALESCE(main_image, '')`

// SearchByText finds products by substring match; numeric queries try an
// exact-id lookup first.
func (c *PostgresCatalog) SearchByText(query string, limit int) ([]models.ProductCandidate, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	if id, err := strconv.ParseInt(q, 10, 64); err == nil {
		row := c.db.QueryRow(
			`SELECT `+candidateColumns+`
			 FROM products WHERE id = $1 AND deleted_at IS NULL LIMIT 1`, id)
		cand, _, err := scanCandidate(row.Scan)
		if err == nil {
			return []models.ProductCandidate{cand}, nil
		}
		if err != sql.ErrNoRows {
			slog.Error("Catalog exact-id lookup failed", "error", err, "id", id)
			return nil, fmt.Errorf("exact-id lookup failed: %w", err)
		}
		// No such id: fall through to substring search.
	}

	like := "%" + q + "%"
	rows, err := c.db.Query(
		`SELECT `+candidateColumns+`
		 FROM products
		 WHERE deleted_at IS NULL
		   AND ((name->>'ar') ILIKE $1
		     OR (name->>'en') ILIKE $1
		     OR slug ILIKE $1
		     OR sku ILIKE $1
		     OR product_code ILIKE $1)
		 ORDER BY id DESC
		 LIMIT $2`, like, limit)
	if err != nil {
		slog.Error("Catalog text search failed", "error", err, "query", q)
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	defer rows.Close()
	cands, err := collectCandidates(rows, nil)
	if err != nil {
		return nil, err
	}
	slog.Debug("Catalog text search", "query", q, "hits", len(cands))
	return cands, nil
}

// SearchByTerms fetches candidate rows matching any term, scores them in Go
// and returns the top rows by score then id.
func (c *PostgresCatalog) SearchByTerms(terms []string, limit int) ([]models.ProductCandidate, error) {
	terms = normalizeTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + t + "%"
	}
	rows, err := c.db.Query(
		`SELECT `+candidateColumns+`
		 FROM products
		 WHERE deleted_at IS NULL
		   AND ((name->>'ar') ILIKE ANY($1)
		     OR (name->>'en') ILIKE ANY($1)
		     OR slug ILIKE ANY($1)
		     OR sku ILIKE ANY($1)
		     OR product_code ILIKE ANY($1))
		 ORDER BY id DESC
		 LIMIT $2`, pq.Array(patterns), termFetchBudget)
	if err != nil {
		slog.Error("Catalog term search failed", "error", err, "terms", strings.Join(terms, ","))
		return nil, fmt.Errorf("term search failed: %w", err)
	}
	defer rows.Close()

	cands, err := collectCandidates(rows, terms)
	if err != nil {
		return nil, err
	}
	cands = rankByScore(cands, limit)
	slog.Debug("Catalog term search", "terms", strings.Join(terms, ","), "hits", len(cands))
	return cands, nil
}

// GetContext assembles detail, images and variants for one product.
func (c *PostgresCatalog) GetContext(productID int64) (*models.ProductContext, error) {
	var d models.ProductDetail
	var nameAr, nameEn string
	var vendorID sql.NullInt64
	var shortDesc, slug, mainImage sql.NullString
	err := c.db.QueryRow(
		`SELECT id, vendor_id,
		        COALESCE(name->>'ar', name->>'en', ''), COALESCE(name->>'ar', ''), COALESCE(name->>'en', ''),
		        slug, short_description,
		        COALESCE(consumer_price, 0), COALESCE(stock_quantity, 0),
		        main_image, COALESCE(is_published, false), COALESCE(is_approved, false)
		 FROM products WHERE id = $1 AND deleted_at IS NULL LIMIT 1`, productID,
	).Scan(&d.ID, &vendorID, &d.DisplayName, &nameAr, &nameEn, &slug, &shortDesc,
		&d.Price, &d.Stock, &mainImage, &d.IsPublished, &d.IsApproved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("Catalog detail lookup failed", "error", err, "productID", productID)
		return nil, fmt.Errorf("detail lookup failed: %w", err)
	}
	d.VendorID = vendorID.Int64
	d.Slug = slug.String
	d.ShortDescription = truncateField(shortDesc.String)
	d.MainImage = mainImage.String
	d.DisplayName = truncateField(d.DisplayName)

	images, err := c.productImages(productID)
	if err != nil {
		return nil, err
	}
	variants, err := c.productVariants(productID)
	if err != nil {
		return nil, err
	}
	return &models.ProductContext{Product: d, Images: images, Variants: variants}, nil
}

func (c *PostgresCatalog) productImages(productID int64) ([]models.ProductImage, error) {
	rows, err := c.db.Query(
		`SELECT id, COALESCE(image, ''), COALESCE(color_id, 0)
		 FROM product_images WHERE product_id = $1 ORDER BY id LIMIT $2`,
		productID, MaxImages)
	if err != nil {
		slog.Error("Catalog image lookup failed", "error", err, "productID", productID)
		return nil, fmt.Errorf("image lookup failed: %w", err)
	}
	defer rows.Close()

	var images []models.ProductImage
	for rows.Next() {
		var img models.ProductImage
		if err := rows.Scan(&img.ID, &img.Image, &img.ColorID); err != nil {
			return nil, fmt.Errorf("scan image failed: %w", err)
		}
		img.Image = truncateField(img.Image)
		images = append(images, img)
	}
	return images, rows.Err()
}

func (c *PostgresCatalog) productVariants(productID int64) ([]models.ProductVariant, error) {
	rows, err := c.db.Query(
		`SELECT id, product_id, COALESCE(price, 0), COALESCE(wholesale_price, 0),
		        COALESCE(stock_quantity, 0), COALESCE(sku_code, ''),
		        COALESCE(color_id, 0), COALESCE(size_id, 0)
		 FROM product_variants WHERE product_id = $1 AND deleted_at IS NULL
		 ORDER BY id LIMIT $2`,
		productID, MaxVariants)
	if err != nil {
		slog.Error("Catalog variant lookup failed", "error", err, "productID", productID)
		return nil, fmt.Errorf("variant lookup failed: %w", err)
	}
	defer rows.Close()

	var variants []models.ProductVariant
	for rows.Next() {
		var v models.ProductVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Price, &v.WholesalePrice,
			&v.Stock, &v.SKUCode, &v.ColorID, &v.SizeID); err != nil {
			return nil, fmt.Errorf("scan variant failed: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// Close closes the catalog database connection.
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}

// scanCandidate scans one candidate row; the scorer fields ride along so
// term search can score without a second fetch.
func scanCandidate(scan func(dest ...any) error) (models.ProductCandidate, SearchFields, error) {
	var cand models.ProductCandidate
	var f SearchFields
	var slug, sku, code sql.NullString
	err := scan(&cand.ID, &slug, &sku, &code, &cand.DisplayName,
		&f.NameAr, &f.NameEn, &cand.Price, &cand.Stock, &cand.MainImage)
	if err != nil {
		return cand, f, err
	}
	cand.Slug = slug.String
	cand.SKU = sku.String
	cand.ProductCode = code.String
	cand.DisplayName = truncateField(cand.DisplayName)
	f.Slug = slug.String
	f.SKU = sku.String
	f.ProductCode = code.String
	return cand, f, nil
}

// collectCandidates drains a candidate query; when terms are given each row
// gets its match score.
func collectCandidates(rows *sql.Rows, terms []string) ([]models.ProductCandidate, error) {
	var cands []models.ProductCandidate
	for rows.Next() {
		cand, fields, err := scanCandidate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan candidate failed: %w", err)
		}
		if terms != nil {
			cand.Score = Score(fields, terms)
		}
		cands = append(cands, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows failed: %w", err)
	}
	return cands, nil
}
