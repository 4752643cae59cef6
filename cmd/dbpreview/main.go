// Command dbpreview is an operator tool for inspecting the storefront
// database: it lists schemas and tables, and previews a few rows of named
// tables with long values truncated. Useful when mapping a new deployment's
// catalog before pointing souqbot at it.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lib/pq"
)

const previewEllipsis = "…"

func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("CATALOG_DB_DSN"), "PostgreSQL DSN (overrides $CATALOG_DB_DSN or $DATABASE_URL)")
	list := flag.Bool("list", false, "list schemas and tables")
	preview := flag.String("preview", "", "comma-separated table names (optionally schema.table), e.g. products,orders or public.products")
	schema := flag.String("schema", "public", "default schema for unqualified table names")
	limit := flag.Int("limit", 5, "rows to preview per table")
	maxLen := flag.Int("max-len", 200, "maximum printed value length")
	flag.Parse()

	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "no DSN: set -dsn, $CATALOG_DB_DSN or $DATABASE_URL")
		os.Exit(1)
	}
	if !*list && *preview == "" {
		*list = true
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open database:", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect:", err)
		os.Exit(1)
	}

	if *list {
		if err := listSchemasAndTables(db); err != nil {
			fmt.Fprintln(os.Stderr, "list failed:", err)
			os.Exit(1)
		}
	}
	if *preview != "" {
		for _, name := range strings.Split(*preview, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			previewTable(db, name, *schema, *limit, *maxLen)
		}
	}
}

func listSchemasAndTables(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT nspname
		FROM pg_namespace
		WHERE nspname NOT LIKE 'pg_%' AND nspname <> 'information_schema'
		ORDER BY 1`)
	if err != nil {
		return fmt.Errorf("failed to query schemas: %w", err)
	}
	defer rows.Close()

	fmt.Println("Schemas:")
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		fmt.Println("-", name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// pg_catalog sees tables the current role cannot SELECT from, which
	// information_schema would hide.
	tableRows, err := db.Query(`
		SELECT n.nspname, c.relname
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p')
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY 1, 2`)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	defer tableRows.Close()

	var tables []string
	for tableRows.Next() {
		var schema, table string
		if err := tableRows.Scan(&schema, &table); err != nil {
			return err
		}
		tables = append(tables, schema+"."+table)
	}
	if err := tableRows.Err(); err != nil {
		return err
	}
	fmt.Printf("\nTables (%d):\n", len(tables))
	for _, t := range tables {
		fmt.Println("-", t)
	}

	// Sizes need pg_stat access; skip quietly when the role lacks it.
	sizeRows, err := db.Query(`
		SELECT schemaname, relname, n_live_tup,
		       pg_total_relation_size(quote_ident(schemaname) || '.' || quote_ident(relname))
		FROM pg_stat_user_tables
		ORDER BY 4 DESC
		LIMIT 30`)
	if err != nil {
		fmt.Println("\n(table sizes unavailable:", err, ")")
		return nil
	}
	defer sizeRows.Close()

	fmt.Println("\nLargest tables (by total size):")
	for sizeRows.Next() {
		var schema, table string
		var liveTuples, totalBytes int64
		if err := sizeRows.Scan(&schema, &table, &liveTuples, &totalBytes); err != nil {
			return err
		}
		fmt.Printf("- %s.%s | rows~%d | bytes=%d\n", schema, table, liveTuples, totalBytes)
	}
	return sizeRows.Err()
}

func previewTable(db *sql.DB, name, defaultSchema string, limit, maxLen int) {
	schema, table := defaultSchema, name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		schema, table = name[:i], name[i+1:]
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("Preview: %s.%s (LIMIT %d)\n", schema, table, limit)

	var canSelect bool
	if err := db.QueryRow("SELECT has_table_privilege(current_user, $1, 'SELECT')", schema+"."+table).Scan(&canSelect); err == nil {
		if canSelect {
			fmt.Println("SELECT privilege: YES")
		} else {
			fmt.Println("SELECT privilege: NO")
		}
	}

	if err := printColumns(db, schema, table); err != nil {
		fmt.Println("failed to fetch columns:", err)
	}
	if err := printRows(db, schema, table, limit, maxLen); err != nil {
		fmt.Println("failed to fetch rows:", err)
	}
}

func printColumns(db *sql.DB, schema, table string) error {
	rows, err := db.Query(`
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Println("Columns:")
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return err
		}
		fmt.Printf("- %s (%s)\n", name, dataType)
	}
	return rows.Err()
}

func printRows(db *sql.DB, schema, table string, limit, maxLen int) error {
	query := fmt.Sprintf("SELECT * FROM %s.%s LIMIT $1", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	rows, err := db.Query(query, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	fmt.Println("\nRows:")
	printed := 0
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = shorten(values[i], maxLen)
		}
		line, err := json.Marshal(record)
		if err != nil {
			return err
		}
		printed++
		fmt.Printf("[%d] %s\n", printed, line)
	}
	if printed == 0 {
		fmt.Println("(no rows)")
	}
	return rows.Err()
}

// shorten renders a scanned value for display, truncating long strings.
func shorten(v any, maxLen int) any {
	if v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return v
	}
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen-1]) + previewEllipsis
	}
	return s
}
