// Package models defines data structures for the crawler.
package models

import (
	"slices"
	"sort"
)

// Column names added by the crawler on top of the site payload.
const (
	ColumnKeyword        = "keyword"
	ColumnProductRanking = "product_ranking"
	ColumnReviewRanking  = "review_ranking"
)

// Page sizes fixed by the storefront endpoints.
const (
	ProductPageSize = 40
	ReviewPageSize  = 20
)

// Record is one row of site data with every value coerced to text.
// The schema is open: unknown fields pass through untouched.
type Record map[string]string

// ProductRecord exposes the product fields the crawler relies on.
type ProductRecord Record

func (p ProductRecord) MerchantNo() string            { return p["merchantNo"] }
func (p ProductRecord) MallProductID() string         { return p["mallProductId"] }
func (p ProductRecord) OriginalMallProductID() string { return p["originalMallProductId"] }
func (p ProductRecord) MallPCURL() string             { return p["mallPcUrl"] }
func (p ProductRecord) MallProductURL() string        { return p["mallProductUrl"] }
func (p ProductRecord) ReviewCount() string           { return p["reviewCount"] }
func (p ProductRecord) Rank() string                  { return p["rank"] }

// ReviewTarget identifies the review feed of one product.
type ReviewTarget struct {
	MerchantNo            string
	MallProductID         string
	OriginalMallProductID string
	MallPCURL             string
}

// ReviewPage is one decoded response of the review endpoint.
type ReviewPage struct {
	Contents   []map[string]any `json:"contents"`
	TotalPages int              `json:"totalPages"`
}

// Table is an ordered column list plus rows. Cells missing from a row are
// written as nulls.
type Table struct {
	Columns []string
	Rows    []Record
}

// NewTable builds a table whose columns are the leading columns in the given
// order followed by every other key seen in rows, sorted by name.
func NewTable(rows []Record, leading ...string) *Table {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}

	columns := make([]string, 0, len(seen))
	for _, col := range leading {
		if slices.Contains(columns, col) {
			continue
		}
		columns = append(columns, col)
		delete(seen, col)
	}

	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)

	return &Table{
		Columns: append(columns, rest...),
		Rows:    rows,
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the values of one column; missing cells are empty strings.
func (t *Table) Column(name string) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}
