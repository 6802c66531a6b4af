package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

var (
	// ErrPayloadNotFound is returned when a search page carries no product payload.
	ErrPayloadNotFound = errors.New("parser: product payload not found")
	// ErrDuplicateRank is returned when a page lists the same retained rank twice.
	ErrDuplicateRank = errors.New("parser: duplicate product rank")
)

var productListPath = []string{"props", "pageProps", "initialState", "products", "list"}

// ParseProducts extracts the organic products of one search result page.
// Entries are kept only while their rank continues the sequence starting at
// 40*(page-1)+1, which drops sponsored inserts.
func ParseProducts(body []byte, page int) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search html: %w", err)
	}

	scripts := doc.Find("script")
	if scripts.Length() == 0 {
		return nil, fmt.Errorf("%w: no script tag", ErrPayloadNotFound)
	}
	raw := strings.TrimSpace(scripts.Last().Text())
	if raw == "" {
		return nil, fmt.Errorf("%w: last script is empty", ErrPayloadNotFound)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode script: %v", ErrPayloadNotFound, err)
	}

	list, ok := lookup(payload, productListPath...).([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrPayloadNotFound, strings.Join(productListPath, "."))
	}

	expected := models.ProductPageSize*(page-1) + 1
	retained := make(map[string]struct{})
	records := make([]models.Record, 0, models.ProductPageSize)
	for i, entry := range list {
		wrapper, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item, ok := wrapper["item"].(map[string]any)
		if !ok {
			continue
		}

		rank := Stringify(item["rank"])
		if _, dup := retained[rank]; dup {
			return nil, fmt.Errorf("%w: rank %s at index %d on page %d", ErrDuplicateRank, rank, i, page)
		}
		if rank != strconv.Itoa(expected) {
			continue
		}
		retained[rank] = struct{}{}
		expected++
		records = append(records, StringifyAll(item))
	}
	return records, nil
}

func lookup(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}
