package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

const endpointSearch = "search"

var searchHeaders = map[string]string{
	"accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"referer":                   "https://shopping.naver.com/home",
	"sec-fetch-dest":            "document",
	"sec-fetch-mode":            "navigate",
	"sec-fetch-site":            "same-origin",
	"upgrade-insecure-requests": "1",
}

// SearchParams returns the query string for one search result page.
func SearchParams(keyword string, page int) url.Values {
	return url.Values{
		"adQuery":     {keyword},
		"origQuery":   {keyword},
		"query":       {keyword},
		"pagingIndex": {strconv.Itoa(page)},
		"pagingSize":  {strconv.Itoa(models.ProductPageSize)},
		"productSet":  {"checkout"},
		"sort":        {"rel"},
		"timestamp":   {""},
		"viewType":    {"list"},
	}
}

// ProductExtractor fetches search result pages.
type ProductExtractor struct {
	client *Client
	policy RetryPolicy
}

// NewProductExtractor returns an extractor retrying under the fetch policy.
func NewProductExtractor(c *Client) *ProductExtractor {
	return &ProductExtractor{client: c, policy: PolicyFromConfig(c.cfg.FetchRetry)}
}

// Fetch makes a single attempt at one search result page.
func (e *ProductExtractor) Fetch(ctx context.Context, keyword string, page int) ([]byte, error) {
	return e.client.do(ctx, endpointSearch, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.client.cfg.Site.SearchURL, nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = SearchParams(keyword, page).Encode()
		e.client.applyHeaders(req, searchHeaders)
		return req, nil
	})
}

// Crawl fetches one search result page, retrying blocked attempts.
func (e *ProductExtractor) Crawl(ctx context.Context, keyword string, page int) ([]byte, error) {
	name := fmt.Sprintf("search %q page %d", keyword, page)
	body, err := Retry(ctx, e.policy, endpointSearch, e.client.logger.With(slog.String("target", name)), e.client.Metrics,
		func(ctx context.Context) ([]byte, error) {
			return e.Fetch(ctx, keyword, page)
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return body, nil
}
