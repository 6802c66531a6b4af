package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
)

const endpointReviews = "reviews"

// ReviewQuery is the JSON body of the review endpoint.
type ReviewQuery struct {
	CheckoutMerchantNo   json.Number `json:"checkoutMerchantNo"`
	OriginProductNo      string      `json:"originProductNo"`
	Page                 string      `json:"page"`
	PageSize             int         `json:"pageSize"`
	ReviewSearchSortType string      `json:"reviewSearchSortType"`
}

// NewReviewQuery builds the request body for one review page.
func NewReviewQuery(target models.ReviewTarget, page int) ReviewQuery {
	return ReviewQuery{
		CheckoutMerchantNo:   json.Number(target.MerchantNo),
		OriginProductNo:      target.OriginalMallProductID,
		Page:                 strconv.Itoa(page),
		PageSize:             models.ReviewPageSize,
		ReviewSearchSortType: "REVIEW_RANKING",
	}
}

// Referer is the product page a review request claims to come from.
func Referer(target models.ReviewTarget) string {
	return target.MallPCURL + "/products/" + target.MallProductID
}

// ReviewExtractor fetches pages of a product's review feed.
type ReviewExtractor struct {
	client *Client
	policy RetryPolicy
}

// NewReviewExtractor returns an extractor retrying under the fetch policy.
func NewReviewExtractor(c *Client) *ReviewExtractor {
	return &ReviewExtractor{client: c, policy: PolicyFromConfig(c.cfg.FetchRetry)}
}

func checkPage(page int) error {
	if page < 1 || page > config.MaxReviewPages {
		return fmt.Errorf("review page %d: %w (1..%d)", page, ErrPageOutOfRange, config.MaxReviewPages)
	}
	return nil
}

// Fetch makes a single attempt at one review page.
func (e *ReviewExtractor) Fetch(ctx context.Context, target models.ReviewTarget, page int) (*models.ReviewPage, error) {
	if err := checkPage(page); err != nil {
		return nil, Permanent(err)
	}
	if _, err := strconv.ParseInt(target.MerchantNo, 10, 64); err != nil {
		return nil, Permanent(fmt.Errorf("merchant number %q: %w", target.MerchantNo, err))
	}

	payload, err := json.Marshal(NewReviewQuery(target, page))
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode review query: %w", err))
	}

	site := e.client.cfg.Site
	headers := map[string]string{
		"accept":           "application/json, text/plain, */*",
		"content-type":     "application/json",
		"origin":           site.ReviewOrigin,
		"referer":          Referer(target),
		"sec-fetch-dest":   "empty",
		"sec-fetch-mode":   "cors",
		"sec-fetch-site":   "same-origin",
		"x-client-version": site.ClientVersion,
	}

	body, err := e.client.do(ctx, endpointReviews, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, site.ReviewURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		e.client.applyHeaders(req, headers)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out models.ReviewPage
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode review page %d: %w", page, err)
	}
	return &out, nil
}

// Crawl fetches one review page, retrying blocked attempts. Pages beyond
// the site limit fail immediately.
func (e *ReviewExtractor) Crawl(ctx context.Context, target models.ReviewTarget, page int) (*models.ReviewPage, error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	logger := e.client.logger.With(
		slog.String("product", target.MallProductID),
		slog.Int("page", page),
	)
	out, err := Retry(ctx, e.policy, endpointReviews, logger, e.client.Metrics,
		func(ctx context.Context) (*models.ReviewPage, error) {
			return e.Fetch(ctx, target, page)
		})
	if err != nil {
		return nil, fmt.Errorf("product %s review page %d: %w", target.MallProductID, page, err)
	}
	return out, nil
}
