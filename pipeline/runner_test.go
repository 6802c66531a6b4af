package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
	"github.com/aluiziolira/go-scrape-reviews/proxy"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

const (
	testSearchURL = "https://search.example.test/search/all"
	testReviewURL = "https://store.example.test/i/v1/contents/reviews/query-pages"
)

var runDay = time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

func searchPage(t *testing.T, items ...map[string]any) []byte {
	t.Helper()
	list := make([]map[string]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{"item": item})
	}
	raw, err := json.Marshal(map[string]any{
		"props": map[string]any{"pageProps": map[string]any{"initialState": map[string]any{
			"products": map[string]any{"list": list},
		}}},
	})
	require.NoError(t, err)
	return []byte(fmt.Sprintf(`<html><body><script>var x = 1;</script><script id="__NEXT_DATA__" type="application/json">%s</script></body></html>`, raw))
}

func smartStoreProduct(rank, reviewCount int) map[string]any {
	id := fmt.Sprintf("%d00", rank)
	return map[string]any{
		"rank":                  rank,
		"productName":           fmt.Sprintf("product %d", rank),
		"mallProductUrl":        "https://smartstore.naver.com/main/products/" + id,
		"mallProductId":         id,
		"originalMallProductId": "9" + id,
		"mallPcUrl":             "https://smartstore.naver.com/shop/",
		"mallInfoCache":         map[string]any{"npaySellerNo": 500},
		"reviewCount":           reviewCount,
	}
}

type runFixture struct {
	cfg       *config.Config
	transport *httpmock.MockTransport
	runner    *Runner
}

func newRunFixture(t *testing.T) *runFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.OutputFormat = "parquet,csv"
	cfg.PageDelayMin, cfg.PageDelayMax = 0, 0
	cfg.FetchRetry = config.RetryConfig{Retries: 0, VerbosePeriod: 1}
	cfg.ProxyRetry = config.RetryConfig{Retries: 0, VerbosePeriod: 1}
	cfg.Proxies = []string{"10.0.0.1:8080"}
	cfg.Site.SearchURL = testSearchURL
	cfg.Site.ReviewURL = testReviewURL
	cfg.Site.ReviewOrigin = "https://store.example.test"
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := scraper.NewMetrics()
	pool := proxy.NewPool(proxy.NewSourcesFromConfig(cfg, logger, metrics), logger, metrics)

	transport := httpmock.NewMockTransport()
	client, err := scraper.NewClient(cfg, pool,
		scraper.WithLogger(logger),
		scraper.WithMetrics(metrics),
		scraper.WithClientFactory(func(string) *http.Client {
			return &http.Client{Transport: transport}
		}),
	)
	require.NoError(t, err)

	runner, err := NewRunner(cfg,
		scraper.NewProductExtractor(client),
		scraper.NewReviewExtractor(client),
		WithRunnerLogger(logger),
		WithRunnerMetrics(metrics),
		WithClock(func() time.Time { return runDay }),
	)
	require.NoError(t, err)
	return &runFixture{cfg: cfg, transport: transport, runner: runner}
}

func reviewResponder(t *testing.T, total int) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		var q scraper.ReviewQuery
		if err := json.NewDecoder(req.Body).Decode(&q); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		assert.Equal(t, json.Number("500"), q.CheckoutMerchantNo)
		assert.Equal(t, "https://smartstore.naver.com/shop/products/100", req.Header.Get("referer"))

		contents := make([]map[string]any, 0, total)
		for i := 1; i <= total; i++ {
			contents = append(contents, map[string]any{
				"id":            fmt.Sprintf("%s-%s-%d", q.OriginProductNo, q.Page, i),
				"reviewContent": fmt.Sprintf("review %d", i),
				"reviewScore":   5,
			})
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"contents": contents, "totalPages": 1})
	}
}

func TestRunnerEndToEnd(t *testing.T) {
	f := newRunFixture(t)
	f.transport.RegisterResponder(http.MethodGet, testSearchURL,
		httpmock.NewBytesResponder(http.StatusOK, searchPage(t,
			smartStoreProduct(1, 5),
			map[string]any{"rank": 9, "productName": "sponsored", "adId": "ad-1"},
			smartStoreProduct(2, 0),
		)))
	f.transport.RegisterResponder(http.MethodPost, testReviewURL, reviewResponder(t, 3))

	res, err := f.runner.Run(context.Background(), Job{Keyword: "test", Pages: 1, MaxReviewPage: 1, MaxWorkers: 2})
	require.NoError(t, err)

	assert.Equal(t, models.StageDone, res.Stage)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(f.cfg.OutputDir, "20260102_test_1_1"), res.Dir)
	assert.Equal(t, 2, res.ProductCount)
	assert.Equal(t, 1, res.EligibleCount)
	assert.Equal(t, 3, res.ReviewCount)
	assert.Empty(t, res.FailedPages)

	files := append(append([]string(nil), res.ProductFiles...), res.ReviewFiles...)
	names := make([]string, 0, len(files))
	for _, path := range files {
		names = append(names, filepath.Base(path))
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"product_page1.csv", "product_page1.parquet",
		"review_product1_page1.csv", "review_product1_page1.parquet",
	}, names)

	products := readParquet(t, filepath.Join(res.Dir, "product_page1.parquet"))
	require.Len(t, products, 2)
	for _, p := range products {
		assert.Equal(t, "test", p[models.ColumnKeyword])
	}
	assert.Equal(t, `{"npaySellerNo":500}`, products[0]["mallInfoCache"])

	reviews := readParquet(t, filepath.Join(res.Dir, "review_product1_page1.parquet"))
	require.Len(t, reviews, 3)
	for i, r := range reviews {
		assert.Equal(t, "1", r[models.ColumnProductRanking])
		assert.Equal(t, fmt.Sprint(i+1), r[models.ColumnReviewRanking])
		assert.Equal(t, "5", r["reviewScore"])
	}

	assert.Equal(t, 1, f.transport.GetCallCountInfo()["POST "+testReviewURL])
}

func TestRunnerAbortsOnDuplicateRank(t *testing.T) {
	f := newRunFixture(t)
	f.transport.RegisterResponder(http.MethodGet, testSearchURL,
		httpmock.NewBytesResponder(http.StatusOK, searchPage(t,
			smartStoreProduct(1, 5),
			smartStoreProduct(2, 5),
			smartStoreProduct(1, 5),
		)))

	res, err := f.runner.Run(context.Background(), Job{Keyword: "test", Pages: 1, MaxReviewPage: 1, MaxWorkers: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, parser.ErrDuplicateRank), "got %v", err)
	assert.Equal(t, models.StageFetchProducts, res.Stage)
	assert.Empty(t, res.ProductFiles)
	assert.Zero(t, f.transport.GetCallCountInfo()["POST "+testReviewURL])
}

func TestRunnerRecordsBlockedReviewsAndContinues(t *testing.T) {
	f := newRunFixture(t)
	f.transport.RegisterResponder(http.MethodGet, testSearchURL,
		httpmock.NewBytesResponder(http.StatusOK, searchPage(t,
			smartStoreProduct(1, 5),
			smartStoreProduct(2, 7),
		)))
	f.transport.RegisterResponder(http.MethodPost, testReviewURL,
		httpmock.NewStringResponder(http.StatusForbidden, "blocked"))

	res, err := f.runner.Run(context.Background(), Job{Keyword: "test", Pages: 1, MaxReviewPage: 3, MaxWorkers: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, res.Stage)
	assert.Equal(t, 2, res.EligibleCount)
	assert.Empty(t, res.ReviewFiles)
	require.Len(t, res.FailedPages, 2)
	for i, pe := range res.FailedPages {
		assert.Equal(t, i+1, pe.ProductRanking)
		assert.Equal(t, 1, pe.Page)
		var blocked *scraper.BlockedError
		assert.True(t, errors.As(pe, &blocked), "got %v", pe)
	}
}

func TestRunnerSkipsProductWithoutIdentifiers(t *testing.T) {
	f := newRunFixture(t)
	broken := smartStoreProduct(1, 5)
	delete(broken, "mallPcUrl")
	f.transport.RegisterResponder(http.MethodGet, testSearchURL,
		httpmock.NewBytesResponder(http.StatusOK, searchPage(t, broken)))

	res, err := f.runner.Run(context.Background(), Job{Keyword: "test", Pages: 1, MaxReviewPage: 1, MaxWorkers: 1})
	require.NoError(t, err)
	require.Len(t, res.FailedPages, 1)
	assert.Equal(t, 1, res.FailedPages[0].ProductRanking)
	assert.Zero(t, f.transport.GetCallCountInfo()["POST "+testReviewURL])
}

func TestJobValidate(t *testing.T) {
	valid := Job{Keyword: "shoes", Pages: 1, MaxReviewPage: 10, MaxWorkers: 1}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{"blank keyword", func(j *Job) { j.Keyword = "  " }},
		{"zero pages", func(j *Job) { j.Pages = 0 }},
		{"zero review pages", func(j *Job) { j.MaxReviewPage = 0 }},
		{"review pages above limit", func(j *Job) { j.MaxReviewPage = config.MaxReviewPages + 1 }},
		{"zero workers", func(j *Job) { j.MaxWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			assert.Error(t, job.Validate())
		})
	}
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "20260102_a_b_2_30", RunKey("a/b", 2, 30, runDay))
}

type staticProducts struct {
	body []byte
}

func (s staticProducts) Crawl(context.Context, string, int) ([]byte, error) {
	return s.body, nil
}

type downAcquirer struct {
	calls atomic.Int32
}

func (a *downAcquirer) Acquire(context.Context) ([]string, error) {
	a.calls.Add(1)
	return nil, proxy.ErrAllSourcesFailed
}

func TestRunnerAbortsWhenProxySourcesAreDown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.PageDelayMin, cfg.PageDelayMax = 0, 0
	cfg.FetchRetry = config.RetryConfig{Retries: config.RetryForever, VerbosePeriod: 1}
	cfg.Site.ReviewURL = testReviewURL

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &downAcquirer{}
	pool := proxy.NewPool(source, logger, nil)

	transport := httpmock.NewMockTransport()
	client, err := scraper.NewClient(cfg, pool,
		scraper.WithLogger(logger),
		scraper.WithClientFactory(func(string) *http.Client {
			return &http.Client{Transport: transport}
		}),
	)
	require.NoError(t, err)

	products := staticProducts{body: searchPage(t,
		smartStoreProduct(1, 5),
		smartStoreProduct(2, 5),
		smartStoreProduct(3, 5),
	)}
	runner, err := NewRunner(cfg, products, scraper.NewReviewExtractor(client),
		WithRunnerLogger(logger),
		WithClock(func() time.Time { return runDay }),
	)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), Job{Keyword: "test", Pages: 1, MaxReviewPage: 5, MaxWorkers: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, scraper.ErrProxyUnavailable)
	assert.ErrorIs(t, err, proxy.ErrAllSourcesFailed)
	assert.Equal(t, models.StageFetchReviews, res.Stage)
	assert.Empty(t, res.FailedPages)
	assert.Equal(t, int32(1), source.calls.Load(), "the run stops after the first failed refresh")
	assert.Zero(t, transport.GetTotalCallCount())
}
