// Package pipeline sequences a keyword run and persists its tables.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

const maxTrackedReviews = 1 << 16

// ReviewCrawler fetches one page of a product's review feed.
type ReviewCrawler interface {
	Crawl(ctx context.Context, target models.ReviewTarget, page int) (*models.ReviewPage, error)
}

// LastPage bounds the review pages fetched for one product.
func LastPage(totalPages, maxReviewPage int) int {
	return min(totalPages, config.MaxReviewPages, maxReviewPage)
}

// Paginator fetches every review page of a product with bounded
// parallelism and writes one table per page.
type Paginator struct {
	crawler       ReviewCrawler
	sink          *Sink
	layout        Layout
	maxReviewPage int
	maxWorkers    int
	throttle      Throttle
	logger        *slog.Logger
	metrics       *scraper.Metrics
}

// Paginate discovers the page count from page 1, then fetches pages
// 1..LastPage. A page that fails is recorded and skipped; it never stops the
// others. Losing the proxy pool is the exception: it stops every page and is
// returned.
func (p *Paginator) Paginate(ctx context.Context, productRanking int, target models.ReviewTarget) (*models.PaginationResult, error) {
	result := &models.PaginationResult{ProductRanking: productRanking}

	first, err := p.crawler.Crawl(ctx, target, 1)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if isFatal(err) {
			return result, err
		}
		p.fail(result, &sync.Mutex{}, 1, err)
		return result, nil
	}
	result.TotalPages = first.TotalPages
	result.LastPage = LastPage(first.TotalPages, p.maxReviewPage)

	seen, err := lru.New[string, int](min(max(result.LastPage, 1)*models.ReviewPageSize, maxTrackedReviews))
	if err != nil {
		return result, fmt.Errorf("review tracker: %w", err)
	}

	var mu sync.Mutex
	task := func(ctx context.Context, page int) error {
		written, reviews, dups, err := p.fetchPage(ctx, productRanking, target, page, first, seen)
		mu.Lock()
		result.Written = append(result.Written, written...)
		result.Reviews += reviews
		result.Duplicates += dups
		mu.Unlock()
		switch {
		case err == nil:
			return nil
		case isFatal(err):
			return err
		case ctx.Err() != nil:
			// stopped by a sibling or by the caller, not a page failure
			return nil
		}
		p.fail(result, &mu, page, err)
		return nil
	}

	var fatal error
	if p.maxWorkers <= 1 {
		for page := 1; page <= result.LastPage; page++ {
			if ctx.Err() != nil {
				break
			}
			if fatal = task(ctx, page); fatal != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.maxWorkers)
		for page := 1; page <= result.LastPage; page++ {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				return task(gctx, page)
			})
		}
		fatal = g.Wait()
	}

	sort.Strings(result.Written)
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Page < result.Failed[j].Page })
	if dups := result.Duplicates; dups > 0 {
		p.logger.Warn("reviews repeated across pages",
			slog.Int("product_ranking", productRanking),
			slog.Int("duplicates", dups),
		)
	}
	if fatal != nil {
		return result, fatal
	}
	return result, ctx.Err()
}

// isFatal reports errors that no later page or product can recover from.
func isFatal(err error) bool {
	return errors.Is(err, scraper.ErrProxyUnavailable)
}

// fetchPage handles one review page. Page 1 reuses the response already
// fetched to learn the page count.
func (p *Paginator) fetchPage(ctx context.Context, productRanking int, target models.ReviewTarget, page int, first *models.ReviewPage, seen *lru.Cache[string, int]) ([]string, int, int, error) {
	resp := first
	if page != 1 {
		var err error
		resp, err = p.crawler.Crawl(ctx, target, page)
		if err != nil {
			return nil, 0, 0, err
		}
	}

	records := parser.ParseReviews(page, resp.Contents, productRanking)
	dups := 0
	for _, rec := range records {
		id := rec["id"]
		if id == "" {
			continue
		}
		if prev, ok, _ := seen.PeekOrAdd(id, page); ok && prev != page {
			dups++
		}
	}
	p.metrics.AddDuplicateReviews(dups)

	table := models.NewTable(records, models.ColumnProductRanking, models.ColumnReviewRanking)
	written, err := p.sink.Write(p.layout.ReviewFile(productRanking, page), table)
	if err != nil {
		return written, 0, dups, fmt.Errorf("write review page %d: %w", page, err)
	}
	p.metrics.AddItems("review", len(records))

	// cancellation surfaces from Paginate, the page itself is already on disk
	_ = p.throttle.Wait(ctx)
	return written, len(records), dups, nil
}

func (p *Paginator) fail(result *models.PaginationResult, mu *sync.Mutex, page int, err error) {
	mu.Lock()
	result.Failed = append(result.Failed, models.PageError{
		ProductRanking: result.ProductRanking,
		Page:           page,
		Err:            err,
	})
	mu.Unlock()
	p.metrics.IncFailedPage()
	p.logger.Error("review page failed",
		slog.Int("product_ranking", result.ProductRanking),
		slog.Int("page", page),
		slog.String("error_type", scraper.ClassifyError(err)),
		slog.Any("error", err),
	)
}
