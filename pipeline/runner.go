package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

// ProductCrawler fetches one search result page.
type ProductCrawler interface {
	Crawl(ctx context.Context, keyword string, page int) ([]byte, error)
}

// Job is one keyword run.
type Job struct {
	Keyword       string
	Pages         int
	MaxReviewPage int
	MaxWorkers    int
}

// Validate checks the job bounds.
func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.Keyword) == "":
		return fmt.Errorf("keyword is required")
	case j.Pages < 1:
		return fmt.Errorf("pages must be at least 1")
	case j.MaxReviewPage < 1 || j.MaxReviewPage > config.MaxReviewPages:
		return fmt.Errorf("max review page must be within 1..%d", config.MaxReviewPages)
	case j.MaxWorkers < 1:
		return fmt.Errorf("max workers must be at least 1")
	}
	return nil
}

// Runner sequences a keyword run: search pages, product tables, the
// eligibility filter and then every eligible product's review pages.
type Runner struct {
	products         ProductCrawler
	reviews          ReviewCrawler
	sink             *Sink
	outputDir        string
	smartStorePrefix string
	throttle         Throttle
	logger           *slog.Logger
	metrics          *scraper.Metrics
	now              func() time.Time
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

func WithRunnerMetrics(m *scraper.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithClock overrides the clock used for the run directory date.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a runner configured from cfg.
func NewRunner(cfg *config.Config, products ProductCrawler, reviews ReviewCrawler, opts ...RunnerOption) (*Runner, error) {
	sink, err := NewSink(cfg.Formats()...)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		products:         products,
		reviews:          reviews,
		sink:             sink,
		outputDir:        cfg.OutputDir,
		smartStorePrefix: cfg.Site.SmartStorePrefix,
		throttle:         Throttle{Min: cfg.PageDelayMin, Max: cfg.PageDelayMax},
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run crawls one keyword. A duplicate product rank or a failing search page
// aborts the run; failing review pages are recorded and skipped.
func (r *Runner) Run(ctx context.Context, job Job) (*models.RunResult, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	start := r.now()
	layout := NewLayout(r.outputDir, job.Keyword, job.Pages, job.MaxReviewPage, start)
	result := &models.RunResult{
		RunID:     uuid.NewString(),
		Keyword:   job.Keyword,
		Dir:       layout.Dir,
		StartTime: start,
	}
	logger := r.logger.With(slog.String("run_id", result.RunID), slog.String("keyword", job.Keyword))
	defer func() { result.EndTime = r.now() }()

	r.enter(logger, result, models.StageInit)
	logger.Info("crawl started",
		slog.Int("pages", job.Pages),
		slog.Int("max_review_page", job.MaxReviewPage),
		slog.Int("max_workers", job.MaxWorkers),
		slog.String("dir", layout.Dir),
	)
	if err := layout.Prepare(); err != nil {
		return result, err
	}

	r.enter(logger, result, models.StageFetchProducts)
	pages := make([][]models.Record, 0, job.Pages)
	for page := 1; page <= job.Pages; page++ {
		logger.Info(fmt.Sprintf("[Products] %d/%d", page, job.Pages))
		body, err := r.products.Crawl(ctx, job.Keyword, page)
		if err != nil {
			return result, fmt.Errorf("fetch products: %w", err)
		}
		records, err := parser.ParseProducts(body, page)
		if err != nil {
			return result, fmt.Errorf("products page %d: %w", page, err)
		}
		for _, rec := range records {
			rec[models.ColumnKeyword] = job.Keyword
		}
		pages = append(pages, records)
		if err := r.throttle.Wait(ctx); err != nil {
			return result, err
		}
	}

	r.enter(logger, result, models.StagePersistProducts)
	var products []models.Record
	for i, records := range pages {
		written, err := r.sink.Write(layout.ProductFile(i+1), models.NewTable(records, models.ColumnKeyword))
		result.ProductFiles = append(result.ProductFiles, written...)
		if err != nil {
			return result, fmt.Errorf("persist products page %d: %w", i+1, err)
		}
		r.metrics.AddItems("product", len(records))
		products = append(products, records...)
	}
	result.ProductCount = len(products)

	r.enter(logger, result, models.StageFilter)
	eligible := parser.FilterEligible(products, r.smartStorePrefix)
	result.EligibleCount = len(eligible)
	logger.Info("products filtered",
		slog.Int("products", len(products)),
		slog.Int("eligible", len(eligible)),
	)

	r.enter(logger, result, models.StageFetchReviews)
	paginator := &Paginator{
		crawler:       r.reviews,
		sink:          r.sink,
		layout:        layout,
		maxReviewPage: job.MaxReviewPage,
		maxWorkers:    job.MaxWorkers,
		throttle:      r.throttle,
		logger:        logger,
		metrics:       r.metrics,
	}
	reviewsStart := time.Now()
	for i, rec := range eligible {
		ranking := i + 1
		iterStart := time.Now()

		target, err := parser.ReviewTarget(rec)
		if err != nil {
			logger.Warn("product skipped", slog.Int("product_ranking", ranking), slog.Any("error", err))
			result.FailedPages = append(result.FailedPages, models.PageError{ProductRanking: ranking, Err: err})
		} else {
			pr, err := paginator.Paginate(ctx, ranking, target)
			result.ReviewFiles = append(result.ReviewFiles, pr.Written...)
			result.ReviewCount += pr.Reviews
			result.DuplicateReviews += pr.Duplicates
			result.FailedPages = append(result.FailedPages, pr.Failed...)
			if err != nil {
				return result, fmt.Errorf("reviews of product %d: %w", ranking, err)
			}
		}

		elapsed := time.Since(iterStart)
		logger.Info(fmt.Sprintf("[Reviews] %d/%d", ranking, len(eligible)),
			slog.Duration("elapsed", elapsed),
			slog.Duration("total", time.Since(reviewsStart)),
			slog.Duration("remaining", time.Duration(len(eligible)-ranking)*elapsed),
		)
	}

	r.enter(logger, result, models.StageDone)
	logger.Info("crawl finished",
		slog.Int("products", result.ProductCount),
		slog.Int("eligible", result.EligibleCount),
		slog.Int("reviews", result.ReviewCount),
		slog.Int("failed_pages", len(result.FailedPages)),
		slog.Duration("run_time", r.now().Sub(start)),
	)
	return result, nil
}

func (r *Runner) enter(logger *slog.Logger, result *models.RunResult, stage models.Stage) {
	result.Stage = stage
	logger.Debug("stage", slog.String("stage", string(stage)))
}
