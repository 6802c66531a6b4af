package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/pipeline"
	"github.com/aluiziolira/go-scrape-reviews/proxy"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		keywords   string
		configPath string
	)

	cmd := &cobra.Command{
		Use:           "naver-review-crawler",
		Short:         "Crawl Naver Shopping search results and SmartStore product reviews",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kws := splitKeywords(keywords)
			if len(kws) == 0 {
				return errors.New("at least one keyword is required (--keywords)")
			}
			cfg, err := config.Load(v, configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
				return err
			}
			if err := run(cmd.Context(), cfg, kws); err != nil {
				slog.Error("crawl failed", slog.Any("error", err))
				return err
			}
			return nil
		},
	}

	d := config.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVar(&keywords, "keywords", "", "Comma separated search keywords")
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.Int("pages", d.Pages, "Search result pages per keyword")
	flags.Int("max-review-page", d.MaxReviewPage, "Maximum review pages per product (1..1000)")
	flags.Int("max-workers", d.MaxWorkers, "Concurrent review page fetches per product")
	flags.String("output-dir", d.OutputDir, "Root directory for run output")
	flags.String("output-format", d.OutputFormat, "Comma separated table formats: parquet, csv, json")
	flags.String("log-dir", d.LogDir, "Directory for per-keyword log files (empty disables)")
	flags.String("metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolP("verbose", "v", d.Verbose, "Enable verbose logging")

	for key, flag := range map[string]string{
		"pages":           "pages",
		"max_review_page": "max-review-page",
		"max_workers":     "max-workers",
		"output_dir":      "output-dir",
		"output_format":   "output-format",
		"log_dir":         "log-dir",
		"metrics_addr":    "metrics-addr",
		"verbose":         "verbose",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func run(parent context.Context, cfg *config.Config, keywords []string) error {
	logger, _ := newLogger(cfg.Verbose, nil)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after in-flight requests")
	}()

	metrics := scraper.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	pool := proxy.NewPool(proxy.NewSourcesFromConfig(cfg, logger, metrics), logger, metrics)

	for i, keyword := range keywords {
		logger.Info(fmt.Sprintf("[%d/%d] %s", i+1, len(keywords), keyword))
		result, err := crawlKeyword(ctx, cfg, pool, metrics, keyword)
		if result != nil {
			printSummary(result)
		}
		if err != nil {
			return fmt.Errorf("keyword %q: %w", keyword, err)
		}
	}
	return nil
}

// crawlKeyword runs one keyword with a logger that also writes to the
// keyword's log file.
func crawlKeyword(ctx context.Context, cfg *config.Config, pool *proxy.Pool, metrics *scraper.Metrics, keyword string) (*models.RunResult, error) {
	var logFile io.Writer
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := fmt.Sprintf("crawling_naver_review_%s.log", pipeline.RunKey(keyword, cfg.Pages, cfg.MaxReviewPage, time.Now()))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logFile = f
	}
	logger, _ := newLogger(cfg.Verbose, logFile)

	client, err := scraper.NewClient(cfg, pool, scraper.WithLogger(logger), scraper.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("initialising client: %w", err)
	}
	runner, err := pipeline.NewRunner(cfg,
		scraper.NewProductExtractor(client),
		scraper.NewReviewExtractor(client),
		pipeline.WithRunnerLogger(logger),
		pipeline.WithRunnerMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("initialising runner: %w", err)
	}

	return runner.Run(ctx, pipeline.Job{
		Keyword:       keyword,
		Pages:         cfg.Pages,
		MaxReviewPage: cfg.MaxReviewPage,
		MaxWorkers:    cfg.MaxWorkers,
	})
}

// splitKeywords drops every space and splits on commas.
func splitKeywords(raw string) []string {
	var out []string
	for _, kw := range strings.Split(strings.ReplaceAll(raw, " ", ""), ",") {
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func printSummary(result *models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Crawl %s: %s\n", result.Stage, result.Keyword)
	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Products:      %d (%d with reviews)\n", result.ProductCount, result.EligibleCount)
	fmt.Printf("  Reviews:       %d\n", result.ReviewCount)
	if result.DuplicateReviews > 0 {
		fmt.Printf("  Duplicates:    %d\n", result.DuplicateReviews)
	}
	fmt.Printf("  Failed pages:  %d\n", len(result.FailedPages))
	fmt.Printf("  Files:         %d\n", len(result.ProductFiles)+len(result.ReviewFiles))
	fmt.Printf("  Duration:      %v\n", result.Duration().Round(time.Millisecond))
	fmt.Printf("  Output dir:    %s\n", result.Dir)
	fmt.Println(separator)
}

// newLogger logs to stdout, plus extra when it is set. A terminal gets the
// text handler, anything else JSON.
func newLogger(verbose bool, extra io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var out io.Writer = os.Stdout
	if extra != nil {
		out = io.MultiWriter(os.Stdout, extra)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
