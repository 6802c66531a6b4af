package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

// ErrAllSourcesFailed is returned when no proxy source could be read.
var ErrAllSourcesFailed = errors.New("proxy: all proxy sources failed")

// Source is one upstream proxy list.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// NewTransport returns the transport used to read proxy lists.
func NewTransport(timeout time.Duration, verifyTLS bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !verifyTLS}, //nolint:gosec // operator opt-in
	}
}

// Normalize reduces an entry to host:port. A scheme prefix is stripped when
// it is http or https; any other scheme, or a malformed entry, is rejected.
func Normalize(entry string) (string, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", false
	}
	if scheme, rest, ok := strings.Cut(entry, "://"); ok {
		switch strings.ToLower(scheme) {
		case "http", "https":
			entry = rest
		default:
			return "", false
		}
	}
	host, port, err := net.SplitHostPort(entry)
	if err != nil || host == "" {
		return "", false
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", false
	}
	return net.JoinHostPort(host, port), true
}

// FreeProxyList scrapes the table published on free-proxy-list.net.
type FreeProxyList struct {
	url       string
	transport http.RoundTripper
	timeout   time.Duration
}

func NewFreeProxyList(url string, transport http.RoundTripper, timeout time.Duration) *FreeProxyList {
	return &FreeProxyList{url: url, transport: transport, timeout: timeout}
}

func (f *FreeProxyList) Name() string { return "free-proxy-list" }

func (f *FreeProxyList) Fetch(ctx context.Context) ([]string, error) {
	collector := colly.NewCollector()
	collector.SetRequestTimeout(f.timeout)
	if f.transport != nil {
		collector.WithTransport(f.transport)
	}

	var proxies []string
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnHTML("table.table.table-striped.table-bordered > tbody > tr", func(e *colly.HTMLElement) {
		ip := strings.TrimSpace(e.ChildText("td:nth-child(1)"))
		port := strings.TrimSpace(e.ChildText("td:nth-child(2)"))
		if endpoint, ok := Normalize(ip + ":" + port); ok {
			proxies = append(proxies, endpoint)
		}
	})

	if err := collector.Visit(f.url); err != nil {
		return nil, fmt.Errorf("visit %s: %w", f.url, err)
	}
	collector.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return proxies, nil
}

// ProxyScrape reads the plain-text list served by api.proxyscrape.com, one
// scheme://host:port entry per line.
type ProxyScrape struct {
	url    string
	client *http.Client
}

func NewProxyScrape(url string, transport http.RoundTripper, timeout time.Duration) *ProxyScrape {
	return &ProxyScrape{url: url, client: &http.Client{Transport: transport, Timeout: timeout}}
}

func (p *ProxyScrape) Name() string { return "proxyscrape" }

func (p *ProxyScrape) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return parseLines(resp.Body)
}

func parseLines(r io.Reader) ([]string, error) {
	var proxies []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if endpoint, ok := Normalize(scanner.Text()); ok {
			proxies = append(proxies, endpoint)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	return proxies, nil
}

// StaticSource serves a fixed list, typically from configuration.
type StaticSource struct {
	proxies []string
}

func NewStaticSource(entries []string) *StaticSource {
	s := &StaticSource{}
	for _, e := range entries {
		if endpoint, ok := Normalize(e); ok {
			s.proxies = append(s.proxies, endpoint)
		}
	}
	return s
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(context.Context) ([]string, error) {
	return append([]string(nil), s.proxies...), nil
}

// MultiSource reads every source under its own retry policy and merges the
// results. A failing source is tolerated as long as another one answers.
type MultiSource struct {
	sources []Source
	policy  scraper.RetryPolicy
	logger  *slog.Logger
	metrics *scraper.Metrics
}

func NewMultiSource(policy scraper.RetryPolicy, logger *slog.Logger, metrics *scraper.Metrics, sources ...Source) *MultiSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSource{sources: sources, policy: policy, logger: logger, metrics: metrics}
}

// NewSourcesFromConfig returns the static source when proxies are
// configured, otherwise both public lists.
func NewSourcesFromConfig(cfg *config.Config, logger *slog.Logger, metrics *scraper.Metrics) *MultiSource {
	policy := scraper.PolicyFromConfig(cfg.ProxyRetry)
	if len(cfg.Proxies) > 0 {
		return NewMultiSource(policy, logger, metrics, NewStaticSource(cfg.Proxies))
	}
	transport := NewTransport(cfg.Timeout, cfg.VerifyTLS)
	return NewMultiSource(policy, logger, metrics,
		NewFreeProxyList(cfg.Sources.FreeProxyListURL, transport, cfg.Timeout),
		NewProxyScrape(cfg.Sources.ProxyScrapeURL, transport, cfg.Timeout),
	)
}

// Acquire returns the shuffled, de-duplicated union of all sources.
func (m *MultiSource) Acquire(ctx context.Context) ([]string, error) {
	if len(m.sources) == 0 {
		return nil, ErrNoProxies
	}
	var (
		all    []string
		errs   []error
		seen   = make(map[string]struct{})
		failed int
	)
	for _, src := range m.sources {
		logger := m.logger.With(slog.String("source", src.Name()))
		proxies, err := scraper.Retry(ctx, m.policy, "proxy source "+src.Name(), logger, m.metrics, src.Fetch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			logger.Warn("proxy source failed", slog.Any("error", err))
			continue
		}

		unique := 0
		for _, p := range proxies {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			all = append(all, p)
			unique++
		}
		logger.Debug("proxy source read", slog.Int("total", len(proxies)), slog.Int("unique", unique))
	}

	if failed == len(m.sources) {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	if len(all) == 0 {
		return nil, ErrNoProxies
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all, nil
}
