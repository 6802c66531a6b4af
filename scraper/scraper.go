package scraper

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-reviews/config"
)

// ProxyPicker is the proxy pool as seen by the extractors.
type ProxyPicker interface {
	Pick(ctx context.Context) (int, string, error)
	Evict(index int, endpoint string) bool
	Len() int
}

// ClientFactory returns the HTTP client used to send one request through
// proxy. An empty proxy means a direct connection.
type ClientFactory func(proxy string) *http.Client

// NewProxyClientFactory builds a fresh transport per proxy endpoint.
func NewProxyClientFactory(timeout time.Duration, verifyTLS bool) ClientFactory {
	return func(proxy string) *http.Client {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   true,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !verifyTLS}, //nolint:gosec // operator opt-in
		}
		if proxy != "" {
			transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: proxy})
		}
		return &http.Client{Transport: transport, Timeout: timeout}
	}
}

// Client sends requests through a random proxy of the pool, evicting the
// proxy whenever the target answers with anything but 200.
type Client struct {
	cfg     *config.Config
	pool    ProxyPicker
	clients ClientFactory
	cookies []*http.Cookie
	limiter *rate.Limiter
	logger  *slog.Logger
	Metrics *Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for request and eviction lines.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the collectors the client reports to.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.Metrics = m }
}

// WithClientFactory replaces the per-proxy HTTP client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Client) { c.clients = f }
}

// NewClient builds a client configured from cfg.
func NewClient(cfg *config.Config, pool ProxyPicker, opts ...Option) (*Client, error) {
	if pool == nil {
		return nil, fmt.Errorf("proxy pool is required")
	}

	cookies, err := cfg.Site.ParseCookies()
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &Client{
		cfg:     cfg,
		pool:    pool,
		clients: NewProxyClientFactory(cfg.Timeout, cfg.VerifyTLS),
		cookies: cookies,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do issues one attempt and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, endpoint string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	index, proxy, err := c.pool.Pick(ctx)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%w: %w", ErrProxyUnavailable, err))
	}

	req, err := build(ctx)
	if err != nil {
		return nil, Permanent(fmt.Errorf("build %s request: %w", endpoint, err))
	}

	start := time.Now()
	resp, err := c.clients(proxy).Do(req)
	c.Metrics.ObserveDuration(endpoint, time.Since(start))
	if err != nil {
		classified := transportError(err)
		c.Metrics.IncRequest(endpoint, "error")
		c.Metrics.IncError(ClassifyError(classified))
		if c.cfg.EvictOnNetworkError && c.pool.Evict(index, proxy) {
			c.Metrics.IncEviction()
		}
		return nil, fmt.Errorf("%s via %s: %w", endpoint, proxy, classified)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if c.pool.Evict(index, proxy) {
			c.Metrics.IncEviction()
		}
		blocked := &BlockedError{
			StatusCode: resp.StatusCode,
			Proxy:      proxy,
			Remaining:  c.pool.Len(),
			URL:        req.Header.Get("referer"),
		}
		if blocked.URL == "" {
			blocked.URL = req.URL.String()
		}
		c.Metrics.IncRequest(endpoint, "blocked")
		c.Metrics.IncError(ClassifyError(blocked))
		c.logger.Debug("proxy evicted",
			slog.String("endpoint", endpoint),
			slog.Int("status", blocked.StatusCode),
			slog.String("proxy", proxy),
			slog.Int("remaining", blocked.Remaining),
		)
		return nil, blocked
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.Metrics.IncRequest(endpoint, "error")
		return nil, fmt.Errorf("read %s body: %w", endpoint, transportError(err))
	}
	c.Metrics.IncRequest(endpoint, "ok")
	return body, nil
}

func (c *Client) applyHeaders(req *http.Request, base map[string]string) {
	headers := MixHeaders(base, fingerprintHeaders)
	headers["user-agent"] = RandomUserAgent(c.cfg.UserAgents)
	for k, v := range headers {
		if v == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
}
