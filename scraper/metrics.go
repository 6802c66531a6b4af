package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RetriesTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	ItemsTotal       *prometheus.CounterVec
	ProxyEvictions   prometheus.Counter
	ProxyRefreshes   prometheus.Counter
	ProxyPoolSize    prometheus.Gauge
	FailedPages      prometheus.Counter
	DuplicateReviews prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "HTTP requests issued, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "HTTP request latency by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Retry attempts scheduled, by operation.",
		}, []string{"operation"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Request errors by type.",
		}, []string{"error_type"}),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_items_total",
			Help: "Records persisted, by kind.",
		}, []string{"kind"}),
		ProxyEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_proxy_evictions_total",
			Help: "Proxies removed from the pool after a blocked request.",
		}),
		ProxyRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_proxy_refreshes_total",
			Help: "Full proxy pool refreshes.",
		}),
		ProxyPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_proxy_pool_size",
			Help: "Proxies currently in the pool.",
		}),
		FailedPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_review_pages_failed_total",
			Help: "Review pages skipped after an unrecoverable error.",
		}),
		DuplicateReviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_duplicate_reviews_total",
			Help: "Reviews seen on more than one page of the same product.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RetriesTotal, m.ErrorsTotal, m.ItemsTotal,
		m.ProxyEvictions, m.ProxyRefreshes, m.ProxyPoolSize, m.FailedPages, m.DuplicateReviews,
	)
	return m
}

// IncRequest counts one request to endpoint with its outcome.
func (m *Metrics) IncRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncRetries increments the retries counter for an operation.
func (m *Metrics) IncRetries(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddItems adds n persisted records of kind.
func (m *Metrics) AddItems(kind string, n int) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	m.ProxyEvictions.Inc()
}

func (m *Metrics) IncRefresh() {
	if m == nil {
		return
	}
	m.ProxyRefreshes.Inc()
}

// SetPoolSize reports the current proxy pool size.
func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.ProxyPoolSize.Set(float64(n))
}

func (m *Metrics) IncFailedPage() {
	if m == nil {
		return
	}
	m.FailedPages.Inc()
}

func (m *Metrics) AddDuplicateReviews(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DuplicateReviews.Add(float64(n))
}
