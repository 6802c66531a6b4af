// Package proxy keeps the working set of proxy endpoints used by the
// extractors and refills it from public proxy lists.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

// ErrNoProxies is returned when a refresh yields an empty pool.
var ErrNoProxies = errors.New("proxy: no proxies available")

// Acquirer produces a fresh list of host:port endpoints.
type Acquirer interface {
	Acquire(ctx context.Context) ([]string, error)
}

// Pool is a shrinkable, concurrency-safe set of proxy endpoints. Endpoints
// are evicted after a blocked request and the whole set is fetched again
// once it runs dry.
type Pool struct {
	source  Acquirer
	logger  *slog.Logger
	metrics *scraper.Metrics

	mu      sync.Mutex
	proxies []string

	refresh singleflight.Group
}

// NewPool returns an empty pool; the first Pick fills it.
func NewPool(source Acquirer, logger *slog.Logger, metrics *scraper.Metrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{source: source, logger: logger, metrics: metrics}
}

// Refresh discards the current endpoints and fetches a new set. Concurrent
// callers share one fetch.
func (p *Pool) Refresh(ctx context.Context) error {
	return p.fetch(ctx, "refresh", false)
}

// refill fetches a new set only if the pool is still empty when the shared
// fetch starts, so a worker arriving after another refill completed keeps
// the endpoints it produced.
func (p *Pool) refill(ctx context.Context) error {
	return p.fetch(ctx, "refill", true)
}

func (p *Pool) fetch(ctx context.Context, key string, onlyIfEmpty bool) error {
	ch := p.refresh.DoChan(key, func() (any, error) {
		if onlyIfEmpty {
			p.mu.Lock()
			n := len(p.proxies)
			p.mu.Unlock()
			if n > 0 {
				return n, nil
			}
		}

		proxies, err := p.source.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if len(proxies) == 0 {
			return nil, ErrNoProxies
		}

		p.mu.Lock()
		p.proxies = slices.Clone(proxies)
		n := len(p.proxies)
		p.mu.Unlock()

		p.metrics.IncRefresh()
		p.metrics.SetPoolSize(n)
		p.logger.Info("proxy pool refreshed", slog.Int("size", n))
		return n, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("refresh proxy pool: %w", res.Err)
		}
		return nil
	}
}

// Pick returns a uniformly random endpoint and its current index, refreshing
// the pool first when it is empty.
func (p *Pool) Pick(ctx context.Context) (int, string, error) {
	for {
		p.mu.Lock()
		if n := len(p.proxies); n > 0 {
			i := rand.IntN(n)
			endpoint := p.proxies[i]
			p.mu.Unlock()
			return i, endpoint, nil
		}
		p.mu.Unlock()

		if err := p.refill(ctx); err != nil {
			return 0, "", err
		}
	}
}

// Evict removes endpoint from the pool. If another worker shifted the slice
// since index was handed out, the endpoint is looked up by value; evicting an
// endpoint that is already gone is a no-op.
func (p *Pool) Evict(index int, endpoint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.proxies) || p.proxies[index] != endpoint {
		index = slices.Index(p.proxies, endpoint)
		if index < 0 {
			return false
		}
	}
	p.proxies = slices.Delete(p.proxies, index, index+1)
	p.metrics.SetPoolSize(len(p.proxies))
	return true
}

// Len reports the number of endpoints currently in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Snapshot returns a copy of the current endpoints.
func (p *Pool) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.proxies)
}
