package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/config"
)

// RetryForever disables the retry budget.
const RetryForever = config.RetryForever

// RetryPolicy describes how a fallible call is repeated. Retries counts the
// attempts made after the first one.
type RetryPolicy struct {
	Retries       int
	MinDelay      time.Duration
	MaxDelay      time.Duration
	Verbose       int
	VerbosePeriod int
}

// PolicyFromConfig converts a config block into a RetryPolicy.
func PolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		Retries:       rc.Retries,
		MinDelay:      rc.DelayMin,
		MaxDelay:      rc.DelayMax,
		Verbose:       rc.Verbose,
		VerbosePeriod: rc.VerbosePeriod,
	}
}

func (p RetryPolicy) delay() time.Duration {
	if p.MaxDelay <= p.MinDelay {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(rand.Int64N(int64(p.MaxDelay-p.MinDelay)+1))
}

func (p RetryPolicy) shouldLog(failures int) bool {
	period := p.VerbosePeriod
	if period <= 0 {
		period = 1
	}
	return failures%period == 0
}

// Retry runs op until it succeeds, the budget runs out, op returns an error
// marked Permanent, or ctx is done. Every other error is retried after a
// uniformly drawn delay.
func Retry[T any](ctx context.Context, p RetryPolicy, name string, logger *slog.Logger, metrics *Metrics, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	failures := 0
	for {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if isPermanent(err) {
			return zero, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%s: %w", name, ctxErr)
		}

		failures++
		switch {
		case p.Verbose >= 2 && p.shouldLog(failures):
			logger.Warn("retrying after failure",
				slog.String("operation", name),
				slog.Int("attempt", failures),
				slog.Any("error", err),
			)
		case p.Verbose == 1 && p.shouldLog(failures):
			logger.Warn("retrying after failure",
				slog.String("operation", name),
				slog.Int("attempt", failures),
			)
		default:
			logger.Debug("retrying after failure",
				slog.String("operation", name),
				slog.Int("attempt", failures),
				slog.Any("error", err),
			)
		}

		if p.Retries != RetryForever && failures > p.Retries {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrRetriesExhausted, failures, err)
		}
		metrics.IncRetries(name)

		timer := time.NewTimer(p.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
}
