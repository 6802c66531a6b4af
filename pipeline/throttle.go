package pipeline

import (
	"context"
	"math/rand/v2"
	"time"
)

// Throttle sleeps a uniformly drawn duration between requests.
type Throttle struct {
	Min time.Duration
	Max time.Duration
}

// Wait blocks for the drawn duration or until ctx is done.
func (t Throttle) Wait(ctx context.Context) error {
	d := t.Min
	if t.Max > t.Min {
		d += time.Duration(rand.Int64N(int64(t.Max-t.Min) + 1))
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
