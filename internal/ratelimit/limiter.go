// Package ratelimit enforces the minimum inter-request interval for one task run.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/spidercast/spidercast/internal/metrics"
)

// Limiter hands out permits no faster than the configured requests per
// second. One instance is scoped to one task run; tasks never share a
// watermark. Callers are ordered cooperatively, not fair-queued.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a Limiter allowing perSec acquisitions per second with no
// burst. A non-positive rate disables limiting.
func New(perSec float64) *Limiter {
	r := rate.Limit(perSec)
	if perSec <= 0 {
		r = rate.Inf
	}
	return &Limiter{lim: rate.NewLimiter(r, 1)}
}

// Wait blocks until at least 1/perSec seconds have elapsed since the previous
// permit, or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(delay)
	}
	return nil
}
