package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles background scans (repair jobs, reconciler pages) so
// they do not starve foreground traffic against the metadata store.
//
// It is a token bucket: tokens are added at itemsPerSecond, each scanned item
// consumes one, and burst caps how many items can be read back-to-back after
// an idle period.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Special cases:
//   - itemsPerSecond = 0: no limiting
//   - burst = 0: defaults to itemsPerSecond
func New(itemsPerSecond, burst uint) *RateLimiter {
	if itemsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = itemsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(itemsPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter never blocks.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Allow consumes one token without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// WaitN blocks until n tokens are available or ctx is cancelled.
//
// n larger than the burst is clamped so that a large page never fails
// outright; it just takes longer to be admitted.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r.Unlimited() || n <= 0 {
		return ctx.Err()
	}
	if burst := r.limiter.Burst(); n > burst {
		n = burst
	}
	return r.limiter.WaitN(ctx, n)
}

// Wait blocks until a single token is available.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.WaitN(ctx, 1)
}
