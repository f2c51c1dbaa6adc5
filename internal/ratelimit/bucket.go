// Package ratelimit provides the token bucket shared by all REST callers.
//
// The bucket is constructed once at startup and injected into the scheduler;
// there is no package-level singleton.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when tokens could not be acquired before the
// caller's deadline.
var ErrRateLimited = errors.New("rate limit exceeded")

// Bucket is a token bucket with continuous refill. Capacity and refill rate
// are configured below the provider's advertised quota to leave headroom for
// retries.
type Bucket struct {
	limiter  *rate.Limiter
	capacity int
}

// New creates a bucket holding at most capacity tokens, refilled at
// refillPerMinute tokens per minute. The bucket starts full.
func New(capacity, refillPerMinute int) *Bucket {
	perSec := rate.Limit(float64(refillPerMinute) / 60.0)
	return &Bucket{
		limiter:  rate.NewLimiter(perSec, capacity),
		capacity: capacity,
	}
}

// TryAcquire takes n tokens if they are available right now.
func (b *Bucket) TryAcquire(n int) bool {
	return b.limiter.AllowN(time.Now(), n)
}

// Acquire suspends until n tokens are available or ctx expires. A deadline
// expiry surfaces as ErrRateLimited; a plain cancellation surfaces as the
// context's own error so shutdown is distinguishable from quota pressure.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	if n > b.capacity {
		return ErrRateLimited
	}
	if err := b.limiter.WaitN(ctx, n); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return ErrRateLimited
	}
	return nil
}

// Tokens reports the current balance. Callers only ever observe a
// non-negative value.
func (b *Bucket) Tokens() float64 {
	t := b.limiter.TokensAt(time.Now())
	if t < 0 {
		return 0
	}
	return t
}

// Capacity returns the configured bucket capacity.
func (b *Bucket) Capacity() int {
	return b.capacity
}
