package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces an operation such as a page navigation
type Limiter interface {
	// Allow reports whether an event may happen now, consuming a token if so
	Allow() bool
	// Wait blocks until an event may happen or ctx is done
	Wait(ctx context.Context) error
	// Reset refills the limiter
	Reset()
}

// TokenBucket is a Limiter backed by golang.org/x/time/rate
type TokenBucket struct {
	interval time.Duration
	limit    rate.Limit
	burst    int

	mu sync.Mutex
	rl *rate.Limiter
}

// NewTokenBucket allows burst events at once and refills one token per
// interval. A non-positive interval disables limiting.
func NewTokenBucket(burst int, interval time.Duration) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &TokenBucket{
		interval: max(interval, 0),
		limit:    limit,
		burst:    burst,
		rl:       rate.NewLimiter(limit, burst),
	}
}

// PerMinute builds a bucket allowing n events per minute; n <= 0 is unlimited
func PerMinute(n, burst int) *TokenBucket {
	if n <= 0 {
		return NewTokenBucket(burst, 0)
	}
	return NewTokenBucket(burst, time.Minute/time.Duration(n))
}

func (tb *TokenBucket) limiter() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.rl
}

func (tb *TokenBucket) Allow() bool {
	return tb.limiter().Allow()
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	if err := tb.limiter().Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.rl = rate.NewLimiter(tb.limit, tb.burst)
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Allow() bool                { return true }
func (Unlimited) Wait(context.Context) error { return nil }
func (Unlimited) Reset()                     {}
