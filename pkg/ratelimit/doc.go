// Package ratelimit paces page navigations so that feed searches and reply
// threads are not opened faster than the site tolerates.
//
// TokenBucket wraps golang.org/x/time/rate. Unlimited is a no-op Limiter for
// tests and offline replay.
//
//	limiter := ratelimit.PerMinute(20, 1)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
