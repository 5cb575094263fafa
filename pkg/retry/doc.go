// Package retry runs an operation a bounded number of times with a backoff
// between attempts and an optional timeout per attempt.
//
// Only classified errors whose type is retryable (see pkg/errors) are retried
// by default; everything else is returned on first failure. Crawl sessions use
// it for the load-wait step:
//
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//		return waitForPosts(ctx)
//	}, &retry.Config{
//		MaxAttempts:    3,
//		AttemptTimeout: 10 * time.Second,
//		Backoff:        &retry.RandomBackoff{Bounds: target.Delay},
//	})
//
// Exhausted attempts return *ExhaustedError wrapping the last error, so
// errors.TypeOf still reports the last attempt's classification. Cancellation
// of ctx is reported as ErrorTypeCancelled.
package retry
