package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/logger"
)

// Operation is one attempt of a retried action. ctx is bounded by the
// per-attempt timeout when one is configured.
type Operation func(ctx context.Context, attempt int) error

// OperationWithResult is an Operation that also produces a value
type OperationWithResult[T any] func(ctx context.Context, attempt int) (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// AttemptTimeout bounds each attempt (0 means no per-attempt bound)
	AttemptTimeout time.Duration
	// Backoff strategy used between attempts
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Wait sleeps between attempts; nil uses Wait
	Wait func(ctx context.Context, d time.Duration) error
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// DefaultRetryIf retries classified errors whose type is retryable. Context
// errors and unclassified errors are not retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	// classification wins over the cause: a page load timeout usually wraps
	// the attempt's context.DeadlineExceeded
	var e *errs.Error
	if errors.As(err, &e) {
		return errs.IsRetryable(e.Type)
	}
	return false
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do executes op until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx is done.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.ErrorTypeCancelled, "retry cancelled", err)
		}

		err := runAttempt(ctx, op, attempt, cfg.AttemptTimeout)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		// the parent context ending during an attempt is a cancellation, not
		// an attempt timeout
		if ctx.Err() != nil {
			return errs.Wrap(errs.ErrorTypeCancelled, "retry cancelled", ctx.Err())
		}

		if !retryIf(err) {
			log.DebugWithFields("error is not retryable", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		wait := cfg.Wait
		if wait == nil {
			wait = Wait
		}
		if err := wait(ctx, delay); err != nil {
			return errs.Wrap(errs.ErrorTypeCancelled, "retry cancelled", err)
		}
	}
}

func runAttempt(ctx context.Context, op Operation, attempt int, timeout time.Duration) error {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx, attempt)
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(ctx, func(ctx context.Context, attempt int) error {
		var opErr error
		result, opErr = op(ctx, attempt)
		return opErr
	}, cfg)

	return result, err
}
