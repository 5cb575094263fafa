package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/models"
)

var errTimeout = errs.New(errs.ErrorTypePageLoadTimeout, "no posts rendered")

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
	}

	for _, test := range tests {
		if delay := backoff.NextDelay(test.attempt); delay != test.expected {
			t.Errorf("attempt %d: expected %v, got %v", test.attempt, test.expected, delay)
		}
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		d := backoff.NextDelay(2)
		if d < 140*time.Millisecond || d > 260*time.Millisecond {
			t.Fatalf("delay %v outside jitter window", d)
		}
		delays[d] = true
	}
	if len(delays) < 2 {
		t.Error("expected jitter to vary delays")
	}
}

func TestRandomBackoff(t *testing.T) {
	b := &RandomBackoff{Bounds: models.DelayBounds{Min: 3 * time.Second, Max: 6 * time.Second}}
	for i := 1; i < 20; i++ {
		d := b.NextDelay(i)
		if d < 3*time.Second || d > 6*time.Second {
			t.Fatalf("delay %v outside bounds", d)
		}
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 3 {
			return errTimeout
		}
		return nil
	}

	err := Do(context.Background(), op, &Config{
		MaxAttempts: 5,
		Backoff:     constant(time.Millisecond),
	})
	if err != nil {
		t.Errorf("expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return errTimeout
	}, &Config{
		MaxAttempts: 3,
		Backoff:     constant(10 * time.Millisecond),
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || attempts != 3 {
		t.Errorf("expected 3 attempts, got %d/%d", exhausted.Attempts, attempts)
	}
	if errs.TypeOf(err) != errs.ErrorTypePageLoadTimeout {
		t.Errorf("expected page load timeout classification, got %s", errs.TypeOf(err))
	}
	// two waits between three attempts, none after the last
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("retry took too long: %v", elapsed)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authErr := errs.New(errs.ErrorTypeAuthenticationRequired, "redirected to login")

	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return authErr
	}, &Config{MaxAttempts: 5, Backoff: constant(time.Millisecond)})

	if err != authErr {
		t.Errorf("expected auth error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryUnclassifiedErrorNotRetried(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("boom")
	}, &Config{MaxAttempts: 5})
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errTimeout
	}, &Config{MaxAttempts: 5, Backoff: constant(50 * time.Millisecond)})

	if errs.TypeOf(err) != errs.ErrorTypeCancelled {
		t.Errorf("expected cancelled classification, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts before cancellation, got %d", attempts)
	}
}

func TestAttemptTimeout(t *testing.T) {
	var deadlines []bool
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		<-ctx.Done()
		return errs.Wrap(errs.ErrorTypePageLoadTimeout, "waiting for posts", ctx.Err())
	}, &Config{MaxAttempts: 2, AttemptTimeout: 20 * time.Millisecond})

	if errs.TypeOf(err) != errs.ErrorTypePageLoadTimeout {
		t.Errorf("expected page load timeout, got %v", err)
	}
	if len(deadlines) != 2 || !deadlines[0] || !deadlines[1] {
		t.Errorf("expected every attempt to carry a deadline, got %v", deadlines)
	}
}

func TestDoWithResult(t *testing.T) {
	result, err := DoWithResult(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		if attempt < 2 {
			return "", errTimeout
		}
		return "success", nil
	}, &Config{MaxAttempts: 3, Backoff: constant(time.Millisecond)})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got '%s'", result)
	}
}

func TestWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("expected nil for zero delay, got %v", err)
	}
}

// constant is a fixed-delay backoff
func constant(d time.Duration) BackoffStrategy {
	return &RandomBackoff{Bounds: models.DelayBounds{Min: d, Max: d}}
}

func TestRetryUsesConfiguredWait(t *testing.T) {
	var waits []time.Duration
	bounds := models.DelayBounds{Min: 2 * time.Second, Max: 4 * time.Second}

	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errTimeout
		}
		return nil
	}, &Config{
		MaxAttempts: 3,
		Backoff:     &RandomBackoff{Bounds: bounds},
		Wait: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits, got %v", waits)
	}
	for _, d := range waits {
		if d < bounds.Min || d > bounds.Max {
			t.Errorf("wait %v outside %v..%v", d, bounds.Min, bounds.Max)
		}
	}
}
