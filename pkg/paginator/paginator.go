// Package paginator drives an infinitely scrolling page forward and decides
// when it has stopped producing content.
//
// Asynchronous rendering often reports an unchanged page extent on the first
// check after a scroll, so a single unchanged reading is not treated as
// exhaustion. Only StagnationTolerance consecutive unchanged readings stall
// the feed.
package paginator

import (
	"context"
	stderrors "errors"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/retry"
)

// DefaultStagnationTolerance is the number of consecutive unchanged
// measurements that stall a feed
const DefaultStagnationTolerance = 2

// Result is the outcome of one Advance call
type Result int

const (
	Continue Result = iota
	Stalled
)

func (r Result) String() string {
	if r == Stalled {
		return "stalled"
	}
	return "continue"
}

// Scroller is the part of a page driver the paginator needs
type Scroller interface {
	ScrollToLoadMore(ctx context.Context) error
	CurrentScrollExtent(ctx context.Context) (int, error)
}

// ScrollState is scoped to one crawl session and never persisted
type ScrollState struct {
	LastPageExtent  int
	StagnationCount int
	Measurements    int
}

// WaitFunc blocks for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

// Paginator scrolls a page and tracks its extent
type Paginator struct {
	scroller  Scroller
	tolerance int
	delay     models.DelayBounds
	wait      WaitFunc
	logger    logger.Logger
	state     ScrollState
}

// Option configures a Paginator
type Option func(*Paginator)

// WithTolerance sets the stagnation tolerance
func WithTolerance(n int) Option {
	return func(p *Paginator) {
		if n > 0 {
			p.tolerance = n
		}
	}
}

// WithDelay sets the randomized post-scroll wait
func WithDelay(d models.DelayBounds) Option {
	return func(p *Paginator) { p.delay = d }
}

// WithWait replaces the wait implementation; tests use it to avoid sleeping
func WithWait(w WaitFunc) Option {
	return func(p *Paginator) {
		if w != nil {
			p.wait = w
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(p *Paginator) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Paginator over s
func New(s Scroller, opts ...Option) *Paginator {
	p := &Paginator{
		scroller:  s,
		tolerance: DefaultStagnationTolerance,
		wait:      retry.Wait,
		logger:    logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a copy of the current scroll state
func (p *Paginator) State() ScrollState {
	return p.state
}

// Prime records the starting extent before the first scroll
func (p *Paginator) Prime(ctx context.Context) error {
	extent, err := p.scroller.CurrentScrollExtent(ctx)
	if err != nil {
		return classify(ctx, "measure initial extent", err)
	}
	p.state = ScrollState{LastPageExtent: extent}
	return nil
}

// Advance scrolls to the bottom, waits for content and re-measures. It
// returns Stalled once the extent has not grown for tolerance consecutive
// measurements.
func (p *Paginator) Advance(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Continue, classify(ctx, "advance", err)
	}

	if err := p.scroller.ScrollToLoadMore(ctx); err != nil {
		return Continue, classify(ctx, "scroll", err)
	}

	delay := p.delay.Random()
	if err := p.wait(ctx, delay); err != nil {
		return Continue, classify(ctx, "wait after scroll", err)
	}

	extent, err := p.scroller.CurrentScrollExtent(ctx)
	if err != nil {
		return Continue, classify(ctx, "measure extent", err)
	}
	p.state.Measurements++

	if extent > p.state.LastPageExtent {
		p.state.LastPageExtent = extent
		p.state.StagnationCount = 0
		p.logger.DebugWithFields("page extent grew", map[string]interface{}{
			"extent":   extent,
			"delay_ms": delay.Milliseconds(),
		})
		return Continue, nil
	}

	p.state.StagnationCount++
	p.logger.DebugWithFields("page extent unchanged", map[string]interface{}{
		"extent":     extent,
		"stagnation": p.state.StagnationCount,
		"tolerance":  p.tolerance,
	})
	if p.state.StagnationCount >= p.tolerance {
		return Stalled, nil
	}
	return Continue, nil
}

func classify(ctx context.Context, op string, err error) error {
	var e *errs.Error
	if stderrors.As(err, &e) {
		return err
	}
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypeCancelled, op, err)
	}
	return errs.Wrap(errs.ErrorTypeDriver, op, err)
}
