package scraper

import (
	"context"
	"sync"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/identity"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/paginator"
	"feedcrawler/pkg/ratelimit"
	"feedcrawler/pkg/retry"
)

// Crawler runs sessions one after another over a single page driver
type Crawler struct {
	mu sync.Mutex

	driver      PageDriver
	reporter    Reporter
	limiter     ratelimit.Limiter
	extractor   *extract.Extractor
	observer    Observer
	logger      logger.Logger
	baseURL     string
	threadDelay models.DelayBounds
	wait        paginator.WaitFunc
}

// CrawlerOption configures a Crawler
type CrawlerOption func(*Crawler)

// WithLimiter paces navigations
func WithLimiter(l ratelimit.Limiter) CrawlerOption {
	return func(c *Crawler) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithCrawlerExtractor sets the extractor shared by all sessions
func WithCrawlerExtractor(e *extract.Extractor) CrawlerOption {
	return func(c *Crawler) {
		if e != nil {
			c.extractor = e
		}
	}
}

// WithCrawlerObserver sets the metrics observer
func WithCrawlerObserver(o Observer) CrawlerOption {
	return func(c *Crawler) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithCrawlerLogger sets the logger
func WithCrawlerLogger(l logger.Logger) CrawlerOption {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCrawlerBaseURL sets the site root
func WithCrawlerBaseURL(base string) CrawlerOption {
	return func(c *Crawler) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithThreadDelay sets the pause between reply threads
func WithThreadDelay(d models.DelayBounds) CrawlerOption {
	return func(c *Crawler) { c.threadDelay = d }
}

// WithCrawlerWait replaces every wait; tests use it to avoid sleeping
func WithCrawlerWait(w paginator.WaitFunc) CrawlerOption {
	return func(c *Crawler) {
		if w != nil {
			c.wait = w
		}
	}
}

// NewCrawler creates a Crawler that owns driver
func NewCrawler(driver PageDriver, reporter Reporter, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		driver:      driver,
		reporter:    reporter,
		limiter:     ratelimit.Unlimited{},
		extractor:   extract.New(extract.Selectors{}),
		observer:    nopObserver{},
		logger:      logger.NewNopLogger(),
		baseURL:     DefaultBaseURL,
		threadDelay: models.DelayBounds{Min: 3 * time.Second, Max: 6 * time.Second},
		wait:        retry.Wait,
	}
	if c.reporter == nil {
		c.reporter = NopReporter{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl runs one session for target. Concurrent calls are serialized because
// they share the page.
func (c *Crawler) Crawl(ctx context.Context, target models.CrawlTarget) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		s := c.session(target)
		out := s.fail(errs.Wrap(errs.ErrorTypeCancelled, "waiting for rate limiter", err))
		s.finish(ctx, out)
		return out
	}

	return c.session(target).Run(ctx)
}

func (c *Crawler) session(target models.CrawlTarget) *Session {
	return NewSession(c.driver, target,
		WithExtractor(c.extractor),
		WithTracker(identity.NewTracker()),
		WithReporter(c.reporter),
		WithObserver(c.observer),
		WithSessionLogger(c.logger.WithField("kind", string(target.Kind))),
		WithBaseURL(c.baseURL),
		WithWaitFunc(c.wait),
	)
}

// ReplyPlan selects which reply threads CrawlWithReplies visits
type ReplyPlan struct {
	// Threads is how many of the first feed posts get their replies crawled
	Threads int
	// MaxReplies caps each thread
	MaxReplies int
	// Skip returns true for threads that should not be crawled, such as
	// threads completed by an earlier run
	Skip func(url string) bool
	// OnThreadDone is called after every thread session
	OnThreadDone func(url string, out Outcome)
}

// ThreadOutcome is the outcome of one reply thread
type ThreadOutcome struct {
	URL     string
	Outcome Outcome
}

// RunSummary is the result of a feed crawl and its reply threads
type RunSummary struct {
	Feed    Outcome
	Threads []ThreadOutcome
	// Aborted is set when a fatal thread failure stopped the run early
	Aborted error
}

// Replies returns the reply records of every thread in visit order
func (r *RunSummary) Replies() []models.Record {
	var out []models.Record
	for _, t := range r.Threads {
		out = append(out, t.Outcome.Records...)
	}
	return out
}

// CrawlWithReplies crawls the feed for target, then the reply threads of the
// first plan.Threads posts that have permalinks. A failed thread is logged
// and skipped unless its failure is fatal for the whole run.
func (c *Crawler) CrawlWithReplies(ctx context.Context, target models.CrawlTarget, plan ReplyPlan) *RunSummary {
	summary := &RunSummary{Feed: c.Crawl(ctx, target)}
	if plan.Threads <= 0 || plan.MaxReplies <= 0 {
		return summary
	}
	if summary.Feed.State == StateFailed && errs.IsFatal(summary.Feed.Classification()) {
		summary.Aborted = summary.Feed.Err
		return summary
	}

	threads := threadURLs(summary.Feed.Records, plan.Threads)
	for i, url := range threads {
		if plan.Skip != nil && plan.Skip(url) {
			c.logger.DebugWithFields("thread already crawled", map[string]interface{}{"url": url})
			continue
		}

		if err := c.wait(ctx, c.threadDelay.Random()); err != nil {
			summary.Aborted = errs.Wrap(errs.ErrorTypeCancelled, "waiting between threads", err)
			return summary
		}

		c.logger.InfoWithFields("crawling reply thread", map[string]interface{}{
			"thread": i + 1,
			"of":     len(threads),
			"url":    url,
		})

		tt := target
		tt.Kind = models.KindReply
		tt.URL = url
		tt.Since = ""
		tt.MaxRecords = plan.MaxReplies

		out := c.Crawl(ctx, tt)
		summary.Threads = append(summary.Threads, ThreadOutcome{URL: url, Outcome: out})
		if plan.OnThreadDone != nil {
			plan.OnThreadDone(url, out)
		}

		if out.State == StateFailed {
			if errs.IsFatal(out.Classification()) {
				summary.Aborted = out.Err
				return summary
			}
			c.logger.WithError(out.Err).WarnWithFields("reply thread failed, continuing", map[string]interface{}{
				"url": url,
			})
		}
	}

	return summary
}

func threadURLs(posts []models.Record, n int) []string {
	var out []string
	for _, p := range posts {
		if len(out) == n {
			break
		}
		if p.Permalink != "" {
			out = append(out, p.Permalink)
		}
	}
	return out
}
