package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/identity"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/paginator"
	"feedcrawler/pkg/retry"
)

// State is a crawl session state
type State int

const (
	StateInit State = iota
	StateLoading
	StateExtracting
	StatePagination
	StateStalled
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoading:
		return "loading"
	case StateExtracting:
		return "extracting"
	case StatePagination:
		return "pagination"
	case StateStalled:
		return "stalled"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason explains why a successful session stopped
type StopReason string

const (
	StopReasonMaxRecords StopReason = "max_records"
	StopReasonStagnant   StopReason = StopReason(errs.ErrorTypeStagnantFeed)
)

// DefaultPollInterval is how often Loading re-reads the rendered posts
const DefaultPollInterval = 250 * time.Millisecond

// Outcome is the result of one session
type Outcome struct {
	State      State
	StopReason StopReason
	Records    []models.Record
	// Err is set when State is StateFailed and is always a classified error
	Err     error
	Passes  int
	Skipped int
}

// Classification returns the error type of a failed outcome, or ""
func (o Outcome) Classification() errs.ErrorType {
	return errs.TypeOf(o.Err)
}

// ManualInterventionRequired reports whether a human must clear a challenge
// before the target can be crawled again
func (o Outcome) ManualInterventionRequired() bool {
	return o.State == StateFailed && errs.RequiresManualIntervention(o.Classification())
}

// Session crawls one target over one page. A session runs once.
type Session struct {
	driver    PageDriver
	target    models.CrawlTarget
	extractor *extract.Extractor
	tracker   *identity.Tracker
	reporter  Reporter
	observer  Observer
	logger    logger.Logger
	baseURL   string
	poll      time.Duration
	wait      paginator.WaitFunc

	url         string
	pager       *paginator.Paginator
	records     []models.Record
	passes      int
	skipped     int
	transitions []State
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithExtractor sets the record extractor
func WithExtractor(e *extract.Extractor) SessionOption {
	return func(s *Session) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithTracker sets the identity tracker, for example one seeded from a
// checkpoint
func WithTracker(t *identity.Tracker) SessionOption {
	return func(s *Session) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithReporter sets where the outcome is reported
func WithReporter(r Reporter) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(l logger.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBaseURL sets the site root used for search URLs and permalinks
func WithBaseURL(base string) SessionOption {
	return func(s *Session) {
		if base != "" {
			s.baseURL = base
		}
	}
}

// WithPollInterval sets how often Loading re-reads the page
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithWaitFunc replaces every wait of the session; tests use it to avoid
// sleeping
func WithWaitFunc(w paginator.WaitFunc) SessionOption {
	return func(s *Session) {
		if w != nil {
			s.wait = w
		}
	}
}

// NewSession creates a session that owns driver until Run returns
func NewSession(driver PageDriver, target models.CrawlTarget, opts ...SessionOption) *Session {
	s := &Session{
		driver:    driver,
		target:    target,
		extractor: extract.New(extract.Selectors{}),
		tracker:   identity.NewTracker(),
		reporter:  NopReporter{},
		observer:  nopObserver{},
		logger:    logger.NewNopLogger(),
		baseURL:   DefaultBaseURL,
		poll:      DefaultPollInterval,
		wait:      retry.Wait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transitions returns the states visited so far, in order
func (s *Session) Transitions() []State {
	return append([]State(nil), s.transitions...)
}

// Run crawls until the record limit, feed exhaustion, a terminal error or
// cancellation. Records accumulated before a failure are returned and
// emitted.
func (s *Session) Run(ctx context.Context) Outcome {
	out := s.run(ctx)
	s.finish(ctx, out)
	return out
}

func (s *Session) run(ctx context.Context) Outcome {
	s.enter(StateInit)

	if err := s.target.Validate(); err != nil {
		return s.fail(errs.Wrap(errs.ErrorTypeConfig, "invalid crawl target", err))
	}
	if s.driver == nil {
		return s.fail(errs.New(errs.ErrorTypeConfig, "no page driver"))
	}

	s.url = s.target.URL
	if s.url == "" {
		s.url = SearchURL(s.baseURL, s.target.Subject, s.target.Since)
	}

	if err := s.driver.Navigate(ctx, s.url); err != nil {
		return s.fail(driverError(ctx, "navigate", err))
	}
	if err := s.checkPage(ctx); err != nil {
		return s.fail(err)
	}

	s.pager = paginator.New(s.driver,
		paginator.WithTolerance(s.target.StagnationTolerance),
		paginator.WithDelay(s.target.Delay),
		paginator.WithWait(s.wait),
		paginator.WithLogger(s.logger),
	)
	if err := s.pager.Prime(ctx); err != nil {
		return s.fail(err)
	}

	for {
		s.enter(StateLoading)
		handles, err := s.load(ctx)
		if err != nil {
			return s.fail(err)
		}

		s.enter(StateExtracting)
		if full := s.extractPass(handles); full {
			s.enter(StateDone)
			return s.done(StopReasonMaxRecords)
		}

		s.enter(StatePagination)
		res, err := s.pager.Advance(ctx)
		if err != nil {
			return s.fail(err)
		}
		if err := s.checkPage(ctx); err != nil {
			return s.fail(err)
		}
		if res == paginator.Stalled {
			s.enter(StateStalled)
			s.enter(StateDone)
			return s.done(StopReasonStagnant)
		}
	}
}

// load waits for at least one post to render, retrying on timeouts after a
// random pause within the target's delay bounds
func (s *Session) load(ctx context.Context) ([]extract.Handle, error) {
	cfg := &retry.Config{
		MaxAttempts:    s.target.LoadRetries,
		AttemptTimeout: s.target.LoadTimeout,
		Backoff:        &retry.RandomBackoff{Bounds: s.target.Delay},
		RetryIf:        retry.DefaultRetryIf,
		Wait:           s.wait,
		Logger:         s.logger,
	}

	handles, err := retry.DoWithResult(ctx, func(ctx context.Context, attempt int) ([]extract.Handle, error) {
		return s.pollHandles(ctx)
	}, cfg)
	if err == nil {
		return handles, nil
	}

	var exhausted *retry.ExhaustedError
	if stderrors.As(err, &exhausted) {
		return nil, errs.Wrap(errs.ErrorTypePageLoadTimeout,
			fmt.Sprintf("no posts rendered after %d attempts", exhausted.Attempts), exhausted.Last)
	}
	return nil, err
}

func (s *Session) pollHandles(ctx context.Context) ([]extract.Handle, error) {
	for {
		if err := s.checkPage(ctx); err != nil {
			return nil, timeoutOr(ctx, err)
		}

		handles, err := s.driver.CurrentPostHandles(ctx)
		if err != nil {
			return nil, timeoutOr(ctx, driverError(ctx, "read post handles", err))
		}
		if len(handles) > 0 {
			return handles, nil
		}

		if err := s.wait(ctx, s.poll); err != nil {
			return nil, timeoutOr(ctx, err)
		}
	}
}

// timeoutOr turns failures caused by the attempt deadline into page load
// timeouts so that the retry loop can try again
func timeoutOr(ctx context.Context, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypePageLoadTimeout, "waiting for posts", ctx.Err())
	}
	return err
}

// checkPage looks for a challenge or an unexpected redirect
func (s *Session) checkPage(ctx context.Context) error {
	present, err := s.driver.ChallengePresent(ctx)
	if err != nil {
		return driverError(ctx, "check challenge", err)
	}
	if present {
		return errs.New(errs.ErrorTypeChallengeDetected, "automated traffic challenge shown")
	}

	current, err := s.driver.CurrentURL(ctx)
	if err != nil {
		return driverError(ctx, "read current url", err)
	}
	if isChallengeURL(current) {
		return errs.New(errs.ErrorTypeChallengeDetected, "redirected to account access challenge")
	}
	if isAuthRedirect(current, s.url) {
		return errs.New(errs.ErrorTypeAuthenticationRequired, "redirected to "+current)
	}
	return nil
}

// extractPass extracts every handle in order and reports whether the record
// limit was reached
func (s *Session) extractPass(handles []extract.Handle) bool {
	s.passes++
	s.observer.ObservePass(s.target.Kind)

	ectx := extract.Context{
		Kind:            s.target.Kind,
		Subject:         recordSubject(s.target.Subject),
		DatePlaceholder: s.target.Placeholder(),
		BaseURL:         s.baseURL,
	}
	threadURL := ""
	if s.target.Kind == models.KindReply {
		threadURL = extract.CanonicalPermalink(s.baseURL, s.target.URL)
		ectx.ParentPermalink = threadURL
		if threadURL == "" {
			ectx.ParentPermalink = s.target.URL
		}
		// the first rendered post of a thread is the post being replied to
		if len(handles) > 0 {
			handles = handles[1:]
		}
	}

	accepted := 0
	for _, h := range handles {
		rec, err := s.extractor.Extract(h, ectx)
		if err != nil {
			s.skipped++
			s.observer.ObserveSkip(s.target.Kind)
			fields := map[string]interface{}{
				"error": err.Error(),
				"pass":  s.passes,
			}
			if extract.IsSkip(err) {
				s.logger.DebugWithFields("post skipped", fields)
			} else {
				s.logger.WarnWithFields("post could not be read", fields)
			}
			continue
		}
		if threadURL != "" && rec.Permalink == threadURL {
			continue
		}
		if !s.tracker.Accept(rec) {
			continue
		}

		s.records = append(s.records, rec)
		accepted++
		if len(s.records) >= s.target.MaxRecords {
			break
		}
	}

	s.observer.ObserveRecords(s.target.Kind, accepted)
	logger.LogCrawlProgress(s.logger, s.target.Subject, len(s.records), s.target.MaxRecords)
	return len(s.records) >= s.target.MaxRecords
}

func (s *Session) enter(state State) {
	if n := len(s.transitions); n > 0 {
		logger.LogStateTransition(s.logger, s.transitions[n-1], state)
	}
	s.transitions = append(s.transitions, state)
}

func (s *Session) done(reason StopReason) Outcome {
	return Outcome{
		State:      StateDone,
		StopReason: reason,
		Records:    s.records,
		Passes:     s.passes,
		Skipped:    s.skipped,
	}
}

func (s *Session) fail(err error) Outcome {
	s.enter(StateFailed)
	return Outcome{
		State:   StateFailed,
		Records: s.records,
		Err:     errs.Classify(err),
		Passes:  s.passes,
		Skipped: s.skipped,
	}
}

// finish reports the outcome exactly once. Reporting outlives cancellation
// of the crawl context.
func (s *Session) finish(ctx context.Context, out Outcome) {
	rctx := context.WithoutCancel(ctx)

	classification := ""
	if out.State == StateFailed {
		classification = string(out.Classification())
	}
	s.observer.ObserveOutcome(s.target.Kind, out.State.String(), classification)

	if err := s.reporter.Emit(rctx, s.target, out.Records); err != nil {
		s.logger.WithError(err).Warn("failed to emit records")
	}

	if out.State != StateFailed {
		s.logger.InfoWithFields("crawl finished", map[string]interface{}{
			"subject": s.target.Subject,
			"records": len(out.Records),
			"passes":  out.Passes,
			"skipped": out.Skipped,
			"reason":  string(out.StopReason),
		})
		return
	}

	var err error
	if out.ManualInterventionRequired() {
		err = s.reporter.ReportManualInterventionNeeded(rctx, s.target, out.Err.Error())
	} else {
		err = s.reporter.ReportFailure(rctx, s.target, out.Classification(), out.Err.Error())
	}
	if err != nil {
		s.logger.WithError(err).Warn("failed to report crawl failure")
	}

	s.logger.WithError(out.Err).WarnWithFields("crawl failed", map[string]interface{}{
		"subject": s.target.Subject,
		"records": len(out.Records),
		"type":    classification,
	})
}

func driverError(ctx context.Context, op string, err error) error {
	var e *errs.Error
	if stderrors.As(err, &e) {
		return err
	}
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypeCancelled, op, err)
	}
	return errs.Wrap(errs.ErrorTypeDriver, op, err)
}
