package scraper

import (
	"context"
	"errors"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/models"
)

// PageDriver is the browser page a session drives. A driver is owned by one
// session at a time and is never used concurrently.
type PageDriver interface {
	// CurrentPostHandles returns the rendered post elements in page order
	CurrentPostHandles(ctx context.Context) ([]extract.Handle, error)
	// ScrollToLoadMore triggers loading of further content without waiting
	ScrollToLoadMore(ctx context.Context) error
	// CurrentScrollExtent returns the scrollable height of the page
	CurrentScrollExtent(ctx context.Context) (int, error)
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// ChallengePresent reports whether an automated-traffic challenge is shown
	ChallengePresent(ctx context.Context) (bool, error)
}

// Reporter receives the results of finished sessions
type Reporter interface {
	// Emit is called once per finished session with every accumulated record,
	// including the partial records of a failed session
	Emit(ctx context.Context, target models.CrawlTarget, records []models.Record) error
	// ReportFailure is called once when a session fails
	ReportFailure(ctx context.Context, target models.CrawlTarget, classification errs.ErrorType, message string) error
	// ReportManualInterventionNeeded replaces ReportFailure when a challenge
	// blocked the session
	ReportManualInterventionNeeded(ctx context.Context, target models.CrawlTarget, reason string) error
}

// Observer receives crawl measurements
type Observer interface {
	ObservePass(kind models.RecordKind)
	ObserveRecords(kind models.RecordKind, n int)
	ObserveSkip(kind models.RecordKind)
	ObserveOutcome(kind models.RecordKind, state string, classification string)
}

// NopReporter discards everything
type NopReporter struct{}

func (NopReporter) Emit(context.Context, models.CrawlTarget, []models.Record) error { return nil }
func (NopReporter) ReportFailure(context.Context, models.CrawlTarget, errs.ErrorType, string) error {
	return nil
}
func (NopReporter) ReportManualInterventionNeeded(context.Context, models.CrawlTarget, string) error {
	return nil
}

type nopObserver struct{}

func (nopObserver) ObservePass(models.RecordKind)                  {}
func (nopObserver) ObserveRecords(models.RecordKind, int)          {}
func (nopObserver) ObserveSkip(models.RecordKind)                  {}
func (nopObserver) ObserveOutcome(models.RecordKind, string, string) {}

// Tee fans every call out to all reporters and joins their errors
func Tee(reporters ...Reporter) Reporter {
	return teeReporter(reporters)
}

type teeReporter []Reporter

func (t teeReporter) Emit(ctx context.Context, target models.CrawlTarget, records []models.Record) error {
	var all []error
	for _, r := range t {
		all = append(all, r.Emit(ctx, target, records))
	}
	return errors.Join(all...)
}

func (t teeReporter) ReportFailure(ctx context.Context, target models.CrawlTarget, classification errs.ErrorType, message string) error {
	var all []error
	for _, r := range t {
		all = append(all, r.ReportFailure(ctx, target, classification, message))
	}
	return errors.Join(all...)
}

func (t teeReporter) ReportManualInterventionNeeded(ctx context.Context, target models.CrawlTarget, reason string) error {
	var all []error
	for _, r := range t {
		all = append(all, r.ReportManualInterventionNeeded(ctx, target, reason))
	}
	return errors.Join(all...)
}

// Observers fans measurements out to every non-nil observer
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nopObserver{}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) ObservePass(kind models.RecordKind) {
	for _, o := range m {
		o.ObservePass(kind)
	}
}

func (m multiObserver) ObserveRecords(kind models.RecordKind, n int) {
	for _, o := range m {
		o.ObserveRecords(kind, n)
	}
}

func (m multiObserver) ObserveSkip(kind models.RecordKind) {
	for _, o := range m {
		o.ObserveSkip(kind)
	}
}

func (m multiObserver) ObserveOutcome(kind models.RecordKind, state, classification string) {
	for _, o := range m {
		o.ObserveOutcome(kind, state, classification)
	}
}
