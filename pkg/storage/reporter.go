package storage

import (
	"context"
	"sync"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
)

// Failure is a crawl failure reported by a session
type Failure struct {
	Subject string         `json:"subject"`
	URL     string         `json:"url,omitempty"`
	Type    errs.ErrorType `json:"type"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

// InterventionFunc is called when a crawl needs a human to clear a challenge
type InterventionFunc func(target models.CrawlTarget, reason string)

// FileReporter collects emitted records into a Result and optionally streams
// them to an NDJSON file as they arrive
type FileReporter struct {
	mu       sync.Mutex
	result   *models.Result
	failures []Failure

	streamPath     string
	onIntervention InterventionFunc
	logger         logger.Logger
}

// ReporterOption configures a FileReporter
type ReporterOption func(*FileReporter)

// WithStream appends every emitted batch to the NDJSON file at path
func WithStream(path string) ReporterOption {
	return func(r *FileReporter) { r.streamPath = path }
}

// WithInterventionHandler sets the manual intervention callback
func WithInterventionHandler(fn InterventionFunc) ReporterOption {
	return func(r *FileReporter) { r.onIntervention = fn }
}

// WithReporterLogger sets the reporter's logger
func WithReporterLogger(l logger.Logger) ReporterOption {
	return func(r *FileReporter) { r.logger = l }
}

// NewFileReporter returns a reporter accumulating into result
func NewFileReporter(result *models.Result, opts ...ReporterOption) *FileReporter {
	r := &FileReporter{
		result: result,
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit stores records by kind and streams them when configured
func (r *FileReporter) Emit(ctx context.Context, target models.CrawlTarget, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec.Kind == models.KindReply {
			r.result.Replies = append(r.result.Replies, rec)
		} else {
			r.result.Posts = append(r.result.Posts, rec)
		}
	}

	if r.streamPath != "" {
		if err := AppendNDJSON(r.streamPath, records); err != nil {
			return err
		}
	}

	r.logger.DebugWithFields("Records emitted", map[string]interface{}{
		"subject": target.Subject,
		"count":   len(records),
		"kind":    string(target.Kind),
	})
	return nil
}

// ReportFailure records a classified failure
func (r *FileReporter) ReportFailure(ctx context.Context, target models.CrawlTarget, classification errs.ErrorType, message string) error {
	r.mu.Lock()
	r.failures = append(r.failures, Failure{
		Subject: target.Subject,
		URL:     target.URL,
		Type:    classification,
		Message: message,
		At:      time.Now(),
	})
	r.mu.Unlock()

	r.logger.WarnWithFields("Crawl failure reported", map[string]interface{}{
		"subject": target.Subject,
		"url":     target.URL,
		"type":    string(classification),
		"message": message,
	})
	return nil
}

// ReportManualInterventionNeeded logs and forwards to the intervention callback
func (r *FileReporter) ReportManualInterventionNeeded(ctx context.Context, target models.CrawlTarget, reason string) error {
	r.logger.ErrorWithFields("Manual intervention needed", map[string]interface{}{
		"subject": target.Subject,
		"url":     target.URL,
		"reason":  reason,
	})

	if r.onIntervention != nil {
		r.onIntervention(target, reason)
	}

	return r.ReportFailure(ctx, target, errs.ErrorTypeChallengeDetected, reason)
}

// Result returns a copy of the accumulated result
func (r *FileReporter) Result() models.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := *r.result
	out.Posts = append([]models.Record(nil), r.result.Posts...)
	out.Replies = append([]models.Record(nil), r.result.Replies...)
	return out
}

// Failures returns the failures reported so far
func (r *FileReporter) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}
