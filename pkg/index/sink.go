// Package index ships crawled records to Elasticsearch.
//
// Sink satisfies the crawler's reporter interface: every finished session is
// bulk indexed into the records index and failures land as event documents
// in a sibling "-events" index. Document IDs are derived from the record
// identity, so re-crawling the same posts overwrites instead of duplicating.
package index

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"
	"github.com/elastic/go-elasticsearch/v9/esutil"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/identity"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
)

const DefaultIndex = "feed-records"

// Config selects the cluster and index
type Config struct {
	Addresses     []string
	Username      string
	Password      string
	Index         string
	FlushInterval time.Duration
	// Transport overrides the HTTP transport; tests point it at httptest
	Transport http.RoundTripper
}

// Document is the indexed form of a record
type Document struct {
	models.Record
	RunID     string    `json:"run_id,omitempty"`
	IdentKey  string    `json:"identity_key"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Event is the indexed form of a session failure
type Event struct {
	RunID          string    `json:"run_id,omitempty"`
	Kind           string    `json:"type"`
	Subject        string    `json:"ticker,omitempty"`
	URL            string    `json:"url,omitempty"`
	Classification string    `json:"classification"`
	Message        string    `json:"message"`
	Intervention   bool      `json:"manual_intervention"`
	At             time.Time `json:"at"`
}

// Sink is a bulk-indexing reporter
type Sink struct {
	client *elasticsearch.Client
	cfg    Config
	runID  string
	logger logger.Logger

	indexed atomic.Int64
	failed  atomic.Int64
}

// NewSink connects to the cluster described by cfg
func NewSink(cfg Config, runID string, log logger.Logger) (*Sink, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Sink{client: client, cfg: cfg, runID: runID, logger: log.WithField("component", "index")}, nil
}

// EventsIndex is where failure events are written
func (s *Sink) EventsIndex() string {
	return s.cfg.Index + "-events"
}

// Emit bulk indexes records and waits for the flush
func (s *Sink) Emit(ctx context.Context, target models.CrawlTarget, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        s.client,
		Index:         s.cfg.Index,
		NumWorkers:    2,
		FlushBytes:    5 * 1024 * 1024,
		FlushInterval: s.cfg.FlushInterval,
		OnError: func(_ context.Context, err error) {
			s.logger.WithError(err).Warn("bulk indexer error")
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var failures atomic.Int64
	now := time.Now().UTC()
	for _, r := range records {
		key := identity.Key(r)
		body, err := json.Marshal(Document{Record: r, RunID: s.runID, IdentKey: key, IndexedAt: now})
		if err != nil {
			failures.Add(1)
			continue
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: DocumentID(r),
			Body:       bytes.NewReader(body),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				failures.Add(1)
				reason := res.Error.Reason
				if err != nil {
					reason = err.Error()
				}
				s.logger.WarnWithFields("failed to index record", map[string]interface{}{
					"id":     item.DocumentID,
					"reason": reason,
				})
			},
		})
		if err != nil {
			failures.Add(1)
			s.logger.WithError(err).Warn("failed to queue record for indexing")
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush bulk indexer: %w", err)
	}

	stats := bi.Stats()
	s.indexed.Add(int64(stats.NumIndexed))
	s.failed.Add(failures.Load())

	s.logger.DebugWithFields("records indexed", map[string]interface{}{
		"subject": target.Subject,
		"kind":    string(target.Kind),
		"indexed": stats.NumIndexed,
		"failed":  failures.Load(),
	})

	if n := failures.Load(); n > 0 {
		return fmt.Errorf("%d of %d records failed to index", n, len(records))
	}
	return nil
}

func (s *Sink) ReportFailure(ctx context.Context, target models.CrawlTarget, classification errs.ErrorType, message string) error {
	return s.writeEvent(ctx, target, string(classification), message, false)
}

func (s *Sink) ReportManualInterventionNeeded(ctx context.Context, target models.CrawlTarget, reason string) error {
	return s.writeEvent(ctx, target, string(errs.ErrorTypeChallengeDetected), reason, true)
}

func (s *Sink) writeEvent(ctx context.Context, target models.CrawlTarget, classification, message string, intervention bool) error {
	body, err := json.Marshal(Event{
		RunID:          s.runID,
		Kind:           string(target.Kind),
		Subject:        target.Subject,
		URL:            target.URL,
		Classification: classification,
		Message:        message,
		Intervention:   intervention,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index: s.EventsIndex(),
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.IsError() {
		return fmt.Errorf("failed to index event: %s", res.Status())
	}
	return nil
}

// Stats returns the totals across every Emit
func (s *Sink) Stats() (indexed, failed int64) {
	return s.indexed.Load(), s.failed.Load()
}

// DocumentID is the stable document ID of a record
func DocumentID(r models.Record) string {
	sum := sha1.Sum([]byte(identity.Key(r)))
	return hex.EncodeToString(sum[:])
}
