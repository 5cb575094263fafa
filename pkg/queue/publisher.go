package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/models"
)

// Publisher is a reporter that appends every emitted record to
// <prefix>:records and every failure to <prefix>:events, for consumers that
// read crawl output from Redis instead of files
type Publisher struct {
	client redis.UniversalClient
	prefix string
	runID  string
}

// PublishedEvent is the JSON pushed to the events list
type PublishedEvent struct {
	RunID          string `json:"run_id,omitempty"`
	Kind           string `json:"type"`
	Subject        string `json:"ticker,omitempty"`
	URL            string `json:"url,omitempty"`
	Classification string `json:"classification"`
	Message        string `json:"message"`
	At             string `json:"at"`
}

func NewPublisher(client redis.UniversalClient, prefix, runID string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{client: client, prefix: prefix, runID: runID}
}

func (p *Publisher) RecordsKey() string { return p.prefix + ":records" }
func (p *Publisher) EventsKey() string  { return p.prefix + ":events" }

func (p *Publisher) Emit(ctx context.Context, _ models.CrawlTarget, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		values = append(values, data)
	}
	if err := p.client.RPush(ctx, p.RecordsKey(), values...).Err(); err != nil {
		return fmt.Errorf("publish records: %w", err)
	}
	return nil
}

func (p *Publisher) ReportFailure(ctx context.Context, target models.CrawlTarget, classification errs.ErrorType, message string) error {
	return p.event(ctx, target, string(classification), message)
}

func (p *Publisher) ReportManualInterventionNeeded(ctx context.Context, target models.CrawlTarget, reason string) error {
	return p.event(ctx, target, string(errs.ErrorTypeChallengeDetected), reason)
}

func (p *Publisher) event(ctx context.Context, target models.CrawlTarget, classification, message string) error {
	data, err := json.Marshal(PublishedEvent{
		RunID:          p.runID,
		Kind:           string(target.Kind),
		Subject:        target.Subject,
		URL:            target.URL,
		Classification: classification,
		Message:        message,
		At:             time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.RPush(ctx, p.EventsKey(), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
