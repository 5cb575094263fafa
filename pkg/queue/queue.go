// Package queue distributes crawl tasks over Redis.
//
// Layout under the configured prefix:
//
//	<prefix>:tasks:pending       list of task JSON, pushed left, taken right
//	<prefix>:tasks:processing    tasks handed out and not yet finished
//	<prefix>:tasks:intervention  IDs of tasks blocked by a challenge
//	<prefix>:task:<id>           hash with status, result, error, updated_at
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"feedcrawler/pkg/models"
)

// Task statuses stored in the task hash
const (
	StatusPending      = "pending"
	StatusProcessing   = "processing"
	StatusDone         = "done"
	StatusFailed       = "failed"
	StatusIntervention = "needs_intervention"
)

const DefaultPrefix = "feedcrawler"

// connectionTimeout bounds the startup ping
const connectionTimeout = 5 * time.Second

// ErrEmptyAddress is returned when no Redis address is configured
var ErrEmptyAddress = errors.New("redis address is required")

// Task is one unit of work. A task with ScrapeReplies and TweetURL crawls a
// reply thread; otherwise it searches the feed for Stock.
type Task struct {
	ID            string    `json:"id"`
	Stock         string    `json:"stock,omitempty"`
	SinceDate     string    `json:"since_date,omitempty"`
	MaxTweets     int       `json:"max_tweets,omitempty"`
	ScrapeReplies bool      `json:"scrape_replies,omitempty"`
	TweetURL      string    `json:"tweet_url,omitempty"`
	MaxReplies    int       `json:"max_replies,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// IsThread reports whether the task crawls a reply thread
func (t Task) IsThread() bool {
	return t.ScrapeReplies && t.TweetURL != ""
}

// Validate rejects tasks a worker cannot act on
func (t Task) Validate() error {
	if !t.IsThread() && t.Stock == "" {
		return errors.New("task needs a stock or a reply thread url")
	}
	return nil
}

// TaskStatus is the stored state of a task
type TaskStatus struct {
	ID        string
	Status    string
	Records   []models.Record
	Error     string
	UpdatedAt time.Time
}

// Config holds Redis connection settings
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewClient connects and pings Redis
func NewClient(cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Queue is the task queue
type Queue struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) pendingKey() string      { return q.prefix + ":tasks:pending" }
func (q *Queue) processingKey() string   { return q.prefix + ":tasks:processing" }
func (q *Queue) interventionKey() string { return q.prefix + ":tasks:intervention" }
func (q *Queue) taskKey(id string) string {
	return q.prefix + ":task:" + id
}

// Enqueue adds a task, assigning an ID when it has none
func (q *Queue) Enqueue(ctx context.Context, task Task) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.taskKey(task.ID), "status", StatusPending, "updated_at", nowString())
	pipe.LPush(ctx, q.pendingKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return task.ID, nil
}

// NextTask moves the oldest pending task to processing. It returns nil
// without error when the queue is empty.
func (q *Queue) NextTask(ctx context.Context) (*Task, error) {
	data, err := q.client.LMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		// a payload no worker can parse would block the list forever
		q.client.LRem(ctx, q.processingKey(), 1, data)
		return nil, fmt.Errorf("decode task: %w", err)
	}

	if err := q.client.HSet(ctx, q.taskKey(task.ID), "status", StatusProcessing, "updated_at", nowString(), "payload", data).Err(); err != nil {
		return nil, fmt.Errorf("mark task processing: %w", err)
	}
	return &task, nil
}

// SubmitResult stores the records of a finished task
func (q *Queue) SubmitResult(ctx context.Context, taskID string, records []models.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return q.finish(ctx, taskID, StatusDone, "result", string(data))
}

// ReportFailure marks a task failed with message
func (q *Queue) ReportFailure(ctx context.Context, taskID, message string) error {
	return q.finish(ctx, taskID, StatusFailed, "error", message)
}

// ReportManualIntervention marks a task as blocked until a human clears
// the challenge and lists it for operators
func (q *Queue) ReportManualIntervention(ctx context.Context, taskID, reason string) error {
	if err := q.finish(ctx, taskID, StatusIntervention, "error", reason); err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.interventionKey(), taskID).Err(); err != nil {
		return fmt.Errorf("list task for intervention: %w", err)
	}
	return nil
}

func (q *Queue) finish(ctx context.Context, taskID, status, field, value string) error {
	key := q.taskKey(taskID)
	payload, err := q.client.HGet(ctx, key, "payload").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, "status", status, field, value, "updated_at", nowString())
	if payload != "" {
		pipe.LRem(ctx, q.processingKey(), 1, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish task %s: %w", taskID, err)
	}
	return nil
}

// Status returns the stored state of a task
func (q *Queue) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	fields, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	st := &TaskStatus{ID: taskID, Status: fields["status"], Error: fields["error"]}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		st.UpdatedAt = ts
	}
	if raw := fields["result"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Records); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", taskID, err)
		}
	}
	return st, nil
}

// Pending returns the number of waiting tasks
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// InterventionNeeded lists the IDs of blocked tasks
func (q *Queue) InterventionNeeded(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.interventionKey(), 0, -1).Result()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
