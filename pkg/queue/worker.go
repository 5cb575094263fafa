package queue

import (
	"context"
	"fmt"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/paginator"
	"feedcrawler/pkg/retry"
	"feedcrawler/pkg/scraper"
)

// Task results passed to the observer
const (
	ResultDone         = "done"
	ResultEmpty        = "empty"
	ResultFailed       = "failed"
	ResultIntervention = "intervention"
	ResultRequeued     = "requeued"
)

// CrawlFunc runs the crawl a task describes
type CrawlFunc func(ctx context.Context, task Task) scraper.Outcome

// Worker takes tasks off the queue one at a time
type Worker struct {
	queue   *Queue
	crawl   CrawlFunc
	backoff retry.BackoffStrategy
	wait    paginator.WaitFunc
	logger  logger.Logger
	onTask  func(result string)
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithIdleBackoff sets the wait schedule used while the queue is empty
func WithIdleBackoff(b retry.BackoffStrategy) WorkerOption {
	return func(w *Worker) { w.backoff = b }
}

// WithWorkerWait replaces sleeping; tests use it
func WithWorkerWait(fn paginator.WaitFunc) WorkerOption {
	return func(w *Worker) { w.wait = fn }
}

func WithWorkerLogger(l logger.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// WithTaskObserver is called with the result of every task
func WithTaskObserver(fn func(result string)) WorkerOption {
	return func(w *Worker) { w.onTask = fn }
}

func NewWorker(q *Queue, crawl CrawlFunc, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue: q,
		crawl: crawl,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:  5 * time.Second,
			MaxDelay:   time.Minute,
			Multiplier: 2,
		},
		wait:   retry.Wait,
		logger: logger.NewNopLogger(),
		onTask: func(string) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes tasks until ctx is done. It returns early with the session
// error when the crawl reports that the session cookies are no longer valid,
// since every later task would fail the same way.
func (w *Worker) Run(ctx context.Context) error {
	logger.LogComponentStart("worker", map[string]interface{}{"prefix": w.queue.prefix})
	defer logger.LogComponentStop("worker", "stopped")

	idle := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.queue.NextTask(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("failed to take task")
		}
		if task == nil {
			idle++
			if err := w.wait(ctx, w.backoff.NextDelay(idle)); err != nil {
				return nil
			}
			continue
		}
		idle = 0

		result, out := w.Process(ctx, *task)
		if result == ResultFailed && out.Classification() == errs.ErrorTypeAuthenticationRequired {
			return out.Err
		}
	}
}

// Process crawls one task and records its result on the queue
func (w *Worker) Process(ctx context.Context, task Task) (string, scraper.Outcome) {
	log := w.logger.WithFields(map[string]interface{}{"task": task.ID})
	log.InfoWithFields("processing task", map[string]interface{}{
		"stock":  task.Stock,
		"thread": task.TweetURL,
	})

	out := w.crawl(ctx, task)
	rctx := context.WithoutCancel(ctx)

	var result string
	var err error
	switch {
	case out.ManualInterventionRequired():
		result = ResultIntervention
		err = w.queue.ReportManualIntervention(rctx, task.ID, out.Err.Error())
	case out.State == scraper.StateFailed && out.Classification() == errs.ErrorTypeCancelled:
		result = ResultRequeued
		err = w.queue.Requeue(rctx, task)
	case out.State == scraper.StateFailed:
		result = ResultFailed
		err = w.queue.ReportFailure(rctx, task.ID, fmt.Sprintf("%s: %v", out.Classification(), out.Err))
	case len(out.Records) == 0:
		result = ResultEmpty
		err = w.queue.ReportFailure(rctx, task.ID, "no results found")
	default:
		result = ResultDone
		err = w.queue.SubmitResult(rctx, task.ID, out.Records)
	}
	if err != nil {
		log.WithError(err).Error("failed to record task result")
	}

	w.onTask(result)
	log.InfoWithFields("task finished", map[string]interface{}{
		"result":  result,
		"records": len(out.Records),
	})
	return result, out
}

// Requeue returns an interrupted task to the front of the pending list
func (q *Queue) Requeue(ctx context.Context, task Task) error {
	key := q.taskKey(task.ID)
	payload, err := q.client.HGet(ctx, key, "payload").Result()
	if err != nil || payload == "" {
		return fmt.Errorf("requeue task %s: payload missing", task.ID)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, payload)
	pipe.RPush(ctx, q.pendingKey(), payload)
	pipe.HSet(ctx, key, "status", StatusPending, "updated_at", nowString())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task %s: %w", task.ID, err)
	}
	return nil
}
