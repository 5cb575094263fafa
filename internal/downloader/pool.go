package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/ratelimit"
)

// DownloadJob is one media file to fetch
type DownloadJob struct {
	URL     string
	Name    string
	Subject string
}

// DownloadResult is the outcome of one job
type DownloadResult struct {
	Job      DownloadJob
	Success  bool
	Skipped  bool
	Error    error
	Duration time.Duration
	Size     int
}

// Fetcher retrieves the body behind a media URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// MediaStorage persists fetched files
type MediaStorage interface {
	IsSaved(name string) bool
	Save(r io.Reader, name string) error
}

// WorkerPool downloads media files with a fixed number of workers. Jobs are
// accepted until Stop is called; results are delivered on Results.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	group       *errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
	fetcher     Fetcher
	storage     MediaStorage
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx. Cancelling ctx abandons queued
// jobs.
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher Fetcher,
	storage MediaStorage,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		group:       group,
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		storage:     storage,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	logger.LogComponentStart("downloader", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		id := i
		wp.group.Go(func() error {
			wp.worker(id)
			return nil
		})
	}
}

// Stop closes the queue, waits for queued jobs and closes Results
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.jobQueue)
		_ = wp.group.Wait()
		close(wp.resultQueue)
		wp.cancel()
		logger.LogComponentStop("downloader", "queue drained")
	})
}

// Submit queues a job. It blocks while the queue is full.
func (wp *WorkerPool) Submit(job DownloadJob) error {
	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("download queued", map[string]interface{}{
			"name":    job.Name,
			"subject": job.Subject,
		})
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel. It is closed by Stop.
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			// drain so Submit callers blocked on a full queue are released
			continue
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
		}
	}
}

func (wp *WorkerPool) processJob(job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{Job: job}

	if wp.storage.IsSaved(job.Name) {
		result.Success = true
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	if err := wp.rateLimiter.Wait(wp.ctx); err != nil {
		result.Error = fmt.Errorf("rate limit wait: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	data, err := wp.fetcher.Fetch(wp.ctx, job.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)
		wp.logger.ErrorWithFields("media download failed", map[string]interface{}{
			"worker_id": workerID,
			"name":      job.Name,
			"error":     err.Error(),
		})
		return result
	}
	result.Size = len(data)

	if err := wp.storage.Save(bytes.NewReader(data), job.Name); err != nil {
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)
		wp.logger.ErrorWithFields("media save failed", map[string]interface{}{
			"worker_id": workerID,
			"name":      job.Name,
			"error":     err.Error(),
		})
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	wp.logger.DebugWithFields("media saved", map[string]interface{}{
		"worker_id": workerID,
		"name":      job.Name,
		"size":      result.Size,
		"duration":  result.Duration,
	})
	return result
}

// GetQueueSize returns the number of queued jobs
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// Summary counts download results
type Summary struct {
	Saved   int
	Skipped int
	Failed  int
	Bytes   int
	Errors  []error
}

// Run downloads every job and blocks until all are done
func Run(ctx context.Context, jobs []DownloadJob, workers int, fetcher Fetcher, storage MediaStorage, limiter ratelimit.Limiter, log logger.Logger) Summary {
	pool := NewWorkerPool(ctx, workers, fetcher, storage, limiter, log)
	pool.Start()

	go func() {
		defer pool.Stop()
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	var sum Summary
	for res := range pool.Results() {
		switch {
		case res.Skipped:
			sum.Skipped++
		case res.Success:
			sum.Saved++
			sum.Bytes += res.Size
		default:
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Errorf("%s: %w", res.Job.Name, res.Error))
		}
	}
	return sum
}
