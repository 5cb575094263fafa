package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"feedcrawler/pkg/config"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/queue"
	"feedcrawler/pkg/ratelimit"
	"feedcrawler/pkg/scraper"
	"feedcrawler/pkg/ui"
)

var enqueueThread string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process crawl tasks from the Redis queue",
	Long: `Take crawl tasks off the Redis queue one at a time and store their results.

A task either searches the feed of a subject or crawls the replies of one
post. Results, failures and challenge pages are written back to the task.
Tasks interrupted by Ctrl-C go back to the front of the queue. The worker
stops when the session cookies are rejected, since every later task would
fail the same way.`,
	Example: `  feedcrawler worker
  feedcrawler worker --driver chromedp --publish`,
	Args: cobra.NoArgs,
	Run:  runWorker,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [subject]",
	Short: "Add a crawl task to the queue",
	Example: `  feedcrawler worker enqueue TSLA --since 2024-01-01 --max 100
  feedcrawler worker enqueue --thread https://x.com/alice/status/1790000000000000000 --max-replies 30`,
	Args: cobra.MaximumNArgs(1),
	Run:  runEnqueue,
}

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the queue or one task",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(enqueueCmd)
	workerCmd.AddCommand(statusCmd)

	workerCmd.Flags().BoolVar(&publish, "publish", false, "also publish records to the Redis record stream")
	workerCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	workerCmd.Flags().StringVar(&driverName, "driver", "", "page driver: rod or chromedp")
	workerCmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")

	enqueueCmd.Flags().StringVar(&sinceDate, "since", "", "only posts since this date (YYYY-MM-DD)")
	enqueueCmd.Flags().IntVarP(&maxRecords, "max", "m", 0, "maximum number of posts")
	enqueueCmd.Flags().StringVar(&enqueueThread, "thread", "", "crawl the replies of this post instead")
	enqueueCmd.Flags().IntVar(&maxReplies, "max-replies", 0, "maximum replies for --thread")
}

func openQueue(cfg *config.Config) (*queue.Queue, func(), error) {
	client, err := redisClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return queue.New(client, cfg.Queue.Prefix), func() { client.Close() }, nil
}

func newLimiter(cfg *config.Config) ratelimit.Limiter {
	if n := cfg.RateLimit.NavigationsPerMinute; n > 0 {
		return ratelimit.PerMinute(n, cfg.RateLimit.Burst)
	}
	return ratelimit.Unlimited{}
}

func runWorker(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd, crawlFlags(cmd))
	exitOnError("Failed to load configuration", err)
	log := logger.GetLogger()

	ctx, stop := signalContext()
	defer stop()

	q, closeQueue, err := openQueue(cfg)
	exitOnError("Failed to connect to Redis", err)
	defer closeQueue()

	account, err := resolveAccount(accountName)
	exitOnError("No usable session", err)

	runID := newRunID()
	out, err := newSinks(ctx, cfg, runID, publish)
	exitOnError("Failed to set up outputs", err)
	defer out.Close()

	driver, err := launchDriver(ctx, cfg, account)
	exitOnError("Failed to start browser", err)
	defer driver.Close()

	crawler := scraper.NewCrawler(driver, scraper.Tee(out.reporters...),
		scraper.WithLimiter(newLimiter(cfg)),
		scraper.WithCrawlerObserver(out.Observer()),
		scraper.WithCrawlerLogger(log),
		scraper.WithCrawlerBaseURL(cfg.Crawl.BaseURL),
		scraper.WithCrawlerExtractor(extract.New(cfg.Selectors)),
	)

	opts := []queue.WorkerOption{queue.WithWorkerLogger(log)}
	if out.recorder != nil {
		opts = append(opts, queue.WithTaskObserver(out.recorder.ObserveTask))
	}
	worker := queue.NewWorker(q, func(ctx context.Context, task queue.Task) scraper.Outcome {
		return crawler.Crawl(ctx, crawlTarget(cfg, task))
	}, opts...)

	ui.PrintHighlight("[WORKER STARTED]")
	ui.PrintInfo("Queue", cfg.Queue.Prefix)
	err = worker.Run(ctx)
	if err != nil {
		ui.PrintError("Session rejected, stopping worker", err)
		fmt.Fprintln(ui.Out, "\nRefresh the session cookies with:")
		fmt.Fprintln(ui.Out, "  feedcrawler auth login")
		exitOnError("Worker stopped", err)
	}
	ui.PrintSuccess("[WORKER STOPPED]")
}

// crawlTarget maps a queue task onto a crawl target
func crawlTarget(cfg *config.Config, task queue.Task) models.CrawlTarget {
	if task.IsThread() {
		target := cfg.ThreadTarget(task.Stock, task.TweetURL)
		if task.MaxReplies > 0 {
			target.MaxRecords = task.MaxReplies
		}
		return target
	}
	target := cfg.CrawlTarget(task.Stock, task.SinceDate)
	if task.MaxTweets > 0 {
		target.MaxRecords = task.MaxTweets
	}
	return target
}

func runEnqueue(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd, nil)
	exitOnError("Failed to load configuration", err)

	task := queue.Task{
		SinceDate:  sinceDate,
		MaxTweets:  maxRecords,
		TweetURL:   strings.TrimSpace(enqueueThread),
		MaxReplies: maxReplies,
	}
	if len(args) > 0 {
		task.Stock = strings.TrimSpace(args[0])
	}
	task.ScrapeReplies = task.TweetURL != ""
	exitOnError("Invalid task", task.Validate())

	q, closeQueue, err := openQueue(cfg)
	exitOnError("Failed to connect to Redis", err)
	defer closeQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := q.Enqueue(ctx, task)
	exitOnError("Failed to enqueue task", err)
	ui.PrintSuccess("Task queued: " + id)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd, nil)
	exitOnError("Failed to load configuration", err)

	q, closeQueue, err := openQueue(cfg)
	exitOnError("Failed to connect to Redis", err)
	defer closeQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if len(args) == 1 {
		st, err := q.Status(ctx, args[0])
		exitOnError("Failed to read task", err)
		rows := []ui.KeyValue{
			{Key: "Task", Value: st.ID},
			{Key: "Status", Value: st.Status},
			{Key: "Records", Value: len(st.Records)},
			{Key: "Updated", Value: st.UpdatedAt.Format(time.RFC3339)},
		}
		if st.Error != "" {
			rows = append(rows, ui.KeyValue{Key: "Error", Value: st.Error})
		}
		ui.RenderKeyValues(ui.Out, "Task", rows)
		if len(st.Records) > 0 {
			ui.RenderRecords(ui.Out, st.Records, 10)
		}
		return
	}

	pending, err := q.Pending(ctx)
	exitOnError("Failed to read queue", err)
	blocked, err := q.InterventionNeeded(ctx)
	exitOnError("Failed to read queue", err)
	ui.RenderKeyValues(ui.Out, "Queue "+cfg.Queue.Prefix, []ui.KeyValue{
		{Key: "Pending", Value: pending},
		{Key: "Needs intervention", Value: len(blocked)},
	})
	for _, id := range blocked {
		ui.PrintWarning("Blocked by a challenge", id)
	}
}
