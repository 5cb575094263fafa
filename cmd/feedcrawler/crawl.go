package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"feedcrawler/internal/downloader"
	"feedcrawler/pkg/checkpoint"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/scraper"
	"feedcrawler/pkg/ui"
)

var (
	// Crawl command flags
	sinceDate    string
	maxRecords   int
	withReplies  bool
	maxReplies   int
	replyThreads int
	resumeRun    bool
	forceRestart bool
	accountName  string
	driverName   string
	headless     bool
	outputDir    string
	formats      []string
	download     bool
	publish      bool
	previewRows  int
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <subject>",
	Short: "Crawl the live search feed of a ticker or hashtag",
	Long: `Crawl the live search feed of a ticker or hashtag and export the posts.

A bare subject is searched as a cashtag: TSLA becomes $TSLA. Prefix a hashtag
with # to search it as is. With --replies the reply threads of the first
posts are crawled as well.

A run that stops early (a challenge page, an expired session, Ctrl-C) keeps a
checkpoint. Continue it with --resume, or discard it with --force-restart.`,
	Example: `  # Crawl 50 posts about Tesla since the start of the year
  feedcrawler crawl TSLA --since 2024-01-01 --max 50

  # Also crawl the replies of the first 5 posts
  feedcrawler crawl '#bitcoin' --replies --threads 5 --max-replies 20

  # Continue a run that hit a challenge page
  feedcrawler crawl TSLA --replies --resume

  # Use chromedp and write CSV only
  feedcrawler crawl TSLA --driver chromedp --format csv -o ./out`,
	Args: cobra.ExactArgs(1),
	Run:  runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVar(&sinceDate, "since", "", "only posts since this date (YYYY-MM-DD)")
	crawlCmd.Flags().IntVarP(&maxRecords, "max", "m", 0, "maximum number of posts to collect")
	crawlCmd.Flags().BoolVarP(&withReplies, "replies", "r", false, "also crawl reply threads")
	crawlCmd.Flags().IntVar(&maxReplies, "max-replies", 0, "maximum replies per thread")
	crawlCmd.Flags().IntVar(&replyThreads, "threads", 0, "number of posts whose replies are crawled")
	crawlCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the last checkpoint")
	crawlCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard an existing checkpoint")
	crawlCmd.Flags().BoolVar(&publish, "publish", false, "publish records to the Redis record stream")
	crawlCmd.Flags().IntVar(&previewRows, "preview", 10, "rows of the result preview table (0 disables)")
	addBrowserFlags(crawlCmd)
}

// addBrowserFlags registers the flags shared by every command that opens a browser
func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	cmd.Flags().StringVar(&driverName, "driver", "", "page driver: rod or chromedp")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "export formats: json, csv, ndjson")
	cmd.Flags().BoolVar(&download, "download", false, "download post images after the crawl")
}

// crawlFlags collects the flags the user actually set
func crawlFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := cmd.Flags().Changed
	if set("max") {
		flags["max"] = maxRecords
	}
	if set("max-replies") {
		flags["replies"] = maxReplies
	}
	if set("threads") {
		flags["threads"] = replyThreads
	}
	if set("driver") {
		flags["driver"] = driverName
	}
	if set("headless") {
		flags["headless"] = headless
	}
	if set("output") {
		flags["output"] = outputDir
	}
	if set("format") {
		flags["format"] = formats
	}
	if set("download") {
		flags["download"] = download
	}
	return flags
}

func runCrawl(cmd *cobra.Command, args []string) {
	subject := strings.TrimSpace(args[0])
	if resumeRun && forceRestart {
		exitOnError("Invalid flags", errors.New("--resume and --force-restart cannot be combined"))
	}

	cfg, err := loadConfig(cmd, crawlFlags(cmd))
	exitOnError("Failed to load configuration", err)
	log := logger.GetLogger()
	log.WithField("version", version).Info("feedcrawler starting")

	ctx, stop := signalContext()
	defer stop()

	account, err := resolveAccount(accountName)
	exitOnError("No usable session", err)
	ui.PrintInfo("Subject", subject)
	ui.PrintInfo("Using account", account.Username)

	runID := newRunID()
	out, err := newSinks(ctx, cfg, runID, publish)
	exitOnError("Failed to set up outputs", err)
	defer out.Close()

	driver, err := launchDriver(ctx, cfg, account)
	exitOnError("Failed to start browser", err)
	defer driver.Close()

	progress := ui.NewProgress(subject, cfg.Crawl.MaxRecords, quiet)
	s := scraper.New(cfg, driver, runOptions(runID, out, progress)...)

	ui.PrintHighlight("[CRAWL STARTED]")
	started := time.Now()
	report, err := s.Run(ctx, scraper.RunOptions{
		Subject:      subject,
		Since:        sinceDate,
		Replies:      withReplies,
		Resume:       resumeRun,
		ForceRestart: forceRestart,
	})
	progress.Finish()

	if errors.Is(err, scraper.ErrCheckpointExists) {
		ui.PrintWarning("An unfinished run exists for " + subject)
		printCheckpointInfo(subject)
		fmt.Fprintln(ui.Out, "\nContinue it:")
		fmt.Fprintf(ui.Out, "  feedcrawler crawl %s --resume\n", subject)
		fmt.Fprintln(ui.Out, "\nOr start over:")
		fmt.Fprintf(ui.Out, "  feedcrawler crawl %s --force-restart\n", subject)
		exitOnError("Run not started", err)
	}
	exitOnError("Crawl failed", err)

	printReport(report, time.Since(started))
	finishReport(subject, report)
}

// runOptions builds the scraper options shared by crawl, thread and watch
func runOptions(runID string, out *sinks, extra ...scraper.Observer) []scraper.Option {
	opts := []scraper.Option{
		scraper.WithRunID(runID),
		scraper.WithLogger(logger.GetLogger()),
		scraper.WithReporters(out.reporters...),
		scraper.WithRunObserver(out.Observer(extra...)),
		scraper.WithInterventionHandler(func(target models.CrawlTarget, reason string) {
			ui.PrintWarning("Manual intervention needed at "+target.URL, reason)
		}),
	}
	if out.recorder != nil {
		rec := out.recorder
		opts = append(opts, scraper.WithDownloadObserver(func(sum downloader.Summary) {
			rec.ObserveDownloads(sum.Saved, sum.Skipped, sum.Failed, int64(sum.Bytes))
		}))
	}
	return opts
}

// printReport renders the run summary and a preview of the records
func printReport(report *scraper.Report, took time.Duration) {
	rows := []ui.KeyValue{
		{Key: "Run ID", Value: report.RunID},
		{Key: "Posts", Value: len(report.Result.Posts)},
		{Key: "Replies", Value: len(report.Result.Replies)},
		{Key: "Duration", Value: ui.FormatDuration(took)},
	}
	if report.Summary != nil {
		rows = append(rows,
			ui.KeyValue{Key: "Feed", Value: feedStatus(report.Summary.Feed)},
			ui.KeyValue{Key: "Skipped posts", Value: report.Summary.Feed.Skipped},
		)
		if n := len(report.Summary.Threads); n > 0 {
			rows = append(rows, ui.KeyValue{Key: "Threads", Value: n})
		}
	}
	if report.Resumed {
		rows = append(rows, ui.KeyValue{Key: "Resumed", Value: "yes"})
	}
	if d := report.Downloads; d != nil {
		rows = append(rows, ui.KeyValue{
			Key:   "Media",
			Value: fmt.Sprintf("%d saved, %d skipped, %d failed (%s)", d.Saved, d.Skipped, d.Failed, ui.FormatBytes(int64(d.Bytes))),
		})
	}
	for _, f := range report.Files {
		rows = append(rows, ui.KeyValue{Key: "File", Value: f})
	}
	ui.RenderKeyValues(ui.Out, "Run summary", rows)

	for _, f := range report.Failures {
		ui.PrintWarning(fmt.Sprintf("%s failed (%s)", f.URL, f.Type), f.Message)
	}

	if previewRows > 0 && !quiet {
		records := append(append([]models.Record{}, report.Result.Posts...), report.Result.Replies...)
		if len(records) > 0 {
			ui.RenderRecords(ui.Out, records, previewRows)
		}
	}
}

func feedStatus(out scraper.Outcome) string {
	if out.State == scraper.StateFailed {
		return fmt.Sprintf("failed: %s", out.Classification())
	}
	if out.StopReason != "" {
		return fmt.Sprintf("%s (%s)", out.State, out.StopReason)
	}
	return out.State.String()
}

// finishReport exits non-zero when the run ended early
func finishReport(subject string, report *scraper.Report) {
	err := report.Err()
	if err == nil {
		ui.PrintSuccess("[CRAWL COMPLETED]")
		return
	}
	if report.CheckpointKept {
		fmt.Fprintln(ui.Out, "\nProgress was saved. Continue with:")
		fmt.Fprintf(ui.Out, "  feedcrawler crawl %s --resume\n", subject)
	}
	exitOnError("Crawl stopped early", err)
}

// printCheckpointInfo summarizes the saved progress of an unfinished run
func printCheckpointInfo(subject string) {
	mgr, err := checkpoint.NewManager(subject)
	if err != nil {
		return
	}
	info, err := mgr.GetCheckpointInfo()
	if err != nil || info == nil {
		return
	}
	age, _ := info["age"].(time.Duration)
	ui.PrintInfo("Saved progress", fmt.Sprintf("%v posts, %v replies, %v threads done, updated %s ago",
		info["total_posts"], info["total_replies"], info["completed_threads"], age.Round(time.Second)))
}
