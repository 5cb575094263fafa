package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"feedcrawler/internal/browser/snapshot"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/scraper"
	"feedcrawler/pkg/storage"
	"feedcrawler/pkg/ui"
)

var (
	replayKind    string
	replaySubject string
	replayParent  string
	replayExport  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <page.html>...",
	Short: "Run the extractor over saved pages",
	Long: `Run a crawl session over saved copies of the feed instead of a live browser.

Each file is one state of the page: the first is what the feed showed on
load, and every scroll moves on to the next file. Use it to check the
selectors against a page that failed to extract, or to reproduce a crawl
without touching the network.`,
	Example: `  # Save the page from the browser's developer tools, then
  feedcrawler replay feed.html

  # Two scroll states of a feed
  feedcrawler replay feed-0.html feed-1.html --max 40

  # A reply thread; the first post on the page is the thread root
  feedcrawler replay thread.html --kind reply --parent https://x.com/alice/status/1`,
	Args: cobra.MinimumNArgs(1),
	Run:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayKind, "kind", string(models.KindPost), "record kind: post or reply")
	replayCmd.Flags().StringVar(&replaySubject, "subject", "", "subject recorded on the records")
	replayCmd.Flags().StringVar(&replayParent, "parent", "", "permalink of the thread root (reply replays)")
	replayCmd.Flags().IntVarP(&maxRecords, "max", "m", 0, "maximum number of records")
	replayCmd.Flags().BoolVar(&replayExport, "export", false, "write the records like a crawl would")
	replayCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for --export")
	replayCmd.Flags().StringSliceVar(&formats, "format", nil, "export formats: json, csv, ndjson")
	replayCmd.Flags().IntVar(&previewRows, "preview", 10, "rows of the result preview table (0 disables)")
}

func runReplay(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd, crawlFlags(cmd))
	exitOnError("Failed to load configuration", err)
	log := logger.GetLogger()

	driver, err := snapshot.LoadFiles(cfg.Selectors, args...)
	exitOnError("Failed to load pages", err)

	var target models.CrawlTarget
	switch models.RecordKind(strings.ToLower(replayKind)) {
	case models.KindPost:
		target = cfg.CrawlTarget(replaySubject, "")
		abs, err := filepath.Abs(args[0])
		exitOnError("Failed to load pages", err)
		target.URL = "file://" + filepath.ToSlash(abs)
	case models.KindReply:
		if replayParent == "" {
			exitOnError("Invalid flags", fmt.Errorf("--parent is required for reply replays"))
		}
		target = cfg.ThreadTarget(replaySubject, replayParent)
		if cmd.Flags().Changed("max") {
			target.MaxRecords = maxRecords
		}
	default:
		exitOnError("Invalid flags", fmt.Errorf("unknown kind %q", replayKind))
	}
	// saved pages never change, so there is nothing to wait for
	target.Delay = models.DelayBounds{}
	target.LoadTimeout = time.Second
	target.LoadRetries = 1

	ctx, stop := signalContext()
	defer stop()

	result := &models.Result{RunID: newRunID(), Subject: replaySubject, StartedAt: time.Now()}
	files := storage.NewFileReporter(result, storage.WithReporterLogger(log))
	crawler := scraper.NewCrawler(driver, files,
		scraper.WithCrawlerLogger(log),
		scraper.WithCrawlerBaseURL(cfg.Crawl.BaseURL),
		scraper.WithCrawlerExtractor(extract.New(cfg.Selectors)),
	)

	out := crawler.Crawl(ctx, target)

	ui.RenderKeyValues(ui.Out, "Replay", []ui.KeyValue{
		{Key: "Pages", Value: len(args)},
		{Key: "Passes", Value: out.Passes},
		{Key: "Records", Value: len(out.Records)},
		{Key: "Skipped", Value: out.Skipped},
		{Key: "Outcome", Value: feedStatus(out)},
	})
	if previewRows > 0 && len(out.Records) > 0 {
		ui.RenderRecords(ui.Out, out.Records, previewRows)
	}

	if replayExport {
		exporter, err := storage.NewExporter(cfg.Output.Directory)
		exitOnError("Failed to export", err)
		final := files.Result()
		paths, err := exporter.WriteResult(&final, storage.ExportOptions{
			Formats:       cfg.Output.Formats,
			Combined:      cfg.Output.CombinedFile,
			DropPermalink: cfg.Output.DropPermalinkInExport,
		})
		exitOnError("Failed to export", err)
		for _, p := range paths {
			ui.PrintInfo("File", p)
		}
	}

	if out.State == scraper.StateFailed {
		exitOnError("Replay failed", out.Err)
	}
}
