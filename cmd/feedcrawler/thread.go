package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"feedcrawler/pkg/scraper"
	"feedcrawler/pkg/ui"
)

var threadSubject string

var threadCmd = &cobra.Command{
	Use:   "thread <post-url>",
	Short: "Crawl the replies of a single post",
	Long: `Open one post and collect the replies below it. The post itself is not
part of the output. Thread runs are not checkpointed.`,
	Example: `  feedcrawler thread https://x.com/alice/status/1790000000000000000 --max-replies 50
  feedcrawler thread https://x.com/alice/status/1790000000000000000 --subject TSLA`,
	Args: cobra.ExactArgs(1),
	Run:  runThread,
}

func init() {
	rootCmd.AddCommand(threadCmd)

	threadCmd.Flags().IntVar(&maxReplies, "max-replies", 0, "maximum replies to collect")
	threadCmd.Flags().StringVar(&threadSubject, "subject", "", "subject recorded on the replies")
	threadCmd.Flags().BoolVar(&publish, "publish", false, "publish records to the Redis record stream")
	threadCmd.Flags().IntVar(&previewRows, "preview", 10, "rows of the result preview table (0 disables)")
	addBrowserFlags(threadCmd)
}

func runThread(cmd *cobra.Command, args []string) {
	url := strings.TrimSpace(args[0])
	subject := strings.TrimSpace(threadSubject)

	cfg, err := loadConfig(cmd, crawlFlags(cmd))
	exitOnError("Failed to load configuration", err)

	ctx, stop := signalContext()
	defer stop()

	account, err := resolveAccount(accountName)
	exitOnError("No usable session", err)
	ui.PrintInfo("Thread", url)

	runID := newRunID()
	out, err := newSinks(ctx, cfg, runID, publish)
	exitOnError("Failed to set up outputs", err)
	defer out.Close()

	driver, err := launchDriver(ctx, cfg, account)
	exitOnError("Failed to start browser", err)
	defer driver.Close()

	progress := ui.NewProgress(url, cfg.Crawl.MaxReplies, quiet)
	s := scraper.New(cfg, driver, runOptions(runID, out, progress)...)

	started := time.Now()
	report, err := s.RunThread(ctx, subject, url)
	progress.Finish()
	exitOnError("Thread crawl failed", err)

	printReport(report, time.Since(started))
	if err := report.Err(); err != nil {
		exitOnError("Thread crawl stopped early", err)
	}
	ui.PrintSuccess("[THREAD COMPLETED]")
}
