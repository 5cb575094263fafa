package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"feedcrawler/pkg/ui"
)

var (
	// Version information
	version   = "0.4.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	quiet         bool
)

var rootCmd = &cobra.Command{
	Use:   "feedcrawler",
	Short: "Crawl the live search feed of a ticker or hashtag",
	Long: `feedcrawler drives a logged-in browser through the live search feed of a
ticker ($TSLA) or hashtag (#bitcoin), collects posts and their reply threads,
and exports them as JSON, CSV or NDJSON.

Features:
  - Session cookies stored in the system keychain or an encrypted file
  - rod or chromedp page drivers, optional stealth mode
  - Resume after a challenge page or an interrupted run
  - Redis task-queue worker and cron-scheduled crawls
  - Optional Elasticsearch indexing and Prometheus metrics`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColor(!noColor)
		if quiet {
			logLevel = "error"
			return
		}
		switch cmd.Name() {
		case "version", "help", "path", "show":
		default:
			ui.PrintLogo()
		}
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ~/.config/feedcrawler/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", false, "enable desktop notifications")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`feedcrawler {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
