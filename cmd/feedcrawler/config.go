package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"feedcrawler/pkg/config"
	"feedcrawler/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage feedcrawler configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (FEEDCRAWLER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with every available option.

The file is written to ~/.config/feedcrawler/config.yaml unless a different
path is given with --config.`,
	Args: cobra.NoArgs,
	Run:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after every source has been applied. Passwords
are masked.`,
	Args: cobra.NoArgs,
	Run:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value ranges and known driver and format names
  - Output and log path accessibility`,
	Args: cobra.NoArgs,
	Run:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if p := configPath(); p != "" {
			fmt.Fprintln(ui.Out, p)
			return
		}
		fmt.Fprintf(ui.Out, "%s (not created yet)\n", config.DefaultPath())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
}

const exampleConfig = `# feedcrawler configuration file
#
# Every option can also be set with an environment variable prefixed with
# FEEDCRAWLER_, for example FEEDCRAWLER_MAX_RECORDS=100.
# Session cookies are not kept here: use 'feedcrawler auth login'.

crawl:
  base_url: "https://x.com"
  # Posts collected per feed crawl
  max_records: 50
  # Replies collected per thread and number of threads visited with --replies
  max_replies: 20
  reply_threads: 10
  # Unchanged page heights in a row before the feed counts as exhausted
  stagnation_tolerance: 2
  # Random pause after each scroll
  delay_min: 2s
  delay_max: 4s
  # Wait for the first posts to render, per attempt
  load_timeout: 10s
  load_retries: 3
  # Random pause between reply threads
  thread_delay_min: 3s
  thread_delay_max: 6s
  # Written when a post has a time element without a datetime
  date_placeholder: "-"

browser:
  # rod or chromedp
  driver: "rod"
  headless: true
  no_sandbox: false
  # Used when the stored account has no user agent of its own
  user_agent: ""
  # Keep a browser profile between runs (optional)
  user_data_dir: ""
  # Path to a Chromium binary; empty downloads or finds one
  bin: ""
  stealth: true
  leakless: true
  window_width: 1280
  window_height: 2000
  navigation_timeout: 30s

rate_limit:
  # Page navigations per minute across feed and thread crawls
  navigations_per_minute: 20
  burst: 1

output:
  directory: "./output"
  # json, csv, ndjson (ndjson is streamed while the crawl runs)
  formats: ["json", "csv"]
  drop_permalink_in_export: false
  # Also write every record into one all_data_<timestamp>.json
  combined_file: true

download:
  # Fetch post images after the crawl
  enabled: false
  concurrent: 3
  timeout: 30s
  skip_videos: true

elasticsearch:
  enabled: false
  addresses: ["http://localhost:9200"]
  username: ""
  password: ""
  index: "feed-records"
  flush_interval: 5s

queue:
  redis_addr: "localhost:6379"
  redis_password: ""
  redis_db: 0
  prefix: "feedcrawler"

metrics:
  enabled: false
  listen: ":9464"

notifications:
  enabled: true
  on_challenge: true
  on_complete: true

logging:
  # debug, info, warn, error
  level: "info"
  # console or json
  format: "console"
  # Also write logs to this file (optional)
  file: ""

# CSS selectors for the X web client. Unset keys keep their defaults, so
# only override the ones a markup change broke.
# selectors:
#   post: "article[data-testid='tweet']"
#   text: "div[data-testid='tweetText']"
#   challenge: ["iframe[src*='arkoselabs']", "#arkose_iframe"]
`

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		ui.PrintError("Configuration file already exists", path)
		fmt.Fprintln(ui.Out, "\nTo overwrite, first remove the existing file:")
		fmt.Fprintf(ui.Out, "  rm %s\n", path)
		os.Exit(1)
	}

	exitOnError("Failed to create configuration directory", os.MkdirAll(filepath.Dir(path), 0755))
	exitOnError("Failed to create configuration file", os.WriteFile(path, []byte(exampleConfig), 0644))

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Out, "\nNext steps:")
	fmt.Fprintln(ui.Out, "1. Store your session cookies with 'feedcrawler auth login'")
	fmt.Fprintln(ui.Out, "2. Run 'feedcrawler config validate' to check the configuration")
	fmt.Fprintln(ui.Out, "3. Start crawling with 'feedcrawler crawl <ticker>'")
}

// maskedConfig returns a copy of cfg that is safe to print
func maskedConfig(cfg *config.Config) config.Config {
	display := *cfg
	if display.Elasticsearch.Password != "" {
		display.Elasticsearch.Password = "********"
	}
	if display.Queue.RedisPassword != "" {
		display.Queue.RedisPassword = "********"
	}
	return display
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd, nil)
	exitOnError("Failed to load configuration", err)

	display := maskedConfig(cfg)
	data, err := yaml.Marshal(&display)
	exitOnError("Failed to format configuration", err)

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(data))

	fmt.Fprintln(ui.Out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(ui.Out, "1. Command line flags")
	fmt.Fprintf(ui.Out, "2. Environment variables (%s*)\n", config.EnvPrefix)
	if p := configPath(); p != "" {
		fmt.Fprintf(ui.Out, "3. Configuration file: %s\n", p)
	} else {
		fmt.Fprintln(ui.Out, "3. Configuration file: (none found)")
	}
	fmt.Fprintln(ui.Out, "4. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	path := configPath()
	if path == "" {
		ui.PrintError("No configuration file found", "specify a file with --config or run 'feedcrawler config init'")
		os.Exit(1)
	}
	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	exitOnError("Configuration validation failed", err)

	var warnings, problems []string
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("Cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	if cfg.Browser.Bin != "" {
		if _, err := os.Stat(cfg.Browser.Bin); err != nil {
			problems = append(problems, fmt.Sprintf("Browser binary not found: %s", cfg.Browser.Bin))
		}
	}
	if !cfg.Browser.Headless && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		warnings = append(warnings, "headless is off but no display is available")
	}
	if cfg.RateLimit.NavigationsPerMinute == 0 {
		warnings = append(warnings, "navigations are not rate limited")
	}
	if cfg.Elasticsearch.Enabled && len(cfg.Elasticsearch.Addresses) == 0 {
		problems = append(problems, "elasticsearch is enabled without addresses")
	}

	for _, w := range warnings {
		ui.PrintWarning("Warning", w)
	}
	for _, p := range problems {
		ui.PrintError("Error", p)
	}
	if len(problems) > 0 {
		os.Exit(1)
	}

	ui.RenderKeyValues(ui.Out, "Configuration is valid", []ui.KeyValue{
		{Key: "Driver", Value: cfg.Browser.Driver},
		{Key: "Max posts", Value: cfg.Crawl.MaxRecords},
		{Key: "Reply threads", Value: fmt.Sprintf("%d x %d replies", cfg.Crawl.ReplyThreads, cfg.Crawl.MaxReplies)},
		{Key: "Navigations/min", Value: cfg.RateLimit.NavigationsPerMinute},
		{Key: "Output", Value: fmt.Sprintf("%s %v", cfg.Output.Directory, cfg.Output.Formats)},
		{Key: "Log level", Value: cfg.Logging.Level},
	})
}
