package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/models"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv
const EnvPrefix = "FEEDCRAWLER_"

// Config holds all configuration options for the feed crawler
type Config struct {
	Crawl         CrawlConfig         `yaml:"crawl" json:"crawl"`
	Browser       BrowserConfig       `yaml:"browser" json:"browser"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Output        OutputConfig        `yaml:"output" json:"output"`
	Download      DownloadConfig      `yaml:"download" json:"download"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	Queue         QueueConfig         `yaml:"queue" json:"queue"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Notifications NotificationConfig  `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Selectors     extract.Selectors   `yaml:"selectors" json:"selectors"`
}

// CrawlConfig tunes the paginator and extraction loop
type CrawlConfig struct {
	BaseURL             string        `yaml:"base_url" json:"base_url"`
	MaxRecords          int           `yaml:"max_records" json:"max_records"`
	MaxReplies          int           `yaml:"max_replies" json:"max_replies"`
	ReplyThreads        int           `yaml:"reply_threads" json:"reply_threads"`
	StagnationTolerance int           `yaml:"stagnation_tolerance" json:"stagnation_tolerance"`
	DelayMin            time.Duration `yaml:"delay_min" json:"delay_min"`
	DelayMax            time.Duration `yaml:"delay_max" json:"delay_max"`
	LoadTimeout         time.Duration `yaml:"load_timeout" json:"load_timeout"`
	LoadRetries         int           `yaml:"load_retries" json:"load_retries"`
	ThreadDelayMin      time.Duration `yaml:"thread_delay_min" json:"thread_delay_min"`
	ThreadDelayMax      time.Duration `yaml:"thread_delay_max" json:"thread_delay_max"`
	DatePlaceholder     string        `yaml:"date_placeholder" json:"date_placeholder"`
}

// BrowserConfig selects and configures the page driver
type BrowserConfig struct {
	Driver            string        `yaml:"driver" json:"driver"`
	Headless          bool          `yaml:"headless" json:"headless"`
	NoSandbox         bool          `yaml:"no_sandbox" json:"no_sandbox"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	UserDataDir       string        `yaml:"user_data_dir" json:"user_data_dir"`
	Bin               string        `yaml:"bin" json:"bin"`
	Stealth           bool          `yaml:"stealth" json:"stealth"`
	Leakless          bool          `yaml:"leakless" json:"leakless"`
	WindowWidth       int           `yaml:"window_width" json:"window_width"`
	WindowHeight      int           `yaml:"window_height" json:"window_height"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
}

// RateLimitConfig paces navigations across sessions
type RateLimitConfig struct {
	NavigationsPerMinute int `yaml:"navigations_per_minute" json:"navigations_per_minute"`
	Burst                int `yaml:"burst" json:"burst"`
}

// OutputConfig holds export configuration
type OutputConfig struct {
	Directory             string   `yaml:"directory" json:"directory"`
	Formats               []string `yaml:"formats" json:"formats"`
	DropPermalinkInExport bool     `yaml:"drop_permalink_in_export" json:"drop_permalink_in_export"`
	CombinedFile          bool     `yaml:"combined_file" json:"combined_file"`
}

// DownloadConfig holds media download configuration
type DownloadConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Concurrent int           `yaml:"concurrent" json:"concurrent"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	SkipVideos bool          `yaml:"skip_videos" json:"skip_videos"`
}

// ElasticsearchConfig configures the bulk index sink
type ElasticsearchConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Addresses     []string      `yaml:"addresses" json:"addresses"`
	Username      string        `yaml:"username" json:"username"`
	Password      string        `yaml:"password" json:"-"`
	Index         string        `yaml:"index" json:"index"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// QueueConfig configures the Redis task queue
type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	Prefix        string `yaml:"prefix" json:"prefix"`
}

// MetricsConfig configures prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	OnChallenge bool `yaml:"on_challenge" json:"on_challenge"`
	OnComplete  bool `yaml:"on_complete" json:"on_complete"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	Format  string `yaml:"format" json:"format"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	target := models.DefaultCrawlTarget("")
	return &Config{
		Crawl: CrawlConfig{
			BaseURL:             "https://x.com",
			MaxRecords:          target.MaxRecords,
			MaxReplies:          20,
			ReplyThreads:        10,
			StagnationTolerance: target.StagnationTolerance,
			DelayMin:            target.Delay.Min,
			DelayMax:            target.Delay.Max,
			LoadTimeout:         target.LoadTimeout,
			LoadRetries:         target.LoadRetries,
			ThreadDelayMin:      3 * time.Second,
			ThreadDelayMax:      6 * time.Second,
			DatePlaceholder:     target.DatePlaceholder,
		},
		Browser: BrowserConfig{
			Driver:            "rod",
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Stealth:           true,
			Leakless:          true,
			WindowWidth:       1280,
			WindowHeight:      2000,
			NavigationTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			NavigationsPerMinute: 20,
			Burst:                1,
		},
		Output: OutputConfig{
			Directory:    "./output",
			Formats:      []string{"json", "csv"},
			CombinedFile: true,
		},
		Download: DownloadConfig{
			Concurrent: 3,
			Timeout:    30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:     []string{"http://localhost:9200"},
			Index:         "feed-records",
			FlushInterval: 5 * time.Second,
		},
		Queue: QueueConfig{
			RedisAddr: "localhost:6379",
			Prefix:    "feedcrawler",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		Notifications: NotificationConfig{
			Enabled:     true,
			OnChallenge: true,
			OnComplete:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Selectors: extract.DefaultSelectors(),
	}
}

// LoadFromEnv overrides fields from FEEDCRAWLER_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	str("BASE_URL", &c.Crawl.BaseURL)
	num("MAX_RECORDS", &c.Crawl.MaxRecords)
	num("MAX_REPLIES", &c.Crawl.MaxReplies)
	num("REPLY_THREADS", &c.Crawl.ReplyThreads)
	num("STAGNATION_TOLERANCE", &c.Crawl.StagnationTolerance)
	dur("LOAD_TIMEOUT", &c.Crawl.LoadTimeout)
	num("LOAD_RETRIES", &c.Crawl.LoadRetries)

	str("BROWSER_DRIVER", &c.Browser.Driver)
	str("BROWSER_BIN", &c.Browser.Bin)
	str("USER_AGENT", &c.Browser.UserAgent)
	flag("HEADLESS", &c.Browser.Headless)
	flag("NO_SANDBOX", &c.Browser.NoSandbox)

	num("NAVIGATIONS_PER_MINUTE", &c.RateLimit.NavigationsPerMinute)

	str("OUTPUT_DIR", &c.Output.Directory)
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMATS"); v != "" {
		c.Output.Formats = splitList(v)
	}

	num("CONCURRENT_DOWNLOADS", &c.Download.Concurrent)

	flag("ES_ENABLED", &c.Elasticsearch.Enabled)
	if v := os.Getenv(EnvPrefix + "ES_ADDRESSES"); v != "" {
		c.Elasticsearch.Addresses = splitList(v)
	}
	str("ES_USERNAME", &c.Elasticsearch.Username)
	str("ES_PASSWORD", &c.Elasticsearch.Password)
	str("ES_INDEX", &c.Elasticsearch.Index)

	str("REDIS_ADDR", &c.Queue.RedisAddr)
	str("REDIS_PASSWORD", &c.Queue.RedisPassword)
	num("REDIS_DB", &c.Queue.RedisDB)

	flag("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_LISTEN", &c.Metrics.Listen)

	flag("NOTIFICATIONS_ENABLED", &c.Notifications.Enabled)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)
	str("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// DefaultPath is where `config init` writes a new file
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "feedcrawler", "config.yaml")
}

// FindConfigFile returns the first existing config file in the search path
func FindConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".feedcrawler.yaml",
		".feedcrawler.yml",
		DefaultPath(),
		filepath.Join(home, ".feedcrawler.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Crawl.BaseURL == "" {
		errs = append(errs, errors.New("crawl base url is required"))
	}
	if c.Selectors.Post == "" {
		errs = append(errs, errors.New("post selector is required"))
	}
	if c.Crawl.MaxRecords < 1 {
		errs = append(errs, errors.New("max records must be at least 1"))
	}
	if c.Crawl.MaxReplies < 0 {
		errs = append(errs, errors.New("max replies cannot be negative"))
	}
	if c.Crawl.ReplyThreads < 0 {
		errs = append(errs, errors.New("reply threads cannot be negative"))
	}
	if c.Crawl.StagnationTolerance < 1 {
		errs = append(errs, errors.New("stagnation tolerance must be at least 1"))
	}
	if c.Crawl.DelayMin < 0 || c.Crawl.DelayMin > c.Crawl.DelayMax {
		errs = append(errs, errors.New("delay bounds must satisfy 0 <= min <= max"))
	}
	if c.Crawl.ThreadDelayMin < 0 || c.Crawl.ThreadDelayMin > c.Crawl.ThreadDelayMax {
		errs = append(errs, errors.New("thread delay bounds must satisfy 0 <= min <= max"))
	}
	if c.Crawl.LoadTimeout <= 0 {
		errs = append(errs, errors.New("load timeout must be positive"))
	}
	if c.Crawl.LoadRetries < 1 {
		errs = append(errs, errors.New("load retries must be at least 1"))
	}

	switch strings.ToLower(c.Browser.Driver) {
	case "rod", "chromedp":
	default:
		errs = append(errs, fmt.Errorf("unknown browser driver %q", c.Browser.Driver))
	}

	if c.RateLimit.NavigationsPerMinute < 0 {
		errs = append(errs, errors.New("navigations per minute cannot be negative"))
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate limit burst must be at least 1"))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	for _, f := range c.Output.Formats {
		switch strings.ToLower(f) {
		case "json", "csv", "ndjson":
		default:
			errs = append(errs, fmt.Errorf("unknown output format %q", f))
		}
	}

	if c.Download.Enabled && c.Download.Concurrent <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.Concurrent > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}

	if c.Elasticsearch.Enabled {
		if len(c.Elasticsearch.Addresses) == 0 {
			errs = append(errs, errors.New("elasticsearch addresses are required when enabled"))
		}
		if c.Elasticsearch.Index == "" {
			errs = append(errs, errors.New("elasticsearch index is required when enabled"))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Save writes the configuration to path as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags applies flag values that were explicitly set
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["max"].(int); ok && v > 0 {
		c.Crawl.MaxRecords = v
	}
	if v, ok := flags["replies"].(int); ok && v >= 0 {
		c.Crawl.MaxReplies = v
	}
	if v, ok := flags["threads"].(int); ok && v >= 0 {
		c.Crawl.ReplyThreads = v
	}
	if v, ok := flags["driver"].(string); ok && v != "" {
		c.Browser.Driver = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["format"].([]string); ok && len(v) > 0 {
		c.Output.Formats = v
	}
	if v, ok := flags["download"].(bool); ok {
		c.Download.Enabled = v
	}
	if v, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["no-color"].(bool); ok && v {
		c.Logging.NoColor = true
	}
}

// CrawlTarget builds a feed target for subject from the crawl settings
func (c *Config) CrawlTarget(subject, since string) models.CrawlTarget {
	return models.CrawlTarget{
		Kind:                models.KindPost,
		Subject:             subject,
		Since:               since,
		MaxRecords:          c.Crawl.MaxRecords,
		StagnationTolerance: c.Crawl.StagnationTolerance,
		Delay:               models.DelayBounds{Min: c.Crawl.DelayMin, Max: c.Crawl.DelayMax},
		LoadTimeout:         c.Crawl.LoadTimeout,
		LoadRetries:         c.Crawl.LoadRetries,
		DatePlaceholder:     c.Crawl.DatePlaceholder,
	}
}

// ThreadTarget builds a reply-thread target for threadURL
func (c *Config) ThreadTarget(subject, threadURL string) models.CrawlTarget {
	t := c.CrawlTarget(subject, "")
	t.Kind = models.KindReply
	t.URL = threadURL
	t.MaxRecords = c.Crawl.MaxReplies
	return t
}

// ThreadDelay returns the pause bounds between reply threads
func (c *Config) ThreadDelay() models.DelayBounds {
	return models.DelayBounds{Min: c.Crawl.ThreadDelayMin, Max: c.Crawl.ThreadDelayMax}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment variables > .env file > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".feedcrawler.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
