package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://x.com", cfg.Crawl.BaseURL)
	assert.Equal(t, 50, cfg.Crawl.MaxRecords)
	assert.Equal(t, 2, cfg.Crawl.StagnationTolerance)
	assert.Equal(t, 10*time.Second, cfg.Crawl.LoadTimeout)
	assert.Equal(t, []string{"json", "csv"}, cfg.Output.Formats)
	assert.Equal(t, extract.DefaultSelectors(), cfg.Selectors)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEEDCRAWLER_MAX_RECORDS", "120")
	t.Setenv("FEEDCRAWLER_LOAD_TIMEOUT", "15s")
	t.Setenv("FEEDCRAWLER_BROWSER_DRIVER", "chromedp")
	t.Setenv("FEEDCRAWLER_HEADLESS", "false")
	t.Setenv("FEEDCRAWLER_OUTPUT_FORMATS", "json, ndjson")
	t.Setenv("FEEDCRAWLER_ES_ADDRESSES", "http://es1:9200,http://es2:9200")
	t.Setenv("FEEDCRAWLER_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 120, cfg.Crawl.MaxRecords)
	assert.Equal(t, 15*time.Second, cfg.Crawl.LoadTimeout)
	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"json", "ndjson"}, cfg.Output.Formats)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("FEEDCRAWLER_MAX_RECORDS", "many")
	t.Setenv("FEEDCRAWLER_LOAD_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEEDCRAWLER_MAX_RECORDS")
	assert.Contains(t, err.Error(), "FEEDCRAWLER_LOAD_TIMEOUT")
	assert.Equal(t, 50, cfg.Crawl.MaxRecords)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "zero max records",
			mutate:  func(c *Config) { c.Crawl.MaxRecords = 0 },
			wantErr: "max records",
		},
		{
			name:    "no post selector",
			mutate:  func(c *Config) { c.Selectors.Post = "" },
			wantErr: "post selector",
		},
		{
			name:    "inverted delay",
			mutate:  func(c *Config) { c.Crawl.DelayMin = 5 * time.Second },
			wantErr: "delay bounds",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Browser.Driver = "selenium" },
			wantErr: "unknown browser driver",
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Output.Formats = []string{"xml"} },
			wantErr: "unknown output format",
		},
		{
			name: "elasticsearch without index",
			mutate: func(c *Config) {
				c.Elasticsearch.Enabled = true
				c.Elasticsearch.Index = ""
			},
			wantErr: "elasticsearch index",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Crawl.MaxReplies = 7
	cfg.Output.Directory = "/data/feeds"
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 7, loaded.Crawl.MaxReplies)
	assert.Equal(t, "/data/feeds", loaded.Output.Directory)
	assert.Equal(t, 4*time.Second, loaded.Crawl.DelayMax)
}

func TestLoadFromFilePartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "crawl:\n  max_records: 15\n  load_timeout: 20s\nbrowser:\n  driver: chromedp\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 15, cfg.Crawl.MaxRecords)
	assert.Equal(t, 20*time.Second, cfg.Crawl.LoadTimeout)
	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.Equal(t, 3, cfg.Crawl.LoadRetries)
}

func TestSelectorOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "selectors:\n  post: \"div[data-testid='cellInnerDiv'] article\"\n  challenge:\n    - \"#captcha\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, "div[data-testid='cellInnerDiv'] article", cfg.Selectors.Post)
	assert.Equal(t, []string{"#captcha"}, cfg.Selectors.Challenge)
	assert.Equal(t, extract.DefaultSelectors().Text, cfg.Selectors.Text, "unset selectors keep their defaults")

	saved := filepath.Join(dir, "saved.yaml")
	require.NoError(t, cfg.Save(saved))
	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(saved))
	assert.Equal(t, cfg.Selectors, loaded.Selectors)
	assert.Equal(t, cfg.Selectors, extract.New(loaded.Selectors).Selectors())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  max_records: 15\n  max_replies: 5\n"), 0644))

	t.Setenv("HOME", dir)
	t.Setenv("FEEDCRAWLER_MAX_REPLIES", "9")

	cfg, err := Load(path, map[string]interface{}{"max": 30})
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Crawl.MaxRecords, "flag beats file")
	assert.Equal(t, 9, cfg.Crawl.MaxReplies, "env beats file")
}

func TestLoadFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  load_retries: 0\n"), 0644))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load retries")
}

func TestCrawlTargets(t *testing.T) {
	cfg := DefaultConfig()

	feed := cfg.CrawlTarget("ABC", "2024-01-01")
	assert.Equal(t, models.KindPost, feed.Kind)
	assert.Equal(t, 50, feed.MaxRecords)
	assert.Equal(t, models.DelayBounds{Min: 2 * time.Second, Max: 4 * time.Second}, feed.Delay)
	assert.NoError(t, feed.Validate())

	thread := cfg.ThreadTarget("ABC", "https://x.com/alice/status/1")
	assert.Equal(t, models.KindReply, thread.Kind)
	assert.Equal(t, 20, thread.MaxRecords)
	assert.Equal(t, "https://x.com/alice/status/1", thread.URL)
	assert.NoError(t, thread.Validate())

	assert.Equal(t, 3*time.Second, cfg.ThreadDelay().Min)
}
