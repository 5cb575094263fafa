package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcrawler/pkg/config"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/queue"
)

func TestCrawlFlagsOnlyCarriesChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVarP(&maxRecords, "max", "m", 0, "")
	cmd.Flags().IntVar(&maxReplies, "max-replies", 0, "")
	addBrowserFlags(cmd)

	assert.Empty(t, crawlFlags(cmd))

	require.NoError(t, cmd.Flags().Set("max", "75"))
	require.NoError(t, cmd.Flags().Set("driver", "chromedp"))
	require.NoError(t, cmd.Flags().Set("format", "csv,ndjson"))
	require.NoError(t, cmd.Flags().Set("headless", "false"))

	flags := crawlFlags(cmd)
	assert.Equal(t, 75, flags["max"])
	assert.Equal(t, "chromedp", flags["driver"])
	assert.Equal(t, []string{"csv", "ndjson"}, flags["format"])
	assert.Equal(t, false, flags["headless"])
	assert.NotContains(t, flags, "replies")

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 75, cfg.Crawl.MaxRecords)
	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
}

func TestCrawlTargetForTasks(t *testing.T) {
	cfg := config.DefaultConfig()

	feed := crawlTarget(cfg, queue.Task{Stock: "TSLA", SinceDate: "2024-01-01", MaxTweets: 7})
	assert.Equal(t, models.KindPost, feed.Kind)
	assert.Equal(t, "TSLA", feed.Subject)
	assert.Equal(t, "2024-01-01", feed.Since)
	assert.Equal(t, 7, feed.MaxRecords)

	defaulted := crawlTarget(cfg, queue.Task{Stock: "TSLA"})
	assert.Equal(t, cfg.Crawl.MaxRecords, defaulted.MaxRecords)

	thread := crawlTarget(cfg, queue.Task{
		Stock:         "TSLA",
		ScrapeReplies: true,
		TweetURL:      "https://x.com/a/status/1",
		MaxReplies:    4,
	})
	assert.Equal(t, models.KindReply, thread.Kind)
	assert.Equal(t, "https://x.com/a/status/1", thread.URL)
	assert.Equal(t, 4, thread.MaxRecords)
	assert.NoError(t, thread.Validate())
}

func TestCookieValidation(t *testing.T) {
	tests := []struct {
		name    string
		valid   func(string) error
		value   string
		wantErr bool
	}{
		{"auth token", validAuthToken, "0123456789abcdef0123456789abcdef01234567", false},
		{"auth token too short", validAuthToken, "0123456789abcdef", true},
		{"auth token not hex", validAuthToken, "0123456789abcdef0123456789abcdef0123456z", true},
		{"ct0 short form", validCSRFToken, "0123456789abcdef0123456789abcdef", false},
		{"ct0 empty", validCSRFToken, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.valid(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaskedConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Elasticsearch.Password = "secret"
	cfg.Queue.RedisPassword = "hunter2"

	masked := maskedConfig(cfg)
	assert.Equal(t, "********", masked.Elasticsearch.Password)
	assert.Equal(t, "********", masked.Queue.RedisPassword)
	assert.Equal(t, "secret", cfg.Elasticsearch.Password, "the loaded config is untouched")
}

func TestExampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0644))

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultConfig().Crawl, cfg.Crawl)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, "rod", cfg.Browser.Driver)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := newScheduler(logger.NewNopLogger())
	_, err := s.AddFunc("every half hour", func() {})
	assert.Error(t, err)

	_, err = s.AddFunc("@every 30m", func() {})
	assert.NoError(t, err)
	_, err = s.AddFunc("0 */2 * * *", func() {})
	assert.NoError(t, err)
}

func TestCronLoggerFields(t *testing.T) {
	log := logger.NewTestLogger()
	cl := cronLogger{log: log}

	cl.Info("wake", "now", "t1", "entry", 3)
	assert.Equal(t, map[string]interface{}{"now": "t1", "entry": 3}, cl.fields([]interface{}{"now", "t1", "entry", 3}))
	assert.True(t, log.HasMessage("cron: wake"))
}
