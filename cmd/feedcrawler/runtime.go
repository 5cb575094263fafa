package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"feedcrawler/internal/browser/cdppage"
	"feedcrawler/internal/browser/rodpage"
	"feedcrawler/pkg/auth"
	"feedcrawler/pkg/config"
	"feedcrawler/pkg/index"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/metrics"
	"feedcrawler/pkg/queue"
	"feedcrawler/pkg/scraper"
	"feedcrawler/pkg/ui"
)

// browserDriver is a page driver that owns a browser process
type browserDriver interface {
	scraper.PageDriver
	Close() error
}

// loadConfig merges the global flags with the command's own flag values,
// loads the configuration and initializes the global logger
func loadConfig(cmd *cobra.Command, flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if noColor {
		flags["no-color"] = true
	}
	if cmd.Flags().Changed("notifications") {
		flags["notifications"] = notifications
	}

	cfg, err := config.Load(configPath(), flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// configPath returns --config or the first config file found on disk
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.FindConfigFile()
}

// resolveAccount returns the named stored account, or the default one
func resolveAccount(name string) (*auth.Account, error) {
	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if name != "" {
		account, err := manager.Retrieve(name)
		if err != nil {
			ui.PrintError("Account not found", name)
			ui.PrintInfo("Available accounts", "run 'feedcrawler auth list' to see stored accounts")
			return nil, err
		}
		return account, nil
	}

	account, err := manager.RetrieveDefault()
	if err != nil {
		ui.PrintError("No session cookies found")
		auth.WriteQuickGuide(ui.Out)
		fmt.Fprintln(ui.Out, "\nTo store the cookies of a logged-in browser, run:")
		fmt.Fprintln(ui.Out, "  feedcrawler auth login")
		fmt.Fprintln(ui.Out, "\nOr export them for a single run:")
		fmt.Fprintf(ui.Out, "  export %s=...\n", auth.EnvAuthToken)
		fmt.Fprintf(ui.Out, "  export %s=...\n", auth.EnvCSRF)
		return nil, err
	}
	return account, nil
}

// launchDriver starts the browser selected by cfg.Browser.Driver
func launchDriver(ctx context.Context, cfg *config.Config, account *auth.Account) (browserDriver, error) {
	log := logger.GetLogger().WithField("driver", cfg.Browser.Driver)
	switch strings.ToLower(cfg.Browser.Driver) {
	case "chromedp":
		d, err := cdppage.Launch(ctx, cfg.Browser, account,
			cdppage.WithLogger(log), cdppage.WithSelectors(cfg.Selectors))
		if err != nil {
			return nil, err
		}
		return d, nil
	case "", "rod":
		d, err := rodpage.Launch(ctx, cfg.Browser, account,
			rodpage.WithLogger(log), rodpage.WithSelectors(cfg.Selectors))
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser.Driver)
	}
}

// sinks holds the optional reporters and observers a run is wired to
type sinks struct {
	reporters []scraper.Reporter
	observers []scraper.Observer
	recorder  *metrics.Recorder
	closers   []func()
}

// Close releases every connection opened by newSinks
func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Observer fans out to the metrics recorder and any extra observers
func (s *sinks) Observer(extra ...scraper.Observer) scraper.Observer {
	return scraper.Observers(append(append([]scraper.Observer{}, s.observers...), extra...)...)
}

// newSinks wires notifications, the Elasticsearch sink, the metrics listener
// and, when publish is set, the Redis record stream
func newSinks(ctx context.Context, cfg *config.Config, runID string, publish bool) (*sinks, error) {
	log := logger.GetLogger()
	s := &sinks{}

	if cfg.Notifications.Enabled {
		s.reporters = append(s.reporters, &ui.NotifyReporter{
			Notifier:    ui.NewNotifier(true),
			OnChallenge: cfg.Notifications.OnChallenge,
			OnComplete:  cfg.Notifications.OnComplete,
			OnFailure:   true,
		})
	}

	if cfg.Elasticsearch.Enabled {
		sink, err := index.NewSink(index.Config{
			Addresses:     cfg.Elasticsearch.Addresses,
			Username:      cfg.Elasticsearch.Username,
			Password:      cfg.Elasticsearch.Password,
			Index:         cfg.Elasticsearch.Index,
			FlushInterval: cfg.Elasticsearch.FlushInterval,
		}, runID, log)
		if err != nil {
			return nil, err
		}
		s.reporters = append(s.reporters, sink)
		s.closers = append(s.closers, func() {
			indexed, failed := sink.Stats()
			log.InfoWithFields("index sink closed", map[string]interface{}{"indexed": indexed, "failed": failed})
		})
	}

	if cfg.Metrics.Enabled {
		s.recorder = metrics.NewRecorder(prometheus.NewRegistry())
		s.observers = append(s.observers, s.recorder)
		mctx, cancel := context.WithCancel(ctx)
		go func() {
			if err := s.recorder.Serve(mctx, cfg.Metrics.Listen, log); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
		s.closers = append(s.closers, cancel)
	}

	if publish {
		client, err := redisClient(cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.reporters = append(s.reporters, queue.NewPublisher(client, cfg.Queue.Prefix, runID))
		s.closers = append(s.closers, func() { client.Close() })
	}

	return s, nil
}

func redisClient(cfg *config.Config) (*redis.Client, error) {
	return queue.NewClient(queue.Config{
		Address:  cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
		Prefix:   cfg.Queue.Prefix,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunID() string {
	return uuid.NewString()
}

// exitOnError prints err the way every command reports failures and exits
func exitOnError(msg string, err error) {
	if err == nil {
		return
	}
	logger.GetLogger().WithError(err).Error(msg)
	ui.PrintError(msg, err)
	os.Exit(1)
}
