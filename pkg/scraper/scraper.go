package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"feedcrawler/internal/downloader"
	"feedcrawler/pkg/checkpoint"
	"feedcrawler/pkg/config"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/identity"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/paginator"
	"feedcrawler/pkg/ratelimit"
	"feedcrawler/pkg/storage"
)

// ErrCheckpointExists is returned when an earlier run left a checkpoint and
// neither resume nor restart was requested
var ErrCheckpointExists = errors.New("checkpoint exists - use --resume to continue or --force-restart to start fresh")

// Scraper runs complete crawls: feed, reply threads, export and media
// download, with checkpointing between runs
type Scraper struct {
	config         *config.Config
	driver         PageDriver
	reporters      []Reporter
	observer       Observer
	limiter        ratelimit.Limiter
	logger         logger.Logger
	fetcher        downloader.Fetcher
	onDownloads    func(downloader.Summary)
	onIntervention storage.InterventionFunc
	checkpoints    func(subject string) (*checkpoint.Manager, error)
	newRunID       func() string
	wait           paginator.WaitFunc
}

// Option configures a Scraper
type Option func(*Scraper)

// WithReporters adds reporters that receive every session result next to the
// file reporter
func WithReporters(r ...Reporter) Option {
	return func(s *Scraper) { s.reporters = append(s.reporters, r...) }
}

func WithRunObserver(o Observer) Option {
	return func(s *Scraper) { s.observer = o }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithFetcher sets the client used for media downloads
func WithFetcher(f downloader.Fetcher) Option {
	return func(s *Scraper) { s.fetcher = f }
}

// WithDownloadObserver is called with the summary of every media download
func WithDownloadObserver(fn func(downloader.Summary)) Option {
	return func(s *Scraper) { s.onDownloads = fn }
}

// WithInterventionHandler is called when a challenge blocks a session
func WithInterventionHandler(fn storage.InterventionFunc) Option {
	return func(s *Scraper) { s.onIntervention = fn }
}

// WithCheckpointDir keeps checkpoints under dir instead of the user data
// directory
func WithCheckpointDir(dir string) Option {
	return func(s *Scraper) {
		s.checkpoints = func(subject string) (*checkpoint.Manager, error) {
			return checkpoint.NewManagerAt(dir, subject)
		}
	}
}

// WithRunID fixes the run ID instead of generating one
func WithRunID(id string) Option {
	return func(s *Scraper) { s.newRunID = func() string { return id } }
}

// WithWait replaces sleeping between scrolls and threads
func WithWait(fn paginator.WaitFunc) Option {
	return func(s *Scraper) { s.wait = fn }
}

// New creates a Scraper driving driver with the settings in cfg
func New(cfg *config.Config, driver PageDriver, opts ...Option) *Scraper {
	s := &Scraper{
		config:      cfg,
		driver:      driver,
		observer:    nopObserver{},
		logger:      logger.GetLogger(),
		checkpoints: checkpoint.NewManager,
		newRunID:    uuid.NewString,
	}

	if n := cfg.RateLimit.NavigationsPerMinute; n > 0 {
		s.limiter = ratelimit.PerMinute(n, cfg.RateLimit.Burst)
	} else {
		s.limiter = ratelimit.Unlimited{}
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil && cfg.Download.Enabled {
		s.fetcher = downloader.NewHTTPFetcher(cfg.Download.Timeout, cfg.Browser.UserAgent)
	}
	return s
}

// RunOptions selects what Run crawls
type RunOptions struct {
	Subject string
	Since   string
	// Replies also crawls the reply threads of the first posts
	Replies      bool
	Resume       bool
	ForceRestart bool
}

// Report describes a finished run
type Report struct {
	RunID     string
	Result    models.Result
	Summary   *RunSummary
	Files     []string
	Downloads *downloader.Summary
	Failures  []storage.Failure
	// Resumed is set when the run continued an earlier checkpoint
	Resumed bool
	// CheckpointKept is set when the run stopped early and can be resumed
	CheckpointKept bool
}

// Err returns the error that ended the run early, if any
func (r *Report) Err() error {
	if r.Summary == nil {
		return nil
	}
	if r.Summary.Aborted != nil {
		return r.Summary.Aborted
	}
	if r.Summary.Feed.State == StateFailed {
		return r.Summary.Feed.Err
	}
	return nil
}

// Run crawls the feed of opts.Subject and, when asked, its reply threads.
// Results are exported once the crawl ends, however it ends.
func (s *Scraper) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	subject := strings.TrimSpace(opts.Subject)
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	mgr, err := s.checkpoints(subject)
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Error("Failed to create checkpoint manager")
		return nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	mgr.SetLogger(s.logger)

	var cp *checkpoint.Checkpoint
	switch {
	case opts.ForceRestart && mgr.Exists():
		if err := mgr.Delete(); err != nil {
			s.logger.WithError(err).Warn("Failed to delete existing checkpoint")
		}
	case opts.Resume && mgr.Exists():
		cp, err = mgr.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
	case mgr.Exists():
		return nil, ErrCheckpointExists
	}

	report := &Report{Resumed: cp != nil}
	if cp != nil {
		report.RunID = cp.RunID
		s.logger.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
			"subject":           subject,
			"total_posts":       cp.TotalPosts,
			"total_replies":     cp.TotalReplies,
			"completed_threads": len(cp.CompletedThreads),
		})
	} else {
		report.RunID = s.newRunID()
		if cp, err = mgr.Create(subject, report.RunID); err != nil {
			s.logger.WithError(err).Warn("Failed to create checkpoint, continuing without one")
			mgr, cp = nil, nil
		}
	}

	result := &models.Result{RunID: report.RunID, Subject: subject, Since: opts.Since}
	files, err := s.fileReporter(result)
	if err != nil {
		return nil, err
	}

	reporters := append([]Reporter{files}, s.reporters...)
	if mgr != nil {
		reporters = append(reporters, &checkpointReporter{mgr: mgr, cp: cp})
	}
	reporter := Tee(reporters...)
	if report.Resumed {
		reporter = newResumeFilter(reporter, cp.EmittedKeys)
	}

	crawler := s.crawler(reporter)
	target := s.config.CrawlTarget(subject, opts.Since)

	plan := ReplyPlan{}
	if opts.Replies {
		plan.Threads = s.config.Crawl.ReplyThreads
		plan.MaxReplies = s.config.Crawl.MaxReplies
	}
	if mgr != nil {
		plan.Skip = cp.IsThreadDone
		plan.OnThreadDone = func(url string, out Outcome) {
			if out.State != StateDone {
				return
			}
			if err := mgr.MarkThreadDone(cp, url); err != nil {
				s.logger.WithError(err).Warn("Failed to record finished thread")
			}
		}
	}

	s.logger.InfoWithFields("Starting crawl", map[string]interface{}{
		"subject": subject,
		"since":   opts.Since,
		"replies": opts.Replies,
		"run_id":  report.RunID,
		"resume":  report.Resumed,
	})

	report.Summary = crawler.CrawlWithReplies(ctx, target, plan)
	s.finishRun(ctx, report, files)

	if mgr != nil {
		if report.Err() == nil {
			if err := mgr.Delete(); err != nil {
				s.logger.WithError(err).Warn("Failed to delete checkpoint")
			}
		} else {
			report.CheckpointKept = true
		}
	}
	return report, nil
}

// RunThread crawls the replies of one post. Thread runs are not
// checkpointed.
func (s *Scraper) RunThread(ctx context.Context, subject, threadURL string) (*Report, error) {
	if strings.TrimSpace(threadURL) == "" {
		return nil, fmt.Errorf("thread url is required")
	}

	report := &Report{RunID: s.newRunID()}
	result := &models.Result{RunID: report.RunID, Subject: subject}
	files, err := s.fileReporter(result)
	if err != nil {
		return nil, err
	}

	crawler := s.crawler(Tee(append([]Reporter{files}, s.reporters...)...))
	out := crawler.Crawl(ctx, s.config.ThreadTarget(subject, threadURL))
	report.Summary = &RunSummary{Feed: out}

	s.finishRun(ctx, report, files)
	return report, nil
}

func (s *Scraper) crawler(reporter Reporter) *Crawler {
	opts := []CrawlerOption{
		WithLimiter(s.limiter),
		WithCrawlerObserver(s.observer),
		WithCrawlerLogger(s.logger),
		WithThreadDelay(s.config.ThreadDelay()),
		WithCrawlerExtractor(extract.New(s.config.Selectors)),
	}
	if s.config.Crawl.BaseURL != "" {
		opts = append(opts, WithCrawlerBaseURL(s.config.Crawl.BaseURL))
	}
	if s.wait != nil {
		opts = append(opts, WithCrawlerWait(s.wait))
	}
	return NewCrawler(s.driver, reporter, opts...)
}

func (s *Scraper) fileReporter(result *models.Result) (*storage.FileReporter, error) {
	opts := []storage.ReporterOption{storage.WithReporterLogger(s.logger)}
	if s.onIntervention != nil {
		opts = append(opts, storage.WithInterventionHandler(s.onIntervention))
	}
	if slices.Contains(s.config.Output.Formats, storage.FormatNDJSON) {
		if err := os.MkdirAll(s.config.Output.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		stream := filepath.Join(s.config.Output.Directory, fmt.Sprintf("%s_stream.ndjson", result.RunID))
		opts = append(opts, storage.WithStream(stream))
	}
	return storage.NewFileReporter(result, opts...), nil
}

// finishRun exports what was collected and downloads its media
func (s *Scraper) finishRun(ctx context.Context, report *Report, files *storage.FileReporter) {
	report.Result = files.Result()
	report.Failures = files.Failures()

	total := len(report.Result.Posts) + len(report.Result.Replies)
	if total == 0 {
		s.logger.WithField("subject", report.Result.Subject).Warn("No records collected")
		return
	}

	exporter, err := storage.NewExporter(s.config.Output.Directory)
	if err != nil {
		s.logger.WithError(err).Error("Failed to prepare export directory")
	} else {
		formats := slices.DeleteFunc(slices.Clone(s.config.Output.Formats), func(f string) bool {
			return f == storage.FormatNDJSON
		})
		paths, err := exporter.WriteResult(&report.Result, storage.ExportOptions{
			Formats:       formats,
			Combined:      s.config.Output.CombinedFile,
			DropPermalink: s.config.Output.DropPermalinkInExport,
		})
		if err != nil {
			s.logger.WithError(err).Error("Export incomplete")
		}
		report.Files = paths
	}

	if s.config.Download.Enabled && s.fetcher != nil {
		sum := s.download(ctx, report.Result)
		report.Downloads = &sum
	}

	s.logger.InfoWithFields("Run finished", map[string]interface{}{
		"subject": report.Result.Subject,
		"posts":   len(report.Result.Posts),
		"replies": len(report.Result.Replies),
		"files":   len(report.Files),
	})
}

func (s *Scraper) download(ctx context.Context, result models.Result) downloader.Summary {
	records := result.All()
	unresolved := 0
	for _, r := range records {
		if r.HasVideoSentinel() {
			unresolved++
		}
	}
	if unresolved > 0 && !s.config.Download.SkipVideos {
		s.logger.WithField("posts", unresolved).Info("Some videos only had a player and cannot be downloaded")
	}

	jobs := downloader.JobsFromRecords(records, s.config.Download.SkipVideos)
	if len(jobs) == 0 {
		return downloader.Summary{}
	}

	dir := filepath.Join(s.config.Output.Directory, "media", strings.TrimLeft(result.Subject, "$#"))
	store, err := storage.NewManager(dir)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create media directory")
		return downloader.Summary{Failed: len(jobs), Errors: []error{err}}
	}

	sum := downloader.Run(ctx, jobs, s.config.Download.Concurrent, s.fetcher, store, ratelimit.Unlimited{}, s.logger)
	if s.onDownloads != nil {
		s.onDownloads(sum)
	}
	if sum.Failed > 0 {
		s.logger.WithError(errors.Join(sum.Errors...)).WarnWithFields("Some media failed to download", map[string]interface{}{
			"failed": sum.Failed,
		})
	}
	return sum
}

// checkpointReporter records the identity keys of every emitted record so a
// resumed run does not emit them again
type checkpointReporter struct {
	NopReporter
	mgr *checkpoint.Manager
	cp  *checkpoint.Checkpoint
}

func (r *checkpointReporter) Emit(_ context.Context, target models.CrawlTarget, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, 0, len(records))
	posts, replies := 0, 0
	for _, rec := range records {
		keys = append(keys, identity.Key(rec))
		if rec.Kind == models.KindReply {
			replies++
		} else {
			posts++
		}
	}
	if err := r.mgr.RecordEmitted(r.cp, posts, replies, keys...); err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	return nil
}

// resumeFilter drops records an earlier run already emitted. Sessions still
// see every record, so reply threads of old posts are still chosen.
type resumeFilter struct {
	Reporter
	seen *identity.Tracker
}

func newResumeFilter(next Reporter, keys []string) *resumeFilter {
	seen := identity.NewTracker()
	seen.Seed(keys...)
	return &resumeFilter{Reporter: next, seen: seen}
}

func (f *resumeFilter) Emit(ctx context.Context, target models.CrawlTarget, records []models.Record) error {
	fresh := make([]models.Record, 0, len(records))
	for _, r := range records {
		if f.seen.Accept(r) {
			fresh = append(fresh, r)
		}
	}
	return f.Reporter.Emit(ctx, target, fresh)
}
