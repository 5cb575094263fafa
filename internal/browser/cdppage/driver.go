// Package cdppage drives a live Chromium tab through chromedp. Post fields
// are read from a serialized copy of the DOM taken once per pass, so a
// pass costs one round trip regardless of how many posts are rendered.
package cdppage

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"feedcrawler/internal/browser/snapshot"
	"feedcrawler/pkg/auth"
	"feedcrawler/pkg/config"
	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/logger"
)

// Driver owns a browser allocator and one tab
type Driver struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	sel         extract.Selectors
	navWait     time.Duration
	logger      logger.Logger
}

type Option func(*Driver)

func WithSelectors(sel extract.Selectors) Option {
	return func(d *Driver) { d.sel = sel }
}

func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// AllocatorOptions maps the browser config onto chromedp flags
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Bin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Bin))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}

// Launch starts the browser and installs the session cookies of account.
// The browser lives until Close or until parent is cancelled.
func Launch(parent context.Context, cfg config.BrowserConfig, account *auth.Account, opts ...Option) (*Driver, error) {
	if account != nil && account.UserAgent != "" {
		cfg.UserAgent = account.UserAgent
	}

	d := &Driver{
		sel:     extract.DefaultSelectors(),
		navWait: cfg.NavigationTimeout,
		logger:  logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.navWait <= 0 {
		d.navWait = 30 * time.Second
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, AllocatorOptions(cfg)...)
	d.allocCancel = allocCancel
	d.tabCtx, d.tabCancel = chromedp.NewContext(allocCtx)

	actions := []chromedp.Action{network.Enable()}
	if account != nil {
		actions = append(actions, setCookies(account.Cookies()))
	}
	if err := chromedp.Run(d.tabCtx, actions...); err != nil {
		d.Close()
		return nil, errs.Wrap(errs.ErrorTypeDriver, "failed to start browser", err)
	}

	d.logger.InfoWithFields("browser ready", map[string]interface{}{
		"driver":   "chromedp",
		"headless": cfg.Headless,
		"cookies":  account != nil,
	})
	return d, nil
}

func setCookies(cookies []auth.Cookie) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				Do(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// Close ends the tab and the browser process
func (d *Driver) Close() error {
	if d.tabCancel != nil {
		d.tabCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

// run executes actions in the tab, bounded by ctx as well as the tab's own
// lifetime
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, d.navWait)
	defer cancel()
	if err := d.run(navCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() == nil && navCtx.Err() != nil {
			return errs.Wrap(errs.ErrorTypePageLoadTimeout, "navigation timed out", err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := d.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read page url: %w", err)
	}
	return loc, nil
}

// document serializes the current DOM
func (d *Driver) document(ctx context.Context) (*snapshot.Document, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	doc, err := snapshot.ParseString(html, d.sel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

func (d *Driver) CurrentPostHandles(ctx context.Context) ([]extract.Handle, error) {
	doc, err := d.document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Posts(), nil
}

func (d *Driver) ChallengePresent(ctx context.Context) (bool, error) {
	doc, err := d.document(ctx)
	if err != nil {
		return false, err
	}
	return doc.ChallengePresent(), nil
}

func (d *Driver) ScrollToLoadMore(ctx context.Context) error {
	err := d.run(ctx, chromedp.Evaluate(`window.scrollTo({top: document.body.scrollHeight})`, nil))
	if err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

func (d *Driver) CurrentScrollExtent(ctx context.Context) (int, error) {
	var height int
	if err := d.run(ctx, chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, fmt.Errorf("failed to read page height: %w", err)
	}
	return height, nil
}
