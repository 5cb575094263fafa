// Package rodpage drives a live Chromium page through go-rod.
package rodpage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"feedcrawler/pkg/auth"
	"feedcrawler/pkg/config"
	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/logger"
)

// Driver owns a launched browser and a single page
type Driver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	sel      extract.Selectors
	navWait  time.Duration
	logger   logger.Logger
}

// Option configures a Driver
type Option func(*Driver)

func WithSelectors(sel extract.Selectors) Option {
	return func(d *Driver) { d.sel = sel }
}

func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewLauncher builds the launcher for cfg without starting anything
func NewLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		Leakless(cfg.Leakless).
		NoSandbox(cfg.NoSandbox)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		l = l.Set("window-size", strconv.Itoa(cfg.WindowWidth)+","+strconv.Itoa(cfg.WindowHeight))
	}
	return l
}

// CookieParams converts account cookies into the CDP form
func CookieParams(cookies []auth.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return params
}

// Launch starts a browser, installs the session cookies of account (when
// given) and opens the page the crawl will drive.
func Launch(ctx context.Context, cfg config.BrowserConfig, account *auth.Account, opts ...Option) (*Driver, error) {
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

	d.launcher = NewLauncher(cfg).Context(ctx)
	controlURL, err := d.launcher.Launch()
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeDriver, "failed to launch browser", err)
	}

	d.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := d.browser.Connect(); err != nil {
		d.launcher.Kill()
		return nil, errs.Wrap(errs.ErrorTypeDriver, "failed to connect to browser", err)
	}

	if account != nil {
		if err := d.browser.SetCookies(CookieParams(account.Cookies())); err != nil {
			d.Close()
			return nil, errs.Wrap(errs.ErrorTypeDriver, "failed to set session cookies", err)
		}
	}

	if cfg.Stealth {
		d.page, err = stealth.Page(d.browser)
	} else {
		d.page, err = d.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		d.Close()
		return nil, errs.Wrap(errs.ErrorTypeDriver, "failed to open page", err)
	}

	ua := cfg.UserAgent
	if account != nil && account.UserAgent != "" {
		ua = account.UserAgent
	}
	if ua != "" {
		if err := d.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			d.logger.WithError(err).Warn("failed to override user agent")
		}
	}

	d.logger.InfoWithFields("browser ready", map[string]interface{}{
		"headless": cfg.Headless,
		"stealth":  cfg.Stealth,
		"cookies":  account != nil,
	})
	return d, nil
}

// Close shuts the browser down and removes its temporary profile
func (d *Driver) Close() error {
	var err error
	if d.browser != nil {
		err = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher.Cleanup()
	}
	return err
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx).Timeout(d.navWait)
	defer page.CancelTimeout()

	err := page.Navigate(url)
	if err == nil {
		err = page.WaitLoad()
	}
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypePageLoadTimeout, "navigation timed out", err)
	}
	return fmt.Errorf("navigation failed: %w", err)
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page url: %w", err)
	}
	return info.URL, nil
}

func (d *Driver) CurrentPostHandles(ctx context.Context) ([]extract.Handle, error) {
	els, err := d.page.Context(ctx).Elements(d.sel.Post)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	handles := make([]extract.Handle, 0, len(els))
	for _, el := range els {
		handles = append(handles, handle{el: el})
	}
	return handles, nil
}

func (d *Driver) ScrollToLoadMore(ctx context.Context) error {
	_, err := d.page.Context(ctx).Eval(`() => window.scrollTo({top: document.body.scrollHeight})`)
	if err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

func (d *Driver) CurrentScrollExtent(ctx context.Context) (int, error) {
	res, err := d.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, fmt.Errorf("failed to read page height: %w", err)
	}
	return res.Value.Int(), nil
}

func (d *Driver) ChallengePresent(ctx context.Context) (bool, error) {
	page := d.page.Context(ctx)
	for _, s := range d.sel.Challenge {
		found, _, err := page.Has(s)
		if err != nil {
			return false, fmt.Errorf("challenge probe failed: %w", err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// handle reads fields out of a live post element. Lookups never wait for
// elements to appear; a missing field is reported as extract.ErrNotFound
// right away.
type handle struct {
	el *rod.Element
}

func (h handle) Exists(selector string) (bool, error) {
	found, _, err := h.el.Has(selector)
	return found, err
}

func (h handle) Text(selector string) (string, error) {
	found, el, err := h.el.Has(selector)
	if err != nil {
		return "", err
	}
	if !found {
		return "", extract.ErrNotFound
	}
	return el.Text()
}

func (h handle) Texts(selector string) ([]string, error) {
	els, err := h.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (h handle) Attr(selector, name string) (string, error) {
	found, el, err := h.el.Has(selector)
	if err != nil {
		return "", err
	}
	if !found {
		return "", extract.ErrNotFound
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", extract.ErrNotFound
	}
	return *v, nil
}

func (h handle) Attrs(selector, name string) ([]string, error) {
	els, err := h.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range els {
		v, err := el.Attribute(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}
