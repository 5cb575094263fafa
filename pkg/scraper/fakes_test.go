package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/models"
)

var (
	sel      = extract.DefaultSelectors()
	errStale = errors.New("stale element reference")
)

// stubPost is a rendered post answering the default selectors
type stubPost struct {
	author   string
	datetime string
	text     string
	href     string
	broken   bool
}

func post(n int) stubPost {
	return stubPost{
		author:   fmt.Sprintf("user%d", n),
		datetime: fmt.Sprintf("2024-01-%02dT10:00:00.000Z", n%28+1),
		text:     fmt.Sprintf("post number %d", n),
		href:     fmt.Sprintf("/user%d/status/%d", n, 1000+n),
	}
}

func posts(from, to int) []stubPost {
	var out []stubPost
	for i := from; i <= to; i++ {
		out = append(out, post(i))
	}
	return out
}

func (p stubPost) Text(s string) (string, error) {
	if p.broken {
		return "", errStale
	}
	if s == sel.Text && p.text != "" {
		return p.text, nil
	}
	return "", extract.ErrNotFound
}

func (p stubPost) Texts(s string) ([]string, error) {
	if p.broken {
		return nil, errStale
	}
	if s == sel.UserNamePart && p.author != "" {
		return []string{p.author, "@" + strings.ToLower(p.author), "·"}, nil
	}
	return nil, nil
}

func (p stubPost) Attr(s, name string) (string, error) {
	if p.broken {
		return "", errStale
	}
	switch {
	case s == sel.Time && name == "datetime" && p.datetime != "":
		return p.datetime, nil
	case s == sel.Permalink && name == "href" && p.href != "":
		return p.href, nil
	}
	return "", extract.ErrNotFound
}

func (p stubPost) Attrs(s, name string) ([]string, error) {
	if p.broken {
		return nil, errStale
	}
	return nil, nil
}

func (p stubPost) Exists(s string) (bool, error) {
	if p.broken {
		return false, errStale
	}
	switch s {
	case sel.UserName:
		return p.author != "", nil
	case sel.Time:
		return true, nil
	}
	return false, nil
}

// fakeDriver serves one list of posts per scroll and a scripted extent
// sequence; the last entry of each list repeats
type fakeDriver struct {
	passes  [][]stubPost
	extents []int

	// redirect replaces the navigated url
	redirect string
	// challengeAfter shows a challenge once this many scrolls happened; 0 never
	challengeAfter int
	challenge      bool
	// empty makes every handle read return nothing
	empty  bool
	navErr error

	url         string
	navigations []string
	scrolls     int
	extentReads int
	handleReads int
}

func (d *fakeDriver) CurrentPostHandles(ctx context.Context) ([]extract.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.handleReads++
	if d.empty || len(d.passes) == 0 {
		return nil, nil
	}
	i := min(d.scrolls, len(d.passes)-1)
	handles := make([]extract.Handle, 0, len(d.passes[i]))
	for _, p := range d.passes[i] {
		handles = append(handles, p)
	}
	return handles, nil
}

func (d *fakeDriver) ScrollToLoadMore(ctx context.Context) error {
	d.scrolls++
	return ctx.Err()
}

func (d *fakeDriver) CurrentScrollExtent(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.extentReads++
	if len(d.extents) == 0 {
		return 0, nil
	}
	i := min(d.extentReads-1, len(d.extents)-1)
	return d.extents[i], nil
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.navigations = append(d.navigations, url)
	if d.navErr != nil {
		return d.navErr
	}
	d.url = url
	if d.redirect != "" {
		d.url = d.redirect
	}
	return nil
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	return d.url, nil
}

func (d *fakeDriver) ChallengePresent(ctx context.Context) (bool, error) {
	if d.challenge {
		return true, nil
	}
	return d.challengeAfter > 0 && d.scrolls >= d.challengeAfter, nil
}

// recordingReporter counts reporter calls
type recordingReporter struct {
	mu            sync.Mutex
	emits         [][]models.Record
	failures      []errs.ErrorType
	interventions []string
}

func (r *recordingReporter) Emit(_ context.Context, _ models.CrawlTarget, records []models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, records)
	return nil
}

func (r *recordingReporter) ReportFailure(_ context.Context, _ models.CrawlTarget, c errs.ErrorType, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, c)
	return nil
}

func (r *recordingReporter) ReportManualInterventionNeeded(_ context.Context, _ models.CrawlTarget, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interventions = append(r.interventions, reason)
	return nil
}

func (r *recordingReporter) emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emits)
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// shortWait sleeps a millisecond regardless of d
func shortWait(ctx context.Context, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func feedTarget(max int) models.CrawlTarget {
	t := models.DefaultCrawlTarget("$TSLA")
	t.MaxRecords = max
	t.Delay = models.DelayBounds{}
	t.LoadTimeout = time.Second
	return t
}
