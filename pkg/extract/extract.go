// Package extract converts one rendered post element into a models.Record.
//
// The page behind a Handle can re-render at any moment, so every field read
// may fail with a stale-element error. Extract never propagates those
// failures: the element is dropped with an ExtractionSkip classification and
// the crawl carries on with the rest of the batch.
package extract

import (
	stderrors "errors"
	"fmt"
	"strings"

	"feedcrawler/pkg/counts"
	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/models"
)

// ErrNotFound is returned by Handle lookups when nothing matches
var ErrNotFound = stderrors.New("element not found")

// Handle is an opaque reference to one rendered post element. All selectors
// are scoped to the element. Text and Attr return ErrNotFound when nothing
// matches; Texts and Attrs return an empty slice instead. Any other error
// means the handle could not be read (detached, stale, browser gone).
type Handle interface {
	Text(selector string) (string, error)
	Texts(selector string) ([]string, error)
	Attr(selector, name string) (string, error)
	Attrs(selector, name string) ([]string, error)
	Exists(selector string) (bool, error)
}

// Context carries the per-crawl values a record needs but a post element
// does not contain.
type Context struct {
	Kind            models.RecordKind
	Subject         string
	ParentPermalink string
	DatePlaceholder string
	// BaseURL resolves relative permalinks
	BaseURL string
}

// Extractor turns handles into records using a fixed selector set
type Extractor struct {
	sel Selectors
}

// New creates an Extractor. A zero Selectors value selects the defaults.
func New(sel Selectors) *Extractor {
	if sel.Post == "" {
		sel = DefaultSelectors()
	}
	return &Extractor{sel: sel}
}

// Selectors returns the selector set in use
func (e *Extractor) Selectors() Selectors {
	return e.sel
}

// IsSkip reports whether err is an extraction skip
func IsSkip(err error) bool {
	return errs.TypeOf(err) == errs.ErrorTypeExtractionSkip
}

func skip(reason string, cause error) error {
	return errs.Wrap(errs.ErrorTypeExtractionSkip, reason, cause)
}

// Extract reads one post. It returns a Record, or an ExtractionSkip error when
// the element is not a usable post (an ad, an unhydrated placeholder) or could
// not be read.
func (e *Extractor) Extract(h Handle, ctx Context) (rec models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = models.Record{}
			err = skip("handle panicked", fmt.Errorf("%v", r))
		}
	}()

	if h == nil {
		return models.Record{}, skip("nil handle", nil)
	}

	author, handle, err := e.author(h)
	if err != nil {
		return models.Record{}, err
	}

	postedAt, err := e.postedAt(h, ctx)
	if err != nil {
		return models.Record{}, err
	}

	content, err := h.Text(e.sel.Text)
	if err != nil {
		if !stderrors.Is(err, ErrNotFound) {
			return models.Record{}, skip("content unreadable", err)
		}
		content = ""
	}

	permalink := ""
	if href, err := h.Attr(e.sel.Permalink, "href"); err == nil {
		permalink = CanonicalPermalink(ctx.BaseURL, href)
	} else if !stderrors.Is(err, ErrNotFound) {
		return models.Record{}, skip("permalink unreadable", err)
	}

	rec = models.Record{
		Kind:      ctx.Kind,
		Subject:   ctx.Subject,
		Author:    author,
		Handle:    handle,
		Content:   strings.TrimSpace(content),
		PostedAt:  postedAt,
		Metrics:   e.metrics(h),
		Permalink: permalink,
		MediaRefs: e.media(h),
	}
	if ctx.Kind == models.KindReply {
		rec.ParentPermalink = ctx.ParentPermalink
	}
	if rec.Kind == "" {
		rec.Kind = models.KindPost
	}
	return rec, nil
}

// author returns "Name (@handle)" and the @handle. A post without either is
// not a post.
func (e *Extractor) author(h Handle) (string, string, error) {
	ok, err := h.Exists(e.sel.UserName)
	if err != nil {
		return "", "", skip("author unreadable", err)
	}
	if !ok {
		return "", "", skip("missing author", nil)
	}

	parts, err := h.Texts(e.sel.UserNamePart)
	if err != nil {
		return "", "", skip("author unreadable", err)
	}

	var name, handle string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch {
		case p == "" || p == "·":
		case strings.HasPrefix(p, "@"):
			if handle == "" {
				handle = p
			}
		case name == "":
			name = p
		}
	}
	switch {
	case name == "" && handle == "":
		return "", "", skip("empty author", nil)
	case name == "":
		return handle, handle, nil
	case handle == "":
		return name, "", nil
	}
	return name + " (" + handle + ")", handle, nil
}

// postedAt requires the timestamp element. When the element is rendered
// without a machine-readable datetime the placeholder is used instead.
func (e *Extractor) postedAt(h Handle, ctx Context) (string, error) {
	ok, err := h.Exists(e.sel.Time)
	if err != nil {
		return "", skip("timestamp unreadable", err)
	}
	if !ok {
		return "", skip("missing timestamp", nil)
	}

	dt, err := h.Attr(e.sel.Time, "datetime")
	if err != nil && !stderrors.Is(err, ErrNotFound) {
		return "", skip("timestamp unreadable", err)
	}
	if dt = strings.TrimSpace(dt); dt != "" {
		return dt, nil
	}
	if ctx.DatePlaceholder != "" {
		return ctx.DatePlaceholder, nil
	}
	return models.DefaultDatePlaceholder, nil
}

// metrics prefers the consolidated aria-label, read once, over the individual
// counters. Unreadable metrics are zero rather than a skip.
func (e *Extractor) metrics(h Handle) models.Metrics {
	if label, err := h.Attr(e.sel.MetricsGroup, "aria-label"); err == nil && strings.TrimSpace(label) != "" {
		return counts.ParseMetricsLabel(label)
	}

	read := func(sel string) int {
		text, err := h.Text(sel)
		if err != nil {
			return 0
		}
		return counts.Normalize(text)
	}
	return models.Metrics{
		Comments: read(e.sel.Reply),
		Reposts:  read(e.sel.Repost),
		Likes:    read(e.sel.Like),
		Views:    read(e.sel.Views),
	}
}

// media collects distinct images and videos in document order. A video player
// without a resolvable source is kept as a sentinel entry.
func (e *Extractor) media(h Handle) []models.MediaRef {
	var refs []models.MediaRef
	seen := make(map[string]bool)
	add := func(url string, kind models.MediaKind) {
		url = strings.TrimSpace(url)
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		refs = append(refs, models.MediaRef{URL: url, Kind: kind})
	}

	if imgs, err := h.Attrs(e.sel.Image, "src"); err == nil {
		for _, src := range imgs {
			if strings.Contains(src, "profile") {
				continue
			}
			add(src, models.MediaImage)
		}
	}

	videos := 0
	for _, sel := range []string{e.sel.Video, e.sel.VideoSource} {
		srcs, err := h.Attrs(sel, "src")
		if err != nil {
			continue
		}
		for _, src := range srcs {
			if strings.HasPrefix(src, "blob:") {
				continue
			}
			before := len(refs)
			add(src, models.MediaVideo)
			videos += len(refs) - before
		}
	}

	if videos == 0 {
		if ok, err := h.Exists(e.sel.VideoPlayer); err == nil && ok {
			add(models.VideoPlayerSentinel, models.MediaVideo)
		}
	}
	return refs
}
