// Package snapshot reads posts out of a static HTML copy of a feed page.
//
// A Document is an immutable parse of one page state. Its handles never go
// stale, which makes them useful for offline selector debugging and for
// drivers that read the page by serializing it.
package snapshot

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"feedcrawler/pkg/extract"
)

// Document is a parsed page
type Document struct {
	doc *goquery.Document
	sel extract.Selectors
}

// Parse reads HTML from r. A zero Selectors value selects the defaults.
func Parse(r io.Reader, sel extract.Selectors) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	if sel.Post == "" {
		sel = extract.DefaultSelectors()
	}
	return &Document{doc: doc, sel: sel}, nil
}

// ParseString parses an HTML string
func ParseString(html string, sel extract.Selectors) (*Document, error) {
	return Parse(strings.NewReader(html), sel)
}

// Posts returns a handle for every post element in document order
func (d *Document) Posts() []extract.Handle {
	var handles []extract.Handle
	d.doc.Find(d.sel.Post).Each(func(_ int, s *goquery.Selection) {
		handles = append(handles, Handle{sel: s})
	})
	return handles
}

// ChallengePresent reports whether any challenge marker is in the page
func (d *Document) ChallengePresent() bool {
	for _, s := range d.sel.Challenge {
		if d.doc.Find(s).Length() > 0 {
			return true
		}
	}
	return false
}

// Handle is an extract.Handle over one parsed element
type Handle struct {
	sel *goquery.Selection
}

func (h Handle) Text(selector string) (string, error) {
	found := h.sel.Find(selector).First()
	if found.Length() == 0 {
		return "", extract.ErrNotFound
	}
	return found.Text(), nil
}

func (h Handle) Texts(selector string) ([]string, error) {
	var out []string
	h.sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out, nil
}

func (h Handle) Attr(selector, name string) (string, error) {
	found := h.sel.Find(selector)
	for i := range found.Nodes {
		if v, ok := found.Eq(i).Attr(name); ok {
			return v, nil
		}
	}
	return "", extract.ErrNotFound
}

func (h Handle) Attrs(selector, name string) ([]string, error) {
	var out []string
	h.sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(name); ok {
			out = append(out, v)
		}
	})
	return out, nil
}

func (h Handle) Exists(selector string) (bool, error) {
	return h.sel.Find(selector).Length() > 0, nil
}
