package snapshot

import (
	"context"
	"fmt"
	"os"

	"feedcrawler/pkg/extract"
)

// postExtent is the height the static driver reports per rendered post
const postExtent = 600

// Driver serves saved page states as if they were a live feed: every scroll
// moves to the next state and the last one repeats. The scroll extent grows
// with the number of posts, so a feed with no new states stalls.
type Driver struct {
	pages   []*Document
	url     string
	scrolls int
}

// NewDriver creates a driver over parsed page states
func NewDriver(pages ...*Document) *Driver {
	return &Driver{pages: pages}
}

// LoadFiles parses each file as one page state
func LoadFiles(sel extract.Selectors, paths ...string) (*Driver, error) {
	var pages []*Document
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		doc, err := Parse(f, sel)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		pages = append(pages, doc)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no snapshot files given")
	}
	return NewDriver(pages...), nil
}

func (d *Driver) current() *Document {
	if len(d.pages) == 0 {
		return nil
	}
	return d.pages[min(d.scrolls, len(d.pages)-1)]
}

func (d *Driver) CurrentPostHandles(ctx context.Context) ([]extract.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc := d.current(); doc != nil {
		return doc.Posts(), nil
	}
	return nil, nil
}

func (d *Driver) ScrollToLoadMore(ctx context.Context) error {
	d.scrolls++
	return ctx.Err()
}

func (d *Driver) CurrentScrollExtent(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc := d.current()
	if doc == nil {
		return 0, nil
	}
	return len(doc.Posts()) * postExtent, nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.url = url
	d.scrolls = 0
	return ctx.Err()
}

func (d *Driver) CurrentURL(context.Context) (string, error) {
	return d.url, nil
}

func (d *Driver) ChallengePresent(context.Context) (bool, error) {
	doc := d.current()
	return doc != nil && doc.ChallengePresent(), nil
}
