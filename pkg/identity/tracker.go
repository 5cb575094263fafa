// Package identity deduplicates records within a single crawl.
package identity

import (
	"strings"
	"sync"

	"feedcrawler/pkg/models"
)

// keySeparator joins the composite key fields
const keySeparator = "|"

// Key returns the identity of a record: its permalink when present, otherwise
// author|content|postedAt.
func Key(r models.Record) string {
	if p := strings.TrimSpace(r.Permalink); p != "" {
		return p
	}
	return strings.Join([]string{r.Author, r.Content, r.PostedAt}, keySeparator)
}

// Tracker remembers the identity keys accepted during one crawl
type Tracker struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Accept returns true the first time a record's key is seen and registers it
func (t *Tracker) Accept(r models.Record) bool {
	return t.add(Key(r))
}

// Seed registers keys from a previous run so they are not emitted again
func (t *Tracker) Seed(keys ...string) {
	for _, k := range keys {
		if k != "" {
			t.add(k)
		}
	}
}

// Keys returns every registered key in first-seen order
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of registered keys
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func (t *Tracker) add(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	t.order = append(t.order, key)
	return true
}
