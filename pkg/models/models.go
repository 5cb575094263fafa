package models

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RecordKind distinguishes feed posts from thread replies
type RecordKind string

const (
	KindPost  RecordKind = "post"
	KindReply RecordKind = "reply"
)

// MediaKind is the type of an embedded media reference
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// VideoPlayerSentinel is recorded when a video player is present but its
// source URL could not be resolved.
const VideoPlayerSentinel = "video_player_detected"

// DefaultDatePlaceholder is used for PostedAt when a reply carries no timestamp
const DefaultDatePlaceholder = "-"

// Metrics holds the engagement counts of a post
type Metrics struct {
	Comments int `json:"comments"`
	Reposts  int `json:"reposts"`
	Likes    int `json:"likes"`
	Views    int `json:"views"`
}

// MediaRef points at one image or video embedded in a post
type MediaRef struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Record is one extracted post or reply. It owns its data and holds no
// references into the page it came from.
type Record struct {
	Kind            RecordKind `json:"type"`
	Subject         string     `json:"ticker,omitempty"`
	Author          string     `json:"user_name"`
	Handle          string     `json:"user_handle,omitempty"`
	Content         string     `json:"content"`
	PostedAt        string     `json:"post_date"`
	Metrics         Metrics    `json:"metrics"`
	Permalink       string     `json:"tweet_url,omitempty"`
	ParentPermalink string     `json:"parent_url,omitempty"`
	MediaRefs       []MediaRef `json:"media,omitempty"`
}

// HasVideoSentinel reports whether the record carries an unresolved video player
func (r Record) HasVideoSentinel() bool {
	for _, m := range r.MediaRefs {
		if m.URL == VideoPlayerSentinel {
			return true
		}
	}
	return false
}

// DelayBounds is an inclusive range for randomized waits
type DelayBounds struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Random returns a uniformly distributed duration within the bounds
func (d DelayBounds) Random() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(rand.Int63n(int64(d.Max-d.Min)+1))
}

// CrawlTarget is the immutable input of a single crawl
type CrawlTarget struct {
	Kind    RecordKind
	Subject string
	// Since is a YYYY-MM-DD lower bound applied to feed searches
	Since string
	// URL overrides the search URL; required for reply threads
	URL string

	MaxRecords          int
	StagnationTolerance int
	Delay               DelayBounds
	LoadTimeout         time.Duration
	LoadRetries         int
	DatePlaceholder     string
}

// Validate checks the target for values a crawl cannot run with
func (t CrawlTarget) Validate() error {
	var errs []error

	if strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.URL) == "" {
		errs = append(errs, errors.New("either subject or url is required"))
	}
	if t.Kind == KindReply && t.URL == "" {
		errs = append(errs, errors.New("reply crawl requires a thread url"))
	}
	if t.Kind != KindPost && t.Kind != KindReply {
		errs = append(errs, fmt.Errorf("unknown record kind %q", t.Kind))
	}
	if t.MaxRecords < 1 {
		errs = append(errs, errors.New("max records must be at least 1"))
	}
	if t.StagnationTolerance < 1 {
		errs = append(errs, errors.New("stagnation tolerance must be at least 1"))
	}
	if t.Delay.Min < 0 || t.Delay.Max < 0 {
		errs = append(errs, errors.New("delay bounds cannot be negative"))
	}
	if t.Delay.Min > t.Delay.Max {
		errs = append(errs, errors.New("delay min cannot exceed delay max"))
	}
	if t.LoadTimeout <= 0 {
		errs = append(errs, errors.New("load timeout must be positive"))
	}
	if t.LoadRetries < 1 {
		errs = append(errs, errors.New("load retries must be at least 1"))
	}
	if t.Since != "" {
		if _, err := time.Parse("2006-01-02", t.Since); err != nil {
			errs = append(errs, fmt.Errorf("since date must be YYYY-MM-DD: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Placeholder returns the date placeholder, falling back to the default
func (t CrawlTarget) Placeholder() string {
	if t.DatePlaceholder == "" {
		return DefaultDatePlaceholder
	}
	return t.DatePlaceholder
}

// DefaultCrawlTarget returns a post-feed target with the standard tuning
func DefaultCrawlTarget(subject string) CrawlTarget {
	return CrawlTarget{
		Kind:                KindPost,
		Subject:             subject,
		MaxRecords:          50,
		StagnationTolerance: 2,
		Delay:               DelayBounds{Min: 2 * time.Second, Max: 4 * time.Second},
		LoadTimeout:         10 * time.Second,
		LoadRetries:         3,
		DatePlaceholder:     DefaultDatePlaceholder,
	}
}

// Result groups the output of a feed crawl and its reply threads
type Result struct {
	RunID     string    `json:"run_id"`
	Subject   string    `json:"ticker"`
	Since     string    `json:"since,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Posts     []Record  `json:"posts"`
	Replies   []Record  `json:"replies"`
}

// All returns posts followed by replies
func (r *Result) All() []Record {
	out := make([]Record, 0, len(r.Posts)+len(r.Replies))
	out = append(out, r.Posts...)
	return append(out, r.Replies...)
}
