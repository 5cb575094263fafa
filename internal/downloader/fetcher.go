package downloader

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/models"
)

// HTTPFetcher downloads media over HTTP
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher with a per-request timeout and a small
// retry budget for 5xx and 429 responses
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &HTTPFetcher{client: client}
}

// Client exposes the underlying client so tests can point it at a server
func (f *HTTPFetcher) Client() *resty.Client {
	return f.client
}

// Fetch returns the response body of url
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	res, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode())
	}
	return res.Body(), nil
}

// JobsFromRecords builds one job per downloadable media reference. Files are
// named <status id>_<n>.<ext>; records without a permalink use their index.
// Unresolved video players are never downloadable.
func JobsFromRecords(records []models.Record, skipVideos bool) []DownloadJob {
	var jobs []DownloadJob
	for i, r := range records {
		id := extract.StatusID(r.Permalink)
		if id == "" {
			id = "record" + strconv.Itoa(i+1)
		}

		n := 0
		for _, m := range r.MediaRefs {
			if m.URL == models.VideoPlayerSentinel {
				continue
			}
			if skipVideos && m.Kind == models.MediaVideo {
				continue
			}
			n++
			jobs = append(jobs, DownloadJob{
				URL:     originalSize(m.URL),
				Name:    fmt.Sprintf("%s_%d%s", id, n, extension(m)),
				Subject: r.Subject,
			})
		}
	}
	return jobs
}

// originalSize asks the image CDN for the full resolution variant
func originalSize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host != "pbs.twimg.com" {
		return raw
	}
	q := u.Query()
	if q.Has("name") {
		q.Set("name", "orig")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func extension(m models.MediaRef) string {
	u, err := url.Parse(m.URL)
	if err == nil {
		if f := u.Query().Get("format"); f != "" {
			return "." + strings.ToLower(f)
		}
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	if m.Kind == models.MediaVideo {
		return ".mp4"
	}
	return ".jpg"
}
