// Package browsertest serves a small feed page for driver tests that need a
// real browser.
package browsertest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
)

// FeedPage renders two posts and enough padding to scroll
const FeedPage = `<html><head><title>Search / X</title></head><body><main>
<article data-testid="tweet">
  <div data-testid="User-Name"><span>Alice</span><span>@alice</span></div>
  <a href="/alice/status/111"><time datetime="2024-03-01T12:00:00.000Z">Mar 1</time></a>
  <div data-testid="tweetText">$TSLA to the moon</div>
  <div role="group" aria-label="12 replies, 3 reposts, 1,204 likes, 30K views"></div>
</article>
<article data-testid="tweet">
  <div data-testid="User-Name"><span>Bob</span><span>@bob</span></div>
  <a href="/bob/status/222"><time datetime="2024-03-01T13:00:00.000Z">Mar 1</time></a>
  <div data-testid="tweetText">bearish</div>
</article>
<div style="height:3000px"></div>
</main></body></html>`

// ChromePath returns a local Chromium binary or skips the test
func ChromePath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no chromium binary on PATH")
	return ""
}

// Serve starts a server answering every path with FeedPage
func Serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, FeedPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}
