package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
	"feedcrawler/pkg/storage"
)

func TestHTTPFetcher(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/ok.jpg":
			assert.Equal(t, "feedcrawler-test", r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte("jpeg"))
		case "/flaky":
			if atomic.LoadInt32(&hits) < 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("late"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, "feedcrawler-test")
	f.Client().SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	body, err := f.Fetch(context.Background(), srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(body))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	atomic.StoreInt32(&hits, 0)
	body, err = f.Fetch(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	assert.Equal(t, "late", string(body))
}

func TestJobsFromRecords(t *testing.T) {
	records := []models.Record{
		{
			Subject:   "TSLA",
			Permalink: "https://x.com/alice/status/123",
			MediaRefs: []models.MediaRef{
				{URL: "https://pbs.twimg.com/media/AbC?format=png&name=small", Kind: models.MediaImage},
				{URL: "https://video.twimg.com/ext_tw_video/1/vid.mp4", Kind: models.MediaVideo},
				{URL: models.VideoPlayerSentinel, Kind: models.MediaVideo},
			},
		},
		{
			Subject:   "TSLA",
			MediaRefs: []models.MediaRef{{URL: "https://example.com/pic", Kind: models.MediaImage}},
		},
		{Subject: "TSLA", Permalink: "https://x.com/bob/status/9"},
	}

	got := JobsFromRecords(records, false)
	require.Len(t, got, 3)
	assert.Equal(t, DownloadJob{
		URL:     "https://pbs.twimg.com/media/AbC?format=png&name=orig",
		Name:    "123_1.png",
		Subject: "TSLA",
	}, got[0])
	assert.Equal(t, "123_2.mp4", got[1].Name)
	assert.Equal(t, "record2_1.jpg", got[2].Name)
	assert.Equal(t, "https://example.com/pic", got[2].URL)

	imagesOnly := JobsFromRecords(records, true)
	require.Len(t, imagesOnly, 2)
	assert.Equal(t, "123_1.png", imagesOnly[0].Name)
}

func TestRunIntoStorageManager(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	mgr, err := storage.NewManager(dir)
	require.NoError(t, err)

	all := []DownloadJob{
		{URL: srv.URL + "/a", Name: "1_1.jpg"},
		{URL: srv.URL + "/b", Name: "2_1.jpg"},
	}
	sum := Run(context.Background(), all, 2, NewHTTPFetcher(time.Second, ""), mgr, nil, logger.NewNopLogger())
	assert.Equal(t, 2, sum.Saved)

	data, err := os.ReadFile(filepath.Join(dir, "2_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "/b", string(data))

	again := Run(context.Background(), all, 2, NewHTTPFetcher(time.Second, ""), mgr, nil, logger.NewNopLogger())
	assert.Equal(t, 2, again.Skipped)
}
