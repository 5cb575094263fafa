package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/models"
)

func sampleResult() *models.Result {
	return &models.Result{
		RunID:   "run-1",
		Subject: "$ABC",
		Posts: []models.Record{
			{
				Kind:      models.KindPost,
				Subject:   "ABC",
				Author:    "Alice",
				Content:   "to the moon, \"again\"",
				PostedAt:  "2024-01-02T10:00:00.000Z",
				Metrics:   models.Metrics{Comments: 3, Reposts: 1, Likes: 1200, Views: 45000},
				Permalink: "https://x.com/alice/status/1",
				MediaRefs: []models.MediaRef{
					{URL: "https://pbs.twimg.com/media/a.jpg", Kind: models.MediaImage},
					{URL: models.VideoPlayerSentinel, Kind: models.MediaVideo},
				},
			},
		},
		Replies: []models.Record{
			{
				Kind:            models.KindReply,
				Subject:         "ABC",
				Author:          "Bob",
				Content:         "agreed",
				PostedAt:        "-",
				Permalink:       "https://x.com/bob/status/2",
				ParentPermalink: "https://x.com/alice/status/1",
			},
		},
	}
}

func newTestExporter(t *testing.T) *Exporter {
	t.Helper()
	e, err := NewExporter(t.TempDir())
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC) }
	return e
}

func TestWriteResultFileNames(t *testing.T) {
	e := newTestExporter(t)

	paths, err := e.WriteResult(sampleResult(), ExportOptions{
		Formats:  []string{"json", "csv"},
		Combined: true,
	})
	require.NoError(t, err)

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.ElementsMatch(t, []string{
		"ABC_posts_20240304_050607.json",
		"ABC_replies_20240304_050607.json",
		"ABC_posts_20240304_050607.csv",
		"ABC_replies_20240304_050607.csv",
		"all_data_20240304_050607.json",
	}, names)
}

func TestWriteResultDropPermalink(t *testing.T) {
	e := newTestExporter(t)
	result := sampleResult()

	_, err := e.WriteResult(result, ExportOptions{Combined: true, DropPermalink: true})
	require.NoError(t, err)

	all, err := readJSON(filepath.Join(e.Dir(), "all_data_20240304_050607.json"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.Empty(t, r.Permalink)
	}
	assert.Equal(t, "https://x.com/alice/status/1", all[1].ParentPermalink)
	assert.Equal(t, "https://x.com/alice/status/1", result.Posts[0].Permalink, "input must not be mutated")
}

func TestWriteResultUnknownFormat(t *testing.T) {
	e := newTestExporter(t)

	_, err := e.WriteResult(sampleResult(), ExportOptions{Formats: []string{"xml"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.csv")
	require.NoError(t, WriteCSV(path, sampleResult().Posts))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), utf8BOM))

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{
		"post", "ABC", "Alice", "2024-01-02T10:00:00.000Z", "to the moon, \"again\"",
		"3", "1", "1200", "45000", "https://x.com/alice/status/1",
		"https://pbs.twimg.com/media/a.jpg|video_player_detected",
	}, rows[1])
}

func TestAppendNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.ndjson")
	result := sampleResult()

	require.NoError(t, AppendNDJSON(path, result.Posts))
	require.NoError(t, AppendNDJSON(path, result.Replies))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestFileReporter(t *testing.T) {
	stream := filepath.Join(t.TempDir(), "stream.ndjson")
	var interventions []string

	r := NewFileReporter(&models.Result{Subject: "ABC"},
		WithStream(stream),
		WithInterventionHandler(func(_ models.CrawlTarget, reason string) {
			interventions = append(interventions, reason)
		}),
	)

	ctx := context.Background()
	target := models.DefaultCrawlTarget("ABC")
	src := sampleResult()

	require.NoError(t, r.Emit(ctx, target, src.Posts))
	require.NoError(t, r.Emit(ctx, target, src.Replies))
	require.NoError(t, r.Emit(ctx, target, nil))
	require.NoError(t, r.ReportFailure(ctx, target, errs.ErrorTypePageLoadTimeout, "no posts"))
	require.NoError(t, r.ReportManualInterventionNeeded(ctx, target, "captcha"))

	got := r.Result()
	assert.Len(t, got.Posts, 1)
	assert.Len(t, got.Replies, 1)
	assert.Equal(t, []string{"captcha"}, interventions)

	failures := r.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, errs.ErrorTypePageLoadTimeout, failures[0].Type)
	assert.Equal(t, errs.ErrorTypeChallengeDetected, failures[1].Type)

	_, err := os.Stat(stream)
	assert.NoError(t, err)
}

func readJSON(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []models.Record
	err = json.Unmarshal(data, &records)
	return records, err
}
