package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrawlTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CrawlTarget)
		wantErr string
	}{
		{name: "default is valid", mutate: func(*CrawlTarget) {}},
		{name: "missing subject and url", mutate: func(c *CrawlTarget) { c.Subject = " " }, wantErr: "either subject or url"},
		{name: "reply without url", mutate: func(c *CrawlTarget) { c.Kind = KindReply }, wantErr: "thread url"},
		{name: "zero max records", mutate: func(c *CrawlTarget) { c.MaxRecords = 0 }, wantErr: "max records"},
		{name: "zero tolerance", mutate: func(c *CrawlTarget) { c.StagnationTolerance = 0 }, wantErr: "stagnation tolerance"},
		{name: "inverted delay", mutate: func(c *CrawlTarget) { c.Delay = DelayBounds{Min: 2 * time.Second, Max: time.Second} }, wantErr: "delay min"},
		{name: "bad since", mutate: func(c *CrawlTarget) { c.Since = "01/02/2024" }, wantErr: "YYYY-MM-DD"},
		{name: "no retries", mutate: func(c *CrawlTarget) { c.LoadRetries = 0 }, wantErr: "load retries"},
		{name: "unknown kind", mutate: func(c *CrawlTarget) { c.Kind = "story" }, wantErr: "unknown record kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := DefaultCrawlTarget("ABC")
			target.Since = "2024-01-01"
			tt.mutate(&target)

			err := target.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDelayBoundsRandom(t *testing.T) {
	d := DelayBounds{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 100; i++ {
		got := d.Random()
		assert.GreaterOrEqual(t, got, d.Min)
		assert.LessOrEqual(t, got, d.Max)
	}

	fixed := DelayBounds{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, fixed.Random())
	assert.Equal(t, time.Duration(0), DelayBounds{}.Random())
}

func TestRecordHelpers(t *testing.T) {
	r := Record{MediaRefs: []MediaRef{{URL: "https://pbs.twimg.com/media/a.jpg", Kind: MediaImage}}}
	assert.False(t, r.HasVideoSentinel())

	r.MediaRefs = append(r.MediaRefs, MediaRef{URL: VideoPlayerSentinel, Kind: MediaVideo})
	assert.True(t, r.HasVideoSentinel())

	assert.Equal(t, "-", CrawlTarget{}.Placeholder())
	assert.Equal(t, "n/a", CrawlTarget{DatePlaceholder: "n/a"}.Placeholder())

	res := Result{Posts: []Record{{Author: "a"}}, Replies: []Record{{Author: "b"}, {Author: "c"}}}
	all := res.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Author)
	assert.Equal(t, "c", all[2].Author)
}
