package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
)

// fakeCluster answers the bulk and index APIs the sink uses
type fakeCluster struct {
	mu     sync.Mutex
	docs   map[string]Document
	events []Event
}

func newFakeCluster(t *testing.T) (*fakeCluster, *httptest.Server) {
	t.Helper()
	fc := &fakeCluster{docs: make(map[string]Document)}
	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		fc.bulk(w, r)
	case strings.HasSuffix(r.URL.Path, "-events/_doc"):
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fc.mu.Lock()
		fc.events = append(fc.events, ev)
		fc.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"result":"created"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{}`)
	}
}

func (fc *fakeCluster) bulk(w http.ResponseWriter, r *http.Request) {
	type meta struct {
		Index struct {
			ID string `json:"_id"`
		} `json:"index"`
	}

	var items []string
	hasErrors := false
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var m meta
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil || !sc.Scan() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var doc Document
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if strings.Contains(doc.Content, "reject") {
			hasErrors = true
			items = append(items, fmt.Sprintf(`{"index":{"_id":%q,"status":400,"error":{"type":"mapper_parsing_exception","reason":"rejected"}}}`, m.Index.ID))
			continue
		}
		fc.mu.Lock()
		fc.docs[m.Index.ID] = doc
		fc.mu.Unlock()
		items = append(items, fmt.Sprintf(`{"index":{"_id":%q,"status":201,"result":"created"}}`, m.Index.ID))
	}

	fmt.Fprintf(w, `{"took":1,"errors":%t,"items":[%s]}`, hasErrors, strings.Join(items, ","))
}

func newTestSink(t *testing.T, srv *httptest.Server) *Sink {
	t.Helper()
	s, err := NewSink(Config{Addresses: []string{srv.URL}}, "run-1", logger.NewNopLogger())
	require.NoError(t, err)
	return s
}

func records() []models.Record {
	return []models.Record{
		{Kind: models.KindPost, Subject: "TSLA", Author: "Alice", Content: "up", PostedAt: "2024-03-01T12:00:00.000Z", Permalink: "https://x.com/alice/status/1"},
		{Kind: models.KindPost, Subject: "TSLA", Author: "Bob", Content: "down", PostedAt: "2024-03-01T13:00:00.000Z"},
	}
}

func TestEmitIndexesRecords(t *testing.T) {
	fc, srv := newFakeCluster(t)
	s := newTestSink(t, srv)

	target := models.DefaultCrawlTarget("TSLA")
	require.NoError(t, s.Emit(context.Background(), target, records()))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.docs, 2)

	doc, ok := fc.docs[DocumentID(records()[0])]
	require.True(t, ok)
	assert.Equal(t, "Alice", doc.Author)
	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "https://x.com/alice/status/1", doc.IdentKey)
	assert.False(t, doc.IndexedAt.IsZero())

	indexed, failed := s.Stats()
	assert.Equal(t, int64(2), indexed)
	assert.Equal(t, int64(0), failed)
}

func TestEmitIsIdempotent(t *testing.T) {
	fc, srv := newFakeCluster(t)
	s := newTestSink(t, srv)

	target := models.DefaultCrawlTarget("TSLA")
	require.NoError(t, s.Emit(context.Background(), target, records()))
	require.NoError(t, s.Emit(context.Background(), target, records()))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.docs, 2)
}

func TestEmitReportsRejectedDocuments(t *testing.T) {
	_, srv := newFakeCluster(t)
	s := newTestSink(t, srv)

	recs := records()
	recs[1].Content = "reject me"

	err := s.Emit(context.Background(), models.DefaultCrawlTarget("TSLA"), recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")

	_, failed := s.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestEmitNothing(t *testing.T) {
	s, err := NewSink(Config{Addresses: []string{"http://127.0.0.1:1"}}, "", nil)
	require.NoError(t, err)
	assert.NoError(t, s.Emit(context.Background(), models.DefaultCrawlTarget("TSLA"), nil))
}

func TestFailureEvents(t *testing.T) {
	fc, srv := newFakeCluster(t)
	s := newTestSink(t, srv)
	assert.Equal(t, "feed-records-events", s.EventsIndex())

	thread := models.CrawlTarget{Kind: models.KindReply, Subject: "TSLA", URL: "https://x.com/a/status/1"}
	require.NoError(t, s.ReportFailure(context.Background(), thread, errs.ErrorTypePageLoadTimeout, "no posts after 3 attempts"))
	require.NoError(t, s.ReportManualInterventionNeeded(context.Background(), models.DefaultCrawlTarget("TSLA"), "challenge page"))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.events, 2)
	assert.Equal(t, "reply", fc.events[0].Kind)
	assert.Equal(t, "page_load_timeout", fc.events[0].Classification)
	assert.False(t, fc.events[0].Intervention)
	assert.Equal(t, "challenge_detected", fc.events[1].Classification)
	assert.True(t, fc.events[1].Intervention)
}

func TestDocumentIDUsesIdentity(t *testing.T) {
	a := models.Record{Author: "a", Content: "c", PostedAt: "p"}
	b := a
	b.Metrics.Likes = 10
	assert.Equal(t, DocumentID(a), DocumentID(b))

	b.Permalink = "https://x.com/a/status/1"
	assert.NotEqual(t, DocumentID(a), DocumentID(b))
	assert.Len(t, DocumentID(a), 40)
}
