// Package metrics exposes crawl measurements to prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
)

const Namespace = "feedcrawler"

// Recorder counts crawl activity. It satisfies the crawler's observer
// interface.
type Recorder struct {
	PassesTotal    *prometheus.CounterVec
	RecordsTotal   *prometheus.CounterVec
	SkippedTotal   *prometheus.CounterVec
	SessionsTotal  *prometheus.CounterVec
	DownloadsTotal *prometheus.CounterVec
	DownloadBytes  prometheus.Counter
	TasksTotal     *prometheus.CounterVec
	LastSuccess    *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewRecorder registers every metric with reg. A nil reg gets a private
// registry so repeated construction never collides.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	r := &Recorder{gatherer: reg}

	r.PassesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "passes_total",
		Help:      "Extraction passes over the rendered page",
	}, []string{"kind"})

	r.RecordsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "records_total",
		Help:      "Records accepted after deduplication",
	}, []string{"kind"})

	r.SkippedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "skipped_total",
		Help:      "Post elements skipped during extraction",
	}, []string{"kind"})

	r.SessionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "sessions_total",
		Help:      "Finished sessions by final state and failure classification",
	}, []string{"kind", "state", "classification"})

	r.LastSuccess = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last session that finished without failure",
	}, []string{"kind"})

	r.DownloadsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "download",
		Name:      "files_total",
		Help:      "Media downloads by result",
	}, []string{"result"})

	r.DownloadBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "download",
		Name:      "bytes_total",
		Help:      "Bytes of media written to disk",
	})

	r.TasksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "tasks_total",
		Help:      "Queue tasks processed by result",
	}, []string{"result"})

	return r
}

func (r *Recorder) ObservePass(kind models.RecordKind) {
	r.PassesTotal.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) ObserveRecords(kind models.RecordKind, n int) {
	r.RecordsTotal.WithLabelValues(string(kind)).Add(float64(n))
}

func (r *Recorder) ObserveSkip(kind models.RecordKind) {
	r.SkippedTotal.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) ObserveOutcome(kind models.RecordKind, state, classification string) {
	r.SessionsTotal.WithLabelValues(string(kind), state, classification).Inc()
	if classification == "" {
		r.LastSuccess.WithLabelValues(string(kind)).SetToCurrentTime()
	}
}

// ObserveDownloads adds one media download run
func (r *Recorder) ObserveDownloads(saved, skipped, failed int, bytes int64) {
	r.DownloadsTotal.WithLabelValues("saved").Add(float64(saved))
	r.DownloadsTotal.WithLabelValues("skipped").Add(float64(skipped))
	r.DownloadsTotal.WithLabelValues("failed").Add(float64(failed))
	r.DownloadBytes.Add(float64(bytes))
}

// ObserveTask counts one processed queue task
func (r *Recorder) ObserveTask(result string) {
	r.TasksTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the text exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (r *Recorder) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.InfoWithFields("metrics listener started", map[string]interface{}{"addr": addr})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
