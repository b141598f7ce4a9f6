package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permatweet_cycles_total",
		Help: "Total poll cycles run",
	})
	CycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permatweet_cycle_errors_total",
		Help: "Total poll cycles that ended with an error",
	})
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "permatweet_cycle_duration_seconds",
		Help:    "Poll cycle duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	MentionsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permatweet_mentions_processed_total",
		Help: "Total mentions taken through the pipeline",
	})
	ArchivesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permatweet_archives_completed_total",
		Help: "Total archives that reached the completed state",
	})
	RetriesDrained = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permatweet_retries_drained_total",
		Help: "Total retry records drained, by bucket",
	}, []string{"bucket"})
	ThrottleWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permatweet_api_throttle_waits_total",
		Help: "Total waits caused by API throttling responses",
	})
	UploadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "permatweet_upload_duration_seconds",
		Help:    "Archive upload duration seconds, by path",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

func init() {
	prometheus.MustRegister(
		CyclesRun, CycleErrors, CycleDuration,
		MentionsProcessed, ArchivesCompleted,
		RetriesDrained, ThrottleWaits, UploadDuration,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveCycleDuration records a cycle duration.
func ObserveCycleDuration(start time.Time) {
	CycleDuration.Observe(time.Since(start).Seconds())
}

// ObserveUpload records an upload duration for the given path ("direct" or "chain").
func ObserveUpload(path string, start time.Time) {
	UploadDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}
