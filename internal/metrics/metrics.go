// Package metrics holds the Prometheus collectors updated during runs.
// Nothing is exported until Register is called.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors updated by the engine, worker pool and key cache.
var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "m3u8dl",
		Name:      "runs_total",
		Help:      "Total download runs by final state.",
	}, []string{"state"})

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "m3u8dl",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a download run in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	SegmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "m3u8dl",
		Name:      "segments_total",
		Help:      "Total segment tasks by result.",
	}, []string{"result"})

	SegmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "m3u8dl",
		Name:      "segment_duration_seconds",
		Help:      "Time to fetch, decrypt and store one segment.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	})

	KeyFetchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "m3u8dl",
		Name:      "key_fetches_total",
		Help:      "Total number of key URIs fetched over the network.",
	})

	BytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "m3u8dl",
		Name:      "bytes_downloaded_total",
		Help:      "Total decrypted segment bytes stored to disk.",
	})

	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "m3u8dl",
		Name:      "active_workers",
		Help:      "Number of segment workers currently processing a task.",
	})
)

// Segment result labels.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Register adds every collector to reg. It panics on a second call with
// the same registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RunsTotal,
		RunDuration,
		SegmentsTotal,
		SegmentDuration,
		KeyFetchesTotal,
		BytesDownloaded,
		ActiveWorkers,
	)
}
