// Package metrics exposes Prometheus collectors for the download pipeline
// and the response cache.
package metrics

import (
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	CacheOpGet   = "get"
	CacheOpPut   = "put"
	CacheOpEvict = "evict"

	CacheResultHit      = "hit"
	CacheResultMiss     = "miss"
	CacheResultExpired  = "expired"
	CacheResultWritten  = "written"
	CacheResultSkipped  = "skipped"
	CacheResultRejected = "rejected"
	CacheResultError    = "error"
)

type Metrics struct {
	downloadsTotal *prometheus.CounterVec
	inFlight       prometheus.Gauge
	downloadSize   prometheus.Histogram
	cacheOps       *prometheus.CounterVec
}

// New registers the collectors with reg under the given namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Finished item downloads by terminal state.",
			},
			[]string{"state"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Item downloads currently transferring.",
		}),
		downloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_size_bytes",
			Help:      "Size of completed downloads.",
			// 100KB .. ~1.6GB
			Buckets: prometheus.ExponentialBuckets(100*1024, 4, 8),
		}),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_ops_total",
				Help:      "Response cache operations by result.",
			},
			[]string{"op", "result"},
		),
	}

	reg.MustRegister(m.downloadsTotal, m.inFlight, m.downloadSize, m.cacheOps)

	return m
}

func (m *Metrics) DownloadStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) DownloadFinished(state entity.DownloadState, size int64) {
	m.inFlight.Dec()
	m.downloadsTotal.WithLabelValues(state.String()).Inc()

	if state == entity.StateCompleted {
		m.downloadSize.Observe(float64(size))
	}
}

// DownloadSkipped counts a request answered from the catalog without a transfer.
func (m *Metrics) DownloadSkipped() {
	m.downloadsTotal.WithLabelValues("cached").Inc()
}

func (m *Metrics) CacheOp(op, result string) {
	m.cacheOps.WithLabelValues(op, result).Inc()
}
