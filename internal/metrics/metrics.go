// Package metrics holds the Prometheus collectors shared by the indexer and
// the HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robert-at-pretension-io/vcd-waves/internal/vcd"
)

// Cache lookup results.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheInvalid = "invalid"
	CacheError   = "error"
)

// Metrics is a set of collectors registered on one registry.
type Metrics struct {
	ScanDuration  *prometheus.HistogramVec
	ScannedBytes  *prometheus.CounterVec
	SkippedItems  *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	IndexBuilds   prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	WarmedIndexes prometheus.Counter
}

// New registers the collectors on reg. A nil reg yields collectors that
// are not registered anywhere.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcd_waves_scan_duration_seconds",
			Help:    "Duration of indexer operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op", "status"}),
		ScannedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vcd_waves_scanned_bytes_total",
			Help: "Bytes streamed from dump files",
		}, []string{"op"}),
		SkippedItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vcd_waves_skipped_items_total",
			Help: "Malformed input skipped instead of failing a scan",
		}, []string{"kind"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vcd_waves_cache_lookups_total",
			Help: "Time index cache lookups by result",
		}, []string{"result"}),
		IndexBuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "vcd_waves_index_builds_total",
			Help: "Time indexes built by a full scan",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vcd_waves_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcd_waves_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		WarmedIndexes: f.NewCounter(prometheus.CounterOpts{
			Name: "vcd_waves_warmed_indexes_total",
			Help: "Dump files indexed by the directory warmer",
		}),
	}
}

// ObserveDiagnostics adds every non-zero diagnostic counter.
func (m *Metrics) ObserveDiagnostics(d vcd.Diagnostics) {
	if m == nil {
		return
	}
	add := func(kind string, n int) {
		if n > 0 {
			m.SkippedItems.WithLabelValues(kind).Add(float64(n))
		}
	}
	add("skipped_line", d.SkippedLines)
	add("malformed_decl", d.MalformedDecls)
	add("dropped_regression", d.DroppedRegressions)
	add("wide_vector", d.WideVectors)
}

// CacheLookup counts one lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveScan records one finished indexer operation.
func (m *Metrics) ObserveScan(op, status string, d time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.ScanDuration.WithLabelValues(op, status).Observe(d.Seconds())
	if bytes > 0 {
		m.ScannedBytes.WithLabelValues(op).Add(float64(bytes))
	}
}

// IndexBuilt counts one full index scan.
func (m *Metrics) IndexBuilt() {
	if m == nil {
		return
	}
	m.IndexBuilds.Inc()
}

// Warmed counts one index built by the directory warmer.
func (m *Metrics) Warmed() {
	if m == nil {
		return
	}
	m.WarmedIndexes.Inc()
}
