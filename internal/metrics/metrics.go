package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "topicdata"

// Metrics holds Prometheus metrics for topic data reads. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Download cache
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter

	// Representation downloads
	downloadsTotal   *prometheus.CounterVec
	downloadBytes    prometheus.Counter
	downloadDuration prometheus.Histogram

	// Columnar reads
	rowGroupsTotal *prometheus.CounterVec
	rowsEmitted    *prometheus.CounterVec

	// Queries
	queriesTotal *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Representation files served from the local cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Representation files not yet in the local cache",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache entries removed by garbage collection",
		}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "total",
			Help:      "Representation downloads by outcome",
		}, []string{"status"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written into the cache by downloads",
		}),
		downloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "duration_seconds",
			Help:      "Duration of representation downloads",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		rowGroupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "columnar",
			Name:      "row_groups_total",
			Help:      "Row groups considered by columnar reads",
		}, []string{"action"}),
		rowsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Records yielded to callers",
		}, []string{"format"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Topic data queries by outcome",
		}, []string{"format", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheHits, m.cacheMisses, m.cacheEvictions,
			m.downloadsTotal, m.downloadBytes, m.downloadDuration,
			m.rowGroupsTotal, m.rowsEmitted, m.queriesTotal,
		)
	}
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) CacheEvicted(n int) {
	if m != nil {
		m.cacheEvictions.Add(float64(n))
	}
}

// Download records one finished download.
func (m *Metrics) Download(err error, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.downloadsTotal.WithLabelValues(status).Inc()
	m.downloadBytes.Add(float64(bytes))
	m.downloadDuration.Observe(seconds)
}

func (m *Metrics) RowGroupRead() {
	if m != nil {
		m.rowGroupsTotal.WithLabelValues("read").Inc()
	}
}

func (m *Metrics) RowGroupPruned() {
	if m != nil {
		m.rowGroupsTotal.WithLabelValues("pruned").Inc()
	}
}

func (m *Metrics) RecordsEmitted(format string, n int) {
	if m != nil {
		m.rowsEmitted.WithLabelValues(format).Add(float64(n))
	}
}

// Query records one finished query.
func (m *Metrics) Query(format string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.queriesTotal.WithLabelValues(format, status).Inc()
}
