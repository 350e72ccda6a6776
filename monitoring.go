package vdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TableStats is a point-in-time summary of a table.
type TableStats struct {
	Records     int
	Tombstones  int
	IndexRows   int
	Nodes       int
	LastVersion uint64
}

func (s *Store) TableStats(table string) (TableStats, error) {
	ts, err := s.tableState(table)
	if err != nil {
		return TableStats{}, err
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.statsLocked(), nil
}

func (ts *tableState) statsLocked() TableStats {
	result := TableStats{LastVersion: uint64(ts.lastVersion)}
	for _, kv := range ts.records.items {
		if kv.value.HardDeleted != 0 {
			result.Tombstones++
		} else {
			result.Records++
		}
		result.Nodes += len(kv.value.nodes)
	}
	for _, b := range ts.indexBuckets {
		result.IndexRows += b.Len()
	}
	return result
}

// metrics holds the store's Prometheus collectors. A nil *metrics records
// nothing.
type metrics struct {
	writesTotal         *prometheus.CounterVec
	writeErrorsTotal    *prometheus.CounterVec
	cacheHitsTotal      prometheus.Counter
	cacheMissesTotal    prometheus.Counter
	cacheEvictionsTotal prometheus.Counter
	listeners           *prometheus.GaugeVec
	backfillsTotal      *prometheus.CounterVec
	revalidationsTotal  *prometheus.CounterVec
	persistErrorsTotal  *prometheus.CounterVec
	persistedTotal      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	f := promauto.With(reg)
	return &metrics{
		writesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Objects changed by write requests",
		}, []string{"table"}),
		writeErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Objects rejected by write requests",
		}, []string{"table"}),
		cacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Value cache hits",
		}),
		cacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Value cache misses",
		}),
		cacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Value cache entries evicted for capacity",
		}),
		listeners: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "listeners",
			Help:      "Registered subscriptions",
		}, []string{"table"}),
		backfillsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "backfills_total",
			Help:      "Lookups made to refill a bounded subscription window",
		}, []string{"table"}),
		revalidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "revalidations_total",
			Help:      "Point lookups made before admitting a changed object",
		}, []string{"table"}),
		persistErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "errors_total",
			Help:      "Failed snapshot writes",
		}, []string{"table"}),
		persistedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "records_total",
			Help:      "Record snapshots written",
		}, []string{"table"}),
	}
}

func (m *metrics) recordWrite(table string, r WriteResult) {
	if m == nil {
		return
	}
	if r.Err != nil {
		m.writeErrorsTotal.WithLabelValues(table).Inc()
	} else if r.Changed {
		m.writesTotal.WithLabelValues(table).Inc()
	}
}

func (m *metrics) cacheHit() {
	if m != nil {
		m.cacheHitsTotal.Inc()
	}
}

func (m *metrics) cacheMiss() {
	if m != nil {
		m.cacheMissesTotal.Inc()
	}
}

func (m *metrics) cacheEviction() {
	if m != nil {
		m.cacheEvictionsTotal.Inc()
	}
}

func (m *metrics) listenerAdded(table string) {
	if m != nil {
		m.listeners.WithLabelValues(table).Inc()
	}
}

func (m *metrics) listenerRemoved(table string) {
	if m != nil {
		m.listeners.WithLabelValues(table).Dec()
	}
}

func (m *metrics) backfill(table string) {
	if m != nil {
		m.backfillsTotal.WithLabelValues(table).Inc()
	}
}

func (m *metrics) revalidation(table string) {
	if m != nil {
		m.revalidationsTotal.WithLabelValues(table).Inc()
	}
}

func (m *metrics) persisted(table string, n int) {
	if m != nil {
		m.persistedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func (m *metrics) persistError(table string) {
	if m != nil {
		m.persistErrorsTotal.WithLabelValues(table).Inc()
	}
}
