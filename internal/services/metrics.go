package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the context registry.
// All methods are safe on a nil receiver so collaborators can run without metrics.
type Metrics struct {
	// Context fetch metrics
	ContextFetches       *prometheus.CounterVec
	ContextFetchDuration prometheus.Histogram
	ContextCache         *prometheus.CounterVec

	// Registry sync metrics
	SyncRuns        *prometheus.CounterVec
	SyncModules     *prometheus.CounterVec
	RegistryEntries prometheus.Gauge
}

// NewMetrics registers the registry metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Live fetches by result: success, failure, timeout
		ContextFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vssyl_module_context_fetches_total",
			Help: "Total number of live module context fetches by result",
		}, []string{"result"}),

		ContextFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vssyl_module_context_fetch_duration_seconds",
			Help:    "Live module context fetch latency in seconds",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		// Cache lookups by outcome: hit, miss, stale
		ContextCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vssyl_module_context_cache_total",
			Help: "Module context cache lookups by outcome",
		}, []string{"outcome"}),

		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vssyl_registry_sync_runs_total",
			Help: "Full registry sync runs by result",
		}, []string{"result"}),

		SyncModules: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vssyl_registry_sync_modules_total",
			Help: "Per-module sync outcomes",
		}, []string{"outcome"}),

		RegistryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vssyl_registry_entries",
			Help: "Registry entries after the last full sync",
		}),
	}
}

// RecordFetch records a live fetch result and its latency
func (m *Metrics) RecordFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ContextFetches.WithLabelValues(result).Inc()
	if result == "success" {
		m.ContextFetchDuration.Observe(seconds)
	}
}

// RecordCacheLookup records a cache hit, miss or stale read
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.ContextCache.WithLabelValues(outcome).Inc()
}

// RecordSyncRun records a full sync run's result
func (m *Metrics) RecordSyncRun(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.SyncRuns.WithLabelValues(result).Inc()
}

// RecordSyncModule records one per-module sync outcome
func (m *Metrics) RecordSyncModule(outcome string) {
	if m == nil {
		return
	}
	m.SyncModules.WithLabelValues(outcome).Inc()
}

// SetRegistryEntries sets the current registry size
func (m *Metrics) SetRegistryEntries(n int) {
	if m == nil {
		return
	}
	m.RegistryEntries.Set(float64(n))
}
