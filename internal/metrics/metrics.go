// Package metrics exposes the addon's Prometheus instrumentation (spec
// SPEC_FULL.md supplemented feature 4): circuit breaker state gauges,
// per-provider fan-out latency, and translation cache hit/miss counters.
// Grounded on the prometheus/client_golang vector style used by the pack's
// torrent-engine/torrent-search services (internal/metrics in that repo),
// since the teacher's own internal/metrics package never actually
// registers a prometheus.Collector despite importing the library.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"submaker/internal/breaker"
)

var (
	// ProviderSearchDuration records how long each provider's Search call
	// takes, labeled by provider and outcome (ok/error/timeout).
	ProviderSearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "submaker",
		Subsystem: "fanout",
		Name:      "provider_search_duration_seconds",
		Help:      "Duration of a single provider's Search call.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider", "outcome"})

	// ProviderSkippedTotal counts provider tasks skipped because their
	// circuit breaker was open.
	ProviderSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submaker",
		Subsystem: "fanout",
		Name:      "provider_skipped_total",
		Help:      "Total provider search tasks skipped due to an open circuit breaker.",
	}, []string{"provider"})

	// CircuitBreakerState reports each provider's breaker state as a gauge
	// (0=closed, 1=half-open, 2=open) so it can be graphed directly.
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "submaker",
		Subsystem: "pool",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})

	// TranslationCacheHitsTotal / TranslationCacheMissesTotal count reads
	// against the Translation Cache, split by scope.
	TranslationCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submaker",
		Subsystem: "cache",
		Name:      "translation_hits_total",
		Help:      "Translation cache reads that found a complete entry.",
	}, []string{"scope"})

	TranslationCacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submaker",
		Subsystem: "cache",
		Name:      "translation_misses_total",
		Help:      "Translation cache reads that required building a new entry.",
	}, []string{"scope"})

	// TranslationBuildersActive tracks in-flight singleflight builders.
	TranslationBuildersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "submaker",
		Subsystem: "cache",
		Name:      "translation_builders_active",
		Help:      "Number of translation builds currently in flight.",
	})

	// StreamListenersActive tracks live SSE/WebSocket listeners across all
	// configHash channels on the Stream Activity Bus.
	StreamListenersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "submaker",
		Subsystem: "stream",
		Name:      "listeners_active",
		Help:      "Live Stream Activity Bus listeners across all channels.",
	})
)

// Registry bundles the collectors above into one *prometheus.Registry so
// cmd/server/main.go can register them once and hand the registry to
// promhttp.HandlerFor.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		ProviderSearchDuration,
		ProviderSkippedTotal,
		CircuitBreakerState,
		TranslationCacheHitsTotal,
		TranslationCacheMissesTotal,
		TranslationBuildersActive,
		StreamListenersActive,
	)
	return reg
}

// stateValue maps a breaker.State to the gauge value documented on
// CircuitBreakerState.
func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// SyncBreakerStates overwrites CircuitBreakerState from the manager's
// current snapshot; the /session-stats handler calls it on each request
// rather than threading a callback through the breaker state machine, so
// the gauge is only as fresh as the last /session-stats call.
func SyncBreakerStates(mgr *breaker.Manager) {
	if mgr == nil {
		return
	}
	for name, stats := range mgr.GetStats() {
		state := breaker.StateClosed
		switch stats.State {
		case breaker.StateHalfOpen.String():
			state = breaker.StateHalfOpen
		case breaker.StateOpen.String():
			state = breaker.StateOpen
		}
		CircuitBreakerState.WithLabelValues(name).Set(stateValue(state))
	}
}
