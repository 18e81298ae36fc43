// Package metrics exposes Prometheus instrumentation for model calls, flow
// transitions and page-bridge round-trips.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are package-level by convention
var (
	modelAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailagent_model_attempts_total",
		Help: "Model generation attempts by model id and outcome.",
	}, []string{"model", "outcome"})

	flowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailagent_flow_transitions_total",
		Help: "Shopping flow state transitions.",
	}, []string{"from", "to"})

	bridgeRoundtrip = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retailagent_bridge_roundtrip_seconds",
		Help:    "Page-agent request round-trip latency by action.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	bridgeStaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retailagent_bridge_stale_events_total",
		Help: "Page lifecycle events discarded for stale or mismatched context handles.",
	})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retailagent_cache_hits_total",
		Help: "Cache hits by cache name.",
	}, []string{"cache"})
)

// RecordModelAttempt counts one generation attempt outcome ("success"/"failed").
func RecordModelAttempt(model, outcome string) {
	modelAttempts.WithLabelValues(model, outcome).Inc()
}

// RecordFlowTransition counts one state transition.
func RecordFlowTransition(from, to string) {
	flowTransitions.WithLabelValues(from, to).Inc()
}

// ObserveBridgeRoundtrip records a page-agent round-trip duration.
func ObserveBridgeRoundtrip(action string, elapsed time.Duration) {
	bridgeRoundtrip.WithLabelValues(action).Observe(elapsed.Seconds())
}

// RecordStaleEvent counts a discarded stale page event.
func RecordStaleEvent() {
	bridgeStaleEvents.Inc()
}

// RecordCacheHit counts a hit on a named cache.
func RecordCacheHit(name string) {
	cacheHits.WithLabelValues(name).Inc()
}
