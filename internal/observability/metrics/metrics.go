// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors.
type Metrics struct {
	RouteDecisions      *prometheus.CounterVec
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec
	CacheFallbacks      *prometheus.CounterVec
	UpstreamLatency     prometheus.Histogram
	PrecacheFailures    prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
}

// New creates and registers the worker collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RouteDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by strategy.",
		}, []string{"strategy"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by store.",
		}, []string{"store"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by store.",
		}, []string{"store"}),
		CacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "cache",
			Name:      "fallbacks_total",
			Help:      "Offline fallbacks served, by kind (exact, shell, static).",
		}, []string{"kind"}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "classboard",
			Subsystem: "upstream",
			Name:      "latency_seconds",
			Help:      "Upstream fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		PrecacheFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "worker",
			Name:      "precache_failures_total",
			Help:      "Failed install-time precache attempts.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Timetable notifications delivered.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classboard",
			Subsystem: "notifications",
			Name:      "failed_total",
			Help:      "Timetable notification delivery failures.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RouteDecisions,
			m.CacheHits,
			m.CacheMisses,
			m.CacheFallbacks,
			m.UpstreamLatency,
			m.PrecacheFailures,
			m.NotificationsSent,
			m.NotificationsFailed,
		)
	}
	return m
}

// NewUnregistered creates collectors without registering them. Used by tests
// that don't need a registry.
func NewUnregistered() *Metrics {
	return New(nil)
}
