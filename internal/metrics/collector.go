// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the subsystem's operational metrics. A nil
// *Collector is a valid no-op receiver so libraries stay testable
// without a registry.
type Collector struct {
	backendAttempts   *prometheus.CounterVec
	fallbackExhausted *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	probeDuration     *prometheus.HistogramVec
}

// NewCollector registers the memmesh metrics with reg. A nil reg uses
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		backendAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_attempts_total",
				Help:      "Backend attempts by tier, operation and outcome",
			},
			[]string{"backend", "op", "outcome"},
		),
		fallbackExhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_exhausted_total",
				Help:      "Operations that exhausted every tier",
			},
			[]string{"op"},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_cache_hits_total",
				Help:      "Archive content cache hits",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_cache_misses_total",
				Help:      "Archive content cache misses",
			},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Backend reachability probe duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
}

// RecordAttempt counts one backend attempt.
func (c *Collector) RecordAttempt(backend, op, outcome string) {
	if c == nil {
		return
	}
	c.backendAttempts.WithLabelValues(backend, op, outcome).Inc()
}

// RecordExhausted counts an operation that ran out of tiers.
func (c *Collector) RecordExhausted(op string) {
	if c == nil {
		return
	}
	c.fallbackExhausted.WithLabelValues(op).Inc()
}

// RecordCacheHit counts an archive cache hit.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss counts an archive cache miss.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordProbe observes one probe duration.
func (c *Collector) RecordProbe(backend string, d time.Duration) {
	if c == nil {
		return
	}
	c.probeDuration.WithLabelValues(backend).Observe(d.Seconds())
}
