// Package metrics exposes Prometheus counters for cache, lock and rebuild outcomes.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup results recorded by the read-through cache.
const (
	ResultHit      = "hit"
	ResultNegative = "negative"
	ResultMiss     = "miss"
	ResultStale    = "stale"
	ResultCorrupt  = "corrupt"
)

// Store load outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Rebuild job outcomes.
const (
	RebuildOK       = "ok"
	RebuildFailed   = "failed"
	RebuildRejected = "rejected"
)

// Collector owns its own registry so several instances can coexist in tests.
type Collector struct {
	registry       *prometheus.Registry
	cacheLookups   *prometheus.CounterVec
	storeLoads     *prometheus.CounterVec
	lockContention *prometheus.CounterVec
	rebuildJobs    *prometheus.CounterVec
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read-through cache lookups by result.",
		}, []string{"cache", "result"}),
		storeLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_loads_total",
			Help:      "Persistent store loads triggered by cache fills.",
		}, []string{"cache", "outcome"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Failed attempts to take a cache fill or rebuild lock.",
		}, []string{"cache"}),
		rebuildJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_jobs_total",
			Help:      "Asynchronous cache rebuild jobs by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(c.cacheLookups, c.storeLoads, c.lockContention, c.rebuildJobs)
	return c
}

// CacheLookup records one lookup result for the named cache.
func (c *Collector) CacheLookup(cache, result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(cache, result).Inc()
}

// StoreLoad records one store load outcome for the named cache.
func (c *Collector) StoreLoad(cache, outcome string) {
	if c == nil {
		return
	}
	c.storeLoads.WithLabelValues(cache, outcome).Inc()
}

// LockContended records one failed lock acquisition.
func (c *Collector) LockContended(cache string) {
	if c == nil {
		return
	}
	c.lockContention.WithLabelValues(cache).Inc()
}

// RebuildJob records one rebuild job outcome.
func (c *Collector) RebuildJob(outcome string) {
	if c == nil {
		return
	}
	c.rebuildJobs.WithLabelValues(outcome).Inc()
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
