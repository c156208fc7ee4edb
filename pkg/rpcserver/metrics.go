// Copyright 2025 Wellspring Authors
//
// RPC metrics - exported at /metrics, following the teacher pack's
// sibling repos' pattern of a private prometheus.Registry wired into a
// handful of named gauges/counters rather than the global default
// registry.

package rpcserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node's exported counters and histograms.
type Metrics struct {
	registry *prometheus.Registry

	SyncRoundsTotal        prometheus.Counter
	RejectedThoughtsTotal  *prometheus.CounterVec
	TrustCacheHits         prometheus.Counter
	TrustCacheMisses       prometheus.Counter
	StorePutDuration       prometheus.Histogram
}

// NewMetrics builds and registers a fresh metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		SyncRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellspring_sync_rounds_total",
			Help: "Total number of sync rounds (Want/Push exchanges) completed",
		}),
		RejectedThoughtsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wellspring_rejected_thoughts_total",
			Help: "Total thoughts rejected at ingest, by reason",
		}, []string{"reason"}),
		TrustCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellspring_trust_cache_hits_total",
			Help: "Trust graph memoization cache hits",
		}),
		TrustCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellspring_trust_cache_misses_total",
			Help: "Trust graph memoization cache misses",
		}),
		StorePutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wellspring_store_put_duration_seconds",
			Help:    "Latency of Local Store Put calls",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.SyncRoundsTotal,
		m.RejectedThoughtsTotal,
		m.TrustCacheHits,
		m.TrustCacheMisses,
		m.StorePutDuration,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
