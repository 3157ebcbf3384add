// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the stream resolution
// subsystem. Labels stay low-cardinality: routes and reasons only, never
// channel IDs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal counts URL cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_cache_hits_total",
		Help: "Total number of URL cache hits.",
	})

	// CacheMissesTotal counts URL cache misses, by cause (absent/expired).
	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_cache_misses_total",
		Help: "Total number of URL cache misses, by cause.",
	}, []string{"cause"})

	// CacheInvalidationsTotal counts bulk cache invalidations.
	CacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_cache_invalidations_total",
		Help: "Total number of bulk cache invalidations.",
	})

	// UpstreamAttemptsTotal counts individual upstream HTTP attempts, by route.
	UpstreamAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_upstream_attempts_total",
		Help: "Total number of upstream HTTP attempts, by route.",
	}, []string{"route"})

	// UpstreamFailuresTotal counts failed logical upstream operations,
	// by route and reason (exhausted/invalid_response).
	UpstreamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_upstream_failures_total",
		Help: "Total number of failed upstream operations, by route and reason.",
	}, []string{"route", "reason"})

	// FlightsDedupedTotal counts callers that joined an already in-flight
	// operation instead of starting a new one, by operation kind.
	FlightsDedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_flights_deduped_total",
		Help: "Total number of callers coalesced onto an in-flight upstream call, by kind.",
	}, []string{"kind"})

	// PreloadItemsTotal counts preload item outcomes, by phase and result.
	PreloadItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_preload_items_total",
		Help: "Total number of preload items processed, by phase and result.",
	}, []string{"phase", "result"})

	// StoreErrorsTotal counts persistent store failures, by operation.
	// Store writes are best-effort; this is the only trace they leave.
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_store_errors_total",
		Help: "Total number of persistent store failures, by operation.",
	}, []string{"op"})
)
