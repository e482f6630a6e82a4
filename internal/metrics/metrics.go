// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package metrics provides Prometheus instrumentation for the acquisition
// pipeline: fetch latency and outcomes, rate-limiter pressure, circuit
// breaker state, cache tier efficiency, sync commits, and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch Metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datapulse_fetch_duration_seconds",
			Help:    "Duration of source fetch attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_fetches_total",
			Help: "Total fetch attempts by outcome",
		},
		[]string{"source", "outcome"}, // "success", "error", "retry"
	)

	// Rate Limiter Metrics
	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_ratelimit_waits_total",
			Help: "Total times a request waited for a rate limit slot",
		},
		[]string{"source"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datapulse_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"source", "outcome"}, // "success", "failure", "rejected"
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_cache_hits_total",
			Help: "Cache hits per tier",
		},
		[]string{"tier"}, // "memory", "disk"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_cache_misses_total",
			Help: "Cache misses per tier",
		},
		[]string{"tier"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_cache_evictions_total",
			Help: "Cache evictions per tier and reason",
		},
		[]string{"tier", "reason"}, // "capacity", "ttl", "manual"
	)

	CacheBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datapulse_cache_bytes",
			Help: "Current cache footprint in bytes per tier",
		},
		[]string{"tier"},
	)

	CachePromotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datapulse_cache_promotions_total",
			Help: "Disk-to-memory tier promotions",
		},
	)

	// Sync Metrics
	SyncCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_sync_commits_total",
			Help: "Committed sync operations per source",
		},
		[]string{"source"},
	)

	SyncRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_sync_rejected_total",
			Help: "Syncs rejected because one was already in progress",
		},
		[]string{"source"},
	)

	SyncConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_sync_conflicts_total",
			Help: "Field conflicts resolved per source and strategy",
		},
		[]string{"source", "strategy"},
	)

	// Stream Metrics
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datapulse_active_streams",
			Help: "Number of running data streams",
		},
	)

	StreamPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_stream_polls_total",
			Help: "Stream poll cycles by outcome",
		},
		[]string{"source", "outcome"}, // "success", "error", "invalid"
	)

	// Monitoring Metrics
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_alerts_raised_total",
			Help: "Alerts raised per source and severity",
		},
		[]string{"source", "severity"},
	)

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapulse_notifications_published_total",
			Help: "UI notifications published by type",
		},
		[]string{"type"},
	)

	NotificationsDebounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datapulse_notifications_debounced_total",
			Help: "Duplicate data-updated notifications suppressed by debouncing",
		},
	)
)
