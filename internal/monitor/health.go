// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/datapulse/internal/client"
	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/models"
)

// Prober runs health probes against every registered source. Implemented
// by the connection pool and the stream manager.
type Prober interface {
	HealthCheckAll(ctx context.Context) map[string]client.HealthResult
}

// SourceHealth is the monitored condition of one source. Uptime is a
// coarse score derived from consecutive failures: each failure in a row
// costs ten points, floored at zero.
type SourceHealth struct {
	SourceID            string        `json:"source_id"`
	Healthy             bool          `json:"healthy"`
	Uptime              float64       `json:"uptime"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastLatency         time.Duration `json:"last_latency"`
	LastChecked         time.Time     `json:"last_checked"`
	LastError           string        `json:"last_error,omitempty"`
}

// HealthChecker periodically probes all sources, records performance
// samples, and drives threshold alerts. It implements suture.Service.
type HealthChecker struct {
	prober     Prober
	perf       *PerformanceMetrics
	alerts     *AlertManager
	interval   time.Duration
	thresholds config.AlertThresholds

	// onTransition, when set, fires after a source flips between healthy
	// and unhealthy. Set before Serve.
	onTransition func(SourceHealth)

	mu     sync.RWMutex
	health map[string]*SourceHealth
}

// NewHealthChecker builds a checker over the given prober.
func NewHealthChecker(prober Prober, perf *PerformanceMetrics, alerts *AlertManager, cfg config.MonitorConfig) *HealthChecker {
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthChecker{
		prober:     prober,
		perf:       perf,
		alerts:     alerts,
		interval:   interval,
		thresholds: cfg.Thresholds,
		health:     make(map[string]*SourceHealth),
	}
}

// SetTransitionHook installs a callback fired when a source flips between
// healthy and unhealthy. Must be called before Serve.
func (h *HealthChecker) SetTransitionHook(hook func(SourceHealth)) {
	h.onTransition = hook
}

// Serve probes on the configured interval until the context is canceled.
// The first round runs immediately so health data exists before the first
// full interval elapses.
func (h *HealthChecker) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", h.interval).Msg("Health checker started")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Health checker stopped")
			return ctx.Err()
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single probe round across all sources.
func (h *HealthChecker) CheckOnce(ctx context.Context) {
	results := h.prober.HealthCheckAll(ctx)
	for sourceID, result := range results {
		h.apply(sourceID, result)
	}
}

// Health returns one source's health snapshot.
func (h *HealthChecker) Health(sourceID string) (SourceHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.health[sourceID]
	if !ok {
		return SourceHealth{}, false
	}
	return *health, true
}

// AllHealth returns a snapshot per monitored source.
func (h *HealthChecker) AllHealth() map[string]SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]SourceHealth, len(h.health))
	for id, health := range h.health {
		out[id] = *health
	}
	return out
}

// Forget drops a source's health state after it is removed.
func (h *HealthChecker) Forget(sourceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.health, sourceID)
}

// apply folds one probe result into the health state and evaluates the
// alert thresholds.
func (h *HealthChecker) apply(sourceID string, result client.HealthResult) {
	h.mu.Lock()
	health, existed := h.health[sourceID]
	if !existed {
		health = &SourceHealth{SourceID: sourceID, Uptime: 100}
		h.health[sourceID] = health
	}
	wasHealthy := health.Healthy

	health.Healthy = result.Healthy
	health.LastLatency = result.Latency
	health.LastChecked = time.Now()
	if result.Err != nil {
		health.LastError = result.Err.Error()
		health.ConsecutiveFailures++
	} else {
		health.LastError = ""
		health.ConsecutiveFailures = 0
	}
	health.Uptime = uptimeScore(health.ConsecutiveFailures)
	snapshot := *health
	h.mu.Unlock()

	if existed && wasHealthy != snapshot.Healthy && h.onTransition != nil {
		h.onTransition(snapshot)
	}

	h.perf.Record(sourceID, models.MetricResponseTime, result.Latency.Seconds())
	if result.Healthy {
		h.perf.Record(sourceID, models.MetricAvailability, 1)
	} else {
		h.perf.Record(sourceID, models.MetricAvailability, 0)
	}

	h.evaluate(snapshot)
}

// evaluate raises or clears the threshold alerts for one source.
func (h *HealthChecker) evaluate(health SourceHealth) {
	t := h.thresholds

	if t.ConsecutiveFailures > 0 {
		if health.ConsecutiveFailures >= t.ConsecutiveFailures {
			h.alerts.Raise(health.SourceID, models.AlertConsecutiveFailures, models.SeverityError,
				fmt.Sprintf("%d consecutive health check failures: %s", health.ConsecutiveFailures, health.LastError))
		} else if health.ConsecutiveFailures == 0 {
			h.alerts.ResolveCondition(health.SourceID, models.AlertConsecutiveFailures)
		}
	}

	if t.LatencyP95 > 0 {
		p95 := time.Duration(h.perf.Stats(health.SourceID, models.MetricResponseTime).P95 * float64(time.Second))
		if p95 > t.LatencyP95 {
			h.alerts.Raise(health.SourceID, models.AlertHighLatency, models.SeverityWarning,
				fmt.Sprintf("p95 latency %v exceeds threshold %v", p95.Round(time.Millisecond), t.LatencyP95))
		} else {
			h.alerts.ResolveCondition(health.SourceID, models.AlertHighLatency)
		}
	}

	if t.UptimeBelow > 0 {
		if health.Uptime < t.UptimeBelow {
			h.alerts.Raise(health.SourceID, models.AlertLowUptime, models.SeverityCritical,
				fmt.Sprintf("uptime score %.0f below threshold %.0f", health.Uptime, t.UptimeBelow))
		} else {
			h.alerts.ResolveCondition(health.SourceID, models.AlertLowUptime)
		}
	}
}

// uptimeScore maps consecutive failures onto a 0-100 score.
func uptimeScore(consecutiveFailures int) float64 {
	score := 100.0 - 10.0*float64(consecutiveFailures)
	if score < 0 {
		return 0
	}
	return score
}
