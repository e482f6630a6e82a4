// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package monitor tracks per-source performance samples, runs periodic
// health checks, and raises threshold alerts. Prometheus gauges cover the
// fleet view; the sample store answers per-source percentile queries that
// a scrape-based system cannot.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/datapulse/internal/models"
)

// SampleStats summarizes one source's samples of a single kind inside the
// retention window.
type SampleStats struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	P95    float64
	P99    float64
}

// PerformanceMetrics is an in-memory, retention-pruned sample store.
type PerformanceMetrics struct {
	mu        sync.Mutex
	retention time.Duration
	// samples per source, oldest first.
	samples map[string][]models.MetricSample

	// now is swappable for tests.
	now func() time.Time
}

// NewPerformanceMetrics creates a store keeping samples for the given
// retention window.
func NewPerformanceMetrics(retention time.Duration) *PerformanceMetrics {
	if retention <= 0 {
		retention = time.Hour
	}
	return &PerformanceMetrics{
		retention: retention,
		samples:   make(map[string][]models.MetricSample),
		now:       time.Now,
	}
}

// Record appends a sample for a source, pruning anything older than the
// retention window.
func (p *PerformanceMetrics) Record(sourceID string, kind models.MetricKind, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.samples[sourceID] = append(p.pruneLocked(sourceID, now), models.MetricSample{
		Timestamp: now,
		Value:     value,
		Kind:      kind,
		SourceID:  sourceID,
	})
}

// Stats computes summary statistics for one source and kind over the
// retained samples.
func (p *PerformanceMetrics) Stats(sourceID string, kind models.MetricKind) SampleStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	retained := p.pruneLocked(sourceID, p.now())
	p.samples[sourceID] = retained

	values := make([]float64, 0, len(retained))
	for i := range retained {
		if retained[i].Kind == kind {
			values = append(values, retained[i].Value)
		}
	}
	return summarize(values)
}

// Samples returns a copy of a source's retained samples of one kind.
func (p *PerformanceMetrics) Samples(sourceID string, kind models.MetricKind) []models.MetricSample {
	p.mu.Lock()
	defer p.mu.Unlock()

	retained := p.pruneLocked(sourceID, p.now())
	p.samples[sourceID] = retained

	var out []models.MetricSample
	for i := range retained {
		if retained[i].Kind == kind {
			out = append(out, retained[i])
		}
	}
	return out
}

// pruneLocked drops samples older than the retention window. Samples are
// appended in time order, so the cut is a single scan from the front.
// Caller holds mu.
func (p *PerformanceMetrics) pruneLocked(sourceID string, now time.Time) []models.MetricSample {
	samples := p.samples[sourceID]
	cutoff := now.Add(-p.retention)
	idx := 0
	for idx < len(samples) && samples[idx].Timestamp.Before(cutoff) {
		idx++
	}
	return samples[idx:]
}

// summarize computes the summary statistics over a value set.
func summarize(values []float64) SampleStats {
	if len(values) == 0 {
		return SampleStats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return SampleStats{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / float64(len(sorted)),
		Median: percentile(sorted, 50),
		P95:    percentile(sorted, 95),
		P99:    percentile(sorted, 99),
	}
}

// percentile returns the nearest-rank percentile of a sorted value set.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(pct / 100.0 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
