// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package monitor

import (
	"testing"
	"time"

	"github.com/tomtom215/datapulse/internal/models"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPerformanceMetrics_Stats(t *testing.T) {
	p := NewPerformanceMetrics(time.Hour)

	for i := 1; i <= 100; i++ {
		p.Record("src", models.MetricResponseTime, float64(i))
	}

	stats := p.Stats("src", models.MetricResponseTime)
	if stats.Count != 100 {
		t.Fatalf("expected 100 samples, got %d", stats.Count)
	}
	if stats.Min != 1 || stats.Max != 100 {
		t.Errorf("expected min 1 / max 100, got %v / %v", stats.Min, stats.Max)
	}
	if stats.Mean != 50.5 {
		t.Errorf("expected mean 50.5, got %v", stats.Mean)
	}
	if stats.Median != 50 {
		t.Errorf("expected median 50, got %v", stats.Median)
	}
	if stats.P95 != 95 {
		t.Errorf("expected p95 95, got %v", stats.P95)
	}
	if stats.P99 != 99 {
		t.Errorf("expected p99 99, got %v", stats.P99)
	}
}

func TestPerformanceMetrics_EmptyStats(t *testing.T) {
	p := NewPerformanceMetrics(time.Hour)
	if stats := p.Stats("none", models.MetricResponseTime); stats.Count != 0 {
		t.Errorf("expected zero stats for unknown source, got %+v", stats)
	}
}

func TestPerformanceMetrics_SingleSample(t *testing.T) {
	p := NewPerformanceMetrics(time.Hour)
	p.Record("src", models.MetricResponseTime, 42)

	stats := p.Stats("src", models.MetricResponseTime)
	if stats.Count != 1 || stats.Median != 42 || stats.P99 != 42 {
		t.Errorf("single sample should dominate every statistic, got %+v", stats)
	}
}

func TestPerformanceMetrics_RetentionPrunes(t *testing.T) {
	clock := newFakeClock()
	p := NewPerformanceMetrics(time.Minute)
	p.now = clock.Now

	p.Record("src", models.MetricResponseTime, 1)
	clock.Advance(30 * time.Second)
	p.Record("src", models.MetricResponseTime, 2)
	clock.Advance(45 * time.Second) // first sample now 75s old

	stats := p.Stats("src", models.MetricResponseTime)
	if stats.Count != 1 {
		t.Fatalf("expected 1 retained sample, got %d", stats.Count)
	}
	if stats.Min != 2 {
		t.Errorf("the old sample should be pruned, got min %v", stats.Min)
	}
}

func TestPerformanceMetrics_KindsAreSeparate(t *testing.T) {
	p := NewPerformanceMetrics(time.Hour)
	p.Record("src", models.MetricResponseTime, 1)
	p.Record("src", models.MetricAvailability, 0)

	if got := p.Stats("src", models.MetricResponseTime).Count; got != 1 {
		t.Errorf("expected 1 response time sample, got %d", got)
	}
	if got := len(p.Samples("src", models.MetricAvailability)); got != 1 {
		t.Errorf("expected 1 availability sample, got %d", got)
	}
}
