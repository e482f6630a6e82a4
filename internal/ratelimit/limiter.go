// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package ratelimit provides per-source admission control over three
// simultaneous sliding windows: burst (100ms), per-second, and per-minute.
// A request is admitted only when all configured ceilings pass.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/datapulse/internal/metrics"
)

const (
	burstWindow  = 100 * time.Millisecond
	secondWindow = time.Second
	minuteWindow = time.Minute

	// pollTick is the cooperative wait granularity in WaitForSlot.
	pollTick = 100 * time.Millisecond
)

// Limits holds the three request ceilings. A ceiling of zero or less is
// treated as unlimited for that window.
type Limits struct {
	PerSecond int
	PerMinute int
	Burst     int // requests per 100ms
}

// Limiter is a thread-safe sliding-window rate limiter for one source.
// It keeps a single timestamp log pruned to the longest window; per-window
// counts are derived from it on each check.
type Limiter struct {
	mu     sync.Mutex
	limits Limits
	events []time.Time

	source string

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter for the given source id and limits.
func New(source string, limits Limits) *Limiter {
	return &Limiter{
		limits: limits,
		source: source,
		now:    time.Now,
	}
}

// CanMakeRequest reports whether a request would be admitted right now.
// It prunes the window log but records nothing.
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admissible(l.now())
}

// Allow atomically checks all ceilings and, if admitted, records the
// request. Use this instead of CanMakeRequest+Record when the caller
// proceeds immediately.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.admissible(now) {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// Record logs a request without checking ceilings. Used when admission was
// decided elsewhere (e.g. after WaitForSlot).
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, l.now())
}

// WaitForSlot blocks cooperatively until a slot is admitted or the context
// is canceled. The wait polls at 100ms granularity; this is a suspension
// point, not a spin.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	if l.Allow() {
		return nil
	}

	metrics.RateLimitWaits.WithLabelValues(l.source).Inc()

	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Allow() {
				return nil
			}
		}
	}
}

// Pending returns the number of requests currently inside the longest
// window. Exposed for capacity diagnostics.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.events)
}

// admissible prunes and checks all three ceilings. Caller holds mu.
func (l *Limiter) admissible(now time.Time) bool {
	l.prune(now)

	if l.limits.Burst > 0 && l.countSince(now.Add(-burstWindow)) >= l.limits.Burst {
		return false
	}
	if l.limits.PerSecond > 0 && l.countSince(now.Add(-secondWindow)) >= l.limits.PerSecond {
		return false
	}
	if l.limits.PerMinute > 0 && len(l.events) >= l.limits.PerMinute {
		return false
	}
	return true
}

// prune drops events older than the longest window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-minuteWindow)
	idx := 0
	for idx < len(l.events) && !l.events[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.events = l.events[idx:]
	}
}

// countSince counts events strictly after the cutoff. Events are appended
// in order, so scan from the tail. Caller holds mu.
func (l *Limiter) countSince(cutoff time.Time) int {
	n := 0
	for i := len(l.events) - 1; i >= 0; i-- {
		if !l.events[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}
