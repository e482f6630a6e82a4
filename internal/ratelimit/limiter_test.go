// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limits Limits) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New("test", limits)
	l.now = clock.now
	return l, clock
}

func TestLimiter_BurstCeiling(t *testing.T) {
	l, clock := newTestLimiter(Limits{PerSecond: 100, PerMinute: 1000, Burst: 3})

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if l.CanMakeRequest() {
		t.Error("4th request within 100ms should be rejected")
	}

	// Burst window elapses, second window still has room
	clock.advance(150 * time.Millisecond)
	if !l.CanMakeRequest() {
		t.Error("request should be admitted after burst window elapses")
	}
}

func TestLimiter_PerSecondCeiling(t *testing.T) {
	l, clock := newTestLimiter(Limits{PerSecond: 5, PerMinute: 1000, Burst: 0})

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be admitted", i)
		}
		clock.advance(10 * time.Millisecond)
	}
	if l.CanMakeRequest() {
		t.Error("6th request within 1s should be rejected")
	}

	clock.advance(time.Second)
	if !l.CanMakeRequest() {
		t.Error("request should be admitted after 1s window elapses")
	}
}

func TestLimiter_PerMinuteCeiling(t *testing.T) {
	l, clock := newTestLimiter(Limits{PerSecond: 0, PerMinute: 10, Burst: 0})

	for i := 0; i < 10; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be admitted", i)
		}
		clock.advance(time.Second)
	}
	if l.CanMakeRequest() {
		t.Error("11th request within 60s should be rejected")
	}

	// Oldest events fall out of the minute window
	clock.advance(55 * time.Second)
	if !l.CanMakeRequest() {
		t.Error("request should be admitted after old events expire")
	}
}

func TestLimiter_AllCeilingsMustPass(t *testing.T) {
	l, _ := newTestLimiter(Limits{PerSecond: 2, PerMinute: 100, Burst: 10})

	l.Record()
	l.Record()

	// Burst allows 10 but per-second ceiling is already full.
	if l.CanMakeRequest() {
		t.Error("per-second ceiling should reject even though burst has room")
	}
}

func TestLimiter_ZeroLimitsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(Limits{})

	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("unlimited limiter rejected request %d", i)
		}
	}
}

func TestLimiter_WaitForSlot(t *testing.T) {
	// Real clock: burst of 2 per 100ms, so the 3rd request must wait.
	l := New("test", Limits{PerSecond: 100, PerMinute: 1000, Burst: 2})

	if !l.Allow() || !l.Allow() {
		t.Fatal("first two requests should be admitted")
	}

	start := time.Now()
	if err := l.WaitForSlot(context.Background()); err != nil {
		t.Fatalf("WaitForSlot returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected a wait of at least ~100ms, got %v", elapsed)
	}
}

func TestLimiter_WaitForSlotCanceled(t *testing.T) {
	l := New("test", Limits{PerMinute: 1})
	if !l.Allow() {
		t.Fatal("first request should be admitted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := l.WaitForSlot(ctx); err == nil {
		t.Error("expected context error from canceled wait")
	}
}

func TestLimiter_Pending(t *testing.T) {
	l, clock := newTestLimiter(Limits{PerMinute: 100})

	l.Record()
	l.Record()
	if got := l.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}

	clock.advance(61 * time.Second)
	if got := l.Pending(); got != 0 {
		t.Errorf("Pending after window = %d, want 0", got)
	}
}
