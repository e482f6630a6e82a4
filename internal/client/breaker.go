// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
)

// BreakerClient wraps an APIClient with circuit breaker protection so a
// source that keeps failing stops consuming retry budget and rate limit
// slots until it recovers.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests exercise the wrapped client directly or drive failures through a
// test server rather than mocking the breaker.
type BreakerClient struct {
	client *APIClient
	cb     *gobreaker.CircuitBreaker[*Response]
	name   string
}

// NewBreakerClient wraps a client with a circuit breaker. Configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 30 second timeout before attempting recovery
// - Opens after 60% failure rate with minimum 5 requests
func NewBreakerClient(client *APIClient) *BreakerClient {
	name := client.Source().ID

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Str("source_id", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("source_id", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{client: client, cb: cb, name: name}
}

// Fetch performs a protected fetch. Like APIClient.Fetch it always returns
// a non-nil Response; a rejected request (open circuit) comes back with Err
// set to the breaker error.
func (b *BreakerClient) Fetch(ctx context.Context) *Response {
	resp, err := b.cb.Execute(func() (*Response, error) {
		r := b.client.Fetch(ctx)
		if !r.IsSuccess() {
			// Returning the error lets the breaker count the failure; the
			// response still travels alongside it.
			if r.Err != nil {
				return r, r.Err
			}
			return r, fmt.Errorf("fetch %s: status %d", b.name, r.Status)
		}
		return r, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Str("source_id", b.name).Msg("[CIRCUIT BREAKER] Request rejected")
			return &Response{Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		if resp == nil {
			resp = &Response{Err: err}
		}
		return resp
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return resp
}

// HealthCheck probes the source without engaging the breaker: a probe that
// sidesteps the failure counters can run even while the circuit is open to
// observe recovery.
func (b *BreakerClient) HealthCheck(ctx context.Context) (time.Duration, error) {
	return b.client.HealthCheck(ctx)
}

// Source returns the wrapped client's source configuration.
func (b *BreakerClient) Source() config.SourceConfig {
	return b.client.Source()
}

// State returns the breaker's current state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
