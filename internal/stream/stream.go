// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package stream runs one polling loop per source under a suture supervisor.
// Each poll fetches, validates, maps, and syncs a payload, then fans the
// resulting change event out to subscribers. Consecutive failures stretch
// the poll interval with capped exponential backoff.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/datapulse/internal/cache"
	"github.com/tomtom215/datapulse/internal/change"
	"github.com/tomtom215/datapulse/internal/client"
	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
	"github.com/tomtom215/datapulse/internal/models"
	"github.com/tomtom215/datapulse/internal/syncer"
	"github.com/tomtom215/datapulse/internal/validation"
)

// backoffCapMultiplier caps the error backoff at ten poll intervals.
const backoffCapMultiplier = 10

// Stream polls one source. It implements suture.Service; the supervisor
// restarts it if the loop ever panics or returns early.
type Stream struct {
	source   config.SourceConfig
	client   *client.BreakerClient
	sync     *syncer.Syncer
	resolver *change.Resolver
	rules    []validation.Rule
	levels   []cache.Level

	// onEvent receives committed change events. Set by the manager before
	// the stream starts.
	onEvent func(models.ChangeEvent)

	mu    sync.Mutex
	state models.StreamState

	// now is swappable for tests.
	now func() time.Time
}

// NewStream builds a stream for one source. onEvent may be nil.
func NewStream(source config.SourceConfig, c *client.BreakerClient, s *syncer.Syncer, resolver *change.Resolver, rules []validation.Rule, levels []cache.Level, onEvent func(models.ChangeEvent)) *Stream {
	return &Stream{
		source:   source,
		client:   c,
		sync:     s,
		resolver: resolver,
		rules:    rules,
		levels:   levels,
		onEvent:  onEvent,
		state: models.StreamState{
			SourceID: source.ID,
			Status:   models.StreamPending,
		},
		now: time.Now,
	}
}

// Serve runs the poll loop until the context is canceled. The first poll
// happens immediately; subsequent polls wait the configured interval,
// stretched by capped exponential backoff while the source keeps failing.
func (s *Stream) Serve(ctx context.Context) error {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	logging.Info().
		Str("source_id", s.source.ID).
		Dur("interval", s.source.PollInterval).
		Msg("Stream started")

	for {
		s.poll(ctx)

		select {
		case <-ctx.Done():
			logging.Info().Str("source_id", s.source.ID).Msg("Stream stopped")
			return ctx.Err()
		case <-time.After(s.nextDelay()):
		}
	}
}

// State returns a snapshot of the stream's current condition.
func (s *Stream) State() models.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Poll runs one poll cycle immediately, outside the serve loop. Used for
// on-demand refresh.
func (s *Stream) Poll(ctx context.Context) {
	s.poll(ctx)
}

// poll executes one fetch-validate-map-sync cycle.
func (s *Stream) poll(ctx context.Context) {
	s.setLoading()

	resp := s.client.Fetch(ctx)
	if !resp.IsSuccess() {
		s.recordError(fmt.Errorf("fetch: %w", responseError(resp)), "error")
		return
	}

	payload, err := resp.Payload()
	if err != nil {
		s.recordError(fmt.Errorf("decode: %w", err), "invalid")
		return
	}

	if err := validation.Validate(payload, s.rules); err != nil {
		s.recordError(fmt.Errorf("validate: %w", err), "invalid")
		return
	}

	mapped := ApplyMappings(payload, s.source.FieldMappings)

	result := s.sync.Sync(s.source.ID, mapped, s.now(), s.resolver, syncer.Options{
		CacheTTL:    s.source.CacheTTL,
		CacheLevels: s.levels,
	})
	if result.Rejected {
		// Another sync beat this poll; the data is not lost, just deferred
		// to the next cycle.
		logging.Debug().Str("source_id", s.source.ID).Msg("Poll skipped, sync in progress")
		s.recordSuccess()
		return
	}
	if !result.Success {
		s.recordError(fmt.Errorf("sync failed for %s", s.source.ID), "error")
		return
	}

	if result.Event != nil && s.onEvent != nil {
		s.onEvent(*result.Event)
	}
	s.recordSuccess()
}

// nextDelay returns the wait before the next poll:
// min(interval * 2^consecutiveErrors, 10 * interval).
func (s *Stream) nextDelay() time.Duration {
	s.mu.Lock()
	consecutive := s.state.ConsecutiveErrors
	s.mu.Unlock()

	interval := s.source.PollInterval
	if consecutive == 0 {
		return interval
	}

	delay := interval
	maxDelay := backoffCapMultiplier * interval
	for i := 0; i < consecutive; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func (s *Stream) setLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = models.StreamLoading
	s.state.LastPoll = s.now()
}

func (s *Stream) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = models.StreamSuccess
	s.state.ConsecutiveErrors = 0
	s.state.LastError = ""
	s.state.LastSuccess = s.now()
	metrics.StreamPolls.WithLabelValues(s.source.ID, "success").Inc()
}

func (s *Stream) recordError(err error, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = models.StreamError
	s.state.ErrorCount++
	s.state.ConsecutiveErrors++
	s.state.LastError = err.Error()
	metrics.StreamPolls.WithLabelValues(s.source.ID, outcome).Inc()

	logging.Warn().
		Err(err).
		Str("source_id", s.source.ID).
		Int("consecutive_errors", s.state.ConsecutiveErrors).
		Msg("Poll failed")
}

func responseError(r *client.Response) error {
	if r.Err != nil {
		return r.Err
	}
	return fmt.Errorf("status %d", r.Status)
}
