// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/datapulse/internal/cache"
	"github.com/tomtom215/datapulse/internal/change"
	"github.com/tomtom215/datapulse/internal/client"
	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/models"
	"github.com/tomtom215/datapulse/internal/syncer"
	"github.com/tomtom215/datapulse/internal/validation"
)

// subscriberBuffer is the channel depth per subscriber. A subscriber that
// falls further behind loses events rather than stalling the pipeline.
const subscriberBuffer = 64

var (
	// ErrSourceExists is returned by AddSource for a duplicate source id.
	ErrSourceExists = errors.New("source already registered")
	// ErrSourceNotFound is returned by RemoveSource for an unknown source id.
	ErrSourceNotFound = errors.New("source not registered")
)

// managedStream pairs a running stream with its supervisor token.
type managedStream struct {
	stream *Stream
	token  suture.ServiceToken
}

// Manager owns the streams for all registered sources, supervises them, and
// fans committed change events out to subscribers.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*managedStream

	subMu   sync.RWMutex
	subs    map[int]chan models.ChangeEvent
	nextSub int

	// customResolvers, keyed by source id, override the configured strategy
	// hook for custom_function sources. Set before AddSource.
	customResolvers map[string]change.CustomResolver

	pool       *client.ConnectionPool
	sync       *syncer.Syncer
	supervisor *suture.Supervisor

	shutdownTimeout time.Duration
}

// NewManager builds a stream manager on the given pool and syncer. The
// slog logger bridges supervisor events into the shared zerolog output.
func NewManager(pool *client.ConnectionPool, s *syncer.Syncer, shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{
		Logger: slog.New(logging.NewSlogHandler()),
	}
	supervisor := suture.New("datapulse-streams", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})

	return &Manager{
		streams:         make(map[string]*managedStream),
		subs:            make(map[int]chan models.ChangeEvent),
		customResolvers: make(map[string]change.CustomResolver),
		pool:            pool,
		sync:            s,
		supervisor:      supervisor,
		shutdownTimeout: shutdownTimeout,
	}
}

// SetCustomResolver installs a conflict resolver for a source configured
// with the custom_function strategy. Must be called before AddSource.
func (m *Manager) SetCustomResolver(sourceID string, resolver change.CustomResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customResolvers[sourceID] = resolver
}

// AddSource registers a source and starts its stream under the supervisor.
func (m *Manager) AddSource(source config.SourceConfig) error {
	rules, err := validation.Compile(source.Rules)
	if err != nil {
		return fmt.Errorf("add source %s: %w", source.ID, err)
	}
	levels, err := cache.ParseLevels(source.CacheLevels)
	if err != nil {
		return fmt.Errorf("add source %s: %w", source.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.streams[source.ID]; exists {
		return fmt.Errorf("add source %s: %w", source.ID, ErrSourceExists)
	}

	resolver := change.NewResolver(
		models.ConflictStrategy(source.Conflict.Strategy),
		source.Conflict.Priority,
		m.customResolvers[source.ID],
	)

	c := m.pool.Register(source)
	stream := NewStream(source, c, m.sync, resolver, rules, levels, m.publish)
	token := m.supervisor.Add(stream)
	m.streams[source.ID] = &managedStream{stream: stream, token: token}

	logging.Info().Str("source_id", source.ID).Msg("Source added")
	return nil
}

// RemoveSource stops a source's stream, waits for it to exit, and drops its
// client from the pool.
func (m *Manager) RemoveSource(sourceID string) error {
	m.mu.Lock()
	managed, exists := m.streams[sourceID]
	if exists {
		delete(m.streams, sourceID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("remove source %s: %w", sourceID, ErrSourceNotFound)
	}

	if err := m.supervisor.RemoveAndWait(managed.token, m.shutdownTimeout); err != nil {
		return fmt.Errorf("remove source %s: %w", sourceID, err)
	}
	m.pool.Remove(sourceID)
	logging.Info().Str("source_id", sourceID).Msg("Source removed")
	return nil
}

// Subscribe returns a channel of committed change events across all
// sources and a cancel function. Slow subscribers drop events once their
// buffer fills.
func (m *Manager) Subscribe() (<-chan models.ChangeEvent, func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan models.ChangeEvent, subscriberBuffer)
	m.subs[id] = ch
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// publish fans an event out to every subscriber. A panic in delivery (e.g.
// racing a closed channel) is contained so one subscriber cannot take down
// the poll loop.
func (m *Manager) publish(event models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Interface("panic", r).
				Str("source_id", event.SourceID).
				Msg("Recovered from panic during event fan-out")
		}
	}()

	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for id, ch := range m.subs {
		select {
		case ch <- event:
		default:
			logging.Warn().
				Int("subscriber", id).
				Str("source_id", event.SourceID).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// AllData returns the committed record for every registered source that
// has one.
func (m *Manager) AllData() map[string]*models.DataRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*models.DataRecord, len(m.streams))
	for id := range m.streams {
		if record, ok := m.sync.LastRecord(id); ok {
			out[id] = record
		}
	}
	return out
}

// AllStates returns a state snapshot for every registered stream.
func (m *Manager) AllStates() map[string]models.StreamState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.StreamState, len(m.streams))
	for id, managed := range m.streams {
		out[id] = managed.stream.State()
	}
	return out
}

// StreamState returns one stream's snapshot.
func (m *Manager) StreamState(sourceID string) (models.StreamState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.streams[sourceID]
	if !ok {
		return models.StreamState{}, false
	}
	return managed.stream.State(), true
}

// HealthCheckAll probes every registered source.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]client.HealthResult {
	return m.pool.HealthCheckAll(ctx)
}

// Serve runs the supervisor until the context is canceled. Implements
// suture.Service so the manager can nest under a root supervisor.
func (m *Manager) Serve(ctx context.Context) error {
	return m.supervisor.Serve(ctx)
}

// ServeBackground starts the supervisor in a background goroutine and
// returns the completion channel.
func (m *Manager) ServeBackground(ctx context.Context) <-chan error {
	return m.supervisor.ServeBackground(ctx)
}
