// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
)

// HealthResult is the outcome of one source's health probe.
type HealthResult struct {
	SourceID string
	Healthy  bool
	Latency  time.Duration
	Err      error
}

// ConnectionPool owns the shared HTTP transport and the per-source breaker
// clients. Clients are created lazily on first registration and share the
// transport's connection reuse; an optional fleet-wide rate gate smooths
// aggregate request volume on top of the per-source windows.
type ConnectionPool struct {
	mu      sync.RWMutex
	clients map[string]*BreakerClient

	transport *http.Transport
	gate      *rate.Limiter

	healthConcurrency int
}

// NewConnectionPool builds the pool from configuration.
func NewConnectionPool(cfg config.PoolConfig) *ConnectionPool {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 - explicit operator opt-in
	}

	var gate *rate.Limiter
	if cfg.GlobalRPS > 0 {
		gate = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), int(cfg.GlobalRPS)+1)
	}

	concurrency := cfg.HealthConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	return &ConnectionPool{
		clients:           make(map[string]*BreakerClient),
		transport:         transport,
		gate:              gate,
		healthConcurrency: concurrency,
	}
}

// Register creates (or replaces) the client for a source and returns it.
func (p *ConnectionPool) Register(source config.SourceConfig) *BreakerClient {
	client := NewBreakerClient(NewAPIClient(source, p.transport, p.gate))

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.clients[source.ID]; exists {
		logging.Info().Str("source_id", source.ID).Msg("Replacing registered client")
	}
	p.clients[source.ID] = client
	return client
}

// Get returns the client for a source id.
func (p *ConnectionPool) Get(sourceID string) (*BreakerClient, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	client, ok := p.clients[sourceID]
	return client, ok
}

// Remove forgets a source's client. Idle connections age out of the shared
// transport on their own.
func (p *ConnectionPool) Remove(sourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, sourceID)
}

// SourceIDs returns the ids of all registered sources.
func (p *ConnectionPool) SourceIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	return ids
}

// HealthCheckAll probes every registered source with bounded concurrency
// and returns a result per source id.
func (p *ConnectionPool) HealthCheckAll(ctx context.Context) map[string]HealthResult {
	p.mu.RLock()
	clients := make([]*BreakerClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.RUnlock()

	results := make(map[string]HealthResult, len(clients))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
		sem = make(chan struct{}, p.healthConcurrency)
	)

	for _, c := range clients {
		wg.Add(1)
		go func(c *BreakerClient) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				rmu.Lock()
				results[c.Source().ID] = HealthResult{
					SourceID: c.Source().ID,
					Err:      fmt.Errorf("health check: %w", ctx.Err()),
				}
				rmu.Unlock()
				return
			}

			latency, err := c.HealthCheck(ctx)
			rmu.Lock()
			results[c.Source().ID] = HealthResult{
				SourceID: c.Source().ID,
				Healthy:  err == nil,
				Latency:  latency,
				Err:      err,
			}
			rmu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Close drops all clients and idle connections.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	p.clients = make(map[string]*BreakerClient)
	p.mu.Unlock()
	p.transport.CloseIdleConnections()
}
