// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package client fetches payloads from configured HTTP sources. Each source
// gets an APIClient with authentication, sliding-window rate limiting, and
// retry with exponential backoff, wrapped by a circuit breaker and managed
// by a shared connection pool.
package client

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
	"github.com/tomtom215/datapulse/internal/models"
	"github.com/tomtom215/datapulse/internal/ratelimit"
)

// maxBodyBytes caps response reads so a misbehaving source cannot exhaust
// memory.
const maxBodyBytes = 32 << 20

// Response is the outcome of one fetch, success or failure. Fetch always
// returns a non-nil Response; Err carries the failure when IsSuccess is
// false.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
	Latency time.Duration
	Err     error
}

// IsSuccess reports whether the fetch completed with a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Payload decodes the response body as a JSON object.
func (r *Response) Payload() (models.Payload, error) {
	if !r.IsSuccess() {
		if r.Err != nil {
			return nil, r.Err
		}
		return nil, fmt.Errorf("fetch returned status %d", r.Status)
	}
	var payload models.Payload
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// APIClient fetches one source's endpoint with auth, rate limiting, and
// retry. It is safe for concurrent use.
type APIClient struct {
	source  config.SourceConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	// gate is the optional fleet-wide request smoother shared across all
	// clients in a pool. nil = unlimited.
	gate *rate.Limiter
}

// NewAPIClient builds a client for one source on the given transport. gate
// may be nil.
func NewAPIClient(source config.SourceConfig, transport http.RoundTripper, gate *rate.Limiter) *APIClient {
	return &APIClient{
		source: source,
		http: &http.Client{
			Transport: transport,
			Timeout:   source.Timeout,
		},
		limiter: ratelimit.New(source.ID, ratelimit.Limits{
			PerSecond: source.RateLimit.PerSecond,
			PerMinute: source.RateLimit.PerMinute,
			Burst:     source.RateLimit.Burst,
		}),
		gate: gate,
	}
}

// Source returns the client's immutable source configuration.
func (c *APIClient) Source() config.SourceConfig {
	return c.source
}

// Limiter exposes the per-source rate limiter for diagnostics.
func (c *APIClient) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Fetch performs the source's configured request, retrying transport errors
// and non-2xx responses with exponential backoff and jitter. Every attempt
// waits for a rate limit slot first. The final failure comes back as a
// Response with Err set, never as a nil Response.
func (c *APIClient) Fetch(ctx context.Context) *Response {
	attempts := c.source.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last *Response
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			logging.Debug().
				Str("source_id", c.source.ID).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying fetch after backoff")
			metrics.FetchesTotal.WithLabelValues(c.source.ID, "retry").Inc()

			select {
			case <-ctx.Done():
				last.Err = ctx.Err()
				return last
			case <-time.After(delay):
			}
		}

		if err := c.limiter.WaitForSlot(ctx); err != nil {
			return &Response{Err: fmt.Errorf("rate limit wait: %w", err)}
		}
		if c.gate != nil {
			if err := c.gate.Wait(ctx); err != nil {
				return &Response{Err: fmt.Errorf("global rate gate: %w", err)}
			}
		}

		last = c.Do(ctx, c.source.Method, c.source.Endpoint)
		if last.IsSuccess() {
			metrics.FetchesTotal.WithLabelValues(c.source.ID, "success").Inc()
			return last
		}
	}

	if last.Err == nil {
		last.Err = fmt.Errorf("fetch %s: status %d after %d attempts", c.source.ID, last.Status, attempts)
	}
	metrics.FetchesTotal.WithLabelValues(c.source.ID, "error").Inc()
	return last
}

// HealthCheck probes the source's health endpoint (its data endpoint when
// none is configured) with a single GET, bypassing retry.
func (c *APIClient) HealthCheck(ctx context.Context) (time.Duration, error) {
	endpoint := c.source.HealthCheck.Endpoint
	if endpoint == "" {
		endpoint = c.source.Endpoint
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, fmt.Errorf("health check %s: %w", c.source.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, fmt.Errorf("health check %s: status %d", c.source.ID, resp.StatusCode)
	}
	return latency, nil
}

// Do performs a single authenticated request against an arbitrary endpoint,
// bypassing retry and rate limiting. Intended for health probes and one-off
// source operations.
func (c *APIClient) Do(ctx context.Context, method, endpoint string) *Response {
	req, err := c.newRequest(ctx, method, endpoint)
	if err != nil {
		return &Response{Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	metrics.FetchDuration.WithLabelValues(c.source.ID).Observe(latency.Seconds())

	if err != nil {
		return &Response{Latency: latency, Err: fmt.Errorf("fetch %s: %w", c.source.ID, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Response{
			Status:  resp.StatusCode,
			Headers: resp.Header,
			Latency: latency,
			Err:     fmt.Errorf("read body from %s: %w", c.source.ID, err),
		}
	}

	return &Response{
		Status:  resp.StatusCode,
		Body:    body,
		Headers: resp.Header,
		Latency: latency,
	}
}

// newRequest builds an authenticated request for the source.
func (c *APIClient) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	target, err := joinURL(c.source.BaseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("build url for %s: %w", c.source.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", c.source.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "datapulse/1.0")

	auth := c.source.Auth
	switch auth.Kind {
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case config.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case config.AuthAPIKey:
		req.Header.Set(auth.Header, auth.Token)
	case config.AuthQuery:
		q := req.URL.Query()
		q.Set(auth.Param, auth.Token)
		req.URL.RawQuery = q.Encode()
	}
	return req, nil
}

// backoffDelay computes the wait before retry number attempt+1:
// initial * base^attempt capped at the configured maximum, with optional
// jitter scaling the result into [0.5, 1.0) of the computed delay.
func (c *APIClient) backoffDelay(attempt int) time.Duration {
	retry := c.source.Retry
	delay := float64(retry.InitialDelay) * math.Pow(retry.BackoffBase, float64(attempt))
	if max := float64(retry.MaxDelay); retry.MaxDelay > 0 && delay > max {
		delay = max
	}
	if retry.Jitter {
		delay *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

// joinURL joins a base URL and endpoint path, preserving any base path
// segment.
func joinURL(base, endpoint string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if endpoint != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	}
	return u.String(), nil
}
