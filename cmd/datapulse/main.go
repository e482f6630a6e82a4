// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package main is the entry point for the Datapulse daemon.
//
// Datapulse polls configured HTTP sources on independent schedules, detects
// and reconciles changes against the last committed state, caches results in
// a two-tier memory/disk store, and surfaces source health through threshold
// alerts and UI notifications.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, and DATAPULSE_* environment
//     overrides (Koanf v2)
//  2. Cache: memory tier plus optional compressed disk tier
//  3. Sync pipeline: change detector, syncer, and HTTP connection pool
//  4. Stream manager: one supervised poll loop per source
//  5. Monitoring: performance samples, threshold alerts, health checker
//  6. Notifications: bounded store with debouncing and filtered fan-out
//  7. Metrics: optional Prometheus listener (monitoring.metrics_addr)
//
// Everything long-running nests under a single suture supervisor, so a
// crashed poll loop or sweep restarts without taking the process down.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context; the supervisor then stops
// every service and the process exits once in-flight work drains.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/datapulse/internal/cache"
	"github.com/tomtom215/datapulse/internal/change"
	"github.com/tomtom215/datapulse/internal/client"
	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/models"
	"github.com/tomtom215/datapulse/internal/monitor"
	"github.com/tomtom215/datapulse/internal/notify"
	"github.com/tomtom215/datapulse/internal/stream"
	"github.com/tomtom215/datapulse/internal/syncer"
)

// shutdownTimeout bounds how long services get to stop on shutdown.
const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("sources", len(cfg.Sources)).
		Str("metrics_addr", cfg.Monitoring.MetricsAddr).
		Msg("Configuration loaded")

	store, err := cache.FromConfig(cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize cache")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache")
		}
	}()

	pool := client.NewConnectionPool(cfg.Pool)
	defer pool.Close()

	sync := syncer.New(store, change.NewDetector())
	manager := stream.NewManager(pool, sync, shutdownTimeout)
	for _, source := range cfg.Sources {
		if err := manager.AddSource(source); err != nil {
			logging.Fatal().Err(err).Str("source_id", source.ID).Msg("Failed to add source")
		}
	}

	notifier := notify.NewManager(cfg.Notifications)
	perf := monitor.NewPerformanceMetrics(cfg.Monitoring.SampleRetention)
	alerts := monitor.NewAlertManager()
	checker := monitor.NewHealthChecker(manager, perf, alerts, cfg.Monitoring)

	alerts.RegisterHandler(func(alert models.Alert) {
		notifier.Publish(models.Notification{
			Title:    fmt.Sprintf("Alert: %s", alert.Kind),
			Message:  alert.Message,
			Type:     models.NotifyAlert,
			Priority: alertPriority(alert.Severity),
			SourceID: alert.SourceID,
		})
	})
	checker.SetTransitionHook(func(health monitor.SourceHealth) {
		if health.Healthy {
			notifier.Publish(models.Notification{
				Title:    "Source recovered",
				Message:  fmt.Sprintf("%s is healthy again", health.SourceID),
				Type:     models.NotifyHealthChange,
				Priority: models.PriorityNormal,
				SourceID: health.SourceID,
			})
			return
		}
		notifier.Publish(models.Notification{
			Title:    "Source unreachable",
			Message:  fmt.Sprintf("%s failed its health check: %s", health.SourceID, health.LastError),
			Type:     models.NotifySourceError,
			Priority: models.PriorityHigh,
			SourceID: health.SourceID,
		})
	})

	handler := &sutureslog.Handler{Logger: slog.New(logging.NewSlogHandler())}
	root := suture.New("datapulse", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   shutdownTimeout,
	})
	root.Add(manager)
	root.Add(checker)
	root.Add(notifier)
	root.Add(&eventBridge{manager: manager, notifier: notifier})
	if cfg.Monitoring.MetricsAddr != "" {
		root.Add(&metricsServer{addr: cfg.Monitoring.MetricsAddr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	errCh := root.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, stopping services")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
		stop()
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := root.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Datapulse stopped gracefully")
}

// alertPriority maps alert severities onto notification priorities.
func alertPriority(severity models.AlertSeverity) models.NotificationPriority {
	switch severity {
	case models.SeverityCritical:
		return models.PriorityUrgent
	case models.SeverityError:
		return models.PriorityHigh
	case models.SeverityWarning:
		return models.PriorityNormal
	default:
		return models.PriorityLow
	}
}

// eventBridge turns committed change events into data-updated notifications.
// The notifier's debounce window keeps chatty sources from flooding the UI.
type eventBridge struct {
	manager  *stream.Manager
	notifier *notify.Manager
}

// Serve implements suture.Service.
func (b *eventBridge) Serve(ctx context.Context) error {
	events, cancel := b.manager.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return suture.ErrDoNotRestart
			}
			b.notifier.Publish(models.Notification{
				Title:    "Data updated",
				Message:  fmt.Sprintf("%s: %s", event.SourceID, event.Type),
				Type:     models.NotifyDataUpdated,
				Priority: models.PriorityLow,
				SourceID: event.SourceID,
			})
		}
	}
}

// metricsServer exposes the Prometheus registry over HTTP.
type metricsServer struct {
	addr string
}

// Serve implements suture.Service.
func (s *metricsServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}()

	logging.Info().Str("addr", s.addr).Msg("Metrics server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
