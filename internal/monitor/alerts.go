// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
	"github.com/tomtom215/datapulse/internal/models"
)

// resolvedHistoryCap bounds the kept history of resolved alerts.
const resolvedHistoryCap = 200

// AlertHandler receives every newly raised alert. Each handler runs in its
// own goroutine per alert; panics are contained.
type AlertHandler func(models.Alert)

// AlertManager deduplicates and tracks alerts. At most one unresolved
// alert per (source, kind) is active at a time: while it stays active the
// condition re-firing only bumps UpdatedAt.
type AlertManager struct {
	mu       sync.Mutex
	active   map[string]*models.Alert // keyed by sourceID + "|" + kind
	resolved []models.Alert

	handlerMu sync.RWMutex
	handlers  []AlertHandler

	// now is swappable for tests.
	now func() time.Time
}

// NewAlertManager creates an empty alert manager.
func NewAlertManager() *AlertManager {
	return &AlertManager{
		active: make(map[string]*models.Alert),
		now:    time.Now,
	}
}

// RegisterHandler adds a handler for newly raised alerts.
func (a *AlertManager) RegisterHandler(handler AlertHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// Raise activates an alert for (source, kind). If one is already active
// the existing alert is refreshed instead of duplicated; handlers fire
// only for genuinely new alerts.
func (a *AlertManager) Raise(sourceID string, kind models.AlertKind, severity models.AlertSeverity, message string) *models.Alert {
	a.mu.Lock()
	key := alertKey(sourceID, kind)
	now := a.now()

	if existing, ok := a.active[key]; ok {
		existing.UpdatedAt = now
		existing.Message = message
		snapshot := *existing
		a.mu.Unlock()
		return &snapshot
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.active[key] = alert
	snapshot := *alert
	a.mu.Unlock()

	metrics.AlertsRaised.WithLabelValues(sourceID, string(severity)).Inc()
	logging.Warn().
		Str("source_id", sourceID).
		Str("kind", string(kind)).
		Str("severity", string(severity)).
		Str("alert_id", snapshot.ID).
		Msg("Alert raised")

	a.dispatch(snapshot)
	return &snapshot
}

// ResolveCondition resolves the active alert for (source, kind) if one
// exists. Used when the monitored condition clears on its own.
func (a *AlertManager) ResolveCondition(sourceID string, kind models.AlertKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := alertKey(sourceID, kind)
	alert, ok := a.active[key]
	if !ok {
		return
	}
	a.resolveLocked(key, alert)
}

// Acknowledge marks an active alert acknowledged by id.
func (a *AlertManager) Acknowledge(alertID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, alert := range a.active {
		if alert.ID == alertID {
			alert.Acknowledged = true
			alert.UpdatedAt = a.now()
			return nil
		}
	}
	return fmt.Errorf("acknowledge: no active alert %s", alertID)
}

// Resolve resolves an active alert by id. Resolution is terminal: the
// alert moves to history and the (source, kind) slot frees up.
func (a *AlertManager) Resolve(alertID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, alert := range a.active {
		if alert.ID == alertID {
			a.resolveLocked(key, alert)
			return nil
		}
	}
	return fmt.Errorf("resolve: no active alert %s", alertID)
}

// Active returns the unresolved alerts, newest first.
func (a *AlertManager) Active() []models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Alert, 0, len(a.active))
	for _, alert := range a.active {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// History returns recently resolved alerts, oldest first.
func (a *AlertManager) History() []models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Alert, len(a.resolved))
	copy(out, a.resolved)
	return out
}

// resolveLocked moves an alert to history. Caller holds mu.
func (a *AlertManager) resolveLocked(key string, alert *models.Alert) {
	alert.Resolved = true
	alert.UpdatedAt = a.now()
	delete(a.active, key)

	a.resolved = append(a.resolved, *alert)
	if len(a.resolved) > resolvedHistoryCap {
		a.resolved = a.resolved[len(a.resolved)-resolvedHistoryCap:]
	}

	logging.Info().
		Str("source_id", alert.SourceID).
		Str("kind", string(alert.Kind)).
		Str("alert_id", alert.ID).
		Msg("Alert resolved")
}

// dispatch fans a new alert out to handlers, one goroutine each, containing
// panics so a bad handler cannot take down the health loop. Returns once
// every handler has finished, so callers observe handler effects.
func (a *AlertManager) dispatch(alert models.Alert) {
	a.handlerMu.RLock()
	handlers := make([]AlertHandler, len(a.handlers))
	copy(handlers, a.handlers)
	a.handlerMu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h AlertHandler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.Error().
						Interface("panic", r).
						Str("alert_id", alert.ID).
						Msg("Recovered from panic in alert handler")
				}
			}()
			h(alert)
		}(handler)
	}
	wg.Wait()
}

func alertKey(sourceID string, kind models.AlertKind) string {
	return sourceID + "|" + string(kind)
}
