// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package notify stores and fans out UI-facing notifications: bounded
// retention with oldest-first eviction, TTL sweeping, per-source
// debouncing of data-updated noise, and filtered subscriptions.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
	"github.com/tomtom215/datapulse/internal/models"
)

// subscriberBuffer is the channel depth per subscriber.
const subscriberBuffer = 32

// Filter selects which notifications a subscriber receives. Zero-valued
// fields match everything.
type Filter struct {
	Types       []models.NotificationType
	Sources     []string
	MinPriority models.NotificationPriority
}

func (f Filter) matches(n *models.Notification) bool {
	if n.Priority < f.MinPriority {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, n.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, n.SourceID) {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan models.Notification
	filter Filter
}

// Manager stores notifications and delivers them to subscribers. It
// implements suture.Service; Serve runs the TTL sweep loop.
type Manager struct {
	mu sync.Mutex
	// notifications ordered oldest first; eviction pops the front.
	notifications []*models.Notification
	// lastDataUpdate tracks the most recent data-updated publish per
	// source for debouncing.
	lastDataUpdate map[string]time.Time

	subMu   sync.RWMutex
	subs    map[int]*subscriber
	nextSub int

	maxStored  int
	defaultTTL time.Duration
	debounce   time.Duration
	sweepEvery time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewManager builds a notification manager from configuration.
func NewManager(cfg config.NotifyConfig) *Manager {
	maxStored := cfg.MaxStored
	if maxStored <= 0 {
		maxStored = 1000
	}
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	sweepEvery := cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = 30 * time.Second
	}

	return &Manager{
		lastDataUpdate: make(map[string]time.Time),
		subs:           make(map[int]*subscriber),
		maxStored:      maxStored,
		defaultTTL:     defaultTTL,
		debounce:       cfg.DebounceWindow,
		sweepEvery:     sweepEvery,
		now:            time.Now,
	}
}

// Publish stores a notification and delivers it to matching subscribers.
// Data-updated notifications for a source inside the debounce window are
// suppressed. Returns the stored notification, or nil when debounced.
func (m *Manager) Publish(n models.Notification) *models.Notification {
	m.mu.Lock()
	now := m.now()

	if n.Type == models.NotifyDataUpdated && m.debounce > 0 {
		if last, ok := m.lastDataUpdate[n.SourceID]; ok && now.Sub(last) < m.debounce {
			m.mu.Unlock()
			metrics.NotificationsDebounced.Inc()
			return nil
		}
		m.lastDataUpdate[n.SourceID] = now
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = now.Add(m.defaultTTL)
	}

	stored := n
	m.notifications = append(m.notifications, &stored)
	for len(m.notifications) > m.maxStored {
		m.notifications = m.notifications[1:]
	}
	snapshot := stored
	m.mu.Unlock()

	metrics.NotificationsPublished.WithLabelValues(string(n.Type)).Inc()
	m.deliver(&snapshot)
	return &snapshot
}

// Serve runs the TTL sweep loop until the context is canceled.
// Implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if dropped := m.Sweep(); dropped > 0 {
				logging.Debug().Int("dropped", dropped).Msg("Swept expired notifications")
			}
		}
	}
}

// Subscribe registers a filtered subscriber and returns its channel and a
// cancel function. Slow subscribers drop notifications once their buffer
// fills.
func (m *Manager) Subscribe(filter Filter) (<-chan models.Notification, func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	sub := &subscriber{
		ch:     make(chan models.Notification, subscriberBuffer),
		filter: filter,
	}
	m.subs[id] = sub
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing.ch)
		}
	}
	return sub.ch, cancel
}

// All returns the stored, unexpired notifications, newest first.
func (m *Manager) All() []models.Notification {
	return m.list(func(*models.Notification) bool { return true })
}

// Unread returns the stored, unexpired, unread notifications, newest
// first.
func (m *Manager) Unread() []models.Notification {
	return m.list(func(n *models.Notification) bool { return !n.Read })
}

// MarkRead flags a notification read by id.
func (m *Manager) MarkRead(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id {
			n.Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flags every stored notification read.
func (m *Manager) MarkAllRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		n.Read = true
	}
}

// Len returns the stored notification count, expired included until the
// next sweep.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

// Sweep drops expired notifications immediately.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.notifications[:0]
	dropped := 0
	for _, n := range m.notifications {
		if n.Expired(now) {
			dropped++
			continue
		}
		kept = append(kept, n)
	}
	m.notifications = kept
	return dropped
}

// list returns matching unexpired notifications, newest first.
func (m *Manager) list(keep func(*models.Notification) bool) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if n.Expired(now) || !keep(n) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// deliver fans a notification out to matching subscribers without
// blocking.
func (m *Manager) deliver(n *models.Notification) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for id, sub := range m.subs {
		if !sub.filter.matches(n) {
			continue
		}
		select {
		case sub.ch <- *n:
		default:
			logging.Warn().
				Int("subscriber", id).
				Str("notification_id", n.ID).
				Msg("Subscriber buffer full, dropping notification")
		}
	}
}

func containsType(types []models.NotificationType, t models.NotificationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
