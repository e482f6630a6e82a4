// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package models defines the shared data model for the acquisition pipeline:
// versioned data records, change events, conflicts, alerts, metric samples,
// and UI notifications. Types here are plain data carriers; behavior lives in
// the packages that own them.
package models

import "time"

// Payload is the shape of a fetched and mapped source payload.
type Payload map[string]interface{}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// DataRecord is an accepted, versioned snapshot of a source's data.
// Records are never mutated; a newer version supersedes an older one.
type DataRecord struct {
	SourceID  string            `json:"source_id"`
	Payload   Payload           `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Version   int64             `json:"version"`
	Checksum  string            `json:"checksum"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ChangeType classifies the result of comparing a payload against the
// previously committed state for a source.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is published to subscribers when a sync commits a change.
type ChangeEvent struct {
	SourceID      string      `json:"source_id"`
	Type          ChangeType  `json:"type"`
	ChangedFields []string    `json:"changed_fields,omitempty"`
	Record        *DataRecord `json:"record,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ConflictStrategy selects how a field-level conflict is reconciled.
type ConflictStrategy string

const (
	LatestWins     ConflictStrategy = "latest_wins"
	SourcePriority ConflictStrategy = "source_priority"
	MergeFields    ConflictStrategy = "merge_fields"
	CustomFunction ConflictStrategy = "custom_function"
	ManualReview   ConflictStrategy = "manual_review"
)

// Conflict records a disagreement between the locally committed value and a
// freshly fetched remote value for a single field.
type Conflict struct {
	SourceID        string           `json:"source_id"`
	Field           string           `json:"field"`
	LocalValue      interface{}      `json:"local_value"`
	RemoteValue     interface{}      `json:"remote_value"`
	LocalTimestamp  time.Time        `json:"local_timestamp"`
	RemoteTimestamp time.Time        `json:"remote_timestamp"`
	Strategy        ConflictStrategy `json:"strategy"`
	Resolved        bool             `json:"resolved"`
	ResolvedValue   interface{}      `json:"resolved_value,omitempty"`
}

// StreamStatus is the lifecycle state of a DataStream.
type StreamStatus string

const (
	StreamPending StreamStatus = "pending"
	StreamLoading StreamStatus = "loading"
	StreamSuccess StreamStatus = "success"
	StreamError   StreamStatus = "error"
	StreamStale   StreamStatus = "stale"
	StreamCached  StreamStatus = "cached"
)

// StreamState is a snapshot of a stream's current condition. It is owned and
// mutated solely by the stream that reports it.
type StreamState struct {
	SourceID          string       `json:"source_id"`
	Status            StreamStatus `json:"status"`
	ErrorCount        int          `json:"error_count"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
	LastError         string       `json:"last_error,omitempty"`
	LastPoll          time.Time    `json:"last_poll"`
	LastSuccess       time.Time    `json:"last_success"`
}

// AlertSeverity orders alerts from informational to critical.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// AlertKind names the condition that raised an alert. One unresolved alert
// per (source, kind) pair may be active at a time.
type AlertKind string

const (
	AlertConsecutiveFailures AlertKind = "consecutive_failures"
	AlertHighLatency         AlertKind = "high_latency"
	AlertLowUptime           AlertKind = "low_uptime"
)

// Alert is a raised monitoring condition. Resolve is terminal.
type Alert struct {
	ID           string        `json:"id"`
	SourceID     string        `json:"source_id"`
	Kind         AlertKind     `json:"kind"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Acknowledged bool          `json:"acknowledged"`
	Resolved     bool          `json:"resolved"`
}

// MetricKind labels a performance sample series.
type MetricKind string

const (
	MetricResponseTime MetricKind = "response_time"
	MetricSuccessRate  MetricKind = "success_rate"
	MetricErrorRate    MetricKind = "error_rate"
	MetricThroughput   MetricKind = "throughput"
	MetricAvailability MetricKind = "availability"
)

// MetricSample is one append-only observation for a source.
type MetricSample struct {
	Timestamp time.Time  `json:"timestamp"`
	Value     float64    `json:"value"`
	Kind      MetricKind `json:"kind"`
	SourceID  string     `json:"source_id"`
}

// NotificationType classifies UI-facing notifications.
type NotificationType string

const (
	NotifyDataUpdated  NotificationType = "data_updated"
	NotifySourceError  NotificationType = "source_error"
	NotifyHealthChange NotificationType = "health_change"
	NotifyAlert        NotificationType = "alert"
)

// NotificationPriority orders notifications for subscriber filtering.
type NotificationPriority int

const (
	PriorityLow NotificationPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Notification is the pub/sub payload handed to UI subscribers. Expired
// notifications are swept by the notification manager.
type Notification struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Type      NotificationType     `json:"type"`
	Priority  NotificationPriority `json:"priority"`
	SourceID  string               `json:"source_id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	ExpiresAt time.Time            `json:"expires_at"`
	Read      bool                 `json:"read"`
}

// Expired reports whether the notification's TTL has elapsed at t.
func (n *Notification) Expired(t time.Time) bool {
	return !n.ExpiresAt.IsZero() && t.After(n.ExpiresAt)
}
