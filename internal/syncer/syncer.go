// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package syncer commits fetched payloads into versioned per-source records.
// One sync per source runs at a time; an overlapping request is rejected,
// not queued. Committed records are written through to the cache and
// reported as change events.
package syncer

import (
	"sync"
	"time"

	"github.com/tomtom215/datapulse/internal/cache"
	"github.com/tomtom215/datapulse/internal/change"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
	"github.com/tomtom215/datapulse/internal/models"
)

// recordKeyPrefix namespaces committed records in the shared cache.
const recordKeyPrefix = "record:"

// RecordKey returns the cache key for a source's committed record.
func RecordKey(sourceID string) string {
	return recordKeyPrefix + sourceID
}

// Options control a single sync operation.
type Options struct {
	// Force bypasses change detection and conflict resolution: the remote
	// payload is committed verbatim.
	Force bool
	// CacheTTL and CacheLevels control the write-through to the cache.
	CacheTTL    time.Duration
	CacheLevels []cache.Level
}

// Result is the outcome of one sync operation.
type Result struct {
	Success  bool
	Rejected bool
	Changed  bool
	Version  int64
	Record   *models.DataRecord
	Event    *models.ChangeEvent
	// Conflicts resolved (or left for review) during this sync.
	Conflicts []models.Conflict
}

// syncState is the per-source commit state. The version counter increases
// strictly with every commit, including deletes.
type syncState struct {
	mu         sync.Mutex
	inProgress bool
	version    int64
	last       *models.DataRecord
	lastSync   time.Time
	// pending holds unresolved manual-review conflicts awaiting an operator.
	pending []models.Conflict
}

// Syncer owns the authoritative committed record per source. The cache is a
// write-through sink, not the source of truth: restarts lose in-memory
// state by design and the next poll re-inserts.
type Syncer struct {
	mu     sync.RWMutex
	states map[string]*syncState

	cache    *cache.MultiTier
	detector *change.Detector
}

// New creates a Syncer writing through to the given cache.
func New(store *cache.MultiTier, detector *change.Detector) *Syncer {
	return &Syncer{
		states:   make(map[string]*syncState),
		cache:    store,
		detector: detector,
	}
}

// Sync commits a fetched payload for a source. A nil payload records the
// source's data as deleted. If a sync for the source is already in
// progress, the request is rejected.
func (s *Syncer) Sync(sourceID string, payload models.Payload, fetchedAt time.Time, resolver *change.Resolver, opts Options) Result {
	state := s.state(sourceID)

	state.mu.Lock()
	if state.inProgress {
		state.mu.Unlock()
		metrics.SyncRejected.WithLabelValues(sourceID).Inc()
		logging.Warn().Str("source_id", sourceID).Msg("Sync rejected, another sync in progress")
		return Result{Rejected: true}
	}
	state.inProgress = true
	previous := state.last
	state.mu.Unlock()

	// Deferred so no failure path can leave the source wedged in-progress.
	defer func() {
		state.mu.Lock()
		state.inProgress = false
		state.lastSync = fetchedAt
		state.mu.Unlock()
	}()

	return s.run(sourceID, state, previous, payload, fetchedAt, resolver, opts)
}

func (s *Syncer) run(sourceID string, state *syncState, previous *models.DataRecord, payload models.Payload, fetchedAt time.Time, resolver *change.Resolver, opts Options) Result {
	if payload == nil {
		return s.commitDelete(sourceID, state, previous, fetchedAt)
	}
	if opts.Force {
		return s.commitForced(sourceID, state, previous, payload, fetchedAt, opts)
	}

	detection := s.detector.Detect(sourceID, previous, payload, fetchedAt, resolver)
	for i := range detection.Conflicts {
		metrics.SyncConflicts.WithLabelValues(sourceID, string(detection.Conflicts[i].Strategy)).Inc()
	}

	if unresolved := unresolvedConflicts(detection.Conflicts); len(unresolved) > 0 {
		state.mu.Lock()
		state.pending = append(state.pending, unresolved...)
		state.mu.Unlock()
		logging.Info().
			Str("source_id", sourceID).
			Int("count", len(unresolved)).
			Msg("Conflicts held for manual review")
	}

	if detection.Unchanged {
		return Result{
			Success:   true,
			Version:   s.Version(sourceID),
			Record:    previous,
			Conflicts: detection.Conflicts,
		}
	}

	record := &models.DataRecord{
		SourceID:  sourceID,
		Payload:   detection.Merged,
		Timestamp: fetchedAt,
		Checksum:  detection.Checksum,
	}
	event := &models.ChangeEvent{
		SourceID:      sourceID,
		Type:          detection.Type,
		ChangedFields: detection.ChangedFields,
		Record:        record,
		Timestamp:     fetchedAt,
	}

	s.commit(sourceID, state, record, opts)
	return Result{
		Success:   true,
		Changed:   true,
		Version:   record.Version,
		Record:    record,
		Event:     event,
		Conflicts: detection.Conflicts,
	}
}

// commitForced commits the remote payload verbatim.
func (s *Syncer) commitForced(sourceID string, state *syncState, previous *models.DataRecord, payload models.Payload, fetchedAt time.Time, opts Options) Result {
	merged := payload.Clone()
	record := &models.DataRecord{
		SourceID:  sourceID,
		Payload:   merged,
		Timestamp: fetchedAt,
		Checksum:  change.Checksum(merged),
		Metadata:  map[string]string{"forced": "true"},
	}

	changeType := models.ChangeUpdate
	if previous == nil {
		changeType = models.ChangeInsert
	}
	event := &models.ChangeEvent{
		SourceID:  sourceID,
		Type:      changeType,
		Record:    record,
		Timestamp: fetchedAt,
	}

	s.commit(sourceID, state, record, opts)
	return Result{
		Success: true,
		Changed: true,
		Version: record.Version,
		Record:  record,
		Event:   event,
	}
}

// commitDelete clears the committed state for a source.
func (s *Syncer) commitDelete(sourceID string, state *syncState, previous *models.DataRecord, fetchedAt time.Time) Result {
	if previous == nil {
		return Result{Success: true, Version: s.Version(sourceID)}
	}

	if err := s.cache.Delete(RecordKey(sourceID)); err != nil {
		logging.Error().Err(err).Str("source_id", sourceID).Msg("Failed to delete cached record")
	}
	s.detector.MarkDeleted(sourceID)

	state.mu.Lock()
	state.version++
	version := state.version
	state.last = nil
	state.mu.Unlock()

	metrics.SyncCommits.WithLabelValues(sourceID).Inc()
	return Result{
		Success: true,
		Changed: true,
		Version: version,
		Event: &models.ChangeEvent{
			SourceID:  sourceID,
			Type:      models.ChangeDelete,
			Timestamp: fetchedAt,
		},
	}
}

// commit assigns the next version, writes through to the cache, and records
// the checksum.
func (s *Syncer) commit(sourceID string, state *syncState, record *models.DataRecord, opts Options) {
	state.mu.Lock()
	state.version++
	record.Version = state.version
	state.last = record
	state.mu.Unlock()

	if err := s.cache.Set(RecordKey(sourceID), record, cache.SetOptions{
		TTL:    opts.CacheTTL,
		Levels: opts.CacheLevels,
		Source: sourceID,
	}); err != nil {
		// The in-memory commit already happened; a cache write failure
		// costs durability, not correctness.
		logging.Error().Err(err).Str("source_id", sourceID).Msg("Failed to write record through to cache")
	}

	s.detector.Commit(sourceID, record.Checksum)
	metrics.SyncCommits.WithLabelValues(sourceID).Inc()
}

// LastRecord returns the committed record for a source.
func (s *Syncer) LastRecord(sourceID string) (*models.DataRecord, bool) {
	state := s.state(sourceID)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.last == nil {
		return nil, false
	}
	return state.last, true
}

// Version returns the current version counter for a source.
func (s *Syncer) Version(sourceID string) int64 {
	state := s.state(sourceID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.version
}

// PendingConflicts returns the unresolved manual-review conflicts for a
// source.
func (s *Syncer) PendingConflicts(sourceID string) []models.Conflict {
	state := s.state(sourceID)
	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]models.Conflict, len(state.pending))
	copy(out, state.pending)
	return out
}

// ClearPendingConflicts discards a source's held conflicts after operator
// review.
func (s *Syncer) ClearPendingConflicts(sourceID string) {
	state := s.state(sourceID)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.pending = nil
}

// LastSync returns the time of the most recent sync attempt for a source.
func (s *Syncer) LastSync(sourceID string) time.Time {
	state := s.state(sourceID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.lastSync
}

// state returns (creating if needed) the per-source state.
func (s *Syncer) state(sourceID string) *syncState {
	s.mu.RLock()
	state, ok := s.states[sourceID]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.states[sourceID]; ok {
		return state
	}
	state = &syncState{}
	s.states[sourceID] = state
	return state
}

func unresolvedConflicts(conflicts []models.Conflict) []models.Conflict {
	var out []models.Conflict
	for i := range conflicts {
		if !conflicts[i].Resolved {
			out = append(out, conflicts[i])
		}
	}
	return out
}
