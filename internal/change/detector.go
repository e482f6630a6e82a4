// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package change detects differences between freshly fetched payloads and
// the last committed state of a source, and reconciles field-level conflicts
// per the source's configured strategy. Detection is a pure comparison; the
// caller commits the resulting checksum only after the record is accepted.
package change

import (
	"crypto/sha256"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/datapulse/internal/models"
)

// Detection is the outcome of comparing a remote payload against the
// previously committed record. Merged is the payload that should be
// committed: remote data with conflict resolutions applied.
//
// ChangedFields lists fields whose committed value differs from the
// previous record. DivergentFields lists fields where local and remote
// disagreed before resolution, whether or not resolution accepted the
// remote side.
type Detection struct {
	SourceID        string
	Type            models.ChangeType
	Unchanged       bool
	ChangedFields   []string
	DivergentFields []string
	Conflicts       []models.Conflict
	Merged          models.Payload
	Checksum        string
	Timestamp       time.Time
}

// Detector tracks the committed checksum per source. Detect never mutates
// this state; Commit records a checksum once the caller has accepted the
// merged payload.
type Detector struct {
	mu        sync.RWMutex
	checksums map[string]string
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{checksums: make(map[string]string)}
}

// Checksum returns the canonical hash of a payload: SHA-256 over its JSON
// encoding. Map keys marshal in sorted order, so equal payloads hash equal
// regardless of construction order.
func Checksum(p models.Payload) string {
	data, err := json.Marshal(p)
	if err != nil {
		// Payloads are JSON-decoded maps; an unencodable value here means a
		// programming error upstream. Hash the error text so the record
		// still gets a stable non-empty checksum.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Detect compares a remote payload against the previously committed record
// and resolves any field conflicts with the given resolver. previous == nil
// means the source has no committed state yet (an insert); remote == nil
// means the source reports its data gone (a delete).
//
// Detect is read-only: committing the result is the caller's decision via
// Commit.
func (d *Detector) Detect(sourceID string, previous *models.DataRecord, remote models.Payload, remoteTime time.Time, resolver *Resolver) Detection {
	det := Detection{
		SourceID:  sourceID,
		Timestamp: remoteTime,
	}

	if remote == nil {
		det.Type = models.ChangeDelete
		det.Unchanged = previous == nil
		return det
	}

	if previous == nil {
		det.Type = models.ChangeInsert
		det.Merged = remote.Clone()
		det.Checksum = Checksum(det.Merged)
		det.ChangedFields = sortedKeys(remote)
		det.DivergentFields = sortedKeys(remote)
		return det
	}

	det.Type = models.ChangeUpdate
	det.Merged = make(models.Payload, len(remote))

	local := previous.Payload
	for field, remoteValue := range remote {
		localValue, exists := local[field]
		if !exists {
			det.Merged[field] = remoteValue
			det.ChangedFields = append(det.ChangedFields, field)
			det.DivergentFields = append(det.DivergentFields, field)
			continue
		}
		if reflect.DeepEqual(localValue, remoteValue) {
			det.Merged[field] = localValue
			continue
		}

		conflict := models.Conflict{
			SourceID:        sourceID,
			Field:           field,
			LocalValue:      localValue,
			RemoteValue:     remoteValue,
			LocalTimestamp:  previous.Timestamp,
			RemoteTimestamp: remoteTime,
		}
		resolver.Resolve(&conflict)
		det.Conflicts = append(det.Conflicts, conflict)
		det.DivergentFields = append(det.DivergentFields, field)

		if conflict.Resolved {
			det.Merged[field] = conflict.ResolvedValue
		} else {
			det.Merged[field] = localValue
		}
		if !reflect.DeepEqual(det.Merged[field], localValue) {
			det.ChangedFields = append(det.ChangedFields, field)
		}
	}

	// Fields the remote stopped reporting. Merge-fields keeps them; every
	// other strategy lets the remote shape win.
	for field, localValue := range local {
		if _, exists := remote[field]; exists {
			continue
		}
		det.DivergentFields = append(det.DivergentFields, field)
		if resolver.Strategy() == models.MergeFields {
			det.Merged[field] = localValue
		} else {
			det.ChangedFields = append(det.ChangedFields, field)
		}
	}

	sort.Strings(det.ChangedFields)
	sort.Strings(det.DivergentFields)
	det.Checksum = Checksum(det.Merged)
	det.Unchanged = len(det.ChangedFields) == 0 && det.Checksum == previous.Checksum
	return det
}

// Commit records the committed checksum for a source.
func (d *Detector) Commit(sourceID, checksum string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checksums[sourceID] = checksum
}

// MarkDeleted forgets a source's committed checksum so the next payload
// detects as an insert.
func (d *Detector) MarkDeleted(sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.checksums, sourceID)
}

// LastChecksum returns the committed checksum for a source, if any.
func (d *Detector) LastChecksum(sourceID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sum, ok := d.checksums[sourceID]
	return sum, ok
}

func sortedKeys(p models.Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
