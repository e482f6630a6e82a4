// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package cache

import (
	"fmt"
	"time"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
)

// SetOptions controls where and for how long a value is cached.
type SetOptions struct {
	// TTL of 0 means each tier's default; negative means no expiry.
	TTL time.Duration
	// Levels restricts the write to specific tiers. Empty means all
	// configured tiers.
	Levels []Level
	// Source tags the entry with the source it came from.
	Source string
}

// MultiTier composes the memory and disk tiers. Reads check memory first
// and fall through to disk; a disk hit is promoted into memory with its
// remaining TTL so repeated reads stay cheap. The disk tier is optional.
type MultiTier struct {
	memory *MemoryCache
	disk   *DiskCache

	// now is swappable for tests.
	now func() time.Time
}

// NewMultiTier builds the composite from already-constructed tiers. disk
// may be nil.
func NewMultiTier(memory *MemoryCache, disk *DiskCache) *MultiTier {
	return &MultiTier{memory: memory, disk: disk, now: time.Now}
}

// FromConfig constructs both tiers from the cache configuration.
func FromConfig(cfg config.CacheConfig) (*MultiTier, error) {
	policy, err := ParsePolicy(cfg.Memory.Policy)
	if err != nil {
		return nil, fmt.Errorf("cache config: %w", err)
	}
	memory := NewMemoryCache(cfg.Memory.MaxEntries, cfg.Memory.MaxBytes, policy, cfg.Memory.DefaultTTL)

	var disk *DiskCache
	if cfg.Disk.Enabled {
		disk, err = OpenDiskCache(cfg.Disk.Dir, cfg.Disk.MaxBytes, cfg.Disk.Compress)
		if err != nil {
			return nil, fmt.Errorf("cache config: %w", err)
		}
	}
	return NewMultiTier(memory, disk), nil
}

// Get checks memory, then disk. A disk hit is promoted into memory with
// whatever TTL the entry has left.
func (m *MultiTier) Get(key string) (interface{}, bool) {
	if value, ok := m.memory.Get(key); ok {
		return value, true
	}
	if m.disk == nil {
		return nil, false
	}

	value, info, ok := m.disk.Lookup(key)
	if !ok {
		return nil, false
	}

	ttl := time.Duration(-1) // no expiry on disk, none in memory either
	if !info.ExpiresAt.IsZero() {
		ttl = info.ExpiresAt.Sub(m.now())
		if ttl <= 0 {
			return nil, false
		}
	}
	m.memory.Set(key, value, ttl, info.Source)
	metrics.CachePromotions.Inc()
	return value, true
}

// Set writes a value to the tiers selected by opts.
func (m *MultiTier) Set(key string, value interface{}, opts SetOptions) error {
	levels := opts.Levels
	if len(levels) == 0 {
		levels = []Level{LevelMemory, LevelDisk}
	}

	for _, level := range levels {
		switch level {
		case LevelMemory:
			m.memory.Set(key, value, opts.TTL, opts.Source)
		case LevelDisk:
			if m.disk == nil {
				continue
			}
			if err := m.disk.Set(key, value, opts.TTL, opts.Source); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes a key from every tier.
func (m *MultiTier) Delete(key string) error {
	m.memory.Delete(key)
	if m.disk != nil {
		return m.disk.Delete(key)
	}
	return nil
}

// Clear empties every tier.
func (m *MultiTier) Clear() error {
	m.memory.Clear()
	if m.disk != nil {
		return m.disk.Clear()
	}
	return nil
}

// Stats returns per-tier counter snapshots keyed by tier name.
func (m *MultiTier) Stats() map[string]Stats {
	out := map[string]Stats{"memory": m.memory.Stats()}
	if m.disk != nil {
		out["disk"] = m.disk.Stats()
	}
	return out
}

// Footprint returns the combined byte usage across tiers.
func (m *MultiTier) Footprint() int64 {
	total := m.memory.Bytes()
	if m.disk != nil {
		total += m.disk.Bytes()
	}
	return total
}

// Close flushes the disk tier's index.
func (m *MultiTier) Close() error {
	if m.disk == nil {
		return nil
	}
	if err := m.disk.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to flush disk cache index")
		return err
	}
	return nil
}
