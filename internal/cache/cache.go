// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package cache implements the two-tier record cache: a bounded in-memory
// tier with pluggable eviction and a durable disk tier with a file-per-key
// layout, composed by MultiTier with disk-to-memory promotion.
package cache

import (
	"crypto/sha256"
	"fmt"

	"github.com/goccy/go-json"
)

// Policy selects the memory tier's eviction policy. Fixed at construction.
type Policy int

const (
	PolicyLRU Policy = iota
	PolicyLFU
	PolicyTTL
	PolicyFIFO
)

// ParsePolicy converts a config string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "lru", "":
		return PolicyLRU, nil
	case "lfu":
		return PolicyLFU, nil
	case "ttl":
		return PolicyTTL, nil
	case "fifo":
		return PolicyFIFO, nil
	default:
		return 0, fmt.Errorf("unknown eviction policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	case PolicyTTL:
		return "ttl"
	case PolicyFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// Level identifies a cache tier for targeted writes.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

// ParseLevels converts config strings into Levels.
func ParseLevels(names []string) ([]Level, error) {
	out := make([]Level, 0, len(names))
	for _, n := range names {
		switch n {
		case "memory":
			out = append(out, LevelMemory)
		case "disk":
			out = append(out, LevelDisk)
		default:
			return nil, fmt.Errorf("unknown cache level %q", n)
		}
	}
	return out, nil
}

// Stats is a snapshot of one tier's counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
	Bytes     int64
}

// HitRate returns the tier's hit percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// hashKey derives the on-disk file stem for a cache key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)
}

// estimateSize approximates a value's byte footprint via its JSON encoding.
// Unencodable values get a small fixed charge so they still count against
// the byte bound.
func estimateSize(value interface{}) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return 64
	}
	return int64(len(data))
}
