// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/tomtom215/datapulse/internal/metrics"
)

// memEntry is one resident entry. The element field is its position in the
// order list (recency order under LRU, insertion order under FIFO).
type memEntry struct {
	key          string
	value        interface{}
	size         int64
	source       string
	createdAt    time.Time
	lastAccessed time.Time
	expiresAt    time.Time // zero = no expiry
	accessCount  int64
	element      *list.Element
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the bounded in-memory tier. It enforces both an entry
// count and a total byte footprint, evicting one victim at a time per the
// configured policy until both bounds hold. TTL expiry is lazy, applied on
// access.
type MemoryCache struct {
	mu sync.Mutex

	policy     Policy
	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration

	entries map[string]*memEntry
	// order front = most recently used (LRU) or newest insert (FIFO).
	order *list.List
	bytes int64

	hits      int64
	misses    int64
	evictions int64

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryCache creates a memory tier with the given bounds and policy.
func NewMemoryCache(maxEntries int, maxBytes int64, policy Policy, defaultTTL time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &MemoryCache{
		policy:     policy,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*memEntry),
		order:      list.New(),
		now:        time.Now,
	}
}

// Get retrieves a value, expiring it lazily if its TTL has elapsed.
// Hits touch last-accessed time and access count; under LRU the entry is
// also moved to the front of the recency order.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	now := c.now()
	if entry.expired(now) {
		c.removeEntry(entry)
		c.evictions++
		c.misses++
		metrics.CacheEvictions.WithLabelValues("memory", "ttl").Inc()
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false
	}

	entry.lastAccessed = now
	entry.accessCount++
	if c.policy == PolicyLRU {
		c.order.MoveToFront(entry.element)
	}

	c.hits++
	metrics.CacheHits.WithLabelValues("memory").Inc()
	return entry.value, true
}

// Set stores a value with the given TTL (0 = cache default, negative = no
// expiry) and evicts until both capacity bounds are satisfied.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if existing, exists := c.entries[key]; exists {
		c.removeEntry(existing)
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	entry := &memEntry{
		key:          key,
		value:        value,
		size:         estimateSize(value),
		source:       source,
		createdAt:    now,
		lastAccessed: now,
		expiresAt:    expiresAt,
	}
	entry.element = c.order.PushFront(entry)
	c.entries[key] = entry
	c.bytes += entry.size

	for len(c.entries) > c.maxEntries || c.bytes > c.maxBytes {
		if !c.evictOne() {
			break
		}
	}

	metrics.CacheBytes.WithLabelValues("memory").Set(float64(c.bytes))
}

// Delete removes a key. No-op if absent.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		c.removeEntry(entry)
		c.evictions++
		metrics.CacheEvictions.WithLabelValues("memory", "manual").Inc()
		metrics.CacheBytes.WithLabelValues("memory").Set(float64(c.bytes))
	}
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictions += int64(len(c.entries))
	c.entries = make(map[string]*memEntry)
	c.order.Init()
	c.bytes = 0
	metrics.CacheBytes.WithLabelValues("memory").Set(0)
}

// Len returns the current entry count.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the current byte footprint.
func (c *MemoryCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of the tier's counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
		Bytes:     c.bytes,
	}
}

// evictOne removes a single victim chosen by the configured policy.
// Returns false when the cache is empty. Caller holds mu.
//
// LRU and FIFO pop the back of the order list in O(1). LFU and TTL scan for
// the minimum access count / earliest expiry; at the configured capacities
// the scan cost is irrelevant next to the I/O this cache fronts.
func (c *MemoryCache) evictOne() bool {
	var victim *memEntry

	switch c.policy {
	case PolicyLRU, PolicyFIFO:
		back := c.order.Back()
		if back == nil {
			return false
		}
		victim = back.Value.(*memEntry)
	case PolicyLFU:
		for _, entry := range c.entries {
			if victim == nil || entry.accessCount < victim.accessCount {
				victim = entry
			}
		}
	case PolicyTTL:
		// Prefer the entry closest to expiry; entries without an expiry
		// are evicted last.
		for _, entry := range c.entries {
			if victim == nil {
				victim = entry
				continue
			}
			if ttlLess(entry, victim) {
				victim = entry
			}
		}
	}

	if victim == nil {
		return false
	}
	c.removeEntry(victim)
	c.evictions++
	metrics.CacheEvictions.WithLabelValues("memory", "capacity").Inc()
	return true
}

// ttlLess orders entries by expiry for TTL-priority eviction.
func ttlLess(a, b *memEntry) bool {
	switch {
	case a.expiresAt.IsZero():
		return false
	case b.expiresAt.IsZero():
		return true
	default:
		return a.expiresAt.Before(b.expiresAt)
	}
}

// removeEntry unlinks an entry from the map and order list. Caller holds mu.
func (c *MemoryCache) removeEntry(entry *memEntry) {
	c.order.Remove(entry.element)
	delete(c.entries, entry.key)
	c.bytes -= entry.size
}
