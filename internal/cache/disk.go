// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package cache

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/metrics"
)

// indexFile is the side-car metadata file kept alongside the entry files.
const indexFile = "index.json"

// diskEntry is the index record for one cached file. Values are stored as
// JSON (optionally gzipped), keeping the on-disk format language-neutral.
type diskEntry struct {
	Key          string    `json:"key"`
	File         string    `json:"file"`
	Size         int64     `json:"size"`
	Source       string    `json:"source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"` // zero = no expiry
	Compressed   bool      `json:"compressed"`
}

// Info is the entry metadata surfaced to callers (tier promotion needs the
// remaining TTL).
type Info struct {
	Size       int64
	Source     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Compressed bool
}

// DiskCache is the durable tier: one file per key (named by a hash of the
// key) plus a JSON index of metadata. The byte budget is enforced by
// evicting oldest-created entries first, independent of the memory tier's
// policy — disk entries carry no cheap access ordering, and touching the
// index on every read would force a write per get.
//
// The directory must not be shared by more than one process.
type DiskCache struct {
	mu sync.Mutex

	dir      string
	maxBytes int64
	compress bool

	index map[string]*diskEntry
	bytes int64

	hits      int64
	misses    int64
	evictions int64

	// now is swappable for tests.
	now func() time.Time
}

// OpenDiskCache opens (or creates) a disk cache rooted at dir. The index is
// reconciled against the directory contents: index entries whose file is
// missing are dropped, and entry files absent from the index are deleted.
func OpenDiskCache(dir string, maxBytes int64, compress bool) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}

	c := &DiskCache{
		dir:      dir,
		maxBytes: maxBytes,
		compress: compress,
		index:    make(map[string]*diskEntry),
		now:      time.Now,
	}

	if err := c.loadIndex(); err != nil {
		// A corrupt index is recoverable: start empty and let reconcile
		// sweep the orphaned files.
		logging.Warn().Err(err).Str("dir", dir).Msg("Disk cache index unreadable, rebuilding")
		c.index = make(map[string]*diskEntry)
	}
	if err := c.reconcile(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get retrieves a value. Expired or unreadable entries are treated as a
// miss and purged from the index.
func (c *DiskCache) Get(key string) (interface{}, bool) {
	value, _, ok := c.Lookup(key)
	return value, ok
}

// Lookup is Get plus entry metadata.
func (c *DiskCache) Lookup(key string) (interface{}, Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.index[key]
	if !exists {
		c.misses++
		metrics.CacheMisses.WithLabelValues("disk").Inc()
		return nil, Info{}, false
	}

	now := c.now()
	if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
		c.purgeLocked(entry, "ttl")
		c.misses++
		metrics.CacheMisses.WithLabelValues("disk").Inc()
		return nil, Info{}, false
	}

	value, err := c.readEntry(entry)
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Corrupt disk cache entry, purging")
		c.purgeLocked(entry, "manual")
		c.misses++
		metrics.CacheMisses.WithLabelValues("disk").Inc()
		return nil, Info{}, false
	}

	// Access metadata is updated in memory and persisted with the next
	// index write, not per read.
	entry.LastAccessed = now
	entry.AccessCount++

	c.hits++
	metrics.CacheHits.WithLabelValues("disk").Inc()
	return value, Info{
		Size:       entry.Size,
		Source:     entry.Source,
		CreatedAt:  entry.CreatedAt,
		ExpiresAt:  entry.ExpiresAt,
		Compressed: entry.Compressed,
	}, true
}

// Set writes a value durably (temp file + rename), evicting oldest-created
// entries until the byte budget holds, then persists the index.
func (c *DiskCache) Set(key string, value interface{}, ttl time.Duration, source string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	compressed := c.compress
	if compressed {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("compress cache value: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compress cache value: %w", err)
		}
		data = buf.Bytes()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	name := hashKey(key) + ".cache"
	if err := c.writeFile(name, data); err != nil {
		return err
	}

	if old, exists := c.index[key]; exists {
		c.bytes -= old.Size
	}

	entry := &diskEntry{
		Key:          key,
		File:         name,
		Size:         int64(len(data)),
		Source:       source,
		CreatedAt:    now,
		LastAccessed: now,
		Compressed:   compressed,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	c.index[key] = entry
	c.bytes += entry.Size

	c.evictToBudgetLocked()
	metrics.CacheBytes.WithLabelValues("disk").Set(float64(c.bytes))
	return c.saveIndexLocked()
}

// Delete removes a key and its file. No-op if absent.
func (c *DiskCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.index[key]
	if !exists {
		return nil
	}
	c.purgeLocked(entry, "manual")
	metrics.CacheBytes.WithLabelValues("disk").Set(float64(c.bytes))
	return c.saveIndexLocked()
}

// Clear removes every entry and file.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.index {
		_ = os.Remove(filepath.Join(c.dir, entry.File))
		c.evictions++
	}
	c.index = make(map[string]*diskEntry)
	c.bytes = 0
	metrics.CacheBytes.WithLabelValues("disk").Set(0)
	return c.saveIndexLocked()
}

// Len returns the current entry count.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Bytes returns the current byte footprint.
func (c *DiskCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of the tier's counters.
func (c *DiskCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.index),
		Bytes:     c.bytes,
	}
}

// Close persists the index (access metadata accumulated since the last
// write) and releases nothing else; entry files are already durable.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveIndexLocked()
}

// readEntry loads and decodes one entry file. Caller holds mu.
func (c *DiskCache) readEntry(entry *diskEntry) (interface{}, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, entry.File))
	if err != nil {
		return nil, fmt.Errorf("read entry file: %w", err)
	}

	if entry.Compressed {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip entry: %w", err)
		}
		defer gz.Close()
		if data, err = io.ReadAll(gz); err != nil {
			return nil, fmt.Errorf("decompress entry: %w", err)
		}
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return value, nil
}

// writeFile writes data atomically via temp file + rename. Caller holds mu.
func (c *DiskCache) writeFile(name string, data []byte) error {
	tmp := filepath.Join(c.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// purgeLocked drops an entry from the index and removes its file.
func (c *DiskCache) purgeLocked(entry *diskEntry, reason string) {
	_ = os.Remove(filepath.Join(c.dir, entry.File))
	delete(c.index, entry.Key)
	c.bytes -= entry.Size
	c.evictions++
	metrics.CacheEvictions.WithLabelValues("disk", reason).Inc()
}

// evictToBudgetLocked removes oldest-created entries until the byte budget
// holds.
func (c *DiskCache) evictToBudgetLocked() {
	for c.bytes > c.maxBytes && len(c.index) > 0 {
		var oldest *diskEntry
		for _, entry := range c.index {
			if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
				oldest = entry
			}
		}
		c.purgeLocked(oldest, "capacity")
	}
}

// loadIndex reads the side-car index if present.
func (c *DiskCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	if err := json.Unmarshal(data, &c.index); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	return nil
}

// saveIndexLocked persists the index atomically.
func (c *DiskCache) saveIndexLocked() error {
	data, err := json.Marshal(c.index)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return c.writeFile(indexFile, data)
}

// reconcile repairs drift between the index and the directory: index
// entries without a backing file are dropped, unindexed entry files are
// deleted, and the byte footprint is recomputed. Runs before the cache is
// published, so no lock is taken.
func (c *DiskCache) reconcile() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", err)
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		if f.IsDir() || f.Name() == indexFile {
			continue
		}
		present[f.Name()] = true
	}

	indexed := make(map[string]bool, len(c.index))
	c.bytes = 0
	for key, entry := range c.index {
		if !present[entry.File] {
			logging.Warn().Str("key", key).Msg("Disk cache index entry missing its file, dropping")
			delete(c.index, key)
			continue
		}
		indexed[entry.File] = true
		c.bytes += entry.Size
	}

	for name := range present {
		if !indexed[name] {
			logging.Warn().Str("file", name).Msg("Unindexed disk cache file, deleting")
			_ = os.Remove(filepath.Join(c.dir, name))
		}
	}

	metrics.CacheBytes.WithLabelValues("disk").Set(float64(c.bytes))
	return c.saveIndexLocked()
}
