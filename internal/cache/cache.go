// Package cache implements one named, thread-safe, TTL-bounded, evictable
// cache: storage, eviction-to-fit, and per-cache statistics.
//
// Design Notes (following the teacher's cache-manager/cache.go):
//   - A single sync.RWMutex guards the entry map. Keys, KeysMatching, Stats
//     and Config take the read lock; Get looks up under the read lock and
//     then takes the write lock to update counters and access metadata (or
//     purge an expired entry); every mutation takes the write lock.
//   - Global lock on write is acceptable at the scale this spec targets;
//     sharding is future work, not attempted here.
//   - Eviction victim selection is delegated to internal/evict so the same
//     Cache type serves all three configured policies.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/distcache/distcache/internal/cachetypes"
	"github.com/distcache/distcache/internal/cerrors"
	"github.com/distcache/distcache/internal/evict"
	"github.com/distcache/distcache/internal/keymatch"
)

// Cache is one named bucket: a key->Entry map, its configuration, and its
// counters. Created when first configured, destroyed only at node shutdown.
type Cache struct {
	name string

	mu      sync.RWMutex
	config  cachetypes.Configuration
	policy  evict.Policy
	entries map[string]cachetypes.Entry

	hits, misses, evictions int64
	evictionsByReason        map[cachetypes.EvictionReason]int64
	estimatedMemory          int64
	lastUpdated              time.Time
}

// New creates a Cache with the given name and configuration.
func New(name string, config cachetypes.Configuration) *Cache {
	return &Cache{
		name:              name,
		config:            config,
		policy:            evict.New(config.Eviction),
		entries:           make(map[string]cachetypes.Entry),
		evictionsByReason: make(map[cachetypes.EvictionReason]int64),
		lastUpdated:       time.Now(),
	}
}

// Name returns the cache's configured name.
func (c *Cache) Name() string { return c.name }

// Reconfigure replaces the cache's policy in place. Existing entries are
// retained unless the new limits force eviction on the next Put.
func (c *Cache) Reconfigure(config cachetypes.Configuration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
	c.policy = evict.New(config.Eviction)
}

// Config returns the cache's current configuration.
func (c *Cache) Config() cachetypes.Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Get looks up key. If present and not expired, it updates access metadata,
// counts a hit, and returns the entry. If present but expired, it removes
// the entry, counts an eviction(ttl) and a miss. If absent, it counts a
// miss.
func (c *Cache) Get(key string) (cachetypes.Entry, bool) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return cachetypes.Entry{}, false
	}

	if entry.Expired(now) {
		c.mu.Lock()
		// Re-check under write lock: another goroutine may have refreshed
		// or removed the key between the read above and here.
		if cur, stillThere := c.entries[key]; stillThere && cur.Expired(now) {
			c.removeLocked(key, cachetypes.EvictionTTL)
		}
		c.misses++
		c.mu.Unlock()
		return cachetypes.Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-fetch under the write lock: a concurrent Put/Invalidate may have
	// landed in the gap since the read above. Only bump access metadata on
	// the entry that's actually still there; never write the stale local
	// copy back, or we'd clobber a newer value or resurrect a deleted key.
	cur, stillThere := c.entries[key]
	if !stillThere {
		c.misses++
		return cachetypes.Entry{}, false
	}
	if cur.Expired(now) {
		c.removeLocked(key, cachetypes.EvictionTTL)
		c.misses++
		return cachetypes.Entry{}, false
	}

	cur.LastAccessedAt = now
	cur.AccessCount++
	c.entries[key] = cur
	c.hits++

	return cur, true
}

// Put inserts or overwrites key with value, TTL-bounding it from now, then
// runs eviction-to-fit. originNodeID/version are carried for replication
// conflict ordering (see cluster coordinator).
func (c *Cache) Put(key string, value []byte, ttl time.Duration, originNodeID string, version uint64) error {
	entry := cachetypes.NewEntry(value, ttl, originNodeID, version)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, existed := c.entries[key]; existed {
		c.estimatedMemory -= old.EstimatedSize(key)
	}
	c.entries[key] = entry
	c.estimatedMemory += entry.EstimatedSize(key)
	c.lastUpdated = time.Now()

	return c.evictToFitLocked(key)
}

// PutIfNewer applies an incoming replication write only if version is
// strictly greater than the currently stored entry's version (or the key is
// absent). It reports whether the write was applied, so a stale or
// out-of-order replication message is silently dropped rather than
// clobbering a newer local value.
func (c *Cache) PutIfNewer(key string, value []byte, ttl time.Duration, originNodeID string, version uint64) (bool, error) {
	c.mu.Lock()
	if existing, ok := c.entries[key]; ok && existing.Version >= version {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	return true, c.Put(key, value, ttl, originNodeID, version)
}

// Invalidate removes key if present, counting an explicit eviction.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key, cachetypes.EvictionExplicit)
	}
}

// InvalidateAll clears every entry atomically with respect to other
// operations, counting one explicit eviction per removed entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cachetypes.Entry)
	c.estimatedMemory = 0
	c.evictions += int64(n)
	c.evictionsByReason[cachetypes.EvictionExplicit] += int64(n)
	c.lastUpdated = time.Now()
}

// InvalidateByPrefix removes every key starting with prefix, counting one
// explicit eviction per removed entry.
func (c *Cache) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		c.removeLocked(key, cachetypes.EvictionExplicit)
	}
	return len(toRemove)
}

// InvalidateByPattern removes every key matching the glob pattern (see
// internal/keymatch), counting one explicit eviction per removed entry.
func (c *Cache) InvalidateByPattern(pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for key := range c.entries {
		match, err := keymatch.Match(pattern, key)
		if err != nil {
			return 0, err
		}
		if match {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		c.removeLocked(key, cachetypes.EvictionExplicit)
	}
	return len(toRemove), nil
}

// KeysMatching returns a snapshot of keys matching the glob pattern.
func (c *Cache) KeysMatching(pattern string) ([]string, error) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	return keymatch.Filter(pattern, keys)
}

// Keys returns a snapshot of keys matching prefix (or all keys, if prefix is
// nil). Order is unspecified.
func (c *Cache) Keys(prefix *string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		if prefix == nil || strings.HasPrefix(key, *prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns a point-in-time snapshot of the cache's counters.
func (c *Cache) Stats() cachetypes.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byReason := make(map[cachetypes.EvictionReason]int64, len(c.evictionsByReason))
	for k, v := range c.evictionsByReason {
		byReason[k] = v
	}

	return cachetypes.Stats{
		Hits:                 c.hits,
		Misses:               c.misses,
		Evictions:            c.evictions,
		EvictionsByReason:    byReason,
		Size:                 len(c.entries),
		EstimatedMemoryBytes: c.estimatedMemory,
		LastUpdated:          c.lastUpdated,
	}
}

// removeLocked deletes key and updates counters. Caller must hold c.mu.
func (c *Cache) removeLocked(key string, reason cachetypes.EvictionReason) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.estimatedMemory -= entry.EstimatedSize(key)
	c.evictions++
	c.evictionsByReason[reason]++
	c.lastUpdated = time.Now()
}

// evictToFitLocked runs after every Put: while size or memory exceed their
// configured bound, it removes one victim per the configured policy. Caller
// must hold c.mu.
func (c *Cache) evictToFitLocked(justInsertedKey string) error {
	for c.overCapacityLocked() {
		if len(c.entries) <= 1 {
			// Can't evict our way out of a single-entry overflow: either
			// maxEntries < 1 or the entry alone exceeds memoryCapBytes.
			if len(c.entries) == 1 {
				if _, onlyEntryIsNew := c.entries[justInsertedKey]; onlyEntryIsNew {
					// Reject the put outright: remove the entry we just
					// inserted rather than leaving it stored (and counted)
					// while reporting backpressure to the caller.
					c.removeLocked(justInsertedKey, cachetypes.EvictionCapacity)
					return cerrors.NewBackpressureError(c.name, justInsertedKey, "capacity too small to hold a single entry")
				}
			}
			return nil
		}
		if !c.policy.CapacityDriven() {
			// TTL_ONLY never evicts for capacity; only natural TTL purge
			// applies. Accept the overflow rather than loop forever.
			return nil
		}

		victim := c.policy.Victim(c.candidatesLocked())
		reason := cachetypes.EvictionCapacity
		if c.memoryOverLocked() && !c.sizeOverLocked() {
			reason = cachetypes.EvictionMemory
		}
		c.removeLocked(victim, reason)
	}
	return nil
}

func (c *Cache) candidatesLocked() []evict.Candidate {
	candidates := make([]evict.Candidate, 0, len(c.entries))
	for key, entry := range c.entries {
		candidates = append(candidates, evict.Candidate{
			Key:            key,
			LastAccessedAt: entry.LastAccessedAt,
			CreatedAt:      entry.CreatedAt,
			AccessCount:    entry.AccessCount,
			ExpiresAt:      entry.ExpiresAt,
		})
	}
	return candidates
}

// sizeOverLocked and memoryOverLocked intentionally do not special-case a
// zero or negative bound as "unlimited": config validation (internal/config)
// rejects maxEntries < 1, and a cache that somehow ends up with a
// non-positive bound should behave exactly as spec'd backpressure demands —
// unable to hold even one entry.
func (c *Cache) sizeOverLocked() bool {
	return len(c.entries) > c.config.MaxEntries
}

func (c *Cache) memoryOverLocked() bool {
	return c.estimatedMemory > c.config.MemoryCapBytes
}

func (c *Cache) overCapacityLocked() bool {
	return c.sizeOverLocked() || c.memoryOverLocked()
}
