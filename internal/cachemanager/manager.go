// Package cachemanager owns every named Cache on a node. It is the
// exclusive owner of the cache map: callers never see the map itself, only
// the operations below.
package cachemanager

import (
	"sync"
	"time"

	"github.com/distcache/distcache/internal/cache"
	"github.com/distcache/distcache/internal/cachetypes"
	"github.com/distcache/distcache/internal/cerrors"
)

// Manager maps cache name to Cache. One instance lives per node process.
type Manager struct {
	mu     sync.RWMutex
	caches map[string]*cache.Cache
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{caches: make(map[string]*cache.Cache)}
}

// ConfigureCache creates a cache under name if it does not exist, or updates
// an existing cache's configuration in place. Existing entries are retained
// unless the new limits force eviction on the next Put.
func (m *Manager) ConfigureCache(name string, config cachetypes.Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.caches[name]; ok {
		existing.Reconfigure(config)
		return
	}
	m.caches[name] = cache.New(name, config)
}

// lookup returns the named cache, or CacheNotFound.
func (m *Manager) lookup(name string) (*cache.Cache, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.caches[name]
	if !ok {
		return nil, cerrors.NewCacheNotFound(name)
	}
	return c, nil
}

// Get delegates to the named cache.
func (m *Manager) Get(name, key string) (cachetypes.Entry, bool, error) {
	c, err := m.lookup(name)
	if err != nil {
		return cachetypes.Entry{}, false, err
	}
	entry, ok := c.Get(key)
	return entry, ok, nil
}

// Put delegates to the named cache.
func (m *Manager) Put(name, key string, value []byte, ttl time.Duration, originNodeID string, version uint64) error {
	c, err := m.lookup(name)
	if err != nil {
		return err
	}
	return c.Put(key, value, ttl, originNodeID, version)
}

// PutIfNewer delegates to the named cache's version-gated replication write.
func (m *Manager) PutIfNewer(name, key string, value []byte, ttl time.Duration, originNodeID string, version uint64) (bool, error) {
	c, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return c.PutIfNewer(key, value, ttl, originNodeID, version)
}

// Invalidate delegates to the named cache.
func (m *Manager) Invalidate(name, key string) error {
	c, err := m.lookup(name)
	if err != nil {
		return err
	}
	c.Invalidate(key)
	return nil
}

// InvalidateAll delegates to the named cache.
func (m *Manager) InvalidateAll(name string) error {
	c, err := m.lookup(name)
	if err != nil {
		return err
	}
	c.InvalidateAll()
	return nil
}

// InvalidateByPrefix delegates to the named cache.
func (m *Manager) InvalidateByPrefix(name, prefix string) (int, error) {
	c, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return c.InvalidateByPrefix(prefix), nil
}

// InvalidateByPattern delegates to the named cache's glob pattern match.
func (m *Manager) InvalidateByPattern(name, pattern string) (int, error) {
	c, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return c.InvalidateByPattern(pattern)
}

// KeysMatching delegates to the named cache's glob pattern match.
func (m *Manager) KeysMatching(name, pattern string) ([]string, error) {
	c, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return c.KeysMatching(pattern)
}

// Keys delegates to the named cache.
func (m *Manager) Keys(name string, prefix *string) ([]string, error) {
	c, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Keys(prefix), nil
}

// Stats delegates to the named cache.
func (m *Manager) Stats(name string) (cachetypes.Stats, error) {
	c, err := m.lookup(name)
	if err != nil {
		return cachetypes.Stats{}, err
	}
	return c.Stats(), nil
}

// CacheNames returns a snapshot of every configured cache name, for admin
// introspection.
func (m *Manager) CacheNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}

// Config returns the named cache's current configuration.
func (m *Manager) Config(name string) (cachetypes.Configuration, error) {
	c, err := m.lookup(name)
	if err != nil {
		return cachetypes.Configuration{}, err
	}
	return c.Config(), nil
}
