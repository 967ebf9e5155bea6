// Package cacheservice is the public façade a node's callers use: it wraps
// the local cache manager with thundering-herd suppression on cache
// misses, and fans mutations out through the cluster coordinator according
// to each cache's configured replication mode.
package cacheservice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/distcache/distcache/internal/cachemanager"
	"github.com/distcache/distcache/internal/cachetypes"
	"github.com/distcache/distcache/internal/cerrors"
	"github.com/distcache/distcache/internal/coordinator"
	"github.com/distcache/distcache/internal/prefetch"
)

// Loader refills cacheName/key from its source of truth when GetOrLoad
// misses. It is the same shape prefetch.Loader uses, so one registration
// serves both on-demand loads and scheduled prefetch.
type Loader func(ctx context.Context, key string) (value []byte, ttl time.Duration, err error)

// Service is the node-local façade over the cache manager, cluster
// coordinator, and prefetch subsystem.
type Service struct {
	nodeID      string
	manager     *cachemanager.Manager
	coordinator *coordinator.Coordinator
	prefetch    *prefetch.Service

	loadGroup singleflight.Group
	version   atomic.Uint64

	mu      sync.RWMutex
	loaders map[string]Loader
}

// New builds a Service. coordinator and prefetch may be nil for a
// single-node deployment with no cluster or prefetch wiring.
func New(nodeID string, manager *cachemanager.Manager, coord *coordinator.Coordinator, pf *prefetch.Service) *Service {
	return &Service{
		nodeID:      nodeID,
		manager:     manager,
		coordinator: coord,
		prefetch:    pf,
		loaders:     make(map[string]Loader),
	}
}

// ConfigureCache creates or reconfigures a named cache.
func (s *Service) ConfigureCache(name string, config cachetypes.Configuration) {
	s.manager.ConfigureCache(name, config)
}

// RegisterLoader binds a loader to cacheName for both GetOrLoad misses and
// the prefetch subsystem's scheduled refresh. A nil loader clears the
// registration.
func (s *Service) RegisterLoader(cacheName string, loader Loader) {
	s.mu.Lock()
	if loader == nil {
		delete(s.loaders, cacheName)
	} else {
		s.loaders[cacheName] = loader
	}
	s.mu.Unlock()

	if s.prefetch != nil {
		if loader == nil {
			s.prefetch.RegisterLoader(cacheName, nil)
			return
		}
		s.prefetch.RegisterLoader(cacheName, prefetch.Loader(loader))
	}
}

func (s *Service) loaderFor(cacheName string) (Loader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loaders[cacheName]
	return l, ok
}

// Get returns cacheName/key without invoking any loader on a miss.
func (s *Service) Get(cacheName, key string) ([]byte, bool, error) {
	entry, ok, err := s.manager.Get(cacheName, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// GetOrLoad returns cacheName/key, invoking the registered loader on a miss.
// Concurrent callers for the same cacheName/key during a miss share one
// loader invocation: singleflight.Group collapses them, and every waiter
// observes the same value or the same error.
func (s *Service) GetOrLoad(ctx context.Context, cacheName, key string) ([]byte, error) {
	if value, ok, err := s.Get(cacheName, key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	loader, ok := s.loaderFor(cacheName)
	if !ok {
		return nil, cerrors.NewCacheNotFound(cacheName)
	}

	flightKey := cacheName + "\x00" + key
	v, err, _ := s.loadGroup.Do(flightKey, func() (any, error) {
		// Re-check: another goroutine's Do call may have populated the
		// cache for this key while we queued behind the singleflight lock.
		if value, ok, gerr := s.Get(cacheName, key); gerr == nil && ok {
			return value, nil
		}

		value, ttl, lerr := loader(ctx, key)
		if lerr != nil {
			return nil, cerrors.NewCacheLoadError(cacheName, key, lerr)
		}
		if err := s.putLocal(cacheName, key, value, ttl); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Service) nextVersion() uint64 {
	return s.version.Add(1)
}

func (s *Service) putLocal(cacheName, key string, value []byte, ttl time.Duration) error {
	return s.manager.Put(cacheName, key, value, ttl, s.nodeID, s.nextVersion())
}

// Put writes cacheName/key locally and, per the cache's configured
// replication mode, broadcasts the change to the cluster: REPLICATE sends
// the value itself, INVALIDATE tells peers to drop their copy, NONE stays
// local.
func (s *Service) Put(cacheName, key string, value []byte, ttl time.Duration) error {
	cfg, err := s.manager.Config(cacheName)
	if err != nil {
		return err
	}

	version := s.nextVersion()
	if err := s.manager.Put(cacheName, key, value, ttl, s.nodeID, version); err != nil {
		return err
	}

	s.broadcastMutation(cfg, cacheName, key, value, ttl, version)
	return nil
}

// PutAll writes every key/value pair in values to cacheName with a shared
// TTL, stopping at the first error.
func (s *Service) PutAll(cacheName string, values map[string][]byte, ttl time.Duration) error {
	for key, value := range values {
		if err := s.Put(cacheName, key, value, ttl); err != nil {
			return fmt.Errorf("put %s/%s: %w", cacheName, key, err)
		}
	}
	return nil
}

func (s *Service) broadcastMutation(cfg cachetypes.Configuration, cacheName, key string, value []byte, ttl time.Duration, version uint64) {
	if s.coordinator == nil {
		return
	}
	switch cfg.Replication {
	case cachetypes.ReplicationReplicate:
		s.coordinator.BroadcastReplication(cacheName, key, value, ttl, version)
	case cachetypes.ReplicationInvalidate:
		s.coordinator.BroadcastInvalidation(cacheName, &key, version)
	}
}

// Invalidate removes cacheName/key locally and, unless the cache's
// replication mode is NONE, broadcasts the invalidation.
func (s *Service) Invalidate(cacheName, key string) error {
	cfg, err := s.manager.Config(cacheName)
	if err != nil {
		return err
	}
	if err := s.manager.Invalidate(cacheName, key); err != nil {
		return err
	}
	if s.coordinator != nil && cfg.Replication != cachetypes.ReplicationNone {
		s.coordinator.BroadcastInvalidation(cacheName, &key, s.nextVersion())
	}
	return nil
}

// InvalidateAll clears cacheName locally and, unless its replication mode
// is NONE, broadcasts a whole-cache invalidation (Key == nil).
func (s *Service) InvalidateAll(cacheName string) error {
	cfg, err := s.manager.Config(cacheName)
	if err != nil {
		return err
	}
	if err := s.manager.InvalidateAll(cacheName); err != nil {
		return err
	}
	if s.coordinator != nil && cfg.Replication != cachetypes.ReplicationNone {
		s.coordinator.BroadcastInvalidation(cacheName, nil, s.nextVersion())
	}
	return nil
}

// InvalidateByPrefix removes every key in cacheName starting with prefix.
// Broadcasting a prefix invalidation would need a wire message this spec
// does not define, so this stays node-local (acceptable: Non-goals exclude
// cross-node strong consistency).
func (s *Service) InvalidateByPrefix(cacheName, prefix string) (int, error) {
	return s.manager.InvalidateByPrefix(cacheName, prefix)
}

// InvalidateByPattern removes every key in cacheName matching the glob
// pattern (see internal/keymatch). Stays node-local for the same reason
// InvalidateByPrefix does: no wire message carries an arbitrary pattern.
func (s *Service) InvalidateByPattern(cacheName, pattern string) (int, error) {
	return s.manager.InvalidateByPattern(cacheName, pattern)
}

// Prefetch proactively refreshes the given keys in cacheName. A no-op
// (returns 0) if no loader is registered or the service has no prefetch
// subsystem wired in.
func (s *Service) Prefetch(cacheName string, keys []string) int {
	if s.prefetch == nil {
		return 0
	}
	return s.prefetch.Prefetch(cacheName, keys)
}

// GetStats returns cacheName's current counters.
func (s *Service) GetStats(cacheName string) (cachetypes.Stats, error) {
	return s.manager.Stats(cacheName)
}

// GetKeys returns a snapshot of cacheName's keys matching prefix (or every
// key, if prefix is nil).
func (s *Service) GetKeys(cacheName string, prefix *string) ([]string, error) {
	return s.manager.Keys(cacheName, prefix)
}

// GetKeysMatching returns a snapshot of cacheName's keys matching the given
// glob pattern (see internal/keymatch), for callers that need more than a
// prefix filter.
func (s *Service) GetKeysMatching(cacheName, pattern string) ([]string, error) {
	return s.manager.KeysMatching(cacheName, pattern)
}
