// Package prefetch proactively refreshes cache entries ahead of expiry,
// adapted from the teacher's warming service: a rate-limited worker pool
// drains a task queue, deduplicating concurrent refreshes of the same key
// with singleflight, exactly like the teacher's warming/service.go
// combines rate.Limiter + singleflight.Group.
//
// Unlike the teacher, there is no cron schedule and no Pub/Sub completion
// event: a cache only gets scheduled prefetching once a loader has been
// registered for it (RegisterLoader); with none registered, the scheduler
// tick is a no-op for that cache. This resolves the prefetch design left
// open-ended: prefetching is opt-in per cache, keyed on whether the
// operator supplied a way to refill a value.
package prefetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/distcache/distcache/internal/cachemanager"
)

// Loader refills cacheName/key from its source of truth, returning the
// value and the TTL to store it with.
type Loader func(ctx context.Context, key string) (value []byte, ttl time.Duration, err error)

// Predictor chooses which keys in cacheName are worth refreshing on the
// next scheduler tick.
type Predictor interface {
	PredictKeys(ctx context.Context, cacheName string, limit int) ([]string, error)
}

// currentKeysPredictor is a coarse stand-in for real access-pattern
// prediction: it proposes the cache's own current key set, capped at
// limit. This keeps every already-resident key refreshed ahead of its
// expiry without requiring an access-frequency model the spec does not
// define.
type currentKeysPredictor struct {
	manager *cachemanager.Manager
}

func (p *currentKeysPredictor) PredictKeys(_ context.Context, cacheName string, limit int) ([]string, error) {
	keys, err := p.manager.Keys(cacheName, nil)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Metrics counts prefetch activity for admin introspection.
type Metrics struct {
	Queued    atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Skipped   atomic.Int64 // no loader registered
}

// MetricsSnapshot is a point-in-time, copyable view of Metrics.
type MetricsSnapshot struct {
	Queued, Succeeded, Failed, Skipped int64
}

// Options configures the service's rate limiting, worker count, and
// per-refresh timeout.
type Options struct {
	Workers       int           // default 4
	QueueSize     int           // default 1000
	MaxOriginRPS  int           // default 50
	OriginTimeout time.Duration // default 5s
}

func (o Options) withDefaults() Options {
	if o.Workers == 0 {
		o.Workers = 4
	}
	if o.QueueSize == 0 {
		o.QueueSize = 1000
	}
	if o.MaxOriginRPS == 0 {
		o.MaxOriginRPS = 50
	}
	if o.OriginTimeout == 0 {
		o.OriginTimeout = 5 * time.Second
	}
	return o
}

// Service is the prefetch/cache-warming subsystem attached to one node's
// cache manager.
type Service struct {
	manager     *cachemanager.Manager
	predictor   Predictor
	rateLimiter *rate.Limiter
	dedup       singleflight.Group
	metrics     Metrics
	opts        Options

	mu      sync.RWMutex
	loaders map[string]Loader

	pool *workerPool

	tickerStop chan struct{}
	wg         sync.WaitGroup
}

// New builds a Service bound to manager. Call Start to begin scheduled
// refresh ticks.
func New(manager *cachemanager.Manager, opts Options) *Service {
	opts = opts.withDefaults()
	s := &Service{
		manager:     manager,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.MaxOriginRPS), opts.MaxOriginRPS),
		opts:        opts,
		loaders:     make(map[string]Loader),
	}
	s.predictor = &currentKeysPredictor{manager: manager}
	s.pool = newWorkerPool(s, opts.Workers, opts.QueueSize)
	return s
}

// RegisterLoader attaches a loader to cacheName, enabling scheduled and
// on-demand prefetch for it. A nil loader removes any existing
// registration, reverting the cache to no-op prefetch.
func (s *Service) RegisterLoader(cacheName string, loader Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loader == nil {
		delete(s.loaders, cacheName)
		return
	}
	s.loaders[cacheName] = loader
}

func (s *Service) loaderFor(cacheName string) (Loader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loaders[cacheName]
	return l, ok
}

// Prefetch queues an immediate refresh of the given keys in cacheName.
// Keys for a cache with no registered loader are counted as skipped, not
// queued. Returns how many tasks were actually queued.
func (s *Service) Prefetch(cacheName string, keys []string) int {
	if _, ok := s.loaderFor(cacheName); !ok {
		s.metrics.Skipped.Add(int64(len(keys)))
		return 0
	}
	queued := 0
	for _, key := range keys {
		if s.pool.enqueue(refreshTask{cacheName: cacheName, key: key}) {
			queued++
			s.metrics.Queued.Add(1)
		}
	}
	return queued
}

// Start launches the worker pool and the scheduler, which ticks every
// interval and, for every cache with a registered loader, asks the
// predictor for keys to refresh.
func (s *Service) Start(interval time.Duration) {
	s.pool.start()
	s.tickerStop = make(chan struct{})
	s.wg.Add(1)
	go s.scheduleLoop(interval)
}

func (s *Service) scheduleLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.tickerStop:
			return
		case <-ticker.C:
			s.runScheduledTick()
		}
	}
}

func (s *Service) runScheduledTick() {
	s.mu.RLock()
	cacheNames := make([]string, 0, len(s.loaders))
	for name := range s.loaders {
		cacheNames = append(cacheNames, name)
	}
	s.mu.RUnlock()

	ctx := context.Background()
	for _, name := range cacheNames {
		keys, err := s.predictor.PredictKeys(ctx, name, s.opts.QueueSize)
		if err != nil {
			continue
		}
		s.Prefetch(name, keys)
	}
}

// Stop halts the scheduler and worker pool, waiting up to grace.
func (s *Service) Stop(grace time.Duration) {
	if s.tickerStop != nil {
		close(s.tickerStop)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pool.shutdown(grace)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

// Stats returns a snapshot of prefetch activity counters.
func (s *Service) Stats() MetricsSnapshot {
	return MetricsSnapshot{
		Queued:    s.metrics.Queued.Load(),
		Succeeded: s.metrics.Succeeded.Load(),
		Failed:    s.metrics.Failed.Load(),
		Skipped:   s.metrics.Skipped.Load(),
	}
}

// executeRefresh performs one key's refresh: rate-limited, deduplicated,
// origin-timeout-bounded fetch followed by a cache write.
func (s *Service) executeRefresh(task refreshTask) error {
	loader, ok := s.loaderFor(task.cacheName)
	if !ok {
		s.metrics.Skipped.Add(1)
		return nil
	}

	_, err, _ := s.dedup.Do(task.cacheName+"\x00"+task.key, func() (any, error) {
		return nil, s.executeRefreshOnce(task, loader)
	})

	if err != nil {
		s.metrics.Failed.Add(1)
		return err
	}
	s.metrics.Succeeded.Add(1)
	return nil
}

func (s *Service) executeRefreshOnce(task refreshTask, loader Loader) error {
	if err := s.rateLimiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("prefetch rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OriginTimeout)
	defer cancel()

	value, ttl, err := loader(ctx, task.key)
	if err != nil {
		return fmt.Errorf("prefetch load %s/%s: %w", task.cacheName, task.key, err)
	}

	return s.manager.Put(task.cacheName, task.key, value, ttl, "prefetch", 0)
}
