// Package cerrors defines the error kinds surfaced across the cache core and
// cluster coordination layer.
package cerrors

import (
	"errors"
	"fmt"
)

// CacheNotFound is returned when an operation targets a cache name that has
// never been configured via CacheManager.ConfigureCache. CacheService.GetOrLoad
// also returns it on a miss when no loader is registered for the cache.
type CacheNotFound struct {
	Name string
}

func (e *CacheNotFound) Error() string {
	return fmt.Sprintf("cache not found: %q", e.Name)
}

// NewCacheNotFound builds a CacheNotFound error for the given cache name.
func NewCacheNotFound(name string) error {
	return &CacheNotFound{Name: name}
}

// CacheLoadError wraps a loader failure from CacheService.GetOrLoad. Waiters
// parked behind the same in-flight load observe the same error.
type CacheLoadError struct {
	CacheName string
	Key       string
	Cause     error
}

func (e *CacheLoadError) Error() string {
	return fmt.Sprintf("cache load failed for %s/%s: %v", e.CacheName, e.Key, e.Cause)
}

func (e *CacheLoadError) Unwrap() error { return e.Cause }

// NewCacheLoadError wraps a loader error.
func NewCacheLoadError(cacheName, key string, cause error) error {
	return &CacheLoadError{CacheName: cacheName, Key: key, Cause: cause}
}

// SerializationError indicates a malformed wire payload. The caller must
// drop the message and log; it must never propagate to a cache caller.
type SerializationError struct {
	Cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("malformed wire message: %v", e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// NewSerializationError wraps a decode/encode failure.
func NewSerializationError(cause error) error {
	return &SerializationError{Cause: cause}
}

// ClusterCommunicationError indicates a send/receive failure to a peer. It is
// subject to retry and circuit breaking at the sender.
type ClusterCommunicationError struct {
	Peer  string
	Cause error
}

func (e *ClusterCommunicationError) Error() string {
	return fmt.Sprintf("cluster communication with %s failed: %v", e.Peer, e.Cause)
}

func (e *ClusterCommunicationError) Unwrap() error { return e.Cause }

// NewClusterCommunicationError wraps a transport-layer failure.
func NewClusterCommunicationError(peer string, cause error) error {
	return &ClusterCommunicationError{Peer: peer, Cause: cause}
}

// ErrCircuitOpen is returned by MessageSender when a peer's circuit breaker
// has tripped and is short-circuiting sends. Callers treat it as a
// ClusterCommunicationError.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BackpressureError is returned by Cache.Put when eviction cannot free
// enough room for the new entry (e.g. maxEntries < 1, or the entry alone
// exceeds memoryCapBytes).
type BackpressureError struct {
	CacheName string
	Key       string
	Reason    string
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure on %s/%s: %s", e.CacheName, e.Key, e.Reason)
}

// NewBackpressureError builds a BackpressureError.
func NewBackpressureError(cacheName, key, reason string) error {
	return &BackpressureError{CacheName: cacheName, Key: key, Reason: reason}
}
