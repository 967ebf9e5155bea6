package cachetypes

import "time"

// EvictionReason tags why an entry left a cache, for the per-reason
// eviction counters in Stats.
type EvictionReason int

const (
	EvictionCapacity EvictionReason = iota
	EvictionMemory
	EvictionTTL
	EvictionExplicit
)

func (r EvictionReason) String() string {
	switch r {
	case EvictionCapacity:
		return "capacity"
	case EvictionMemory:
		return "memory"
	case EvictionTTL:
		return "ttl"
	case EvictionExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Hits                int64
	Misses              int64
	Evictions           int64
	EvictionsByReason   map[EvictionReason]int64
	Size                int
	EstimatedMemoryBytes int64
	LastUpdated         time.Time
}
