// Package evict implements the eviction-victim-selection strategies a Cache
// runs when it is over capacity: LRU, LFU, and TTL_ONLY.
//
// Design Notes:
//   - One small interface, three implementations (spec's "tagged variant or
//     small strategy interface" design note for dynamic dispatch).
//   - Each policy only needs to rank candidates; the Cache owns storage and
//     calls Victim with a snapshot of (key, entry) pairs.
package evict

import (
	"time"

	"github.com/distcache/distcache/internal/cachetypes"
)

// Candidate is the minimal view of a stored entry a policy needs to rank it.
type Candidate struct {
	Key            string
	LastAccessedAt time.Time
	CreatedAt      time.Time
	AccessCount    uint64
	ExpiresAt      time.Time
}

// Policy selects a single victim from a non-empty set of candidates.
// Implementations must be deterministic given the same candidate set (tests
// rely on this for tie-break assertions).
type Policy interface {
	// Victim returns the key of the entry to evict. candidates is never
	// empty when Victim is called.
	Victim(candidates []Candidate) string

	// CapacityDriven reports whether this policy evicts to enforce
	// maxEntries/memoryCapBytes, as opposed to TTL_ONLY, which only purges
	// expired entries lazily on Get.
	CapacityDriven() bool
}

// New builds the Policy implementation for the given eviction mode.
func New(mode cachetypes.EvictionPolicy) Policy {
	switch mode {
	case cachetypes.LFU:
		return lfuPolicy{}
	case cachetypes.TTLOnly:
		return ttlOnlyPolicy{}
	default:
		return lruPolicy{}
	}
}

// lruPolicy evicts the entry with the smallest LastAccessedAt. Ties break
// on smallest CreatedAt, then lexicographically smallest key.
type lruPolicy struct{}

func (lruPolicy) CapacityDriven() bool { return true }

func (lruPolicy) Victim(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if less := compareLRU(c, best); less {
			best = c
		}
	}
	return best.Key
}

func compareLRU(a, b Candidate) bool {
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Key < b.Key
}

// lfuPolicy evicts the entry with the smallest AccessCount. Ties break on
// smallest LastAccessedAt, then lexicographically smallest key.
type lfuPolicy struct{}

func (lfuPolicy) CapacityDriven() bool { return true }

func (lfuPolicy) Victim(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if less := compareLFU(c, best); less {
			best = c
		}
	}
	return best.Key
}

func compareLFU(a, b Candidate) bool {
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	return a.Key < b.Key
}

// ttlOnlyPolicy evicts the entry nearest to expiry. It is not
// capacity-driven: the cache only purges naturally-expired entries under
// this policy, never for pure over-capacity reasons.
type ttlOnlyPolicy struct{}

func (ttlOnlyPolicy) CapacityDriven() bool { return false }

func (ttlOnlyPolicy) Victim(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ExpiresAt.Before(best.ExpiresAt) {
			best = c
		}
	}
	return best.Key
}
