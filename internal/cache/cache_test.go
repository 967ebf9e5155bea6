package cache

import (
	"testing"
	"time"

	"github.com/distcache/distcache/internal/cachetypes"
)

func testConfig(maxEntries int, policy cachetypes.EvictionPolicy) cachetypes.Configuration {
	cfg := cachetypes.DefaultConfiguration()
	cfg.MaxEntries = maxEntries
	cfg.MemoryCapBytes = 1 << 30 // large enough that memory never drives eviction in these tests
	cfg.Eviction = policy
	return cfg
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New("test", testConfig(10, cachetypes.LRU))

	if err := c.Put("k1", []byte("v"), time.Minute, "node-a", 1); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(entry.Value) != "v" {
		t.Fatalf("got %q, want %q", entry.Value, "v")
	}
}

func TestPutOverwriteReturnsLatest(t *testing.T) {
	c := New("test", testConfig(10, cachetypes.LRU))

	_ = c.Put("k1", []byte("v1"), time.Minute, "node-a", 1)
	_ = c.Put("k1", []byte("v2"), time.Minute, "node-a", 2)

	entry, ok := c.Get("k1")
	if !ok || string(entry.Value) != "v2" {
		t.Fatalf("got %+v, ok=%v, want v2", entry, ok)
	}
}

func TestGetAbsentCountsMiss(t *testing.T) {
	c := New("test", testConfig(10, cachetypes.LRU))

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected absent")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("misses = %d, want 1", c.Stats().Misses)
	}
}

// TTL expiry: scenario 2 from spec §8.
func TestTTLExpiry(t *testing.T) {
	c := New("test", testConfig(10, cachetypes.LRU))

	if err := c.Put("k1", []byte("v"), 50*time.Millisecond, "node-a", 1); err != nil {
		t.Fatalf("put: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected expired entry to be absent")
	}

	stats := c.Stats()
	if stats.Misses != 1 {
		t.Fatalf("misses = %d, want 1", stats.Misses)
	}
	if stats.EvictionsByReason[cachetypes.EvictionTTL] != 1 {
		t.Fatalf("ttl evictions = %d, want 1", stats.EvictionsByReason[cachetypes.EvictionTTL])
	}
}

// LRU eviction: scenario 3 from spec §8.
func TestLRUEviction(t *testing.T) {
	c := New("test", testConfig(3, cachetypes.LRU))

	_ = c.Put("k1", []byte("v1"), time.Minute, "node-a", 1)
	_ = c.Put("k2", []byte("v2"), time.Minute, "node-a", 1)
	_ = c.Put("k3", []byte("v3"), time.Minute, "node-a", 1)

	// Touch k1 so it is no longer the least-recently-used.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("expected k1 present")
	}

	if err := c.Put("k4", []byte("v4"), time.Minute, "node-a", 1); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := c.Get("k2"); ok {
		t.Fatal("expected k2 evicted as LRU victim")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("expected %s present", key)
		}
	}
}

func TestLFUEviction(t *testing.T) {
	c := New("test", testConfig(2, cachetypes.LFU))

	_ = c.Put("k1", []byte("v1"), time.Minute, "node-a", 1)
	_ = c.Put("k2", []byte("v2"), time.Minute, "node-a", 1)

	// Access k1 multiple times, k2 never, before the next put.
	c.Get("k1")
	c.Get("k1")

	_ = c.Put("k3", []byte("v3"), time.Minute, "node-a", 1)

	if _, ok := c.Get("k2"); ok {
		t.Fatal("expected k2 evicted as LFU victim (lowest access count)")
	}
}

func TestInvalidateIdempotent(t *testing.T) {
	c := New("test", testConfig(10, cachetypes.LRU))
	_ = c.Put("k1", []byte("v"), time.Minute, "node-a", 1)

	c.Invalidate("k1")
	c.Invalidate("k1") // second call must be a harmless no-op

	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected k1 gone after invalidate")
	}
}

func TestInvalidateByPrefix(t *testing.T) {
	c := New("test", testConfig(10, cachetypes.LRU))
	_ = c.Put("user:1", []byte("a"), time.Minute, "node-a", 1)
	_ = c.Put("user:2", []byte("b"), time.Minute, "node-a", 1)
	_ = c.Put("order:1", []byte("c"), time.Minute, "node-a", 1)

	n := c.InvalidateByPrefix("user:")
	if n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	if _, ok := c.Get("order:1"); !ok {
		t.Fatal("expected order:1 to survive prefix invalidation")
	}
}

func TestBackpressureWhenMaxEntriesBelowOne(t *testing.T) {
	c := New("test", testConfig(0, cachetypes.LRU))

	err := c.Put("k1", []byte("v"), time.Minute, "node-a", 1)
	if err == nil {
		t.Fatal("expected BackpressureError")
	}

	stats := c.Stats()
	if stats.Size != 0 {
		t.Fatalf("size = %d, want 0: a rejected put must not leave the value stored", stats.Size)
	}
	if stats.EstimatedMemoryBytes != 0 {
		t.Fatalf("estimatedMemory = %d, want 0 after rejecting the only entry", stats.EstimatedMemoryBytes)
	}
}

func TestStatsSizeNeverExceedsMaxEntries(t *testing.T) {
	c := New("test", testConfig(3, cachetypes.LRU))
	for i := 0; i < 20; i++ {
		_ = c.Put(string(rune('a'+i)), []byte("v"), time.Minute, "node-a", uint64(i))
		if c.Stats().Size > 3 {
			t.Fatalf("size %d exceeds maxEntries 3", c.Stats().Size)
		}
	}
}
