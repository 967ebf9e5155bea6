package coordinator

import (
	"testing"
	"time"

	"github.com/distcache/distcache/internal/cachemanager"
	"github.com/distcache/distcache/internal/cachetypes"
	"github.com/distcache/distcache/internal/clustermsg"
	"github.com/distcache/distcache/internal/membership"
	"github.com/distcache/distcache/internal/transport"
)

func TestHandleInboundSuppressesOwnOrigin(t *testing.T) {
	manager := cachemanager.New()
	manager.ConfigureCache("test", cachetypes.DefaultConfiguration())
	_ = manager.Put("test", "k1", []byte("v"), time.Minute, "node-a", 1)

	sender := transport.NewSender("node-a", transport.SenderOptions{})
	defer sender.Close()
	mem := membership.New("node-a", nil, sender, membership.Options{})

	c := New("node-a", sender, mem, manager, Options{Workers: 1})

	key := "k1"
	c.HandleInbound(clustermsg.TagInvalidation, &clustermsg.Invalidation{
		CacheName: "test", Key: &key, OriginNodeID: "node-a", Version: 2,
	})

	entry, ok, err := manager.Get("test", "k1")
	if err != nil || !ok || string(entry.Value) != "v" {
		t.Fatalf("entry should survive a message whose origin is this node: entry=%+v ok=%v err=%v", entry, ok, err)
	}
}

func TestHandleInboundAppliesPeerInvalidation(t *testing.T) {
	manager := cachemanager.New()
	manager.ConfigureCache("test", cachetypes.DefaultConfiguration())
	_ = manager.Put("test", "k1", []byte("v"), time.Minute, "node-a", 1)

	sender := transport.NewSender("node-a", transport.SenderOptions{})
	defer sender.Close()
	mem := membership.New("node-a", nil, sender, membership.Options{})
	c := New("node-a", sender, mem, manager, Options{Workers: 1})

	key := "k1"
	c.HandleInbound(clustermsg.TagInvalidation, &clustermsg.Invalidation{
		CacheName: "test", Key: &key, OriginNodeID: "node-b", Version: 2,
	})

	if _, ok, _ := manager.Get("test", "k1"); ok {
		t.Fatal("expected k1 invalidated by peer message")
	}
}

func TestHandleInboundReplicationRejectsStaleVersion(t *testing.T) {
	manager := cachemanager.New()
	manager.ConfigureCache("test", cachetypes.DefaultConfiguration())
	_ = manager.Put("test", "k1", []byte("v2"), time.Minute, "node-a", 5)

	sender := transport.NewSender("node-a", transport.SenderOptions{})
	defer sender.Close()
	mem := membership.New("node-a", nil, sender, membership.Options{})
	c := New("node-a", sender, mem, manager, Options{Workers: 1})

	c.HandleInbound(clustermsg.TagReplication, &clustermsg.Replication{
		CacheName: "test", Key: "k1", Value: []byte("stale"), TTL: time.Minute,
		OriginNodeID: "node-b", Version: 3,
	})

	entry, _, _ := manager.Get("test", "k1")
	if string(entry.Value) != "v2" {
		t.Fatalf("stale replication must not overwrite newer version, got %q", entry.Value)
	}
}

func TestHandleInboundHeartbeatRecordsMembership(t *testing.T) {
	manager := cachemanager.New()
	sender := transport.NewSender("node-a", transport.SenderOptions{})
	defer sender.Close()
	mem := membership.New("node-a", []string{"node-b"}, sender, membership.Options{PeerTimeout: time.Minute})
	c := New("node-a", sender, mem, manager, Options{Workers: 1})

	c.HandleInbound(clustermsg.TagHeartbeat, &clustermsg.Heartbeat{NodeID: "node-b", Timestamp: time.Now()})

	if !mem.IsPeerHealthy("node-b") {
		t.Fatal("expected node-b marked healthy after inbound heartbeat")
	}
}

func TestBroadcastInvalidationQueuesPerActivePeer(t *testing.T) {
	manager := cachemanager.New()
	sender := transport.NewSender("node-a", transport.SenderOptions{MaxAttempts: 1})
	defer sender.Close()
	mem := membership.New("node-a", []string{"127.0.0.1:1"}, sender, membership.Options{PeerTimeout: time.Minute})
	mem.RecordHeartbeat("127.0.0.1:1")

	c := New("node-a", sender, mem, manager, Options{Workers: 1, QueueSize: 4})
	c.Start()
	defer c.Stop(time.Second)

	key := "k1"
	c.BroadcastInvalidation("test", &key, 1)

	time.Sleep(50 * time.Millisecond)
	// The send will fail (nothing listens on port 1) but must not panic or
	// block the caller; DroppedBroadcasts stays 0 since the queue had room.
	if c.DroppedBroadcasts() != 0 {
		t.Fatalf("dropped = %d, want 0", c.DroppedBroadcasts())
	}
}
