// Package coordinator wires cluster membership, the wire transport, and the
// cache manager together: it turns local mutations into outbound broadcasts
// and turns inbound messages into local cache operations, suppressing the
// loops that would otherwise come from a node re-applying its own traffic.
package coordinator

import (
	"log"
	"sync"
	"time"

	"github.com/distcache/distcache/internal/cachemanager"
	"github.com/distcache/distcache/internal/clustermsg"
	"github.com/distcache/distcache/internal/membership"
	"github.com/distcache/distcache/internal/transport"
)

// broadcastTask is one outbound send queued for a worker to perform. Exactly
// one of invalidation/replication is set.
type broadcastTask struct {
	peer         string
	invalidation *clustermsg.Invalidation
	replication  *clustermsg.Replication
}

// Coordinator is the cluster-facing half of a node: it dispatches inbound
// wire messages (see HandleInbound, wired as a transport.Dispatch) and fans
// out local mutations to every active peer through a small worker pool, in
// the same fixed-worker-plus-buffered-queue shape as the teacher's cache
// warming pool.
type Coordinator struct {
	nodeID     string
	sender     *transport.Sender
	membership *membership.Membership
	manager    *cachemanager.Manager
	opts       Options

	taskQueue chan broadcastTask
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// Options configures the broadcast worker pool.
type Options struct {
	Workers   int // default 4
	QueueSize int // default 1000
}

func (o Options) withDefaults() Options {
	if o.Workers == 0 {
		o.Workers = 4
	}
	if o.QueueSize == 0 {
		o.QueueSize = 1000
	}
	return o
}

// New builds a Coordinator. Call Start before any Broadcast* call.
func New(nodeID string, sender *transport.Sender, mem *membership.Membership, manager *cachemanager.Manager, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		nodeID:     nodeID,
		sender:     sender,
		membership: mem,
		manager:    manager,
		opts:       opts,
		taskQueue:  make(chan broadcastTask, opts.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the fixed worker pool that drains the broadcast queue.
func (c *Coordinator) Start() {
	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.runWorker()
	}
}

// Stop signals workers to exit and waits up to grace.
func (c *Coordinator) Stop(grace time.Duration) {
	close(c.stopCh)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func (c *Coordinator) runWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case task := <-c.taskQueue:
			c.perform(task)
		}
	}
}

func (c *Coordinator) perform(task broadcastTask) {
	var err error
	switch {
	case task.invalidation != nil:
		err = c.sender.SendInvalidation(task.peer, task.invalidation)
	case task.replication != nil:
		err = c.sender.SendReplication(task.peer, task.replication)
	}
	if err != nil {
		// Transport already retried and, if tripped, recorded the circuit
		// breaker state; a further failure here means this peer is
		// unreachable for now. The send is logged and dropped, and nothing
		// re-sends it later, so the peer misses this update. Dropping is
		// acceptable: replication is best-effort (spec §5 Non-goals exclude
		// cross-node strong consistency).
		log.Printf("coordinator: broadcast to %s failed: %v", task.peer, err)
	}
}

// BroadcastInvalidation queues an invalidation of cacheName/key (key == nil
// meaning "everything in cacheName") to every currently active peer. It
// never blocks on the network; a peer's task that finds the queue full is
// dropped (counted in DroppedBroadcasts) rather than stall the caller.
func (c *Coordinator) BroadcastInvalidation(cacheName string, key *string, version uint64) {
	msg := &clustermsg.Invalidation{
		CacheName:    cacheName,
		Key:          key,
		OriginNodeID: c.nodeID,
		Version:      version,
		Timestamp:    time.Now().UTC(),
	}
	for _, peer := range c.membership.ActivePeers() {
		c.enqueue(broadcastTask{peer: peer, invalidation: msg})
	}
}

// BroadcastReplication queues a replicated write to every currently active
// peer.
func (c *Coordinator) BroadcastReplication(cacheName, key string, value []byte, ttl time.Duration, version uint64) {
	msg := &clustermsg.Replication{
		CacheName:    cacheName,
		Key:          key,
		Value:        value,
		TTL:          ttl,
		OriginNodeID: c.nodeID,
		Version:      version,
		Timestamp:    time.Now().UTC(),
	}
	for _, peer := range c.membership.ActivePeers() {
		c.enqueue(broadcastTask{peer: peer, replication: msg})
	}
}

func (c *Coordinator) enqueue(task broadcastTask) {
	select {
	case c.taskQueue <- task:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		log.Printf("coordinator: broadcast queue full, dropping send to %s", task.peer)
	}
}

// DroppedBroadcasts reports how many queued broadcasts were dropped because
// the worker pool fell behind.
func (c *Coordinator) DroppedBroadcasts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// HandleInbound is the transport.Dispatch implementation wired to the
// node's Receiver. It applies loop suppression (a node never applies its
// own broadcasts, which can arrive back from a peer that also knows other
// peers) and then applies the message to the local cache manager.
func (c *Coordinator) HandleInbound(tag clustermsg.Tag, msg any) {
	origin, ok := clustermsg.OriginNodeIDOf(tag, msg)
	if ok && origin == c.nodeID {
		return
	}

	switch tag {
	case clustermsg.TagHeartbeat:
		hb := msg.(*clustermsg.Heartbeat)
		c.membership.RecordHeartbeat(hb.NodeID)

	case clustermsg.TagInvalidation:
		inv := msg.(*clustermsg.Invalidation)
		if inv.Key == nil {
			if err := c.manager.InvalidateAll(inv.CacheName); err != nil {
				log.Printf("coordinator: inbound invalidate-all for %s: %v", inv.CacheName, err)
			}
			return
		}
		if err := c.manager.Invalidate(inv.CacheName, *inv.Key); err != nil {
			log.Printf("coordinator: inbound invalidate for %s/%s: %v", inv.CacheName, *inv.Key, err)
		}

	case clustermsg.TagReplication:
		rep := msg.(*clustermsg.Replication)
		if _, err := c.manager.PutIfNewer(rep.CacheName, rep.Key, rep.Value, rep.TTL, rep.OriginNodeID, rep.Version); err != nil {
			log.Printf("coordinator: inbound replication for %s/%s: %v", rep.CacheName, rep.Key, err)
		}
	}
}
