// Package membership tracks the liveness of peer nodes in the cluster: it
// sends periodic heartbeats outbound, records heartbeats received inbound,
// and reports peers that have gone quiet as unhealthy.
package membership

import (
	"sync"
	"time"

	"github.com/distcache/distcache/internal/clustermsg"
	"github.com/distcache/distcache/internal/transport"
)

// peerRecord is the liveness state this node tracks for one peer.
type peerRecord struct {
	lastHeartbeat       time.Time
	consecutiveFailures int
}

// Membership maintains the known peer set and each peer's health, driven by
// a heartbeat loop (outbound) and inbound RecordHeartbeat calls. There is
// no separate reaper loop: the heartbeat timeout is checked each time a
// peer's health is queried. The loop and RecordHeartbeat touch shared
// state guarded by mu.
type Membership struct {
	nodeID string
	sender *transport.Sender

	heartbeatInterval time.Duration
	peerTimeout       time.Duration // no heartbeat within this window => unhealthy
	maxFailures       int           // consecutive send failures before marking unhealthy early

	mu      sync.RWMutex
	peers   map[string]*peerRecord

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures heartbeat cadence and failure detection thresholds.
type Options struct {
	HeartbeatInterval time.Duration // default 5s
	PeerTimeout       time.Duration // default 3x HeartbeatInterval
	MaxFailures       int           // default 3
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.PeerTimeout == 0 {
		o.PeerTimeout = 3 * o.HeartbeatInterval
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 3
	}
	return o
}

// New builds a Membership for nodeID, tracking the given static peer
// addresses. Peers are seeded with a zero lastHeartbeat so they start
// unhealthy until the first heartbeat is sent or received.
func New(nodeID string, peerAddrs []string, sender *transport.Sender, opts Options) *Membership {
	opts = opts.withDefaults()
	m := &Membership{
		nodeID:            nodeID,
		sender:            sender,
		heartbeatInterval: opts.HeartbeatInterval,
		peerTimeout:       opts.PeerTimeout,
		maxFailures:       opts.MaxFailures,
		peers:             make(map[string]*peerRecord, len(peerAddrs)),
		stopCh:            make(chan struct{}),
	}
	for _, addr := range peerAddrs {
		m.peers[addr] = &peerRecord{}
	}
	return m
}

// Start launches the heartbeat send loop. Call once.
func (m *Membership) Start() {
	m.wg.Add(1)
	go m.heartbeatLoop()
}

// Stop signals the heartbeat loop to exit and waits up to grace.
func (m *Membership) Stop(grace time.Duration) {
	close(m.stopCh)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func (m *Membership) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sendHeartbeats()
		}
	}
}

func (m *Membership) sendHeartbeats() {
	msg := &clustermsg.Heartbeat{NodeID: m.nodeID, Timestamp: time.Now().UTC()}
	for _, peer := range m.KnownPeers() {
		if err := m.sender.SendHeartbeat(peer, msg); err != nil {
			m.recordFailure(peer)
			continue
		}
		// A successful send is itself evidence the peer is reachable: per
		// spec, update lastHeartbeat/reset failures here too, not only on
		// inbound RecordHeartbeat. Redundant in the symmetric case where
		// both sides heartbeat each other, but it's what keeps a node from
		// reporting a peer unhealthy solely because that peer's own
		// heartbeat loop is slow or one-directional.
		m.RecordHeartbeat(peer)
	}
}

func (m *Membership) recordFailure(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.peers[peer]; ok {
		rec.consecutiveFailures++
	}
}

// RecordHeartbeat marks peer as heard-from just now, called by the
// coordinator when an inbound Heartbeat arrives. An address not in the
// known peer set is added, since static configuration may lag an operator
// adding a node by hand.
func (m *Membership) RecordHeartbeat(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.peers[peer]
	if !ok {
		rec = &peerRecord{}
		m.peers[peer] = rec
	}
	rec.lastHeartbeat = time.Now().UTC()
	rec.consecutiveFailures = 0
}

// NodeID returns this node's identifier.
func (m *Membership) NodeID() string { return m.nodeID }

// KnownPeers returns every peer address this node tracks, healthy or not.
func (m *Membership) KnownPeers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for addr := range m.peers {
		out = append(out, addr)
	}
	return out
}

// ActivePeers returns only the peers currently considered healthy.
func (m *Membership) ActivePeers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for addr, rec := range m.peers {
		if m.healthyLocked(rec) {
			out = append(out, addr)
		}
	}
	return out
}

// IsPeerHealthy reports whether peer is within its heartbeat timeout and
// below the consecutive-failure threshold. An unknown peer is unhealthy.
func (m *Membership) IsPeerHealthy(peer string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.peers[peer]
	if !ok {
		return false
	}
	return m.healthyLocked(rec)
}

func (m *Membership) healthyLocked(rec *peerRecord) bool {
	if rec.consecutiveFailures >= m.maxFailures {
		return false
	}
	if rec.lastHeartbeat.IsZero() {
		return false
	}
	return time.Since(rec.lastHeartbeat) < m.peerTimeout
}

// LastHeartbeatTimes returns a snapshot of the last-heard-from time for
// every known peer.
func (m *Membership) LastHeartbeatTimes() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.peers))
	for addr, rec := range m.peers {
		out[addr] = rec.lastHeartbeat
	}
	return out
}

// ConsecutiveFailures returns a snapshot of the consecutive send-failure
// count for every known peer.
func (m *Membership) ConsecutiveFailures() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.peers))
	for addr, rec := range m.peers {
		out[addr] = rec.consecutiveFailures
	}
	return out
}
