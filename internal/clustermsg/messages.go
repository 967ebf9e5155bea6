// Package clustermsg defines the tagged message variants exchanged between
// peer nodes (Heartbeat, Invalidation, Replication) and their wire
// encoding.
//
// The wire format is a self-describing binary encoding
// (github.com/vmihailenco/msgpack/v5), framed as: a length-prefixed tag
// string identifying the variant, the length-prefixed msgpack body, and —
// in the opposite direction — a length-prefixed short ACK string, each
// length a 4-byte big-endian prefix. This mirrors the
// teacher's own noted upgrade path from JSON to msgpack
// (pkg/utils/encoding.go), taken the rest of the way here because the
// cluster wire protocol specifically needs a compact binary format.
package clustermsg

import "time"

// Tag identifies the message variant on the wire.
type Tag string

const (
	TagHeartbeat    Tag = "HEARTBEAT"
	TagInvalidation Tag = "INVALIDATION"
	TagReplication  Tag = "REPLICATION"
)

// AckOK is the short ACK string sent back after a frame is processed.
const AckOK = "ACK"

// Heartbeat is a periodic liveness message from a node to its known peers.
type Heartbeat struct {
	NodeID    string    `msgpack:"node_id"`
	Timestamp time.Time `msgpack:"timestamp"`
}

// Invalidation asks a peer to drop cacheName/Key (or every key in
// cacheName, when Key is nil).
type Invalidation struct {
	CacheName    string    `msgpack:"cache_name"`
	Key          *string   `msgpack:"key"`
	OriginNodeID string    `msgpack:"origin_node_id"`
	Version      uint64    `msgpack:"version"`
	Timestamp    time.Time `msgpack:"timestamp"`
}

// Replication carries a new value for cacheName/Key to peers.
type Replication struct {
	CacheName    string        `msgpack:"cache_name"`
	Key          string        `msgpack:"key"`
	Value        []byte        `msgpack:"value"`
	TTL          time.Duration `msgpack:"ttl"`
	OriginNodeID string        `msgpack:"origin_node_id"`
	Version      uint64        `msgpack:"version"`
	Timestamp    time.Time     `msgpack:"timestamp"`
}

// OriginNodeIDOf returns the sender's node ID, used uniformly by loop
// suppression regardless of message variant.
func OriginNodeIDOf(tag Tag, msg any) (string, bool) {
	switch tag {
	case TagHeartbeat:
		if m, ok := msg.(*Heartbeat); ok {
			return m.NodeID, true
		}
	case TagInvalidation:
		if m, ok := msg.(*Invalidation); ok {
			return m.OriginNodeID, true
		}
	case TagReplication:
		if m, ok := msg.(*Replication); ok {
			return m.OriginNodeID, true
		}
	}
	return "", false
}
