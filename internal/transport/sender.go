// Package transport implements the peer-to-peer wire layer: outbound
// connections with retry and circuit breaking (Sender), and the inbound
// accept loop that dispatches decoded messages to a coordinator
// (Receiver).
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/distcache/distcache/internal/cerrors"
	"github.com/distcache/distcache/internal/clustermsg"
)

// SenderOptions configures a Sender's timeouts, retry, and circuit breaker
// behavior. Zero-value fields are replaced with the documented defaults.
type SenderOptions struct {
	ConnectTimeout time.Duration // default 5s, spec's connect <= 5s
	ReadTimeout    time.Duration // default 10s, spec's read <= 10s
	MaxAttempts    int           // default 3
	BackoffBase    time.Duration // default 100ms, doubled per attempt

	// Circuit breaker: opens when failureRatio >= FailureRatio over a
	// window of at least MinRequests calls; stays open for OpenDuration,
	// then admits one half-open probe.
	FailureRatio  float64       // default 0.5
	MinRequests   uint32        // default 4
	OpenDuration  time.Duration // default 30s
}

func (o SenderOptions) withDefaults() SenderOptions {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = 100 * time.Millisecond
	}
	if o.FailureRatio == 0 {
		o.FailureRatio = 0.5
	}
	if o.MinRequests == 0 {
		o.MinRequests = 4
	}
	if o.OpenDuration == 0 {
		o.OpenDuration = 30 * time.Second
	}
	return o
}

// peerConn holds the one logical outbound connection to a destination,
// guarded by its own mutex so sends to a single peer are serialized (per
// spec §5, "sending on a single connection is serialized per destination").
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// Sender opens, reuses, and tears down outbound connections to peers, one
// circuit breaker and retry policy per destination.
type Sender struct {
	nodeID string
	opts   SenderOptions

	mu       sync.Mutex
	conns    map[string]*peerConn
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSender builds a Sender for nodeID. The Sender stores nodeID but does
// not write it to the wire; origin node IDs travel on the messages
// themselves.
func NewSender(nodeID string, opts SenderOptions) *Sender {
	return &Sender{
		nodeID:   nodeID,
		opts:     opts.withDefaults(),
		conns:    make(map[string]*peerConn),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SendHeartbeat serializes and sends a Heartbeat to peer, returning once the
// ACK is read or an error occurs.
func (s *Sender) SendHeartbeat(peer string, msg *clustermsg.Heartbeat) error {
	return s.send(peer, clustermsg.TagHeartbeat, msg)
}

// SendInvalidation serializes and sends an Invalidation to peer.
func (s *Sender) SendInvalidation(peer string, msg *clustermsg.Invalidation) error {
	return s.send(peer, clustermsg.TagInvalidation, msg)
}

// SendReplication serializes and sends a Replication to peer.
func (s *Sender) SendReplication(peer string, msg *clustermsg.Replication) error {
	return s.send(peer, clustermsg.TagReplication, msg)
}

// Close tears down every outbound connection this sender holds open.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.conns {
		pc.mu.Lock()
		if pc.conn != nil {
			_ = pc.conn.Close()
			pc.conn = nil
		}
		pc.mu.Unlock()
	}
}

func (s *Sender) send(peer string, tag clustermsg.Tag, msg any) error {
	body, err := clustermsg.Encode(msg)
	if err != nil {
		return err // SerializationError, never retried
	}

	breaker := s.breakerFor(peer)
	_, err = breaker.Execute(func() (any, error) {
		return nil, s.sendWithRetry(peer, tag, body)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return cerrors.NewClusterCommunicationError(peer, cerrors.ErrCircuitOpen)
	}
	if err != nil {
		return cerrors.NewClusterCommunicationError(peer, err)
	}
	return nil
}

func (s *Sender) breakerFor(peer string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[peer]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "peer:" + peer,
		MaxRequests: 1,
		Interval:    0, // never reset counts in the closed state on a timer; only on state change
		Timeout:     s.opts.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.opts.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.opts.FailureRatio
		},
	})
	s.breakers[peer] = cb
	return cb
}

// sendWithRetry retries every sendOnce failure with exponential backoff,
// up to MaxAttempts. Encode failures never reach this path, since send
// returns them first; an unexpected ACK payload from the peer is not told
// apart from a transport failure and is retried as well.
func (s *Sender) sendWithRetry(peer string, tag clustermsg.Tag, body []byte) error {
	backoff := s.opts.BackoffBase
	var lastErr error

	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		if err := s.sendOnce(peer, tag, body); err != nil {
			lastErr = err
			if attempt < s.opts.MaxAttempts-1 {
				time.Sleep(backoff)
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (s *Sender) connFor(peer string) *peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pc, ok := s.conns[peer]; ok {
		return pc
	}
	pc := &peerConn{}
	s.conns[peer] = pc
	return pc
}

// sendOnce performs one connect-if-needed, write-frame, read-ack attempt.
// Any failure closes and discards the connection so the next attempt
// redials.
func (s *Sender) sendOnce(peer string, tag clustermsg.Tag, body []byte) error {
	pc := s.connFor(peer)
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn == nil {
		conn, err := net.DialTimeout("tcp", peer, s.opts.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("dial %s: %w", peer, err)
		}
		pc.conn = conn
	}

	deadline := time.Now().Add(s.opts.ReadTimeout)
	if err := pc.conn.SetDeadline(deadline); err != nil {
		s.discardLocked(pc)
		return err
	}

	if err := clustermsg.WriteFrame(pc.conn, tag, body); err != nil {
		s.discardLocked(pc)
		return fmt.Errorf("write to %s: %w", peer, err)
	}
	if err := clustermsg.ReadAck(pc.conn); err != nil {
		s.discardLocked(pc)
		return fmt.Errorf("read ack from %s: %w", peer, err)
	}
	return nil
}

// discardLocked closes and forgets a broken connection. Caller holds pc.mu.
func (s *Sender) discardLocked(pc *peerConn) {
	if pc.conn != nil {
		_ = pc.conn.Close()
		pc.conn = nil
	}
}
