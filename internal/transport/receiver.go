package transport

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/distcache/distcache/internal/clustermsg"
)

// Dispatch handles one decoded inbound message. The coordinator supplies
// this; the receiver itself only frames and decodes.
type Dispatch func(tag clustermsg.Tag, msg any)

// ReceiverOptions configures the inbound accept loop.
type ReceiverOptions struct {
	ReadTimeout time.Duration // per-frame read deadline, default 10s
	RateLimit   rate.Limit    // inbound messages/sec across all connections, default 500
	RateBurst   int           // default 50
	PeerRate    rate.Limit    // inbound messages/sec per remote address, default 200
	PeerBurst   int           // default 20
}

func (o ReceiverOptions) withDefaults() ReceiverOptions {
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.RateLimit == 0 {
		o.RateLimit = 500
	}
	if o.RateBurst == 0 {
		o.RateBurst = 50
	}
	if o.PeerRate == 0 {
		o.PeerRate = 200
	}
	if o.PeerBurst == 0 {
		o.PeerBurst = 20
	}
	return o
}

// Receiver accepts inbound peer connections, decodes frames, and hands each
// decoded message to Dispatch before writing back an ACK.
type Receiver struct {
	opts      ReceiverOptions
	dispatch  Dispatch
	limiter   *rate.Limiter
	peerLimit *perPeerLimiter

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closing  bool
}

// NewReceiver builds a Receiver that calls dispatch for every decoded
// message.
func NewReceiver(dispatch Dispatch, opts ReceiverOptions) *Receiver {
	opts = opts.withDefaults()
	return &Receiver{
		opts:      opts,
		dispatch:  dispatch,
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		peerLimit: newPerPeerLimiter(opts.PeerRate, opts.PeerBurst),
	}
}

// Start binds addr and begins accepting connections in the background.
func (r *Receiver) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	r.wg.Add(1)
	go r.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, valid once Start has returned nil.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Receiver) acceptLoop(ln net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			if closing {
				return
			}
			log.Printf("clustermsg: accept failed: %v", err)
			return
		}
		r.wg.Add(1)
		go r.handleConn(conn)
	}
}

// connID correlates every log line for one inbound connection's lifetime,
// the same way the teacher's HTTP request ID middleware correlates one
// request's lines, generated with the same github.com/google/uuid package.
func (r *Receiver) handleConn(conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()

	connID := uuid.New().String()

	for {
		if err := conn.SetDeadline(time.Now().Add(r.opts.ReadTimeout)); err != nil {
			return
		}

		tag, body, err := clustermsg.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("clustermsg[%s]: frame read from %s failed: %v", connID, conn.RemoteAddr(), err)
			}
			return
		}

		if !r.limiter.Allow() {
			// Drop the frame's sender on the floor rather than queue
			// unbounded work; the peer's retry/backoff will resend.
			continue
		}
		if !r.peerLimit.allow(conn.RemoteAddr().String()) {
			// One noisy peer throttles only itself, not the whole node's
			// share of the global limiter.
			continue
		}

		msg, err := clustermsg.Decode(tag, body)
		if err != nil {
			log.Printf("clustermsg[%s]: malformed frame from %s: %v", connID, conn.RemoteAddr(), err)
			continue
		}

		r.dispatch(tag, msg)

		if err := clustermsg.WriteAck(conn); err != nil {
			return
		}
	}
}

// Stop closes the listener and waits up to grace for in-flight connection
// handlers to return.
func (r *Receiver) Stop(grace time.Duration) {
	r.mu.Lock()
	r.closing = true
	ln := r.listener
	r.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
	}
}
