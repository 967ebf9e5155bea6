package transport

import (
	"sync"

	"golang.org/x/time/rate"
)

// perPeerLimiter rate-limits inbound frames per remote address, on top of
// the receiver's global limiter. A single noisy or misbehaving peer only
// throttles itself; it does not eat into every other peer's share of the
// global rate.
//
// Buckets are created lazily per key and never evicted: a long-lived node
// process expects a bounded, slowly-changing peer set (static discovery),
// not an unbounded stream of distinct remote addresses.
type perPeerLimiter struct {
	rps   rate.Limit
	burst int
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

func newPerPeerLimiter(rps rate.Limit, burst int) *perPeerLimiter {
	return &perPeerLimiter{rps: rps, burst: burst, byKey: make(map[string]*rate.Limiter)}
}

// allow reports whether key (the peer's remote address) may send one more
// frame right now.
func (p *perPeerLimiter) allow(key string) bool {
	return p.limiterFor(key).Allow()
}

func (p *perPeerLimiter) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.byKey[key]; ok {
		return l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.byKey[key] = l
	return l
}
