package transport

import "testing"

func TestPerPeerLimiterIsolatesKeys(t *testing.T) {
	l := newPerPeerLimiter(1, 1)

	if !l.allow("peer-a") {
		t.Fatal("expected first request from peer-a to be allowed")
	}
	if l.allow("peer-a") {
		t.Fatal("expected second immediate request from peer-a to be throttled")
	}
	if !l.allow("peer-b") {
		t.Fatal("peer-b should have its own bucket, unaffected by peer-a")
	}
}
