package clustermsg

import (
	"bytes"
	"testing"
	"time"
)

func TestRoundTripHeartbeat(t *testing.T) {
	want := &Heartbeat{NodeID: "node-a", Timestamp: time.Now().UTC().Truncate(time.Millisecond)}

	body, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(TagHeartbeat, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hb := got.(*Heartbeat)
	if hb.NodeID != want.NodeID || !hb.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("got %+v, want %+v", hb, want)
	}
}

func TestRoundTripInvalidationWithNilKey(t *testing.T) {
	want := &Invalidation{CacheName: "test", Key: nil, OriginNodeID: "node-a", Version: 3, Timestamp: time.Now().UTC().Truncate(time.Millisecond)}

	body, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(TagInvalidation, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	inv := got.(*Invalidation)
	if inv.Key != nil {
		t.Fatalf("key = %v, want nil", inv.Key)
	}
	if inv.CacheName != want.CacheName || inv.Version != want.Version {
		t.Fatalf("got %+v, want %+v", inv, want)
	}
}

func TestRoundTripReplication(t *testing.T) {
	want := &Replication{
		CacheName:    "test",
		Key:          "k1",
		Value:        []byte("hello"),
		TTL:          time.Minute,
		OriginNodeID: "node-a",
		Version:      7,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}

	body, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(TagReplication, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rep := got.(*Replication)
	if rep.Key != want.Key || string(rep.Value) != string(want.Value) || rep.TTL != want.TTL {
		t.Fatalf("got %+v, want %+v", rep, want)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, err := Decode(Tag("BOGUS"), []byte{}); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body, _ := Encode(&Heartbeat{NodeID: "node-a", Timestamp: time.Now().UTC().Truncate(time.Millisecond)})

	if err := WriteFrame(&buf, TagHeartbeat, body); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := WriteAck(&buf); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	gotTag, gotBody, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if gotTag != TagHeartbeat || string(gotBody) != string(body) {
		t.Fatalf("got tag=%s body=%q", gotTag, gotBody)
	}
	if err := ReadAck(&buf); err != nil {
		t.Fatalf("read ack: %v", err)
	}
}
