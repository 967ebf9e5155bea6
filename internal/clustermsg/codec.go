package clustermsg

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/distcache/distcache/internal/cerrors"
)

const maxFrameBytes = 16 * 1024 * 1024 // guards against a corrupt length prefix

// Encode serializes msg to its msgpack body. The caller frames the body
// with the Tag matching msg's concrete type (see WriteFrame).
func Encode(msg any) ([]byte, error) {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, cerrors.NewSerializationError(err)
	}
	return body, nil
}

// Decode deserializes body into the type associated with tag.
func Decode(tag Tag, body []byte) (any, error) {
	var target any
	switch tag {
	case TagHeartbeat:
		target = &Heartbeat{}
	case TagInvalidation:
		target = &Invalidation{}
	case TagReplication:
		target = &Replication{}
	default:
		return nil, cerrors.NewSerializationError(fmt.Errorf("unknown message tag %q", tag))
	}

	if err := msgpack.Unmarshal(body, target); err != nil {
		return nil, cerrors.NewSerializationError(err)
	}
	return target, nil
}

// WriteFrame writes one frame: a length-prefixed tag, then a
// length-prefixed msgpack body. It does not wait for the ACK; callers read
// that separately.
func WriteFrame(w io.Writer, tag Tag, body []byte) error {
	if err := writeLengthPrefixed(w, []byte(tag)); err != nil {
		return err
	}
	return writeLengthPrefixed(w, body)
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) (Tag, []byte, error) {
	tagBytes, err := readLengthPrefixed(r)
	if err != nil {
		return "", nil, err
	}
	body, err := readLengthPrefixed(r)
	if err != nil {
		return "", nil, err
	}
	return Tag(tagBytes), body, nil
}

// WriteAck writes the short ACK string in the reverse direction of a frame.
func WriteAck(w io.Writer) error {
	return writeLengthPrefixed(w, []byte(AckOK))
}

// ReadAck reads and validates the ACK string.
func ReadAck(r io.Reader) error {
	body, err := readLengthPrefixed(r)
	if err != nil {
		return err
	}
	if string(body) != AckOK {
		return fmt.Errorf("unexpected ack payload %q", body)
	}
	return nil
}

func writeLengthPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
