package stt

import (
	"encoding/base64"
	"fmt"
)

// CarryEncoder base64-encodes a byte stream that arrives in arbitrary pieces.
// Up to two trailing bytes are held back between Feed calls so that every
// encode consumes a multiple of three input bytes and padding only ever
// appears in the final Flush.
type CarryEncoder struct {
	raw   []byte // scratch for carry+chunk, fixed capacity
	out   []byte // scratch for encoded output, fixed length
	carry [2]byte
	n     int // bytes held in carry
}

// NewCarryEncoder allocates both scratch buffers with the given capacity.
func NewCarryEncoder(capacity int) (*CarryEncoder, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &CarryEncoder{
		raw: make([]byte, 0, capacity),
		out: make([]byte, capacity),
	}, nil
}

// Capacity returns the scratch buffer size.
func (e *CarryEncoder) Capacity() int {
	return cap(e.raw)
}

// Pending returns how many raw bytes are carried into the next call.
func (e *CarryEncoder) Pending() int {
	return e.n
}

// Feed appends chunk to the carried bytes and encodes the 3-aligned prefix.
// The returned slice aliases internal scratch and is valid until the next
// Feed or Flush. A zero-length chunk is a no-op.
func (e *CarryEncoder) Feed(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	total := e.n + len(chunk)
	aligned := total - total%3
	if total > cap(e.raw) || base64.StdEncoding.EncodedLen(aligned) > len(e.out) {
		return nil, fmt.Errorf("%w: %d carried + %d new bytes, capacity %d",
			ErrBufferOverflow, e.n, len(chunk), cap(e.raw))
	}

	raw := append(e.raw[:0], e.carry[:e.n]...)
	raw = append(raw, chunk...)
	e.n = copy(e.carry[:], raw[aligned:])

	if aligned == 0 {
		return nil, nil
	}
	dst := e.out[:base64.StdEncoding.EncodedLen(aligned)]
	base64.StdEncoding.Encode(dst, raw[:aligned])
	return dst, nil
}

// Flush encodes whatever is still carried, with standard padding, and clears
// the carry. Returns nil when nothing is pending.
func (e *CarryEncoder) Flush() []byte {
	if e.n == 0 {
		return nil
	}
	dst := e.out[:base64.StdEncoding.EncodedLen(e.n)]
	base64.StdEncoding.Encode(dst, e.carry[:e.n])
	e.n = 0
	return dst
}

// Reset drops any carried bytes.
func (e *CarryEncoder) Reset() {
	e.n = 0
}
