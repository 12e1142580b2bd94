package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// LevelReader wraps a PCM s16le reader and tracks the peak sample seen.
// Reads pass through unchanged.
type LevelReader struct {
	inner io.Reader

	mu      sync.Mutex
	peak    int
	odd     byte
	hasOdd  bool
	samples int64
}

func NewLevelReader(inner io.Reader) *LevelReader {
	return &LevelReader{inner: inner}
}

func (r *LevelReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.observe(p[:n])
	}
	return n, err
}

func (r *LevelReader) observe(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a sample can straddle two reads
	if r.hasOdd {
		r.sample(int16(uint16(r.odd) | uint16(b[0])<<8))
		b = b[1:]
		r.hasOdd = false
	}
	for len(b) >= 2 {
		r.sample(int16(binary.LittleEndian.Uint16(b)))
		b = b[2:]
	}
	if len(b) == 1 {
		r.odd = b[0]
		r.hasOdd = true
	}
}

func (r *LevelReader) sample(s int16) {
	v := int(s)
	if v < 0 {
		v = -v
	}
	if v > r.peak {
		r.peak = v
	}
	r.samples++
}

// Peak returns the largest absolute sample value observed.
func (r *LevelReader) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// Samples returns the number of complete samples observed.
func (r *LevelReader) Samples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// PeakDBFS returns the peak level in dB relative to full scale. Silence is -Inf.
func (r *LevelReader) PeakDBFS() float64 {
	p := r.Peak()
	if p == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(p)/32768.0)
}

// Reset clears the tracked level for a new session.
func (r *LevelReader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peak = 0
	r.samples = 0
	r.hasOdd = false
}
