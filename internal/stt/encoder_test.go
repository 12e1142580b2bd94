package stt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestNewCarryEncoderRejectsCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := NewCarryEncoder(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewCarryEncoder(%d) err = %v, want ErrInvalidCapacity", c, err)
		}
	}
}

func TestCarryEncoderMatchesOneShot(t *testing.T) {
	input := make([]byte, 257)
	for i := range input {
		input[i] = byte(i * 7)
	}

	tests := []struct {
		name  string
		sizes []int
	}{
		{"four then two", []int{4, 2}},
		{"single bytes", []int{1, 1, 1, 1, 1}},
		{"aligned", []int{3, 6, 9}},
		{"with empty", []int{5, 0, 5, 0}},
		{"uneven", []int{2, 5, 7, 11, 13, 1}},
		{"one chunk", []int{100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewCarryEncoder(1024)
			if err != nil {
				t.Fatalf("NewCarryEncoder: %v", err)
			}

			var got bytes.Buffer
			off := 0
			for _, n := range tt.sizes {
				out, err := enc.Feed(input[off : off+n])
				if err != nil {
					t.Fatalf("Feed(%d): %v", n, err)
				}
				if len(out)%4 != 0 {
					t.Fatalf("Feed(%d) produced %d chars, want multiple of 4", n, len(out))
				}
				if bytes.ContainsRune(out, '=') {
					t.Fatalf("Feed(%d) produced padding mid-stream: %q", n, out)
				}
				got.Write(out)
				off += n
				if enc.Pending() >= 3 {
					t.Fatalf("Pending() = %d, want < 3", enc.Pending())
				}
			}
			got.Write(enc.Flush())

			want := base64.StdEncoding.EncodeToString(input[:off])
			if got.String() != want {
				t.Errorf("encoded = %q, want %q", got.String(), want)
			}
			if enc.Pending() != 0 {
				t.Errorf("Pending() after Flush = %d, want 0", enc.Pending())
			}
		})
	}
}

func TestCarryEncoderFlushEmpty(t *testing.T) {
	enc, _ := NewCarryEncoder(16)
	if out := enc.Flush(); out != nil {
		t.Errorf("Flush() = %q, want nil", out)
	}
	out, err := enc.Feed(nil)
	if err != nil || out != nil {
		t.Errorf("Feed(nil) = %q, %v, want nil, nil", out, err)
	}
}

func TestCarryEncoderOverflow(t *testing.T) {
	enc, _ := NewCarryEncoder(6144)

	// Two thirds of the capacity plus the worst-case carry still fits.
	if _, err := enc.Feed(make([]byte, 2)); err != nil {
		t.Fatalf("Feed(2): %v", err)
	}
	if _, err := enc.Feed(make([]byte, 4096)); err != nil {
		t.Fatalf("Feed(4096): %v", err)
	}

	// The encoded form of a full-capacity chunk cannot fit the output scratch.
	if _, err := enc.Feed(make([]byte, 6144)); !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("Feed(6144) err = %v, want ErrBufferOverflow", err)
	}

	small, _ := NewCarryEncoder(8)
	if _, err := small.Feed(make([]byte, 9)); !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("Feed(9) on capacity 8 err = %v, want ErrBufferOverflow", err)
	}
}
