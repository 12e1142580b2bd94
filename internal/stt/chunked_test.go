package stt

import (
	"bytes"
	"strconv"
	"testing"
)

func TestFrameLayout(t *testing.T) {
	const capacity = 1024
	payload := bytes.Repeat([]byte{'a'}, capacity)

	for n := 0; n <= capacity; n++ {
		framed := Frame(payload[:n])
		if !bytes.HasSuffix(framed, []byte("\r\n")) {
			t.Fatalf("Frame(%d) does not end with CRLF", n)
		}
		i := bytes.Index(framed, []byte("\r\n"))
		prefix := string(framed[:i])
		size, err := strconv.ParseInt(prefix, 16, 64)
		if err != nil {
			t.Fatalf("Frame(%d) prefix %q: %v", n, prefix, err)
		}
		if int(size) != n {
			t.Fatalf("Frame(%d) prefix = %d", n, size)
		}
		if len(prefix) > 1 && prefix[0] == '0' {
			t.Fatalf("Frame(%d) prefix %q has leading zero", n, prefix)
		}
		if got := len(framed); got != len(prefix)+2+n+2 {
			t.Fatalf("Frame(%d) length = %d", n, got)
		}
	}
}

func TestFrameLowercaseHex(t *testing.T) {
	got := string(Frame(make([]byte, 0xab)))
	if got[:4] != "ab\r\n" {
		t.Errorf("prefix = %q, want %q", got[:4], "ab\r\n")
	}
}

func TestTerminal(t *testing.T) {
	if got := string(Terminal()); got != "0\r\n\r\n" {
		t.Errorf("Terminal() = %q", got)
	}
	if got := string(Frame(nil)); got != "0\r\n\r\n" {
		t.Errorf("Frame(nil) = %q, want the terminal chunk", got)
	}
}
