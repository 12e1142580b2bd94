package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"
	"time"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func TestLevelReaderPeak(t *testing.T) {
	data := pcm(10, -300, 200, -32768, 5)
	// one byte per read splits every sample across two reads
	r := NewLevelReader(iotest.OneByteReader(bytes.NewReader(data)))
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("reader altered the stream")
	}
	if r.Peak() != 32768 {
		t.Errorf("Peak = %d, want 32768", r.Peak())
	}
	if r.Samples() != 5 {
		t.Errorf("Samples = %d, want 5", r.Samples())
	}
	if db := r.PeakDBFS(); db != 0 {
		t.Errorf("PeakDBFS = %v, want 0", db)
	}
}

func TestLevelReaderSilence(t *testing.T) {
	r := NewLevelReader(bytes.NewReader(pcm(0, 0, 0)))
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !math.IsInf(r.PeakDBFS(), -1) {
		t.Errorf("PeakDBFS = %v, want -Inf", r.PeakDBFS())
	}

	r = NewLevelReader(bytes.NewReader(pcm(16384)))
	io.ReadAll(r)
	if db := r.PeakDBFS(); math.Abs(db-(-6.02)) > 0.01 {
		t.Errorf("PeakDBFS = %v, want about -6.02", db)
	}
	r.Reset()
	if r.Peak() != 0 || r.Samples() != 0 {
		t.Errorf("after Reset peak=%d samples=%d", r.Peak(), r.Samples())
	}
}

func TestCapturerArgs(t *testing.T) {
	c := NewCapturer("alsa", "default", 16000, 1)
	got := c.Args()
	want := []string{"-f", "alsa", "-i", "default", "-vn", "-acodec", "pcm_s16le",
		"-ar", "16000", "-ac", "1", "-f", "s16le", "-loglevel", "error", "-"}
	if len(got) != len(want) {
		t.Fatalf("Args = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	c.Format = ""
	if got := c.Args(); got[0] != "-i" {
		t.Errorf("Args without format starts with %q", got[0])
	}
}

func TestCapturerMissingBinary(t *testing.T) {
	c := NewCapturer("", "x", 16000, 1)
	c.Binary = "/nonexistent/ffmpeg-for-test"
	if _, err := c.Start(t.Context()); err == nil {
		t.Error("Start with missing binary succeeded")
	}
}

// fakeRecorder writes a script that ignores its arguments and streams zeros.
func fakeRecorder(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexec cat /dev/zero\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCaptureCancelThenClose(t *testing.T) {
	c := NewCapturer("", "x", 16000, 1)
	c.Binary = fakeRecorder(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	buf := make([]byte, 3200)
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}

	// cancelling ends the stream but leaves reaping to Close
	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, stream)
		done <- err
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
	cs := stream.(*captureStream)
	if cs.cmd.ProcessState != nil {
		t.Error("process reaped before Close")
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if cs.cmd.ProcessState == nil {
		t.Error("process not reaped after Close")
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
