package stt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/christian-lee/talkback/internal/jsonutil"
)

// fakeTransport records every write and serves a canned response.
type fakeTransport struct {
	method   string
	header   http.Header
	writes   [][]byte
	response []byte
	readErr  error
	failAt   int // fail the nth write (1-based), 0 = never
	short    bool
	finished int
	maxLen   int
}

func (f *fakeTransport) PreRequest(method string, header http.Header) error {
	f.method = method
	f.header = header.Clone()
	return nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.failAt > 0 && len(f.writes)+1 == f.failAt {
		f.writes = append(f.writes, nil)
		if f.short {
			return len(p) / 2, nil
		}
		return 0, io.ErrClosedPipe
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) ReadResponse(maxLen int) ([]byte, error) {
	f.maxLen = maxLen
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.response, nil
}

func (f *fakeTransport) FinishRequest() error {
	f.finished++
	return nil
}

func (f *fakeTransport) body() []byte {
	return bytes.Join(f.writes, nil)
}

// decodeChunks splits a chunked body into its segment payloads and reports
// whether the terminal chunk was seen.
func decodeChunks(t *testing.T, body []byte) ([][]byte, bool) {
	t.Helper()
	var segs [][]byte
	for len(body) > 0 {
		i := bytes.Index(body, []byte("\r\n"))
		if i < 0 {
			t.Fatalf("missing CRLF after size in %q", body)
		}
		n, err := strconv.ParseInt(string(body[:i]), 16, 64)
		if err != nil {
			t.Fatalf("bad chunk size %q: %v", body[:i], err)
		}
		body = body[i+2:]
		if n == 0 {
			if string(body) != "\r\n" {
				t.Fatalf("terminal chunk followed by %q", body)
			}
			return segs, true
		}
		if int(n)+2 > len(body) || string(body[n:n+2]) != "\r\n" {
			t.Fatalf("chunk of %d bytes not CRLF terminated", n)
		}
		segs = append(segs, body[:n])
		body = body[n+2:]
	}
	return segs, false
}

func newTestSession(t *testing.T, bufferSize int) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		Language:      "en-US",
		Encoding:      "LINEAR16",
		SampleRate:    16000,
		ResponseField: "transcript",
		BufferSize:    bufferSize,
	}, jsonutil.Extractor{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestNewSessionRejectsCapacity(t *testing.T) {
	_, err := NewSession(SessionConfig{BufferSize: 0}, jsonutil.Extractor{}, nil)
	if !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("err = %v, want ErrInvalidCapacity", err)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	s := newTestSession(t, 64)
	s.Stop()
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %s, want idle", s.Phase())
	}
	if s.Stopped() {
		t.Error("Stopped() = true before any Start")
	}
}

func TestScriptedSession(t *testing.T) {
	s := newTestSession(t, 64)
	tr := &fakeTransport{response: []byte(`{"transcript":"hello"}`)}

	if err := s.Start(tr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Phase() != PhaseStreaming {
		t.Fatalf("phase after Start = %s, want streaming", s.Phase())
	}
	if tr.method != http.MethodPost || tr.header.Get("Content-Type") != "application/json" {
		t.Errorf("pre-request = %s %v", tr.method, tr.header)
	}

	audio := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for _, chunk := range [][]byte{audio[:5], audio[5:]} {
		n, err := s.Write(chunk)
		if err != nil || n != len(chunk) {
			t.Fatalf("Write = %d, %v, want %d, nil", n, err, len(chunk))
		}
	}
	s.Stop()
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	segs, terminated := decodeChunks(t, tr.body())
	if !terminated {
		t.Fatal("body missing terminal chunk")
	}
	// opening, three audio segments, closing quote+brace
	if len(segs) != 5 {
		t.Fatalf("got %d segments, want 5: %q", len(segs), segs)
	}
	if want := `{"language":"en-US","encoding":"LINEAR16","sampleRateHertz":16000,"speech":"`; string(segs[0]) != want {
		t.Errorf("opening = %q, want %q", segs[0], want)
	}
	if string(segs[4]) != `"}` {
		t.Errorf("closing = %q", segs[4])
	}

	var speech []byte
	for i, want := range []int{4, 8, 4} {
		if len(segs[1+i]) != want {
			t.Errorf("audio segment %d = %d chars, want %d", i, len(segs[1+i]), want)
		}
		speech = append(speech, segs[1+i]...)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(speech))
	if err != nil {
		t.Fatalf("decode speech: %v", err)
	}
	if !bytes.Equal(decoded, audio) {
		t.Errorf("decoded = %v, want %v", decoded, audio)
	}

	var doc struct {
		Language   string `json:"language"`
		SampleRate int    `json:"sampleRateHertz"`
		Speech     string `json:"speech"`
	}
	if err := json.Unmarshal(bytes.Join(segs, nil), &doc); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if doc.Speech != string(speech) || doc.SampleRate != 16000 {
		t.Errorf("doc = %+v", doc)
	}

	if s.BytesWritten() != int64(len(audio)) {
		t.Errorf("BytesWritten = %d, want %d", s.BytesWritten(), len(audio))
	}
	if s.Phase() != PhaseComplete || s.Response() != "hello" {
		t.Errorf("phase = %s, response = %q", s.Phase(), s.Response())
	}
	if tr.finished != 1 {
		t.Errorf("FinishRequest calls = %d, want 1", tr.finished)
	}
	if tr.maxLen != 64 {
		t.Errorf("read bound = %d, want buffer size 64", tr.maxLen)
	}
}

func TestBytesWrittenCountsRawInput(t *testing.T) {
	s := newTestSession(t, 8192)
	tr := &fakeTransport{response: []byte(`{"transcript":"x"}`)}
	if err := s.Start(tr); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var want int64
	for _, n := range []int{320, 0, 1, 3200, 17} {
		if _, err := s.Write(make([]byte, n)); err != nil {
			t.Fatalf("Write(%d): %v", n, err)
		}
		want += int64(n)
	}
	s.Stop()
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if s.BytesWritten() != want {
		t.Errorf("BytesWritten = %d, want %d", s.BytesWritten(), want)
	}
}

func TestFailedResponseKeepsStaleText(t *testing.T) {
	s := newTestSession(t, 256)

	run := func(resp string, readErr error) error {
		tr := &fakeTransport{response: []byte(resp), readErr: readErr}
		if err := s.Start(tr); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := s.Write([]byte("abc")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		s.Stop()
		return s.Finish()
	}

	if err := run(`{"transcript":"first"}`, nil); err != nil {
		t.Fatalf("first session: %v", err)
	}

	tests := []struct {
		name    string
		resp    string
		readErr error
		wantErr error
	}{
		{"malformed", `{"transcript":`, nil, ErrResponseParseMiss},
		{"field missing", `{"error":"quota"}`, nil, ErrResponseParseMiss},
		{"empty body", ``, nil, ErrTransportRead},
		{"read error", ``, io.ErrUnexpectedEOF, ErrTransportRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.resp, tt.readErr)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Finish err = %v, want %v", err, tt.wantErr)
			}
			if s.Phase() != PhaseFailed {
				t.Errorf("phase = %s, want failed", s.Phase())
			}
			if s.Response() != "first" {
				t.Errorf("response = %q, want stale %q", s.Response(), "first")
			}
		})
	}
}

func TestWriteFailureStillReadsResponse(t *testing.T) {
	for _, short := range []bool{false, true} {
		t.Run(fmt.Sprintf("short=%v", short), func(t *testing.T) {
			s := newTestSession(t, 256)
			// write 1 is the opening, write 2 the first audio segment
			tr := &fakeTransport{failAt: 2, short: short, response: []byte(`{"transcript":"partial"}`)}
			if err := s.Start(tr); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if _, err := s.Write([]byte("abcdef")); !errors.Is(err, ErrTransportWrite) {
				t.Fatalf("Write err = %v, want ErrTransportWrite", err)
			}
			if err := s.Finish(); err != nil {
				t.Fatalf("Finish: %v", err)
			}
			if s.Response() != "partial" {
				t.Errorf("response = %q", s.Response())
			}
			if len(tr.writes) != 2 {
				t.Errorf("writes = %d, want closing writes skipped", len(tr.writes))
			}
		})
	}
}

func TestOverflowFailsSession(t *testing.T) {
	s := newTestSession(t, 8)
	tr := &fakeTransport{response: []byte(`{"transcript":"never"}`)}
	if err := s.Start(tr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Write(make([]byte, 9)); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("Write err = %v, want ErrBufferOverflow", err)
	}
	if s.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want failed", s.Phase())
	}
	if _, err := s.Write([]byte{1}); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Write after overflow err = %v, want ErrNotStreaming", err)
	}
	if err := s.Finish(); !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("Finish err = %v, want ErrBufferOverflow", err)
	}
	if tr.maxLen != 0 {
		t.Error("response read after overflow")
	}
	if tr.finished != 1 {
		t.Errorf("FinishRequest calls = %d, want 1", tr.finished)
	}
}

func TestWriteAfterStopRejected(t *testing.T) {
	s := newTestSession(t, 64)
	if err := s.Start(&fakeTransport{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	if _, err := s.Write([]byte{1, 2, 3}); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("err = %v, want ErrNotStreaming", err)
	}
	if s.BytesWritten() != 0 {
		t.Errorf("BytesWritten = %d, want 0", s.BytesWritten())
	}
}

func TestStartWhileActive(t *testing.T) {
	s := newTestSession(t, 64)
	if err := s.Start(&fakeTransport{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(&fakeTransport{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start err = %v, want ErrSessionActive", err)
	}
}

func TestAbortReleasesTransport(t *testing.T) {
	s := newTestSession(t, 64)
	tr := &fakeTransport{}
	if err := s.Start(tr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Write([]byte("ab")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Abort()
	if s.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want failed", s.Phase())
	}
	if tr.finished != 1 {
		t.Errorf("FinishRequest calls = %d, want 1", tr.finished)
	}
	if _, terminated := decodeChunks(t, tr.body()); terminated {
		t.Error("aborted body must not be terminated")
	}

	// re-armed for the next press
	next := &fakeTransport{response: []byte(`{"transcript":"again"}`)}
	if err := s.Start(next); err != nil {
		t.Fatalf("Start after abort: %v", err)
	}
	if s.BytesWritten() != 0 {
		t.Errorf("BytesWritten after re-arm = %d", s.BytesWritten())
	}
}

func TestRestartResetsState(t *testing.T) {
	s := newTestSession(t, 256)

	tr := &fakeTransport{response: []byte(`{"transcript":"first"}`)}
	if err := s.Start(tr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Stop()
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	for _, from := range []Phase{PhaseComplete, PhaseFailed} {
		if s.Phase() != from {
			t.Fatalf("phase = %s, want %s", s.Phase(), from)
		}
		next := &fakeTransport{readErr: io.ErrUnexpectedEOF}
		if err := s.Start(next); err != nil {
			t.Fatalf("Start from %s: %v", from, err)
		}
		if s.Phase() != PhaseStreaming || s.Stopped() || s.BytesWritten() != 0 || s.Err() != nil {
			t.Errorf("after Start from %s: phase=%s stopped=%v bytes=%d err=%v",
				from, s.Phase(), s.Stopped(), s.BytesWritten(), s.Err())
		}
		if s.Response() != "first" {
			t.Errorf("response = %q, want previous text kept", s.Response())
		}
		// carry from the previous session must not leak into this body
		segs, _ := decodeChunks(t, next.body())
		if len(segs) != 1 || !bytes.HasSuffix(segs[0], []byte(`"speech":"`)) {
			t.Errorf("segments after re-arm = %q", segs)
		}
		s.Stop()
		_ = s.Finish()
	}
}
