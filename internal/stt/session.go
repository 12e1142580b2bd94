package stt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Phase is the lifecycle position of one streaming upload.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseBegin
	PhaseStreaming
	PhaseEnding
	PhaseAwaitingResponse
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBegin:
		return "begin"
	case PhaseStreaming:
		return "streaming"
	case PhaseEnding:
		return "ending"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Transport is the byte-level HTTP connection a session writes through. It is
// borrowed for one request and released at FinishRequest.
type Transport interface {
	// PreRequest opens the request with the given method and headers. The body
	// that follows is written already chunk-framed.
	PreRequest(method string, header http.Header) error
	// Write sends raw bytes and reports how many were written.
	Write(p []byte) (int, error)
	// ReadResponse returns at most maxLen bytes of the response body.
	ReadResponse(maxLen int) ([]byte, error)
	// FinishRequest releases the connection.
	FinishRequest() error
}

// FieldExtractor pulls a string field out of a JSON response body.
type FieldExtractor interface {
	Extract(body []byte, field string) (string, bool)
}

// SessionConfig describes the request envelope and scratch sizing.
type SessionConfig struct {
	Language      string // e.g. "en-US"
	Encoding      string // e.g. "LINEAR16"
	SampleRate    int
	ResponseField string // e.g. "transcript"
	BufferSize    int    // scratch capacity in bytes
}

// envelope is marshalled once with an empty speech field; the trailing `"}`
// is cut to leave the body open for streamed base64.
type envelope struct {
	Language   string `json:"language"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRateHertz"`
	Speech     string `json:"speech"`
}

var closingFragment = []byte(`"}`)

// Session streams one recognition request at a time and is re-armed for the
// next one by Start. Write is called from the audio worker; every other
// method runs on the controlling goroutine, separated from Write by the
// pipeline's stop/wait barrier. Only the phase and stop flag are atomic.
type Session struct {
	cfg     SessionConfig
	enc     *CarryEncoder
	extract FieldExtractor
	opening []byte
	frame   []byte // scratch for one framed segment
	logger  *slog.Logger

	phase atomic.Int32
	stop  atomic.Bool

	transport Transport
	total     int64
	writeErr  error
	err       error
	response  string
}

// NewSession allocates the scratch buffers. A non-positive BufferSize is a
// startup error.
func NewSession(cfg SessionConfig, extract FieldExtractor, logger *slog.Logger) (*Session, error) {
	enc, err := NewCarryEncoder(cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	if extract == nil {
		return nil, fmt.Errorf("stt: field extractor required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opening, err := json.Marshal(envelope{
		Language:   cfg.Language,
		Encoding:   cfg.Encoding,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	opening = opening[:len(opening)-len(closingFragment)]

	return &Session{
		cfg:     cfg,
		enc:     enc,
		extract: extract,
		opening: opening,
		frame:   make([]byte, 0, len(enc.out)+frameOverhead),
		logger:  logger,
	}, nil
}

// Phase returns the current phase. Safe from any goroutine.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Session) setPhase(p Phase) {
	old := Phase(s.phase.Swap(int32(p)))
	if old != p {
		s.logger.Debug("stt phase", "from", old, "to", p)
	}
}

// Response returns the last recognized text. It survives failed sessions:
// after a Failed phase it still holds the previous result.
func (s *Session) Response() string {
	return s.response
}

// BytesWritten is the number of raw audio bytes accepted since the last Start.
func (s *Session) BytesWritten() int64 {
	return s.total
}

// Err returns the error that ended the last session, if any.
func (s *Session) Err() error {
	return s.err
}

// Stopped reports whether Stop has been signalled for the current session.
func (s *Session) Stopped() bool {
	return s.stop.Load()
}

// Start opens a new request on t and writes the envelope opening. It is
// accepted from Idle, Complete or Failed. Re-arming from Complete or Failed
// passes through Idle implicitly: the counter, carry and stop flag are reset
// here and the phase moves straight to Begin. The last response text is kept.
func (s *Session) Start(t Transport) error {
	switch s.Phase() {
	case PhaseIdle, PhaseComplete, PhaseFailed:
	default:
		return fmt.Errorf("%w: phase %s", ErrSessionActive, s.Phase())
	}

	s.transport = t
	s.total = 0
	s.writeErr = nil
	s.err = nil
	s.enc.Reset()
	s.stop.Store(false)
	s.setPhase(PhaseBegin)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if err := t.PreRequest(http.MethodPost, header); err != nil {
		s.release()
		return s.fail(fmt.Errorf("pre-request: %w", err))
	}
	if err := s.writeFrame(s.opening); err != nil {
		s.release()
		return s.fail(fmt.Errorf("write opening: %w", err))
	}

	s.setPhase(PhaseStreaming)
	return nil
}

// Write is the per-chunk audio callback. It returns the number of raw bytes
// consumed; an error tells the audio worker to stop pumping.
func (s *Session) Write(chunk []byte) (int, error) {
	if s.Phase() != PhaseStreaming || s.stop.Load() {
		return 0, ErrNotStreaming
	}
	if len(chunk) == 0 {
		return 0, nil
	}

	encoded, err := s.enc.Feed(chunk)
	if err != nil {
		s.err = err
		s.setPhase(PhaseFailed)
		return 0, err
	}
	if len(encoded) > 0 {
		if err := s.writeFrame(encoded); err != nil {
			s.writeErr = err
			return 0, err
		}
	}

	s.total += int64(len(chunk))
	return len(chunk), nil
}

// Stop signals that no more audio will be written. Before any Start it is a
// no-op. It does not interrupt a write already in progress.
func (s *Session) Stop() {
	if s.Phase() == PhaseIdle {
		return
	}
	s.stop.Store(true)
}

// Finish runs the ending and response phases after the audio worker has
// stopped calling Write. A write failure during streaming skips the closing
// writes but the response is still read.
func (s *Session) Finish() error {
	defer s.release()

	switch s.Phase() {
	case PhaseStreaming:
	case PhaseFailed:
		return s.err
	default:
		return fmt.Errorf("stt: finish in phase %s", s.Phase())
	}

	s.stop.Store(true)
	s.setPhase(PhaseEnding)
	if s.writeErr == nil {
		if err := s.writeEnding(); err != nil {
			s.writeErr = err
		}
	}
	if s.writeErr != nil {
		s.logger.Warn("upload truncated, reading response anyway",
			"bytes", s.total, "err", s.writeErr)
	}

	s.setPhase(PhaseAwaitingResponse)
	body, err := s.transport.ReadResponse(s.enc.Capacity())
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrTransportRead, err))
	}
	if len(body) == 0 {
		return s.fail(fmt.Errorf("%w: empty response", ErrTransportRead))
	}
	if len(body) > s.enc.Capacity() {
		body = body[:s.enc.Capacity()]
	}
	s.logger.Debug("stt response", "len", len(body))

	text, ok := s.extract.Extract(body, s.cfg.ResponseField)
	if !ok || text == "" {
		return s.fail(fmt.Errorf("%w: %q", ErrResponseParseMiss, s.cfg.ResponseField))
	}

	s.response = text
	s.setPhase(PhaseComplete)
	return nil
}

// Abort abandons the request in flight without writing the closing chunks.
func (s *Session) Abort() {
	switch s.Phase() {
	case PhaseIdle, PhaseComplete, PhaseFailed:
		return
	}
	s.stop.Store(true)
	s.err = fmt.Errorf("stt: session aborted in phase %s", s.Phase())
	s.setPhase(PhaseFailed)
	s.release()
}

func (s *Session) writeEnding() error {
	if tail := s.enc.Flush(); len(tail) > 0 {
		if err := s.writeFrame(tail); err != nil {
			return fmt.Errorf("write flush: %w", err)
		}
	}
	if err := s.writeFrame(closingFragment); err != nil {
		return fmt.Errorf("write closing: %w", err)
	}
	if err := s.writeAll(Terminal()); err != nil {
		return fmt.Errorf("write terminal: %w", err)
	}
	return nil
}

func (s *Session) writeFrame(payload []byte) error {
	s.frame = AppendFrame(s.frame[:0], payload)
	return s.writeAll(s.frame)
}

func (s *Session) writeAll(p []byte) error {
	n, err := s.transport.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportWrite, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrTransportWrite, n, len(p))
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.err = err
	s.setPhase(PhaseFailed)
	return err
}

func (s *Session) release() {
	if s.transport == nil {
		return
	}
	if err := s.transport.FinishRequest(); err != nil {
		s.logger.Debug("finish request", "err", err)
	}
	s.transport = nil
}
