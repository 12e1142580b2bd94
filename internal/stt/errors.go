package stt

import "errors"

// Sentinel errors for the streaming upload. Callers test with errors.Is.
var (
	// ErrInvalidCapacity is returned when a scratch buffer is configured with
	// a non-positive size. It aborts startup.
	ErrInvalidCapacity = errors.New("stt: scratch capacity must be positive")

	// ErrBufferOverflow means carry bytes plus the incoming chunk do not fit the
	// scratch buffers. The chunk size is misconfigured for the buffer size.
	ErrBufferOverflow = errors.New("stt: buffer overflow")

	// ErrTransportWrite covers write errors and short writes from the transport.
	ErrTransportWrite = errors.New("stt: transport write failed")

	// ErrTransportRead is returned when the response read fails or is empty.
	ErrTransportRead = errors.New("stt: transport read failed")

	// ErrResponseParseMiss means the recognized-text field was not in the response.
	ErrResponseParseMiss = errors.New("stt: response field missing")

	// ErrSessionActive is returned by Start while a previous upload is still in flight.
	ErrSessionActive = errors.New("stt: session already active")

	// ErrNotStreaming is returned by Write outside the streaming phase or after Stop.
	ErrNotStreaming = errors.New("stt: session not streaming")
)
