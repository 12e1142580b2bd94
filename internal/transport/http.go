// Package transport is the byte-level HTTP/1.1 connection the recognizer
// session streams its pre-framed chunked body through.
package transport

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultUserAgent      = "talkback/1.0"
)

var errNotConnected = errors.New("transport: no request in progress")

// Config describes the recognition endpoint.
type Config struct {
	URL            string
	APIKey         string // appended as ?key=
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration // per write; defaults to ReadTimeout
	UserAgent      string
}

// HTTP writes one request per PreRequest/FinishRequest pair over a fresh
// connection. The caller supplies the body already chunk-framed.
type HTTP struct {
	cfg    Config
	target *url.URL
	logger *slog.Logger

	mu     sync.Mutex // guards conn against Interrupt
	conn   net.Conn
	status int
}

func New(cfg Config) (*HTTP, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", cfg.URL)
	}
	if cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = cfg.ReadTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &HTTP{cfg: cfg, target: u, logger: slog.Default().With("host", u.Host)}, nil
}

func (h *HTTP) address() string {
	if h.target.Port() != "" {
		return h.target.Host
	}
	if h.target.Scheme == "https" {
		return net.JoinHostPort(h.target.Hostname(), "443")
	}
	return net.JoinHostPort(h.target.Hostname(), "80")
}

func (h *HTTP) dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: h.cfg.ConnectTimeout}
	if h.target.Scheme == "https" {
		return tls.DialWithDialer(dialer, "tcp", h.address(), &tls.Config{ServerName: h.target.Hostname()})
	}
	return dialer.Dial("tcp", h.address())
}

// PreRequest connects and writes the request line and headers. The body is
// always sent with Transfer-Encoding: chunked.
func (h *HTTP) PreRequest(method string, header http.Header) error {
	if h.current() != nil {
		_ = h.FinishRequest()
	}
	if !httpguts.ValidHostHeader(h.target.Host) {
		return fmt.Errorf("invalid host %q", h.target.Host)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", method, h.target.RequestURI())
	fmt.Fprintf(&buf, "Host: %s\r\n", h.target.Host)
	fmt.Fprintf(&buf, "User-Agent: %s\r\n", h.cfg.UserAgent)
	buf.WriteString("Transfer-Encoding: chunked\r\n")
	buf.WriteString("Connection: close\r\n")
	for name, values := range header {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header name %q", name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("invalid value for header %q", name)
			}
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
	}
	buf.WriteString("\r\n")

	conn, err := h.dial()
	if err != nil {
		return fmt.Errorf("dial %s: %w", h.address(), err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		conn.Close()
		return fmt.Errorf("write request head: %w", err)
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.status = 0
	return nil
}

func (h *HTTP) current() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// Write sends p verbatim. A peer that stops reading fails the write once the
// write timeout passes.
func (h *HTTP) Write(p []byte) (int, error) {
	conn := h.current()
	if conn == nil {
		return 0, errNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	return conn.Write(p)
}

// Interrupt closes the connection under a blocked Write or ReadResponse so
// they return at once. Safe to call from any goroutine; FinishRequest still
// has to be called by the owner.
func (h *HTTP) Interrupt() {
	if conn := h.current(); conn != nil {
		_ = conn.Close()
	}
}

// ReadResponse parses the response head and returns at most maxLen body
// bytes. A non-2xx status is logged but its body is still returned.
func (h *HTTP) ReadResponse(maxLen int) ([]byte, error) {
	conn := h.current()
	if conn == nil {
		return nil, errNotConnected
	}
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	h.status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.logger.Warn("recognizer returned non-2xx", "status", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxLen)))
	if err != nil {
		return body, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// StatusCode returns the status of the last response read, or 0.
func (h *HTTP) StatusCode() int {
	return h.status
}

// FinishRequest closes the connection.
func (h *HTTP) FinishRequest() error {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
