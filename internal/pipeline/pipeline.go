// Package pipeline pumps captured audio into a streaming recognizer session
// on a worker goroutine, one session per Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/christian-lee/talkback/internal/audio"
	"github.com/christian-lee/talkback/internal/stt"
)

// ErrBusy is returned by Run while a previous worker is still live.
var ErrBusy = errors.New("pipeline: worker still running")

// Source starts an audio capture. Closing the stream stops it.
type Source interface {
	Start(ctx context.Context) (io.ReadCloser, error)
}

// Dialer returns a transport for the next request.
type Dialer func() (stt.Transport, error)

// interrupter is implemented by transports whose blocked I/O can be broken
// from another goroutine.
type interrupter interface {
	Interrupt()
}

// Pipeline owns the session and drives it from a single worker.
type Pipeline struct {
	session   *stt.Session
	source    Source
	dial      Dialer
	chunkSize int
	logger    *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	transport stt.Transport
	force     atomic.Bool
}

func New(session *stt.Session, source Source, dial Dialer, chunkSize int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		session:   session,
		source:    source,
		dial:      dial,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Session returns the recognizer session. Its fields are only stable while
// no worker is running.
func (p *Pipeline) Session() *stt.Session {
	return p.session
}

// Run starts capture, opens the request and launches the worker. It returns
// once the request head and envelope opening have been written.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeLocked() {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := p.source.Start(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}

	tr, err := p.dial()
	if err != nil {
		stream.Close()
		cancel()
		return fmt.Errorf("dial recognizer: %w", err)
	}

	if err := p.session.Start(tr); err != nil {
		stream.Close()
		cancel()
		return fmt.Errorf("start session: %w", err)
	}

	p.force.Store(false)
	p.cancel = cancel
	p.transport = tr
	p.done = make(chan struct{})
	go p.pump(ctx, cancel, stream, p.done)
	return nil
}

func (p *Pipeline) pump(ctx context.Context, cancel context.CancelFunc, stream io.ReadCloser, done chan struct{}) {
	defer close(done)
	defer cancel()

	level := audio.NewLevelReader(stream)
	buf := make([]byte, p.chunkSize)

	for !p.session.Stopped() {
		n, err := level.Read(buf)
		if n > 0 {
			if _, werr := p.session.Write(buf[:n]); werr != nil {
				if !errors.Is(werr, stt.ErrNotStreaming) {
					p.logger.Warn("audio write failed", "err", werr)
				}
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				p.logger.Warn("audio read failed", "err", err)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	stream.Close()

	if p.force.Load() {
		p.session.Abort()
		p.logger.Debug("session abandoned", "bytes", p.session.BytesWritten())
		return
	}

	if err := p.session.Finish(); err != nil {
		p.logger.Warn("recognition failed", "err", err, "bytes", p.session.BytesWritten())
	}
	p.logger.Debug("session finished",
		"phase", p.session.Phase(),
		"bytes", p.session.BytesWritten(),
		"peak_dbfs", fmt.Sprintf("%.1f", level.PeakDBFS()))
}

// Stop asks the worker to stop pumping audio. The worker then writes the
// closing chunks and reads the response on its own.
func (p *Pipeline) Stop() {
	p.session.Stop()
}

// WaitForStop blocks until the worker has exited or ctx is done.
func (p *Pipeline) WaitForStop(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quiesce abandons any request in flight without writing its closing chunks
// and waits for the worker to exit. A worker blocked on the network is freed
// by interrupting the transport.
func (p *Pipeline) Quiesce(ctx context.Context) error {
	p.mu.Lock()
	if !p.activeLocked() {
		p.mu.Unlock()
		return nil
	}
	p.force.Store(true)
	p.session.Stop()
	p.cancel()
	if in, ok := p.transport.(interrupter); ok {
		in.Interrupt()
	}
	p.mu.Unlock()
	return p.WaitForStop(ctx)
}

// Active reports whether a worker is running.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Pipeline) activeLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Close abandons any running session.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Quiesce(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	return err
}
