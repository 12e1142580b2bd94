package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// Capturer captures microphone audio via ffmpeg and emits raw PCM s16le.
type Capturer struct {
	Binary     string // defaults to "ffmpeg"
	Format     string // ffmpeg input format: alsa, pulse, avfoundation, ...
	Device     string // input device, e.g. "default" or ":0"
	SampleRate int
	Channels   int
}

func NewCapturer(format, device string, sampleRate, channels int) *Capturer {
	return &Capturer{
		Binary:     "ffmpeg",
		Format:     format,
		Device:     device,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Args returns the ffmpeg command line for the configured device.
func (c *Capturer) Args() []string {
	var args []string
	if c.Format != "" {
		args = append(args, "-f", c.Format)
	}
	return append(args,
		"-i", c.Device,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(c.SampleRate),
		"-ac", strconv.Itoa(c.Channels),
		"-f", "s16le",
		"-loglevel", "error",
		"-",
	)
}

// Start begins capturing and returns a reader of raw PCM s16le data.
// Cancelling ctx kills the process and ends the stream; Close must still be
// called to reap it.
func (c *Capturer) Start(ctx context.Context) (io.ReadCloser, error) {
	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin, c.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	slog.Debug("audio capture started", "bin", bin, "format", c.Format, "device", c.Device)
	return &captureStream{ReadCloser: stdout, cmd: cmd, cancel: cancel}, nil
}

// captureStream reaps the process only in Close, once the reader is done
// with stdout.
type captureStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	once   sync.Once
}

// Close kills the capture process and waits for it to be reaped. It must be
// called after the last Read returns.
func (s *captureStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.cmd.Wait()
		slog.Debug("audio capture stopped")
	})
	return nil
}
