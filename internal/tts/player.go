package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Player synthesizes text and pipes the audio into an external player
// command. One playback runs at a time.
type Player struct {
	synth   Synthesizer
	command []string
	timeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewPlayer returns a player that runs command with the audio on stdin,
// e.g. []string{"aplay", "-q", "-"}.
func NewPlayer(synth Synthesizer, command []string) *Player {
	return &Player{synth: synth, command: command, timeout: 2 * time.Minute}
}

// Start begins synthesis and playback in the background.
func (p *Player) Start(text, lang string) error {
	if len(p.command) == 0 {
		return ErrNoCommand
	}
	if text == "" {
		return ErrEmptyText
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyLocked() {
		return ErrPlayerBusy
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.lastErr = nil

	go func() {
		defer close(done)
		defer cancel()
		err := p.play(ctx, text, lang)
		if err != nil && ctx.Err() == nil {
			slog.Warn("playback failed", "lang", lang, "err", err)
		}
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
	}()
	return nil
}

func (p *Player) play(ctx context.Context, text, lang string) error {
	audio, err := p.synth.Synthesize(ctx, text, lang)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	cmd.WaitDelay = time.Second
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", p.command[0], err)
	}
	slog.Debug("playback done", "lang", lang, "bytes", len(audio), "took", time.Since(start))
	return nil
}

// IsBusy reports whether synthesis or playback is in progress.
func (p *Player) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busyLocked()
}

func (p *Player) busyLocked() bool {
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

// Stop cancels any playback and waits for the player process to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Err returns the error from the last finished playback, if any.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(p.lastErr, context.Canceled) {
		return nil
	}
	return p.lastErr
}

func (p *Player) Close() error {
	return p.Stop()
}
