package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/christian-lee/talkback/internal/history"
	"github.com/christian-lee/talkback/internal/metrics"
	"github.com/christian-lee/talkback/internal/stt"
)

// Session is the read side of the recognizer session. It is only read after
// the pipeline has confirmed its worker stopped.
type Session interface {
	Phase() stt.Phase
	Response() string
	BytesWritten() int64
	Err() error
}

// Pipeline runs the audio worker that feeds the session.
type Pipeline interface {
	Run(ctx context.Context) error
	Stop()
	WaitForStop(ctx context.Context) error
	Quiesce(ctx context.Context) error
	Active() bool
}

// Player speaks recognized text.
type Player interface {
	Start(text, lang string) error
	Stop() error
	IsBusy() bool
}

type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Recorder persists finished sessions and input events.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
	Log(source, action, detail string)
}

// Settings are the hot-reloadable playback options.
type Settings struct {
	SourceLang    string        // recognition language
	PlaybackLang  string        // language handed to the player
	TranslateTo   string        // translate before playback when set
	PlaybackDelay time.Duration // pause between response and playback
	StopTimeout   time.Duration // bound on waiting for the worker after release
	// TranslateTimeout bounds one translation; on expiry the recognized text
	// is spoken instead.
	TranslateTimeout time.Duration
}

const (
	defaultStopTimeout      = 30 * time.Second
	defaultTranslateTimeout = 10 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.StopTimeout <= 0 {
		s.StopTimeout = defaultStopTimeout
	}
	if s.TranslateTimeout <= 0 {
		s.TranslateTimeout = defaultTranslateTimeout
	}
	return s
}

type Options struct {
	Pipeline   Pipeline
	Session    Session
	Player     Player
	Translator Translator // optional
	Recorder   Recorder   // optional
	Metrics    *metrics.Metrics
	Settings   Settings
	Logger     *slog.Logger
}

// Status is a snapshot for the web panel.
type Status struct {
	Phase      string `json:"phase"`
	Recording  bool   `json:"recording"`
	SessionID  string `json:"session_id,omitempty"`
	LastText   string `json:"last_text"`
	LastSpoken string `json:"last_spoken"`
	LastError  string `json:"last_error,omitempty"`
	Sessions   int    `json:"sessions"`
	Playing    bool   `json:"playing"`
	Shutdown   bool   `json:"shutdown"`
}

const queueSize = 16

// Controller turns press/release events into recognizer sessions. Events are
// handled one at a time on a single goroutine.
type Controller struct {
	pipeline   Pipeline
	session    Session
	player     Player
	translator Translator
	recorder   Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger

	events       chan Event
	done         chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	mu       sync.RWMutex
	settings Settings
	status   Status

	// owned by the event loop
	recording bool
	sessionID xid.ID
	startedAt time.Time
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		pipeline:   opts.Pipeline,
		session:    opts.Session,
		player:     opts.Player,
		translator: opts.Translator,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		logger:     logger,
		events:     make(chan Event, queueSize),
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
		settings:   opts.Settings.withDefaults(),
	}
}

// Start runs the event loop until a mode press or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go c.run(ctx)
}

// Submit queues an event. It returns false if the queue is full or the
// controller is shutting down.
func (c *Controller) Submit(ev Event) bool {
	if c.ShutdownRequested() {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.logger.Warn("event queue full, dropping", "event", ev)
		return false
	}
}

// Done is closed once the event loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the event loop has exited.
func (c *Controller) Wait() {
	<-c.done
}

// ShutdownRequested reports whether the mode key has been pressed.
func (c *Controller) ShutdownRequested() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownCh is closed when the mode key is pressed.
func (c *Controller) ShutdownCh() <-chan struct{} {
	return c.shutdownCh
}

func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings replaces the playback options. Takes effect on the next release.
func (c *Controller) UpdateSettings(s Settings) {
	s = s.withDefaults()
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	c.logger.Info("controller settings updated",
		"playback_lang", s.PlaybackLang, "translate_to", s.TranslateTo, "delay", s.PlaybackDelay)
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	st := c.status
	c.mu.RUnlock()
	st.Phase = c.session.Phase().String()
	st.Shutdown = c.ShutdownRequested()
	if c.player != nil {
		st.Playing = c.player.IsBusy()
	}
	return st
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.abandon()
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
			if c.ShutdownRequested() {
				return
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	c.logger.Debug("event", "source", ev.Source, "key", ev.Key, "action", ev.Action)
	c.metrics.Event(ev.Source, ev.Key.String()+"_"+ev.Action.String())
	if c.recorder != nil {
		c.recorder.Log(ev.Source, ev.Action.String(), ev.Key.String())
	}

	switch {
	case ev.Key == KeyMode && ev.Action == Press:
		c.handleMode()
	case ev.Key == KeyRecord && ev.Action == Press:
		c.handlePress(ctx)
	case ev.Key == KeyRecord && ev.Action == Release:
		c.handleRelease(ctx)
	case ev.Key == KeyRecord && ev.Action == Toggle:
		if c.recording {
			c.handleRelease(ctx)
		} else {
			c.handlePress(ctx)
		}
	}
}

func (c *Controller) handlePress(ctx context.Context) {
	if c.player != nil && c.player.IsBusy() {
		if err := c.player.Stop(); err != nil {
			c.logger.Warn("stop playback", "err", err)
		}
	}

	if c.recording {
		c.logger.Info("press while recording, abandoning previous session", "session", c.sessionID)
	}
	if c.recording || c.pipeline.Active() {
		if err := c.quiesce(); err != nil {
			c.logger.Error("pipeline did not quiesce, ignoring press", "err", err)
			return
		}
		if c.recording {
			c.finish(ctx, "abandoned", "", "", "", errors.New("abandoned by new press"))
		}
	}

	c.sessionID = xid.New()
	c.startedAt = time.Now()
	if err := c.pipeline.Run(ctx); err != nil {
		c.logger.Error("❌ start session failed", "session", c.sessionID, "err", err)
		c.metrics.SessionStarted()
		c.finish(ctx, "start", "", "", "", err)
		return
	}

	c.recording = true
	c.metrics.SessionStarted()
	c.mu.Lock()
	c.status.Recording = true
	c.status.SessionID = c.sessionID.String()
	c.mu.Unlock()
	c.logger.Info("🎙️ recording", "session", c.sessionID)
}

func (c *Controller) handleRelease(ctx context.Context) {
	if !c.recording {
		c.logger.Debug("release without active session, ignoring")
		return
	}
	c.recording = false
	settings := c.Settings()

	c.pipeline.Stop()
	waitCtx, cancel := context.WithTimeout(ctx, settings.StopTimeout)
	err := c.pipeline.WaitForStop(waitCtx)
	cancel()
	if err != nil {
		c.logger.Error("pipeline did not stop, abandoning session", "session", c.sessionID, "err", err)
		if qerr := c.quiesce(); qerr != nil {
			c.logger.Error("quiesce after stop timeout", "err", qerr)
		}
		c.finish(ctx, "stop_timeout", "", "", "", err)
		return
	}

	text := c.session.Response()
	if c.session.Phase() != stt.PhaseComplete || text == "" {
		reason := failureReason(c.session.Err())
		c.logger.Warn("no recognition, skipping playback",
			"session", c.sessionID, "phase", c.session.Phase(), "reason", reason, "err", c.session.Err())
		c.finish(ctx, reason, "", "", "", c.session.Err())
		return
	}
	c.logger.Info("📝 recognized", "session", c.sessionID, "text", text, "bytes", c.session.BytesWritten())

	spoken, lang := text, settings.PlaybackLang
	if settings.TranslateTo != "" && c.translator != nil {
		tctx, cancel := context.WithTimeout(ctx, settings.TranslateTimeout)
		translated, err := c.translator.Translate(tctx, text, settings.SourceLang, settings.TranslateTo)
		cancel()
		if err != nil || translated == "" {
			c.logger.Warn("translation failed, speaking recognized text", "err", err)
		} else {
			spoken, lang = translated, settings.TranslateTo
		}
	}

	if settings.PlaybackDelay > 0 {
		select {
		case <-time.After(settings.PlaybackDelay):
		case <-ctx.Done():
			c.finish(ctx, "", text, "", lang, nil)
			return
		}
	}

	if c.player != nil {
		if c.player.IsBusy() {
			if err := c.player.Stop(); err != nil {
				c.logger.Warn("stop playback", "err", err)
			}
		}
		if err := c.player.Start(spoken, lang); err != nil {
			c.logger.Error("start playback", "err", err)
		} else {
			c.metrics.Playback(lang)
			c.logger.Info("🔊 playing", "session", c.sessionID, "lang", lang, "text", spoken)
		}
	}
	c.finish(ctx, "", text, spoken, lang, nil)
}

// handleMode requests shutdown. A session in progress is abandoned, not drained.
func (c *Controller) handleMode() {
	c.logger.Info("mode pressed, shutting down")
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
	c.abandon()
}

func (c *Controller) abandon() {
	if c.recording || c.pipeline.Active() {
		if err := c.quiesce(); err != nil {
			c.logger.Warn("quiesce on shutdown", "err", err)
		}
		if c.recording {
			c.recording = false
			c.finish(context.Background(), "abandoned", "", "", "", errors.New("abandoned on shutdown"))
		}
	}
	if c.player != nil && c.player.IsBusy() {
		_ = c.player.Stop()
	}
}

func (c *Controller) quiesce() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Settings().StopTimeout)
	defer cancel()
	return c.pipeline.Quiesce(ctx)
}

// finish records the outcome of the current session. An empty reason means
// it completed.
func (c *Controller) finish(ctx context.Context, reason, text, spoken, lang string, err error) {
	d := time.Since(c.startedAt)
	bytes := c.session.BytesWritten()
	c.metrics.SessionFinished(reason, bytes, d)

	var errText string
	if err != nil {
		errText = err.Error()
	}

	c.mu.Lock()
	c.status.Recording = false
	c.status.Sessions++
	c.status.LastError = errText
	if reason == "" {
		c.status.LastText = text
		c.status.LastSpoken = spoken
	}
	c.mu.Unlock()

	if c.recorder == nil {
		return
	}
	phase := stt.PhaseComplete.String()
	if reason != "" {
		phase = stt.PhaseFailed.String()
	}
	entry := history.Entry{
		ID:        c.sessionID.String(),
		StartedAt: c.startedAt,
		Duration:  d,
		Bytes:     bytes,
		Phase:     phase,
		Text:      text,
		Spoken:    spoken,
		Lang:      lang,
		Error:     errText,
	}
	if rerr := c.recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		c.logger.Warn("record history", "err", rerr)
	}
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return "empty"
	case errors.Is(err, stt.ErrBufferOverflow):
		return "overflow"
	case errors.Is(err, stt.ErrTransportWrite):
		return "write"
	case errors.Is(err, stt.ErrTransportRead):
		return "read"
	case errors.Is(err, stt.ErrResponseParseMiss):
		return "parse_miss"
	default:
		return "other"
	}
}
