package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/christian-lee/talkback/internal/audio"
	"github.com/christian-lee/talkback/internal/config"
	"github.com/christian-lee/talkback/internal/controller"
	"github.com/christian-lee/talkback/internal/history"
	"github.com/christian-lee/talkback/internal/input"
	"github.com/christian-lee/talkback/internal/jsonutil"
	"github.com/christian-lee/talkback/internal/metrics"
	"github.com/christian-lee/talkback/internal/pipeline"
	"github.com/christian-lee/talkback/internal/stt"
	"github.com/christian-lee/talkback/internal/translate"
	"github.com/christian-lee/talkback/internal/transport"
	"github.com/christian-lee/talkback/internal/tts"
	"github.com/christian-lee/talkback/internal/web"
)

var logLevel = new(slog.LevelVar)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "err", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfgPath := "config.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = run(cfgPath)
	case "check":
		err = check(cfgPath)
	case "history":
		err = printHistory(cfgPath)
	case "hash-password":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: talkback hash-password <password>")
			os.Exit(1)
		}
		err = hashPassword(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  talkback run [config]            Start push-to-talk recognition and playback")
	fmt.Println("  talkback check [config]          Validate config and print the resolved values")
	fmt.Println("  talkback history [config]        Print recent sessions")
	fmt.Println("  talkback hash-password <pass>    Print a bcrypt hash for web.password_hash")
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	logLevel.Set(l)
}

func settingsFrom(cfg *config.Config) controller.Settings {
	s := controller.Settings{
		SourceLang:   cfg.Speech.Language,
		PlaybackLang: cfg.PlaybackLang(),
		StopTimeout:  cfg.Speech.ConnectTimeout + cfg.Speech.WriteTimeout + cfg.Speech.ReadTimeout + 5*time.Second,
	}
	if cfg.TTS.Enabled {
		s.PlaybackDelay = cfg.TTS.Delay
	}
	if cfg.Translate.Enabled {
		s.TranslateTo = cfg.Translate.TargetLang
		s.TranslateTimeout = cfg.Translate.Timeout
	}
	return s
}

func run(cfgPath string) error {
	hc, err := config.NewHotConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := hc.Get()
	setLogLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sess, err := stt.NewSession(stt.SessionConfig{
		Language:      cfg.Speech.Language,
		Encoding:      cfg.Speech.Encoding,
		SampleRate:    cfg.Speech.SampleRate,
		ResponseField: cfg.Speech.ResponseField,
		BufferSize:    cfg.Speech.BufferSize,
	}, jsonutil.Extractor{}, slog.Default().With("component", "stt"))
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}

	tcfg := transport.Config{
		URL:            cfg.Speech.URL,
		APIKey:         cfg.Speech.APIKey,
		ConnectTimeout: cfg.Speech.ConnectTimeout,
		ReadTimeout:    cfg.Speech.ReadTimeout,
		WriteTimeout:   cfg.Speech.WriteTimeout,
	}
	if _, err := transport.New(tcfg); err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	dial := func() (stt.Transport, error) { return transport.New(tcfg) }

	capturer := audio.NewCapturer(cfg.Audio.Format, cfg.Audio.Device, cfg.Speech.SampleRate, cfg.Audio.Channels)
	if cfg.Audio.Binary != "" {
		capturer.Binary = cfg.Audio.Binary
	}
	pipe := pipeline.New(sess, capturer, dial, cfg.Audio.ChunkSize, slog.Default().With("component", "pipeline"))

	opts := controller.Options{
		Pipeline: pipe,
		Session:  sess,
		Metrics:  m,
		Settings: settingsFrom(cfg),
		Logger:   slog.Default().With("component", "controller"),
	}

	if cfg.TTS.Enabled {
		synth := tts.NewGoogleTTS(cfg.TTS.APIKey, cfg.Speech.SampleRate)
		if cfg.TTS.Endpoint != "" {
			synth.Endpoint = cfg.TTS.Endpoint
		}
		synth.Voices = cfg.TTS.Voices
		synth.SpeakingRate = cfg.TTS.SpeakingRate
		player := tts.NewPlayer(synth, cfg.TTS.Command)
		defer player.Close()
		opts.Player = player
	}

	if cfg.Translate.Enabled {
		translator, err := translate.NewGeminiTranslator(ctx, cfg.Translate.APIKey, cfg.Translate.Model,
			translate.WithFallbackModel(cfg.Translate.FallbackModel))
		if err != nil {
			return fmt.Errorf("init translator: %w", err)
		}
		opts.Translator = translator
	}

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		opts.Recorder = store
	}

	ctrl := controller.New(opts)

	var srv *web.Server
	if cfg.Web.Addr != "" {
		var hist web.History
		if store != nil {
			hist = store
		}
		srv = web.NewServer(cfg.Web.Addr, ctrl, hist, reg)
		srv.UpdateAuth(cfg.Web.Username, cfg.Web.PasswordHash)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start web: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	hc.OnReload(func(c *config.Config) {
		setLogLevel(c.LogLevel)
		ctrl.UpdateSettings(settingsFrom(c))
		if srv != nil {
			srv.UpdateAuth(c.Web.Username, c.Web.PasswordHash)
		}
	})
	if err := hc.Watch(ctx); err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	ctrl.Start(ctx)

	if cfg.Keyboard.Enabled {
		kb := input.NewKeyboard(config.Rune(cfg.Keyboard.RecordKey), config.Rune(cfg.Keyboard.ModeKey))
		go func() {
			if err := kb.Run(ctx, ctrl); err != nil {
				slog.Warn("keyboard input unavailable", "err", err)
			}
		}()
	}

	slog.Info("talkback started",
		"url", cfg.Speech.URL,
		"lang", cfg.Speech.Language,
		"playback", settingsFrom(cfg).PlaybackLang,
		"web", cfg.Web.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case <-ctrl.ShutdownCh():
	}
	cancel()
	ctrl.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := pipe.Close(closeCtx); err != nil {
		slog.Warn("close pipeline", "err", err)
	}
	slog.Info("👋 stopped")
	return nil
}

func check(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	masked := *cfg
	masked.Speech.APIKey = mask(cfg.Speech.APIKey)
	masked.TTS.APIKey = mask(cfg.TTS.APIKey)
	masked.Translate.APIKey = mask(cfg.Translate.APIKey)
	masked.Web.PasswordHash = mask(cfg.Web.PasswordHash)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Printf("# %s is valid (max audio.chunk_size %d)\n", cfgPath, config.MaxChunkSize(cfg.Speech.BufferSize))
	os.Stdout.Write(out)
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func printHistory(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return errors.New("history.path is not configured")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), 20)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tBYTES\tPHASE\tTEXT\tSPOKEN")
	for _, e := range entries {
		spoken := e.Spoken
		if e.Error != "" {
			spoken = "! " + e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.StartedAt.Format("01-02 15:04:05"), e.Duration.Round(time.Millisecond),
			e.Bytes, e.Phase, e.Text, spoken)
	}
	return w.Flush()
}

func hashPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
