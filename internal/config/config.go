package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
	Speech    SpeechConfig    `yaml:"speech"`
	Audio     AudioConfig     `yaml:"audio"`
	TTS       TTSConfig       `yaml:"tts"`
	Translate TranslateConfig `yaml:"translate"`
	History   HistoryConfig   `yaml:"history"`
	Web       WebConfig       `yaml:"web"`
	Keyboard  KeyboardConfig  `yaml:"keyboard"`
}

type SpeechConfig struct {
	URL            string        `yaml:"url"`     // recognition endpoint, http or https
	APIKey         string        `yaml:"api_key"` // sent as ?key=
	Language       string        `yaml:"language"`
	Encoding       string        `yaml:"encoding"` // e.g. LINEAR16
	SampleRate     int           `yaml:"sample_rate"`
	ResponseField  string        `yaml:"response_field"`
	BufferSize     int           `yaml:"buffer_size"` // scratch capacity in bytes
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"` // per body write to a stalled peer
}

type AudioConfig struct {
	Binary    string `yaml:"binary"` // ffmpeg
	Format    string `yaml:"format"` // alsa, pulse, avfoundation, dshow
	Device    string `yaml:"device"`
	Channels  int    `yaml:"channels"`
	ChunkSize int    `yaml:"chunk_size"` // raw bytes per read
}

type TTSConfig struct {
	Enabled      bool              `yaml:"enabled"`
	APIKey       string            `yaml:"api_key"`
	Endpoint     string            `yaml:"endpoint"`
	Lang         string            `yaml:"lang"`
	Voices       map[string]string `yaml:"voices"` // language -> voice name
	SpeakingRate float64           `yaml:"speaking_rate"`
	Delay        time.Duration     `yaml:"delay"` // pause before playback
	Command      []string          `yaml:"command"`
}

type TranslateConfig struct {
	Enabled       bool          `yaml:"enabled"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	FallbackModel string        `yaml:"fallback_model"`
	TargetLang    string        `yaml:"target_lang"`
	Timeout       time.Duration `yaml:"timeout"` // per translation; falls back to the recognized text
}

type HistoryConfig struct {
	Path string `yaml:"path"` // sqlite file; empty disables history
}

type WebConfig struct {
	Addr         string `yaml:"addr"` // empty disables the panel
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

type KeyboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RecordKey string `yaml:"record_key"`
	ModeKey   string `yaml:"mode_key"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Speech: SpeechConfig{
			Language:       "en-US",
			Encoding:       "LINEAR16",
			SampleRate:     16000,
			ResponseField:  "transcript",
			BufferSize:     6144,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Audio: AudioConfig{
			Binary:    "ffmpeg",
			Format:    "alsa",
			Device:    "default",
			Channels:  1,
			ChunkSize: 3200, // 100ms at 16kHz mono s16le
		},
		TTS: TTSConfig{
			Enabled: true,
			Lang:    "en-US",
			Delay:   500 * time.Millisecond,
			Command: []string{"aplay", "-q", "-"},
		},
		Translate: TranslateConfig{
			Model:         "gemini-3-flash-preview",
			FallbackModel: "gemini-2.0-flash",
			Timeout:       10 * time.Second,
		},
		History:  HistoryConfig{Path: "talkback.db"},
		Keyboard: KeyboardConfig{Enabled: true, RecordKey: "r", ModeKey: "m"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv fills API keys the file leaves empty.
func (c *Config) applyEnv() {
	if c.Speech.APIKey == "" {
		c.Speech.APIKey = firstEnv("SPEECH_API_KEY", "GOOGLE_API_KEY")
	}
	if c.TTS.APIKey == "" {
		c.TTS.APIKey = firstEnv("TTS_API_KEY", "GOOGLE_API_KEY")
	}
	if c.Translate.APIKey == "" {
		c.Translate.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		add("log_level %q: want debug, info, warn or error", c.LogLevel)
	}

	s := c.Speech
	if s.URL == "" {
		add("speech.url is required")
	} else if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("speech.url %q: want an http or https URL", s.URL)
	}
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[s.Encoding]; !ok ||
		v == int32(speechpb.RecognitionConfig_ENCODING_UNSPECIFIED) {
		add("speech.encoding %q is not a recognition encoding", s.Encoding)
	}
	if s.SampleRate <= 0 {
		add("speech.sample_rate must be positive")
	}
	if s.Language == "" {
		add("speech.language is required")
	}
	if s.ResponseField == "" {
		add("speech.response_field is required")
	}
	if s.BufferSize <= 0 {
		add("speech.buffer_size must be positive, got %d", s.BufferSize)
	}

	if c.Audio.ChunkSize <= 0 {
		add("audio.chunk_size must be positive")
	} else if s.BufferSize > 0 && MaxChunkSize(s.BufferSize) < c.Audio.ChunkSize {
		add("audio.chunk_size %d does not fit speech.buffer_size %d (max %d)",
			c.Audio.ChunkSize, s.BufferSize, MaxChunkSize(s.BufferSize))
	}
	if c.Audio.Channels <= 0 {
		add("audio.channels must be positive")
	}
	if c.Audio.Device == "" {
		add("audio.device is required")
	}

	if c.TTS.Enabled {
		if len(c.TTS.Command) == 0 {
			add("tts.command is required when tts is enabled")
		}
		if c.TTS.Delay < 0 {
			add("tts.delay must not be negative")
		}
	}
	if c.Translate.Enabled {
		if c.Translate.TargetLang == "" {
			add("translate.target_lang is required when translation is enabled")
		}
		if c.Translate.APIKey == "" {
			add("translate.api_key (or GEMINI_API_KEY) is required when translation is enabled")
		}
	}
	if c.Web.Username != "" && !strings.HasPrefix(c.Web.PasswordHash, "$2") {
		add("web.password_hash must be a bcrypt hash when web.username is set")
	}
	for name, k := range map[string]string{"record_key": c.Keyboard.RecordKey, "mode_key": c.Keyboard.ModeKey} {
		if len([]rune(k)) > 1 {
			add("keyboard.%s %q must be a single character", name, k)
		}
	}

	return errors.Join(errs...)
}

// MaxChunkSize is the largest raw read that always fits a scratch buffer of
// capacity bytes, with up to two carried bytes and base64 expansion.
func MaxChunkSize(capacity int) int {
	n := (capacity/4)*3 - 2
	if n < 0 {
		return 0
	}
	return n
}

// PlaybackLang is the language handed to the player.
func (c *Config) PlaybackLang() string {
	if c.Translate.Enabled && c.Translate.TargetLang != "" {
		return c.Translate.TargetLang
	}
	if c.TTS.Lang != "" {
		return c.TTS.Lang
	}
	return c.Speech.Language
}

// Rune returns the first character of s, or 0.
func Rune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
