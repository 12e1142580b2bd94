package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const DefaultEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

// Synthesizer turns text into audio the player command can consume.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

type synthRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding   string  `json:"audioEncoding"`
		SampleRateHertz int     `json:"sampleRateHertz,omitempty"`
		SpeakingRate    float64 `json:"speakingRate,omitempty"`
	} `json:"audioConfig"`
}

type synthResponse struct {
	AudioContent string `json:"audioContent"`
}

// GoogleTTS calls the Cloud Text-to-Speech REST API. LINEAR16 output comes
// back with a WAV header, so players like aplay accept it on stdin as-is.
type GoogleTTS struct {
	APIKey       string
	Endpoint     string
	SampleRate   int
	SpeakingRate float64
	Voices       map[string]string // language code -> voice name
	Client       *http.Client
}

func NewGoogleTTS(apiKey string, sampleRate int) *GoogleTTS {
	return &GoogleTTS{
		APIKey:     apiKey,
		Endpoint:   DefaultEndpoint,
		SampleRate: sampleRate,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GoogleTTS) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var req synthRequest
	req.Input.Text = text
	req.Voice.LanguageCode = lang
	req.Voice.Name = g.Voices[lang]
	req.AudioConfig.AudioEncoding = "LINEAR16"
	req.AudioConfig.SampleRateHertz = g.SampleRate
	req.AudioConfig.SpeakingRate = g.SpeakingRate

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := g.Endpoint
	if g.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.APIKey)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("synthesize: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out synthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if out.AudioContent == "" {
		return nil, ErrNoAudio
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return audio, nil
}
