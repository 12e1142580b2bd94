// Package translate rewrites a recognized utterance into the playback
// language before it is spoken.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"
)

const degradeFor = 30 * time.Second

// generateFunc sends one prompt to model and returns the text reply.
type generateFunc func(ctx context.Context, model, prompt string) (string, error)

// GeminiTranslator translates with Gemini. On 429/503 it switches to the
// fallback model for a while, then returns to the primary one.
type GeminiTranslator struct {
	generate      generateFunc
	model         string
	fallbackModel string
	degraded      atomic.Bool
	recoverAt     atomic.Int64 // unix millis
	now           func() time.Time
}

// Option configures a GeminiTranslator.
type Option func(*GeminiTranslator)

// WithFallbackModel sets the model used while rate limited.
func WithFallbackModel(model string) Option {
	return func(t *GeminiTranslator) {
		if model != "" {
			t.fallbackModel = model
		}
	}
}

func NewGeminiTranslator(ctx context.Context, apiKey, model string, opts ...Option) (*GeminiTranslator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	generate := func(ctx context.Context, model, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return newTranslator(generate, model, opts...), nil
}

func newTranslator(generate generateFunc, model string, opts ...Option) *GeminiTranslator {
	t := &GeminiTranslator{
		generate:      generate,
		model:         model,
		fallbackModel: "gemini-2.0-flash",
		now:           time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func prompt(text, sourceLang, targetLang string) string {
	return fmt.Sprintf(
		"Translate the following spoken %s sentence to %s. "+
			"Output ONLY the translation, nothing else. "+
			"It will be read aloud, so avoid markup, lists and parenthetical notes.\n\n%s",
		sourceLang, targetLang, text,
	)
}

// Translate returns text in targetLang. Text already in targetLang, or empty
// text, is returned unchanged.
func (t *GeminiTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" || SameLanguage(sourceLang, targetLang) {
		return text, nil
	}

	p := prompt(text, sourceLang, targetLang)
	model := t.activeModel()
	result, err := t.generate(ctx, model, p)
	if err != nil {
		if !isRateLimited(err) || model == t.fallbackModel {
			return "", fmt.Errorf("gemini translate: %w", err)
		}
		t.degrade(model)
		model = t.fallbackModel
		if result, err = t.generate(ctx, model, p); err != nil {
			return "", fmt.Errorf("gemini translate (fallback): %w", err)
		}
	}
	result = strings.TrimSpace(result)

	if model != t.fallbackModel && wrongScript(result, targetLang) {
		slog.Warn("translation came back in the wrong script, retrying with fallback",
			"model", model, "result", result)
		retry, err := t.generate(ctx, t.fallbackModel, p)
		if err == nil {
			retry = strings.TrimSpace(retry)
			if !wrongScript(retry, targetLang) {
				return retry, nil
			}
		}
		return "", fmt.Errorf("gemini translate: output not in %s", targetLang)
	}
	if result == "" {
		return "", fmt.Errorf("gemini translate: empty result")
	}

	slog.Debug("translated", "from", text, "to", result, "target", targetLang, "model", model)
	return result, nil
}

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "503") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "UNAVAILABLE")
}

func (t *GeminiTranslator) degrade(from string) {
	if !t.degraded.Load() {
		slog.Warn("rate limited, falling back", "from", from, "to", t.fallbackModel, "duration", degradeFor)
	}
	t.degraded.Store(true)
	t.recoverAt.Store(t.now().Add(degradeFor).UnixMilli())
}

// activeModel returns the current model, recovering from the degraded state
// once its window has passed.
func (t *GeminiTranslator) activeModel() string {
	if !t.degraded.Load() {
		return t.model
	}
	if t.now().UnixMilli() >= t.recoverAt.Load() {
		t.degraded.Store(false)
		slog.Info("recovered from rate limit, back to primary model", "model", t.model)
		return t.model
	}
	return t.fallbackModel
}

// SameLanguage compares the primary subtags of two BCP-47 codes.
func SameLanguage(a, b string) bool {
	return primary(a) == primary(b)
}

func primary(code string) string {
	return strings.SplitN(strings.ToLower(strings.TrimSpace(code)), "-", 2)[0]
}

// wrongScript reports whether text is mostly written in a script the target
// language does not use.
func wrongScript(text, targetLang string) bool {
	var kana, latin, han, hangul, total int
	for _, r := range text {
		if r < 0x20 || r == ' ' {
			continue
		}
		total++
		switch {
		case (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF):
			kana++
		case (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			latin++
		case r >= 0x4E00 && r <= 0x9FFF:
			han++
		case r >= 0xAC00 && r <= 0xD7AF:
			hangul++
		}
	}
	if total == 0 {
		return false
	}
	ratio := func(n int) float64 { return float64(n) / float64(total) }

	switch primary(targetLang) {
	case "zh":
		return ratio(kana) > 0.3 || ratio(latin) > 0.5
	case "ja", "ko":
		return ratio(latin) > 0.5
	case "en", "fr", "de", "es", "it", "pt":
		return ratio(kana+han+hangul) > 0.3
	}
	return false
}
