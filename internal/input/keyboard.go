// Package input turns terminal key presses into controller events.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"unicode"

	"github.com/eiannone/keyboard"

	"github.com/christian-lee/talkback/internal/controller"
)

// Sink receives events, typically the controller.
type Sink interface {
	Submit(ev controller.Event) bool
}

const sourceKeyboard = "keyboard"

// Keyboard maps terminal keys to record/mode events. Terminals report no
// key-up, so the record key sends Toggle and the controller decides whether
// it starts or ends a session. Presses from other sources stay in step.
type Keyboard struct {
	RecordKey rune // also space
	ModeKey   rune // also Esc and Ctrl+C
}

func NewKeyboard(recordKey, modeKey rune) *Keyboard {
	if recordKey == 0 {
		recordKey = 'r'
	}
	if modeKey == 0 {
		modeKey = 'm'
	}
	return &Keyboard{RecordKey: recordKey, ModeKey: modeKey}
}

// Map translates one key into an event. ok is false for keys with no binding.
func (k *Keyboard) Map(ch rune, key keyboard.Key) (ev controller.Event, ok bool) {
	ch = unicode.ToLower(ch)
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC || (ch != 0 && ch == k.ModeKey):
		return controller.Event{Source: sourceKeyboard, Action: controller.Press, Key: controller.KeyMode}, true
	case key == keyboard.KeySpace || (ch != 0 && ch == k.RecordKey):
		return controller.Event{Source: sourceKeyboard, Action: controller.Toggle, Key: controller.KeyRecord}, true
	}
	return controller.Event{}, false
}

// Run reads keys until ctx is done or the mode key is pressed.
func (k *Keyboard) Run(ctx context.Context, sink Sink) error {
	keys, err := keyboard.GetKeys(10)
	if err != nil {
		return fmt.Errorf("open keyboard: %w", err)
	}
	defer keyboard.Close()

	slog.Info("⌨️ keyboard ready", "record", string(k.RecordKey)+"/space", "mode", string(k.ModeKey)+"/esc")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-keys:
			if !ok {
				return nil
			}
			if e.Err != nil {
				slog.Warn("keyboard read", "err", e.Err)
				continue
			}
			ev, ok := k.Map(e.Rune, e.Key)
			if !ok {
				continue
			}
			if !sink.Submit(ev) {
				slog.Warn("event dropped", "event", ev)
			}
			if ev.Key == controller.KeyMode {
				return nil
			}
		}
	}
}
