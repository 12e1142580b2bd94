package tts

import "errors"

var (
	ErrEmptyText  = errors.New("tts: empty text")
	ErrNoAudio    = errors.New("tts: response carried no audio")
	ErrNoCommand  = errors.New("tts: player command not configured")
	ErrPlayerBusy = errors.New("tts: playback in progress")
)
