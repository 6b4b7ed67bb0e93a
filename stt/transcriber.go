// Package stt sends finished speech turns to a batch transcription
// service.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"node.town/hark/audio"
)

// Placeholder transcripts shown in place of text when a turn could not
// be transcribed.
const (
	NoAudioText  = "[no audio captured]"
	FailedText   = "[transcription failed]"
	NoSpeechText = "[no speech detected]"
)

var (
	ErrEmptyAudio = errors.New("empty audio")
	ErrNoSpeech   = errors.New("no speech detected")
)

type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

type TranscriptionError struct {
	Backend string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s transcription: %v", e.Backend, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Text transcribes clip and always returns something to show: the
// recognized text or one of the placeholder strings.
func Text(ctx context.Context, t Transcriber, clip audio.Clip, logger *log.Logger) string {
	if logger == nil {
		logger = log.Default()
	}
	if clip.Len() == 0 {
		return NoAudioText
	}

	text, err := t.Transcribe(ctx, clip)
	switch {
	case err == nil:
		return text
	case errors.Is(err, ErrEmptyAudio):
		return NoAudioText
	case errors.Is(err, ErrNoSpeech):
		return NoSpeechText
	default:
		logger.Error("transcribe", "err", err, "bytes", clip.Len())
		return FailedText
	}
}
