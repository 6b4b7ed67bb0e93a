package stt

import (
	"bytes"
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"
	"node.town/hark/audio"
)

type WhisperConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// Whisper posts each clip as a multipart upload to an OpenAI-compatible
// transcription endpoint.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
	log      *log.Logger
}

func NewWhisper(cfg WhisperConfig, logger *log.Logger) *Whisper {
	if logger == nil {
		logger = log.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		language: cfg.Language,
		log:      logger,
	}
}

func (w *Whisper) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.Len() == 0 {
		return "", ErrEmptyAudio
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: clip.Filename(),
		Reader:   bytes.NewReader(clip.Data),
		Language: w.language,
	})
	if err != nil {
		return "", &TranscriptionError{Backend: "whisper", Err: err}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	w.log.Info("hear", "txt", text)
	return text, nil
}
