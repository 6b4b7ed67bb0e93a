package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"node.town/hark/audio"
)

const transcriptionPrompt = `Transcribe the speech in this audio clip exactly as spoken, with good punctuation.

Reply with the transcript only. If there is no speech, reply with nothing.`

// Gemini transcribes clips by sending them inline to a Gemini model.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	log    *log.Logger
}

func NewGemini(ctx context.Context, apiKey, modelName string, logger *log.Logger) (*Gemini, error) {
	if logger == nil {
		logger = log.Default()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &Gemini{
		client: client,
		model:  setupGenerativeModel(client, modelName),
		log:    logger,
	}, nil
}

func setupGenerativeModel(client *genai.Client, name string) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.GenerationConfig.SetMaxOutputTokens(2048)
	model.GenerationConfig.SetTemperature(0.1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(transcriptionPrompt)},
	}
	model.SafetySettings = []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockOnlyHigh,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockOnlyHigh,
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: genai.HarmBlockOnlyHigh,
		},
	}
	return model
}

func (g *Gemini) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.Len() == 0 {
		return "", ErrEmptyAudio
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Text("<audio>\n"),
		genai.Blob{MIMEType: baseMIMEType(clip.MIMEType), Data: clip.Data},
		genai.Text("</audio>\n"),
	)
	if err != nil {
		return "", &TranscriptionError{Backend: "gemini", Err: err}
	}

	text := strings.TrimSpace(getResponseText(resp))
	if text == "" {
		return "", ErrNoSpeech
	}
	g.log.Info("hear", "txt", text)
	return text, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func baseMIMEType(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(base)
	if base == "" {
		return "audio/ogg"
	}
	return base
}

func getResponseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
