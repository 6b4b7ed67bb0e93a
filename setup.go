package main

import (
	"github.com/charmbracelet/huh"
	"github.com/spf13/viper"
	"node.town/hark/config"
)

var voices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse",
}

func RunSetup() {
	logger.Info("Starting hark setup...")

	cfg := config.New(viper.GetViper())

	openaiAPIKey := viper.GetString("openai_api_key")
	geminiAPIKey := viper.GetString("gemini_api_key")
	voice := viper.GetString("voice")
	transcriber := viper.GetString("transcriber")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your OpenAI API Key").
				Password(true).
				Value(&openaiAPIKey),
			huh.NewSelect[string]().
				Title("Choose a voice").
				Options(huh.NewOptions(voices...)...).
				Value(&voice),
			huh.NewSelect[string]().
				Title("Transcribe your speech with").
				Options(
					huh.NewOption("OpenAI Whisper", config.TranscriberWhisper),
					huh.NewOption("Google Gemini", config.TranscriberGemini),
				).
				Value(&transcriber),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Google Cloud (Gemini) API Key").
				Password(true).
				Value(&geminiAPIKey),
		).WithHideFunc(func() bool {
			return transcriber != config.TranscriberGemini
		}),
	)

	if err := form.Run(); err != nil {
		logger.Fatal("Error during setup", "error", err)
	}

	cfg.Set("openai_api_key", openaiAPIKey)
	cfg.Set("voice", voice)
	cfg.Set("transcriber", transcriber)
	if geminiAPIKey != "" {
		cfg.Set("gemini_api_key", geminiAPIKey)
	}

	if _, err := cfg.Load(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}
	if err := cfg.Save("config.yaml"); err != nil {
		logger.Fatal("Error saving configuration", "error", err)
	}

	logger.Info("Setup completed successfully!")
}
