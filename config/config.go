package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TranscriberWhisper = "whisper"
	TranscriberGemini  = "gemini"
)

// Settings is everything the talk command needs, read out of viper.
type Settings struct {
	OpenAIAPIKey string
	GeminiAPIKey string

	RealtimeURL  string
	TokenURL     string
	Model        string
	Voice        string
	Instructions string

	Transcriber       string
	TranscribeBaseURL string
	TranscribeModel   string
	GeminiModel       string
	Language          string

	ICEServers        []string
	KeepaliveURL      string
	KeepaliveInterval time.Duration
	SettleDelay       time.Duration
	ChunkInterval     time.Duration
	HTTPTimeout       time.Duration

	DebugPort int
	MicDevice string
	Playback  bool
}

type Config struct {
	v *viper.Viper
}

// New wraps v, which is usually viper.GetViper().
func New(v *viper.Viper) *Config {
	SetDefaults(v)
	return &Config{v: v}
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("realtime_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("token_url", "https://api.openai.com/v1/realtime/sessions")
	v.SetDefault("model", "gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("voice", "alloy")
	v.SetDefault("transcriber", TranscriberWhisper)
	v.SetDefault("transcribe_base_url", "https://api.openai.com/v1")
	v.SetDefault("transcribe_model", "whisper-1")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("language", "en")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("keepalive_interval", 30*time.Second)
	v.SetDefault("settle_delay", 300*time.Millisecond)
	v.SetDefault("chunk_interval", 250*time.Millisecond)
	v.SetDefault("http_timeout", 20*time.Second)
	v.SetDefault("debug_port", 0)
	v.SetDefault("mic_device", "")
	v.SetDefault("playback", true)
}

func (c *Config) Load() (Settings, error) {
	v := c.v
	s := Settings{
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		GeminiAPIKey:      v.GetString("gemini_api_key"),
		RealtimeURL:       strings.TrimRight(v.GetString("realtime_url"), "/"),
		TokenURL:          v.GetString("token_url"),
		Model:             v.GetString("model"),
		Voice:             v.GetString("voice"),
		Instructions:      v.GetString("instructions"),
		Transcriber:       strings.ToLower(v.GetString("transcriber")),
		TranscribeBaseURL: v.GetString("transcribe_base_url"),
		TranscribeModel:   v.GetString("transcribe_model"),
		GeminiModel:       v.GetString("gemini_model"),
		Language:          v.GetString("language"),
		ICEServers:        v.GetStringSlice("ice_servers"),
		KeepaliveURL:      v.GetString("keepalive_url"),
		KeepaliveInterval: v.GetDuration("keepalive_interval"),
		SettleDelay:       v.GetDuration("settle_delay"),
		ChunkInterval:     v.GetDuration("chunk_interval"),
		HTTPTimeout:       v.GetDuration("http_timeout"),
		DebugPort:         v.GetInt("debug_port"),
		MicDevice:         v.GetString("mic_device"),
		Playback:          v.GetBool("playback"),
	}

	switch s.Transcriber {
	case TranscriberWhisper:
	case TranscriberGemini:
		if s.GeminiAPIKey == "" {
			return s, errors.New("gemini transcriber needs gemini_api_key")
		}
	default:
		return s, fmt.Errorf("unknown transcriber %q", s.Transcriber)
	}
	if s.DebugPort < 0 || s.DebugPort > 65535 {
		return s, fmt.Errorf("debug_port out of range: %d", s.DebugPort)
	}
	if s.HTTPTimeout <= 0 {
		return s, fmt.Errorf("http_timeout must be positive: %v", s.HTTPTimeout)
	}
	return s, nil
}

func (c *Config) Get(key string) (string, error) {
	if !c.v.IsSet(key) {
		return "", fmt.Errorf("config key not found: %s", key)
	}
	return c.v.GetString(key), nil
}

// Set stores key in memory; Save persists it.
func (c *Config) Set(key, value string) {
	c.v.Set(key, value)
}

// Save writes the configuration to the file viper read it from, or to
// path when nothing was read.
func (c *Config) Save(path string) error {
	if c.v.ConfigFileUsed() != "" {
		path = c.v.ConfigFileUsed()
	}
	if err := c.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
