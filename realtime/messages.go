package realtime

import (
	"encoding/json"
)

type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type SessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Tools                   []Tool                   `json:"tools,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ConversationItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	if len(cfg.Tools) > 0 && cfg.ToolChoice == "" {
		cfg.ToolChoice = "auto"
	}
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

// NewUserText adds typed or transcribed user text to the conversation.
func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

// NewFunctionCallOutput carries a tool result; output is already JSON.
func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// Encode renders an outbound message for the data channel.
func Encode(msg any) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
