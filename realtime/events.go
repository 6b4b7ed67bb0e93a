// Package realtime holds the side-channel wire protocol: the closed set
// of inbound events and the constructors for outbound messages.
package realtime

import (
	"encoding/json"
	"fmt"
)

const (
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeAudioCommitted         = "input_audio_buffer.committed"
	TypeInputTranscriptDelta   = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptDone    = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptDelta        = "response.audio_transcript.delta"
	TypeTranscriptDone         = "response.audio_transcript.done"
	TypeFunctionCallArgsDone   = "response.function_call_arguments.done"
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
)

// Event is an inbound side-channel message. The set of implementations
// is closed; anything not recognized decodes to Unknown.
type Event interface {
	eventType() string
}

// TypeOf reports the wire tag of e.
func TypeOf(e Event) string {
	return e.eventType()
}

type SpeechStarted struct {
	ItemID       string `json:"item_id"`
	AudioStartMS int64  `json:"audio_start_ms"`
}

func (SpeechStarted) eventType() string { return TypeSpeechStarted }

type SpeechStopped struct {
	ItemID     string `json:"item_id"`
	AudioEndMS int64  `json:"audio_end_ms"`
}

func (SpeechStopped) eventType() string { return TypeSpeechStopped }

type AudioCommitted struct {
	ItemID         string `json:"item_id"`
	PreviousItemID string `json:"previous_item_id"`
}

func (AudioCommitted) eventType() string { return TypeAudioCommitted }

// InputTranscription is the endpoint's own transcription of user
// speech, partial or final.
type InputTranscription struct {
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Final      bool   `json:"-"`
}

func (e InputTranscription) eventType() string {
	if e.Final {
		return TypeInputTranscriptDone
	}
	return TypeInputTranscriptDelta
}

type TranscriptDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

func (TranscriptDelta) eventType() string { return TypeTranscriptDelta }

type TranscriptDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (TranscriptDone) eventType() string { return TypeTranscriptDone }

type FunctionCallArgumentsDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

func (FunctionCallArgumentsDone) eventType() string { return TypeFunctionCallArgsDone }

type Unknown struct {
	Type string
}

func (e Unknown) eventType() string { return e.Type }

// Decode parses one side-channel message.
func Decode(raw []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		event Event
		err   error
	)
	switch envelope.Type {
	case TypeSpeechStarted:
		event, err = decodeAs[SpeechStarted](raw)
	case TypeSpeechStopped:
		event, err = decodeAs[SpeechStopped](raw)
	case TypeAudioCommitted:
		event, err = decodeAs[AudioCommitted](raw)
	case TypeInputTranscriptDelta:
		event, err = decodeAs[InputTranscription](raw)
	case TypeInputTranscriptDone:
		var e InputTranscription
		e, err = decodeAs[InputTranscription](raw)
		e.Final = true
		event = e
	case TypeTranscriptDelta:
		event, err = decodeAs[TranscriptDelta](raw)
	case TypeTranscriptDone:
		event, err = decodeAs[TranscriptDone](raw)
	case TypeFunctionCallArgsDone:
		event, err = decodeAs[FunctionCallArgumentsDone](raw)
	default:
		event = Unknown{Type: envelope.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return event, nil
}

func decodeAs[T Event](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
