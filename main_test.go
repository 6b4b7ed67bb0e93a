package main

import (
	"context"
	"reflect"
	"testing"

	"github.com/charmbracelet/log"
	"node.town/hark/config"
	"node.town/hark/stt"
	"node.town/hark/tools"
)

func TestParameterNames(t *testing.T) {
	tests := []struct {
		name   string
		schema map[string]any
		want   []string
	}{
		{"nil schema", nil, []string{}},
		{"no properties", map[string]any{"type": "object"}, []string{}},
		{
			"required marked",
			map[string]any{
				"properties": map[string]any{"b": nil, "a": nil},
				"required":   []string{"b"},
			},
			[]string{"a", "b*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parameterNames(tt.schema)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parameterNames() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolRows(t *testing.T) {
	r := tools.NewRegistry()
	if err := tools.RegisterBuiltins(r, nil); err != nil {
		t.Fatal(err)
	}

	rows := toolRows(r.List())
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][0] != "copy_to_clipboard" || rows[0][2] != "text*" {
		t.Errorf("first row = %v", rows[0])
	}
	if rows[1][0] != "get_current_time" || rows[1][2] != "" {
		t.Errorf("second row = %v", rows[1])
	}
}

func TestNewTranscriber(t *testing.T) {
	t.Run("whisper", func(t *testing.T) {
		tr, err := newTranscriber(context.Background(), config.Settings{
			Transcriber:  config.TranscriberWhisper,
			OpenAIAPIKey: "sk-test",
		}, log.Default())
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := tr.(*stt.Whisper); !ok {
			t.Errorf("got %T", tr)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := newTranscriber(context.Background(), config.Settings{
			Transcriber: "vosk",
		}, log.Default()); err == nil {
			t.Error("expected an error")
		}
	})
}
