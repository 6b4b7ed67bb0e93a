package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// RegisterBuiltins adds get_current_time and copy_to_clipboard to r.
// now is the clock behind get_current_time; nil means time.Now.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	err := r.Register(Tool{
		Name:        "get_current_time",
		Description: "Get the current local date and time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, currentTime(now))
	if err != nil {
		return err
	}

	return r.Register(Tool{
		Name:        "copy_to_clipboard",
		Description: "Copy text to the user's clipboard.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to copy.",
				},
			},
			"required": []string{"text"},
		},
	}, copyToClipboard(clipboard.WriteAll))
}

func currentTime(now func() time.Time) Handler {
	return func(context.Context, json.RawMessage) (any, error) {
		t := now()
		return map[string]string{
			"time":     t.Format(time.RFC3339),
			"weekday":  t.Weekday().String(),
			"timezone": t.Location().String(),
		}, nil
	}
}

func copyToClipboard(write func(string) error) Handler {
	return func(_ context.Context, args json.RawMessage) (any, error) {
		var params struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		if params.Text == "" {
			return nil, errors.New("nothing to copy")
		}
		if clipboard.Unsupported {
			return nil, errors.New("no clipboard available")
		}
		if err := write(params.Text); err != nil {
			return nil, err
		}
		return map[string]any{"copied": len(params.Text)}, nil
	}
}
