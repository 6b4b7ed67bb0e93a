package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"node.town/hark/tools"
)

func echoHandler(_ context.Context, args json.RawMessage) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		tool    tools.Tool
		handler tools.Handler
		wantErr error
	}{
		{
			name:    "valid tool",
			tool:    tools.Tool{Name: "echo"},
			handler: echoHandler,
		},
		{
			name:    "empty name",
			tool:    tools.Tool{},
			handler: echoHandler,
			wantErr: tools.ErrEmptyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tools.NewRegistry()
			err := r.Register(tt.tool, tt.handler)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("Register() unexpected error: %v", err)
			}
		})
	}
}

func TestRegisterOverwrites(t *testing.T) {
	r := tools.NewRegistry()
	r.RegisterFunc("pick", func(context.Context, json.RawMessage) (any, error) {
		return "first", nil
	})
	r.RegisterFunc("pick", func(context.Context, json.RawMessage) (any, error) {
		return "second", nil
	})

	res, ok := r.Dispatch(context.Background(), "pick", nil)
	if !ok {
		t.Fatalf("Dispatch() found = false")
	}
	if res.Output != `"second"` {
		t.Errorf("Output = %s, want %q", res.Output, `"second"`)
	}
	if n := len(r.List()); n != 1 {
		t.Errorf("List() len = %d, want 1", n)
	}
}

func TestDispatch(t *testing.T) {
	r := tools.NewRegistry()
	r.RegisterFunc("echo", echoHandler)
	r.RegisterFunc("fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})
	r.RegisterFunc("panic", func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})

	tests := []struct {
		name       string
		tool       string
		args       string
		wantFound  bool
		wantOutput string
		wantErr    bool
	}{
		{
			name:       "result is serialized",
			tool:       "echo",
			args:       `{"a":1}`,
			wantFound:  true,
			wantOutput: `{"a":1}`,
		},
		{
			name:      "unregistered is dropped",
			tool:      "missing",
			args:      `{}`,
			wantFound: false,
		},
		{
			name:       "handler error becomes structured output",
			tool:       "fail",
			args:       `{}`,
			wantFound:  true,
			wantOutput: `{"error":"boom"}`,
			wantErr:    true,
		},
		{
			name:       "panic is recovered",
			tool:       "panic",
			args:       `{}`,
			wantFound:  true,
			wantOutput: `{"error":"panic: kaboom"}`,
			wantErr:    true,
		},
		{
			name:       "invalid arguments",
			tool:       "echo",
			args:       `{nope`,
			wantFound:  true,
			wantOutput: `{"error":"arguments are not valid JSON"}`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, found := r.Dispatch(context.Background(), tt.tool, json.RawMessage(tt.args))
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if !found {
				return
			}
			if res.Output != tt.wantOutput {
				t.Errorf("Output = %s, want %s", res.Output, tt.wantOutput)
			}
			var derr *tools.DispatchError
			if got := errors.As(res.Err, &derr); got != tt.wantErr {
				t.Errorf("Err = %v, want DispatchError: %v", res.Err, tt.wantErr)
			}
		})
	}
}

func TestListSorted(t *testing.T) {
	r := tools.NewRegistry()
	for _, name := range []string{"b", "c", "a"} {
		r.RegisterFunc(name, echoHandler)
	}
	got := r.List()
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Name != want {
			t.Errorf("List()[%d] = %s, want %s", i, got[i].Name, want)
		}
	}
}
