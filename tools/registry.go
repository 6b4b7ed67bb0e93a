package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Handler receives the decoded call arguments and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is the declaration advertised to the remote endpoint.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Result is what gets sent back as the function call output.
// Err is set when the handler failed; Output then carries the
// structured error instead.
type Result struct {
	Output string
	Err    error
}

type entry struct {
	tool    Tool
	handler Handler
}

// Registry maps tool names to handlers. The last registration for a
// name wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(tool Tool, handler Handler) error {
	if tool.Name == "" {
		return ErrEmptyName
	}
	if handler == nil {
		return fmt.Errorf("tool %s: nil handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Name] = entry{tool: tool, handler: handler}
	return nil
}

func (r *Registry) RegisterFunc(name string, handler Handler) error {
	return r.Register(Tool{Name: name}, handler)
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// List returns the declarations sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the handler registered under name. The second return
// is false when nothing is registered, in which case the call should be
// dropped. Handler errors and panics never escape: they come back as a
// Result whose Output is {"error": "..."}.
func (r *Registry) Dispatch(
	ctx context.Context,
	name string,
	args json.RawMessage,
) (Result, bool) {
	handler, ok := r.Lookup(name)
	if !ok {
		return Result{}, false
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return failure(name, errors.New("arguments are not valid JSON")), true
	}

	value, err := call(ctx, handler, args)
	if err != nil {
		return failure(name, err), true
	}

	output, err := json.Marshal(value)
	if err != nil {
		return failure(name, fmt.Errorf("encode result: %w", err)), true
	}
	return Result{Output: string(output)}, true
}

func call(
	ctx context.Context,
	handler Handler,
	args json.RawMessage,
) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return handler(ctx, args)
}

func failure(name string, err error) Result {
	derr := &DispatchError{Name: name, Err: err}
	output, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Result{Output: string(output), Err: derr}
}
