package tools

import (
	"errors"
	"fmt"
)

var ErrEmptyName = errors.New("tool name is empty")

// DispatchError reports a handler that failed or panicked.
type DispatchError struct {
	Name string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
