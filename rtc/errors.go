package rtc

import (
	"errors"
	"fmt"
)

var ErrChannelNotOpen = errors.New("data channel not open")

// PermissionError means the microphone could not be opened.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// AuthError means no session credential could be obtained.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("session token: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("session token: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NegotiationError means the media connection could not be set up.
type NegotiationError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *NegotiationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("negotiate %s: status %d: %v", e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("negotiate %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
