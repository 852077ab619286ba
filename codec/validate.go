package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotTransferable marks payloads rejected by ValidateTransferable.
var ErrNotTransferable = errors.New("payload is not transferable")

// UnserializableError reports a value that cannot cross an actor boundary
// because it has no JSON representation (functions, channels, cycles, ...).
type UnserializableError struct {
	Cause error
}

func (e *UnserializableError) Error() string {
	return fmt.Sprintf("payload is not transferable: %v", e.Cause)
}

func (e *UnserializableError) Unwrap() error { return e.Cause }

// Is reports ErrNotTransferable so callers can test with errors.Is
// without inspecting the concrete cause.
func (e *UnserializableError) Is(target error) bool { return target == ErrNotTransferable }

// ValidateTransferable verifies that v survives a JSON round trip. Every
// value crossing an actor boundary must pass; violations surface at
// construction time, never at delivery.
func ValidateTransferable(v any) error {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return &UnserializableError{Cause: err}
	}
	return nil
}
