package core

import (
	"errors"
	"fmt"
	"time"
)

// Correlation registry errors.
var (
	// ErrAskTimeout matches any *TimeoutError via errors.Is.
	ErrAskTimeout = errors.New("ask timed out")

	// ErrShuttingDown rejects every pending request drained by ClearAll,
	// so callers can tell shutdown apart from an ordinary timeout.
	ErrShuttingDown = errors.New("shutting down")

	// ErrRegistryFull is returned when registering would exceed the
	// configured pending-request ceiling.
	ErrRegistryFull = errors.New("correlation registry is full")

	// ErrDuplicateCorrelation is returned when a correlation id is
	// registered while a request with the same id is still pending.
	ErrDuplicateCorrelation = errors.New("correlation id already pending")
)

// Delivery errors.
var (
	// ErrActorNotFound is returned when a target name resolves to nothing.
	ErrActorNotFound = errors.New("actor not found")

	// ErrActorNotRunning matches any *NotRunningError via errors.Is.
	ErrActorNotRunning = errors.New("actor is not running")

	// ErrMailboxFull is returned when a delivery would block on a full
	// mailbox. Deliveries never queue behind a slow actor.
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrSystemStopping is returned by Spawn, Tell and Ask once system
	// shutdown has begun.
	ErrSystemStopping = errors.New("actor system is shutting down")
)

// TimeoutError carries how long a request waited and the limit it was
// registered with. The limit appears in the message in milliseconds.
type TimeoutError struct {
	CorrelationID string
	Elapsed       time.Duration
	Limit         time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ask '%s' timed out after %s (limit %dms)",
		e.CorrelationID, e.Elapsed, e.Limit.Milliseconds())
}

// Is reports ErrAskTimeout so callers can test with errors.Is without
// unpacking the concrete type.
func (e *TimeoutError) Is(target error) bool { return target == ErrAskTimeout }

// NotRunningError reports a send or ask against an actor outside the
// running state, including which state it was actually in.
type NotRunningError struct {
	Actor string
	State ActorState
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("actor '%s' is not running (state: %s)", e.Actor, e.State)
}

func (e *NotRunningError) Is(target error) bool { return target == ErrActorNotRunning }

// PhaseError wraps a failure from one phase of result processing. Phases
// run in a fixed order and stop at the first failure, so the phase name
// tells the supervisor exactly how far the result was applied.
type PhaseError struct {
	Phase string
	Actor string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed for actor '%s': %v", e.Phase, e.Actor, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
