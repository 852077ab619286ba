package core

import (
	"fmt"
	"time"

	"github.com/troupekit/troupe/codec"
)

// EnvelopeVersion is stamped on every message that crosses an actor
// boundary without an explicit version.
const EnvelopeVersion = "1.0"

// Reserved message types. RESPONSE and BEHAVIOR_CHANGED are part of the
// public contract; the troupe.* types are runtime-internal notifications
// that subscribers and behavior engines may also observe.
const (
	// TypeResponse tags a reply envelope when the original request type
	// is unknown.
	TypeResponse = "RESPONSE"

	// TypeBehaviorChanged is broadcast after an actor swaps its handler.
	TypeBehaviorChanged = "BEHAVIOR_CHANGED"

	// TypeContextUpdate is the reserved instruction sent to a behavior
	// engine to replace the actor's context. Engines must treat it as a
	// wholesale state replacement, never a merge.
	TypeContextUpdate = "troupe.ctx.update"

	// TypeActorStarted and TypeActorStopped announce lifecycle edges.
	TypeActorStarted = "troupe.actor.started"
	TypeActorStopped = "troupe.actor.stopped"

	// TypeDeadLetter is broadcast when a message could not be delivered.
	TypeDeadLetter = "troupe.deadletter"
)

// Envelope is the message that crosses actor boundaries. It is immutable
// once constructed; the runtime stamps missing metadata onto copies, never
// in place. The payload must survive the canonical encoding; the check
// runs at construction.
type Envelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
	Version       string    `json:"version,omitempty"`
	Payload       any       `json:"payload,omitempty"`

	// validated records that the payload already passed the
	// transferability check, so stamping does not re-marshal it.
	validated bool
}

// NewEnvelope builds a validated envelope with timestamp and version
// stamped. It fails synchronously if the payload cannot cross a boundary
// (functions, channels, cycles, NaN).
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	if msgType == "" {
		return nil, fmt.Errorf("message type must not be empty")
	}
	if err := codec.ValidateTransferable(payload); err != nil {
		return nil, fmt.Errorf("message '%s': %w", msgType, err)
	}
	return &Envelope{
		Type:      msgType,
		Timestamp: time.Now(),
		Version:   EnvelopeVersion,
		Payload:   payload,
		validated: true,
	}, nil
}

// IsAsk reports whether the envelope carries a correlation id, i.e. the
// sender is suspended waiting for a reply.
func (e *Envelope) IsAsk() bool { return e.CorrelationID != "" }

// stamped returns a copy with missing metadata filled in and, when
// corrID is non-empty, the correlation id set. The copy is validated if
// the original was not. The original is never touched.
func (e *Envelope) stamped(now time.Time, corrID string) (*Envelope, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("message type must not be empty")
	}
	out := *e
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	if out.Version == "" {
		out.Version = EnvelopeVersion
	}
	if corrID != "" {
		out.CorrelationID = corrID
	}
	if !out.validated {
		if err := codec.ValidateTransferable(out.Payload); err != nil {
			return nil, fmt.Errorf("message '%s': %w", out.Type, err)
		}
		out.validated = true
	}
	return &out, nil
}

// Result is the structured value a handler may return: a new context, a
// one-to-one reply, a replacement behavior, and an ordered list of items
// to emit. All fields are optional; a nil field means "no change". A
// Result is consumed within the processing step that produced it.
type Result struct {
	// Context replaces the actor's state wholesale when non-nil.
	Context any

	// Reply resolves the pending ask that delivered the triggering
	// message. Ignored for tell messages.
	Reply any

	// Behavior replaces the actor's handler for subsequent messages.
	Behavior Behavior

	// Emit is dispatched item by item, in order, after the phases above.
	Emit []any
}

// Send instruction modes.
const (
	ModeTell = "tell"
	ModeAsk  = "ask"
)

// SendInstruction is an emit item that targets one actor directly instead
// of broadcasting. The interpreter recognizes it structurally, by all
// three fields being present and well-shaped, because handlers may return
// plain maps that were never declared as this type.
type SendInstruction struct {
	To   string `json:"to"`
	Tell any    `json:"tell"`
	Mode string `json:"mode"`
}

// ActorState tracks where an actor is in its lifecycle. Send and ask are
// valid only in the running state.
type ActorState int32

const (
	// ActorStateIdle means the actor is constructed but not started.
	ActorStateIdle ActorState = iota

	// ActorStateStarting means the actor is initializing.
	ActorStateStarting

	// ActorStateRunning means the actor accepts messages.
	ActorStateRunning

	// ActorStateStopping means the actor is shutting down.
	ActorStateStopping

	// ActorStateStopped means the actor has been stopped.
	ActorStateStopped

	// ActorStateError means the actor failed and was not recovered.
	ActorStateError
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case ActorStateIdle:
		return "idle"
	case ActorStateStarting:
		return "starting"
	case ActorStateRunning:
		return "running"
	case ActorStateStopping:
		return "stopping"
	case ActorStateStopped:
		return "stopped"
	case ActorStateError:
		return "error"
	default:
		return "unknown"
	}
}

// ActorOptions contains configuration options for spawning an actor.
type ActorOptions struct {
	// MailboxSize sets the size of the actor's message queue.
	MailboxSize int

	// ProcessTimeout bounds the handling of a single message.
	ProcessTimeout time.Duration

	// Engine optionally backs the actor with an external state machine.
	// Context updates are then sent to the engine as TypeContextUpdate
	// instructions instead of replacing a state slot.
	Engine BehaviorEngine

	// InitialState seeds the state slot of a plain actor. Ignored when
	// Engine is set.
	InitialState any
}

// DefaultActorOptions returns sensible default options.
func DefaultActorOptions() ActorOptions {
	return ActorOptions{
		MailboxSize:    1024,
		ProcessTimeout: 30 * time.Second,
	}
}

func (o ActorOptions) withDefaults() ActorOptions {
	def := DefaultActorOptions()
	if o.MailboxSize <= 0 {
		o.MailboxSize = def.MailboxSize
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = def.ProcessTimeout
	}
	return o
}

// ActorStats contains runtime statistics for an actor.
type ActorStats struct {
	// Name of the actor
	Name string

	// Current state
	State ActorState

	// Total messages processed
	MessagesProcessed uint64

	// Messages currently in the mailbox
	MailboxDepth int

	// Time when the actor was created
	CreatedAt time.Time

	// Last message processing time
	LastMessageAt time.Time
}
