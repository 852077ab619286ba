package core

import (
	"context"
)

// Behavior processes a single message for an actor. The return value may
// be a *Result (structured outcome), a message plan (one item or a
// slice, handed to the plan interpreter), or nil for no effect. A
// non-nil error marks the actor failed; supervision beyond that is the
// caller's concern.
type Behavior func(ctx context.Context, rc *ReceiveContext) (any, error)

// ReceiveContext carries everything a behavior may inspect while
// processing one message. It is valid only for the duration of that
// processing step.
type ReceiveContext struct {
	// Self is the actor processing the message.
	Self *ActorRef

	// Envelope is the message being processed. Envelope.IsAsk reports
	// whether the sender is suspended waiting for a reply.
	Envelope *Envelope

	// State is the actor's current context: the state slot for plain
	// actors, the engine snapshot's context for engine-backed ones.
	State any

	// System grants access to the enclosing runtime, e.g. for asking
	// another actor from inside a handler. Asking yourself deadlocks.
	System *System
}

// Snapshot is the observable state of a behavior engine.
type Snapshot struct {
	// Value names the engine's current state node.
	Value string

	// Context is the extended state carried alongside the value.
	Context any

	// Status reports the engine's run status, e.g. "running" or "done".
	Status string
}

// BehaviorEngine is the pluggable state machine an actor may be backed
// by. The runtime drives it exclusively through messages: context
// updates arrive as TypeContextUpdate instructions, never as direct
// field mutation, so the engine's own change notifications stay intact.
type BehaviorEngine interface {
	// Send delivers a message to the engine.
	Send(env *Envelope)

	// Subscribe registers a listener for state transitions and returns
	// a cancel function.
	Subscribe(fn func(Snapshot)) (cancel func())

	// Snapshot returns the engine's current state.
	Snapshot() Snapshot
}

// Resolver turns a send-instruction target into a live actor reference.
// Resolution failure is a per-item condition, not a fatal one.
type Resolver interface {
	Resolve(target string) (*ActorRef, error)
}
