package core

import (
	"context"

	"go.uber.org/zap"
)

// Result processing phases, in execution order.
const (
	phaseContext  = "context"
	phaseBehavior = "behavior"
	phaseReply    = "reply"
	phaseEmit     = "emit"
)

// ResultProcessor applies a handler's Result in four phases: context
// update, behavior switch, reply delivery, emit processing. The order is
// fixed and processing stops at the first failing phase; later phases
// never run on top of a half-applied earlier one. Each failure is logged
// with its phase and returned as a *PhaseError; the caller owns
// supervision from there.
type ResultProcessor struct {
	registry *CorrelationRegistry
	plans    *PlanInterpreter
	emitter  *Emitter
	log      *zap.Logger
}

// NewResultProcessor creates a processor. A nil registry degrades reply
// delivery to broadcast emits instead of failing hard.
func NewResultProcessor(registry *CorrelationRegistry, plans *PlanInterpreter, emitter *Emitter, logger *zap.Logger) *ResultProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultProcessor{
		registry: registry,
		plans:    plans,
		emitter:  emitter,
		log:      logger.Named("result"),
	}
}

// Apply executes result against actor. corrID is the correlation id of
// the triggering message, empty for tells; originalType is that
// message's type, used to tag the reply envelope.
//
// The smart default: when the triggering message was an ask and the
// handler returned a context but no explicit reply, the new context
// itself is the reply. A tell never replies, and an explicit reply
// always wins.
func (rp *ResultProcessor) Apply(ctx context.Context, actor *ActorRef, result *Result, corrID, originalType string) error {
	if result == nil {
		return nil
	}

	if result.Context != nil {
		if err := actor.updateContext(result.Context); err != nil {
			rp.log.Error("context update failed",
				zap.String("actor", actor.Name()),
				zap.Error(err))
			return &PhaseError{Phase: phaseContext, Actor: actor.Name(), Err: err}
		}
	}

	if result.Behavior != nil {
		actor.become(result.Behavior)
		rp.announceBehaviorChange(actor)
	}

	reply := result.Reply
	if reply == nil && corrID != "" && result.Context != nil {
		reply = result.Context
	}
	if corrID != "" && reply != nil {
		if err := rp.deliverReply(reply, corrID, originalType); err != nil {
			rp.log.Error("reply delivery failed",
				zap.String("actor", actor.Name()),
				zap.String("id", corrID),
				zap.Error(err))
			return &PhaseError{Phase: phaseReply, Actor: actor.Name(), Err: err}
		}
	}

	if len(result.Emit) > 0 {
		if _, err := rp.plans.Process(ctx, result.Emit, PlanContext{Origin: actor}); err != nil {
			rp.log.Error("emit processing failed",
				zap.String("actor", actor.Name()),
				zap.Error(err))
			return &PhaseError{Phase: phaseEmit, Actor: actor.Name(), Err: err}
		}
	}
	return nil
}

// deliverReply builds the response envelope and routes it to the
// registry for exactly-once resolution. Without a registry the reply is
// broadcast instead.
func (rp *ResultProcessor) deliverReply(reply any, corrID, originalType string) error {
	respType := originalType
	if respType == "" {
		respType = TypeResponse
	}
	env, err := NewEnvelope(respType, reply)
	if err != nil {
		return err
	}
	out, err := env.stamped(env.Timestamp, corrID)
	if err != nil {
		return err
	}
	if rp.registry == nil {
		rp.log.Debug("no correlation registry wired, broadcasting reply",
			zap.String("id", corrID))
		rp.emitter.Emit(out)
		return nil
	}
	rp.registry.HandleResponse(corrID, out)
	return nil
}

func (rp *ResultProcessor) announceBehaviorChange(actor *ActorRef) {
	env := &Envelope{
		Type:    TypeBehaviorChanged,
		Payload: map[string]any{"actor": actor.Name()},
	}
	if err := rp.plans.broadcast(env); err != nil {
		rp.log.Warn("behavior change broadcast failed",
			zap.String("actor", actor.Name()),
			zap.Error(err))
	}
}
