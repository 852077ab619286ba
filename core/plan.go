package core

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
)

// PlanContext carries the runtime context a plan executes under.
type PlanContext struct {
	// Origin is the actor whose handler produced the plan. Replies to
	// plan-level asks are piped back into its mailbox; a nil origin
	// degrades those replies to broadcasts.
	Origin *ActorRef
}

// PlanInterpreter executes a handler's returned message plan: nil, a
// single item, or an ordered list. Each item is either a send
// instruction, recognized structurally, or a domain event broadcast to
// subscribers. Items run strictly in the order given; later items may
// observe the side effects of earlier ones. Failures are isolated per
// item: a bad item is logged and skipped, never aborting the rest.
type PlanInterpreter struct {
	registry *CorrelationRegistry
	resolver Resolver
	emitter  *Emitter
	log      *zap.Logger

	// deadLetter, when set, records undeliverable messages.
	deadLetter func(target string, env *Envelope, reason string)
}

// NewPlanInterpreter creates an interpreter. The registry generates
// correlation ids for plan-level asks and emit-scoped ids for events
// broadcast without one; the resolver locates send-instruction targets.
func NewPlanInterpreter(registry *CorrelationRegistry, resolver Resolver, emitter *Emitter, logger *zap.Logger) *PlanInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanInterpreter{
		registry: registry,
		resolver: resolver,
		emitter:  emitter,
		log:      logger.Named("plan"),
	}
}

// Process executes plan item by item and returns how many items were
// dispatched cleanly. It stops early only when ctx is done; per-item
// failures are logged and skipped.
func (p *PlanInterpreter) Process(ctx context.Context, plan any, pc PlanContext) (int, error) {
	items := normalizePlan(plan)
	dispatched := 0
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return dispatched, fmt.Errorf("plan aborted at item %d: %w", i, err)
		}
		if item == nil {
			p.log.Warn("skipping nil plan item", zap.Int("index", i))
			continue
		}
		if instr, ok := decodeSendInstruction(item); ok {
			if err := p.dispatchSend(instr, pc); err != nil {
				p.log.Warn("send instruction failed",
					zap.Int("index", i),
					zap.String("target", instr.To),
					zap.Error(err))
				continue
			}
			dispatched++
			continue
		}
		env, err := envelopeFromValue(item)
		if err != nil {
			p.log.Warn("skipping malformed plan item",
				zap.Int("index", i),
				zap.String("reason", err.Error()))
			continue
		}
		if err := p.broadcast(env); err != nil {
			p.log.Warn("broadcast failed",
				zap.Int("index", i),
				zap.String("type", env.Type),
				zap.Error(err))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// dispatchSend delivers a send instruction's message straight to its
// target, as a tell or as a new ask whose reply is piped back to the
// plan's origin.
func (p *PlanInterpreter) dispatchSend(instr *SendInstruction, pc PlanContext) error {
	if instr.To == "" || instr.Tell == nil {
		return fmt.Errorf("incomplete send instruction")
	}
	if instr.Mode != ModeTell && instr.Mode != ModeAsk {
		return fmt.Errorf("unknown send mode '%s'", instr.Mode)
	}

	env, err := envelopeFromValue(instr.Tell)
	if err != nil {
		return fmt.Errorf("bad tell message: %w", err)
	}

	target, err := p.resolver.Resolve(instr.To)
	if err != nil {
		if out, serr := env.stamped(p.now(), ""); serr == nil {
			p.reportDeadLetter(instr.To, out, err.Error())
		}
		return err
	}

	if instr.Mode == ModeTell {
		out, err := env.stamped(p.now(), "")
		if err != nil {
			return err
		}
		if err := target.deliver(out); err != nil {
			p.reportDeadLetter(instr.To, out, err.Error())
			return err
		}
		return nil
	}

	if p.registry == nil {
		return fmt.Errorf("no correlation registry wired for ask mode")
	}
	id := p.registry.NextID()
	out, err := env.stamped(p.now(), id)
	if err != nil {
		return err
	}
	req, err := p.registry.Register(id, 0)
	if err != nil {
		return err
	}
	if err := target.deliver(out); err != nil {
		p.registry.fail(id, err)
		p.reportDeadLetter(instr.To, out, err.Error())
		return err
	}
	p.pipeReply(req, pc.Origin, out)
	return nil
}

// pipeReply forwards the eventual outcome of a plan-launched ask into
// the origin actor's mailbox. Waiting on the background context is safe:
// the registry guarantees every registered request a terminal outcome.
func (p *PlanInterpreter) pipeReply(req *PendingRequest, origin *ActorRef, sent *Envelope) {
	go func() {
		v, err := req.Wait(context.Background())
		if err != nil {
			p.log.Warn("plan ask failed",
				zap.String("id", req.CorrelationID()),
				zap.Error(err))
			if origin != nil {
				p.reportDeadLetter(origin.Name(), sent, err.Error())
			}
			return
		}
		reply := replyEnvelope(v, req.CorrelationID())
		if origin == nil {
			p.emitter.Emit(reply)
			return
		}
		if err := origin.deliver(reply); err != nil {
			p.reportDeadLetter(origin.Name(), reply, err.Error())
		}
	}()
}

// broadcast attaches missing envelope metadata, including an
// emit-scoped correlation id, and fans the event out to subscribers.
func (p *PlanInterpreter) broadcast(env *Envelope) error {
	corrID := ""
	if env.CorrelationID == "" && p.registry != nil {
		corrID = p.registry.NextEmitID()
	}
	out, err := env.stamped(p.now(), corrID)
	if err != nil {
		return err
	}
	p.emitter.Emit(out)
	return nil
}

func (p *PlanInterpreter) reportDeadLetter(target string, env *Envelope, reason string) {
	if p.deadLetter != nil {
		p.deadLetter(target, env, reason)
	}
}

func (p *PlanInterpreter) now() time.Time {
	if p.registry != nil {
		return p.registry.now()
	}
	return time.Now()
}

// normalizePlan flattens a plan into its ordered items. A single item
// becomes a one-element list; []byte stays a single (malformed) item
// rather than being iterated byte by byte.
func normalizePlan(plan any) []any {
	if plan == nil {
		return nil
	}
	if items, ok := plan.([]any); ok {
		return items
	}
	if _, ok := plan.([]byte); ok {
		return []any{plan}
	}
	v := reflect.ValueOf(plan)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		items := make([]any, v.Len())
		for i := range items {
			items[i] = v.Index(i).Interface()
		}
		return items
	}
	return []any{plan}
}

// decodeSendInstruction recognizes a send instruction structurally: the
// typed forms, or a map carrying well-shaped 'to', 'tell' and 'mode'
// fields. Anything else, including a map with only some of those fields,
// falls through to domain-event handling.
func decodeSendInstruction(item any) (*SendInstruction, bool) {
	switch v := item.(type) {
	case *SendInstruction:
		return v, true
	case SendInstruction:
		return &v, true
	case map[string]any:
		to, ok := v["to"].(string)
		if !ok || to == "" {
			return nil, false
		}
		tell, ok := v["tell"]
		if !ok || tell == nil {
			return nil, false
		}
		mode, ok := v["mode"].(string)
		if !ok || (mode != ModeTell && mode != ModeAsk) {
			return nil, false
		}
		return &SendInstruction{To: to, Tell: tell, Mode: mode}, true
	default:
		return nil, false
	}
}

// envelopeFromValue shapes a plan item or tell message into an envelope.
// Maps need a 'type' field; their remaining keys become the payload
// unless an explicit 'payload' key is present.
func envelopeFromValue(v any) (*Envelope, error) {
	switch m := v.(type) {
	case *Envelope:
		return m, nil
	case Envelope:
		return &m, nil
	case map[string]any:
		msgType, _ := m["type"].(string)
		if msgType == "" {
			return nil, fmt.Errorf("event has no 'type' field")
		}
		env := &Envelope{Type: msgType}
		if id, ok := m["correlationId"].(string); ok {
			env.CorrelationID = id
		}
		if ver, ok := m["version"].(string); ok {
			env.Version = ver
		}
		if ts, ok := m["timestamp"].(time.Time); ok {
			env.Timestamp = ts
		}
		if payload, ok := m["payload"]; ok {
			env.Payload = payload
			return env, nil
		}
		rest := make(map[string]any)
		for k, val := range m {
			switch k {
			case "type", "correlationId", "version", "timestamp":
			default:
				rest[k] = val
			}
		}
		if len(rest) > 0 {
			env.Payload = rest
		}
		return env, nil
	default:
		return nil, fmt.Errorf("not an event shape: %T", v)
	}
}

// replyEnvelope shapes a resolved ask value for mailbox delivery.
// Responses routed through the result processor already arrive as
// envelopes; raw values resolved by hand are wrapped.
func replyEnvelope(v any, corrID string) *Envelope {
	if env, ok := v.(*Envelope); ok {
		return env
	}
	return &Envelope{
		Type:          TypeResponse,
		CorrelationID: corrID,
		Timestamp:     time.Now(),
		Version:       EnvelopeVersion,
		Payload:       v,
	}
}
