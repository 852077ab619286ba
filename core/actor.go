package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ActorRef is a live reference to a spawned actor. One goroutine owns
// the actor's loop; messages are processed one at a time in mailbox
// order, so a handler never races its own state. References are created
// through System.Spawn, never directly.
type ActorRef struct {
	name   string
	system *System
	log    *zap.Logger
	opts   ActorOptions

	// behavior is the single-slot current handler. After start it is
	// read and swapped only from the actor's own loop.
	behavior Behavior

	// data is the plain actor's state slot, loop-owned like behavior.
	data any

	engine       BehaviorEngine
	engineCancel func()

	mailbox chan *Envelope
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Atomic counters for state and statistics
	state             int32 // ActorState
	messagesProcessed uint64
	createdAt         time.Time
	lastMessageAt     int64 // Unix timestamp
}

func newActorRef(system *System, name string, behavior Behavior, opts ActorOptions) *ActorRef {
	ctx, cancel := context.WithCancel(context.Background())

	a := &ActorRef{
		name:      name,
		system:    system,
		log:       system.opts.Logger.Named("actor").With(zap.String("actor", name)),
		opts:      opts,
		behavior:  behavior,
		data:      opts.InitialState,
		engine:    opts.Engine,
		mailbox:   make(chan *Envelope, opts.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	atomic.StoreInt32(&a.state, int32(ActorStateIdle))
	return a
}

// Name returns the name this actor was spawned under.
func (a *ActorRef) Name() string { return a.name }

// State returns the actor's current lifecycle state.
func (a *ActorRef) State() ActorState {
	return ActorState(atomic.LoadInt32(&a.state))
}

// start moves idle -> starting -> running and launches the loop. The
// actor is running before start returns, so a Tell issued right after
// Spawn cannot race the loop coming up.
func (a *ActorRef) start() error {
	if !atomic.CompareAndSwapInt32(&a.state, int32(ActorStateIdle), int32(ActorStateStarting)) {
		return fmt.Errorf("actor '%s' is already started (state: %s)", a.name, a.State())
	}

	if a.engine != nil {
		a.engineCancel = a.engine.Subscribe(func(s Snapshot) {
			a.log.Debug("engine transition",
				zap.String("value", s.Value),
				zap.String("status", s.Status))
		})
	}

	atomic.StoreInt32(&a.state, int32(ActorStateRunning))
	a.wg.Add(1)
	go a.loop()
	return nil
}

// stop drains the actor and moves it to stopped. Safe to call from any
// state and more than once.
func (a *ActorRef) stop() error {
	for {
		current := ActorState(atomic.LoadInt32(&a.state))
		switch current {
		case ActorStateStopped:
			return nil
		case ActorStateStopping:
			a.wg.Wait()
			return nil
		case ActorStateStarting:
			// The starting window contains no blocking work; retry.
			continue
		default:
			if !atomic.CompareAndSwapInt32(&a.state, int32(current), int32(ActorStateStopping)) {
				continue
			}
			a.cancel()
			a.wg.Wait()
			// Catches anything enqueued in the window before the state
			// flipped; a no-op when the loop already drained.
			a.drainMailbox()
			if a.engineCancel != nil {
				a.engineCancel()
			}
			atomic.StoreInt32(&a.state, int32(ActorStateStopped))
			return nil
		}
	}
}

// deliver enqueues env without blocking. Only running actors accept
// messages; a full mailbox is an error, never a hidden queue.
func (a *ActorRef) deliver(env *Envelope) error {
	if s := a.State(); s != ActorStateRunning {
		return &NotRunningError{Actor: a.name, State: s}
	}

	select {
	case a.mailbox <- env:
		return nil
	case <-a.ctx.Done():
		return &NotRunningError{Actor: a.name, State: a.State()}
	default:
		return fmt.Errorf("actor '%s': %w", a.name, ErrMailboxFull)
	}
}

// Stats returns current runtime statistics for this actor.
func (a *ActorRef) Stats() ActorStats {
	lastMsg := atomic.LoadInt64(&a.lastMessageAt)
	var lastMessageAt time.Time
	if lastMsg > 0 {
		lastMessageAt = time.Unix(lastMsg, 0)
	}

	return ActorStats{
		Name:              a.name,
		State:             a.State(),
		MessagesProcessed: atomic.LoadUint64(&a.messagesProcessed),
		MailboxDepth:      len(a.mailbox),
		CreatedAt:         a.createdAt,
		LastMessageAt:     lastMessageAt,
	}
}

// loop is the actor's single processing goroutine. An unrecovered
// handler failure leaves the actor in the error state and exits the
// loop; restarting is a supervision concern outside this runtime.
func (a *ActorRef) loop() {
	defer a.wg.Done()

	for {
		select {
		case env := <-a.mailbox:
			if env == nil {
				continue
			}
			if !a.process(env) {
				atomic.CompareAndSwapInt32(&a.state, int32(ActorStateRunning), int32(ActorStateError))
				a.drainMailbox()
				return
			}

		case <-a.ctx.Done():
			a.drainMailbox()
			return
		}
	}
}

// process handles a single message. It reports false when the actor must
// be failed: a handler error, a panic, or a failed result phase.
func (a *ActorRef) process(env *Envelope) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("handler panicked",
				zap.String("type", env.Type),
				zap.Any("panic", r))
			ok = false
		}
	}()

	atomic.AddUint64(&a.messagesProcessed, 1)
	atomic.StoreInt64(&a.lastMessageAt, time.Now().Unix())

	ctx, cancel := context.WithTimeout(a.ctx, a.opts.ProcessTimeout)
	defer cancel()

	rc := &ReceiveContext{
		Self:     a,
		Envelope: env,
		State:    a.currentState(),
		System:   a.system,
	}

	ret, err := a.behavior(ctx, rc)
	if err != nil {
		a.log.Error("handler failed",
			zap.String("type", env.Type),
			zap.Error(err))
		return false
	}

	switch v := ret.(type) {
	case nil:
		return true
	case *Result:
		return a.applyResult(ctx, v, env)
	case Result:
		return a.applyResult(ctx, &v, env)
	default:
		if _, err := a.system.plans.Process(ctx, v, PlanContext{Origin: a}); err != nil {
			// Only shutdown aborts a plan; the actor itself is fine.
			a.log.Warn("plan processing aborted",
				zap.String("type", env.Type),
				zap.Error(err))
		}
		return true
	}
}

func (a *ActorRef) applyResult(ctx context.Context, result *Result, env *Envelope) bool {
	if err := a.system.results.Apply(ctx, a, result, env.CorrelationID, env.Type); err != nil {
		a.log.Error("result processing failed",
			zap.String("type", env.Type),
			zap.Error(err))
		return false
	}
	return true
}

// currentState reads the actor's context: the engine snapshot for
// engine-backed actors, the local slot otherwise.
func (a *ActorRef) currentState() any {
	if a.engine != nil {
		return a.engine.Snapshot().Context
	}
	return a.data
}

// updateContext replaces the actor's context wholesale. Engine-backed
// actors receive the reserved update instruction through the engine so
// its own change notifications stay intact; memory is never mutated
// behind the engine's back.
func (a *ActorRef) updateContext(next any) error {
	if a.engine != nil {
		env, err := NewEnvelope(TypeContextUpdate, next)
		if err != nil {
			return err
		}
		a.engine.Send(env)
		return nil
	}
	a.data = next
	return nil
}

// become swaps the single behavior slot. Only the actor's own loop calls
// it, between messages, so delivery concurrent with a switch observes
// either the old or the new behavior, never a torn one.
func (a *ActorRef) become(b Behavior) {
	a.behavior = b
}

// drainMailbox dead-letters whatever was queued when the actor stopped.
func (a *ActorRef) drainMailbox() {
	for {
		select {
		case env := <-a.mailbox:
			if env == nil {
				return
			}
			a.system.recordDeadLetter(a.name, env, "actor stopping")
		default:
			return
		}
	}
}

// forwardToEngine is the default behavior for actors spawned with an
// engine and no handler: every message goes straight into the engine.
// Such actors serve tells; an ask needs a handler that replies.
func forwardToEngine(_ context.Context, rc *ReceiveContext) (any, error) {
	rc.Self.engine.Send(rc.Envelope)
	return nil, nil
}
