package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SystemOptions configures a System.
type SystemOptions struct {
	// Logger is the root logger; components derive named children from
	// it. Nil disables logging.
	Logger *zap.Logger

	// Clock drives correlation timeouts and stamped timestamps. Tests
	// inject a ManualClock here to make timeout races reproducible.
	Clock Clock

	// Actor supplies system-wide defaults for Spawn.
	Actor ActorOptions

	// Correlation configures the registry. Its clock and logger default
	// to the system's.
	Correlation RegistryOptions

	// JournalCapacity bounds the event and dead-letter rings.
	JournalCapacity int

	// ShutdownTimeout bounds Shutdown when its context carries no
	// deadline of its own.
	ShutdownTimeout time.Duration
}

// DefaultSystemOptions returns the production defaults.
func DefaultSystemOptions() SystemOptions {
	return SystemOptions{
		Actor:           DefaultActorOptions(),
		Correlation:     DefaultRegistryOptions(),
		JournalCapacity: DefaultJournalCapacity,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (o SystemOptions) withDefaults() SystemOptions {
	def := DefaultSystemOptions()
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	o.Actor = o.Actor.withDefaults()
	if o.Correlation.Clock == nil {
		o.Correlation.Clock = o.Clock
	}
	if o.Correlation.Logger == nil {
		o.Correlation.Logger = o.Logger
	}
	o.Correlation = o.Correlation.withDefaults()
	if o.JournalCapacity <= 0 {
		o.JournalCapacity = def.JournalCapacity
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.ShutdownTimeout
	}
	return o
}

// System is the runtime root: it owns the actors, the correlation
// registry, the plan interpreter, the result processor, the emitter and
// the journal. Tell is fire-and-forget; Ask suspends the caller until
// the correlated reply, its timeout, or shutdown. Those are the only
// terminal outcomes; a wait never leaks. Both fail fast unless the
// target is running.
type System struct {
	opts SystemOptions
	log  *zap.Logger

	registry *CorrelationRegistry
	emitter  *Emitter
	journal  *Journal
	plans    *PlanInterpreter
	results  *ResultProcessor

	mu     sync.RWMutex
	actors map[string]*ActorRef

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSystem creates a runtime. Zero-valued options fall back to
// DefaultSystemOptions.
func NewSystem(opts SystemOptions) *System {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &System{
		opts:   opts,
		log:    opts.Logger.Named("system"),
		actors: make(map[string]*ActorRef),
		ctx:    ctx,
		cancel: cancel,
	}
	s.emitter = NewEmitter(opts.Logger)
	s.journal = NewJournal(opts.JournalCapacity)
	s.emitter.Subscribe(s.journal.Record)
	s.registry = NewCorrelationRegistry(opts.Correlation)
	s.plans = NewPlanInterpreter(s.registry, s, s.emitter, opts.Logger)
	s.plans.deadLetter = s.recordDeadLetter
	s.results = NewResultProcessor(s.registry, s.plans, s.emitter, opts.Logger)
	return s
}

// Spawn creates and starts an actor under name. The actor is running
// when Spawn returns. Behavior may be nil only for engine-backed actors,
// which then forward every message into their engine.
func (s *System) Spawn(name string, behavior Behavior, opts ActorOptions) (*ActorRef, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("actor name must not be empty")
	}
	if behavior == nil && opts.Engine == nil {
		return nil, fmt.Errorf("actor '%s' needs a behavior or an engine", name)
	}
	if behavior == nil {
		behavior = forwardToEngine
	}
	merged := s.mergeActorOptions(opts)

	s.mu.Lock()
	if _, exists := s.actors[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("actor '%s' already exists", name)
	}
	ref := newActorRef(s, name, behavior, merged)
	s.actors[name] = ref
	s.mu.Unlock()

	if err := ref.start(); err != nil {
		s.mu.Lock()
		delete(s.actors, name)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to start actor '%s': %w", name, err)
	}

	s.log.Info("actor started", zap.String("actor", name))
	s.announce(TypeActorStarted, name)
	return ref, nil
}

// Stop stops a single actor. Its name stays resolvable, so later sends
// fail with a descriptive not-running error instead of vanishing.
func (s *System) Stop(name string) error {
	ref, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := ref.stop(); err != nil {
		return err
	}
	s.log.Info("actor stopped", zap.String("actor", name))
	s.announce(TypeActorStopped, name)
	return nil
}

// Tell delivers env to target fire-and-forget. It fails fast when the
// target is missing, not running, or its mailbox is full; failures are
// recorded as dead letters.
func (s *System) Tell(target string, env *Envelope) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("message must not be nil")
	}
	ref, err := s.Resolve(target)
	if err != nil {
		if out, serr := env.stamped(s.registry.now(), ""); serr == nil {
			s.recordDeadLetter(target, out, err.Error())
		}
		return err
	}
	out, err := env.stamped(s.registry.now(), "")
	if err != nil {
		return err
	}
	if err := ref.deliver(out); err != nil {
		s.recordDeadLetter(target, out, err.Error())
		return err
	}
	return nil
}

// Ask stamps env with a fresh correlation id, registers a pending
// request with the given timeout (non-positive means the configured
// default), delivers, and waits. The reply envelope's payload is the
// handler's reply value, or its new context under the smart default.
// Ask fails fast, before registering anything, when the target is not
// running.
func (s *System) Ask(ctx context.Context, target string, env *Envelope, timeout time.Duration) (*Envelope, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("message must not be nil")
	}
	ref, err := s.Resolve(target)
	if err != nil {
		return nil, err
	}
	if st := ref.State(); st != ActorStateRunning {
		return nil, &NotRunningError{Actor: target, State: st}
	}

	id := s.registry.NextID()
	out, err := env.stamped(s.registry.now(), id)
	if err != nil {
		return nil, err
	}
	req, err := s.registry.Register(id, timeout)
	if err != nil {
		return nil, err
	}
	if err := ref.deliver(out); err != nil {
		s.registry.fail(id, err)
		s.recordDeadLetter(target, out, err.Error())
		return nil, err
	}

	v, err := req.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return replyEnvelope(v, id), nil
}

// Emit broadcasts env to subscribers, stamping missing metadata.
func (s *System) Emit(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("message must not be nil")
	}
	return s.plans.broadcast(env)
}

// Subscribe registers fn for every broadcast event and returns a cancel
// function.
func (s *System) Subscribe(fn func(*Envelope)) (cancel func()) {
	return s.emitter.Subscribe(fn)
}

// Resolve finds a live actor reference by name, with a did-you-mean
// suggestion when a near miss exists.
func (s *System) Resolve(target string) (*ActorRef, error) {
	s.mu.RLock()
	ref, ok := s.actors[target]
	s.mu.RUnlock()
	if ok {
		return ref, nil
	}
	if suggestion := s.closestName(target); suggestion != "" {
		return nil, fmt.Errorf("actor '%s' (closest match '%s'): %w", target, suggestion, ErrActorNotFound)
	}
	return nil, fmt.Errorf("actor '%s': %w", target, ErrActorNotFound)
}

// closestName suggests an existing actor within a small edit distance of
// target, for the usual typo'd-name mistakes.
func (s *System) closestName(target string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := ""
	bestDist := 4
	for name := range s.actors {
		if d := levenshtein.ComputeDistance(target, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

// Shutdown stops all actors concurrently, then rejects every pending
// request with a shutdown error. New Spawn, Tell and Ask calls are
// refused as soon as Shutdown begins.
func (s *System) Shutdown(ctx context.Context) error {
	s.cancel()

	if _, ok := ctx.Deadline(); !ok && s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}

	s.mu.Lock()
	refs := make([]*ActorRef, 0, len(s.actors))
	for _, ref := range s.actors {
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ref.stop(); err != nil {
				return fmt.Errorf("stop actor '%s': %w", ref.Name(), err)
			}
			s.announce(TypeActorStopped, ref.Name())
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var stopErr error
	select {
	case err := <-done:
		stopErr = err
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	// Whatever is still suspended gets a shutdown rejection, once each.
	s.registry.ClearAll()

	s.log.Info("system stopped", zap.Int("actors", len(refs)))
	return stopErr
}

// ActorCount returns the number of spawned actors, in any state.
func (s *System) ActorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// Stats returns statistics for all actors.
func (s *System) Stats() []ActorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make([]ActorStats, 0, len(s.actors))
	for _, ref := range s.actors {
		stats = append(stats, ref.Stats())
	}
	return stats
}

// Registry exposes the correlation registry for introspection.
func (s *System) Registry() *CorrelationRegistry { return s.registry }

// Journal exposes the event and dead-letter journal.
func (s *System) Journal() *Journal { return s.journal }

func (s *System) checkRunning() error {
	select {
	case <-s.ctx.Done():
		return ErrSystemStopping
	default:
		return nil
	}
}

func (s *System) mergeActorOptions(opts ActorOptions) ActorOptions {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = s.opts.Actor.MailboxSize
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = s.opts.Actor.ProcessTimeout
	}
	return opts.withDefaults()
}

// announce broadcasts an actor lifecycle event.
func (s *System) announce(eventType, actorName string) {
	env := &Envelope{Type: eventType, Payload: map[string]any{"actor": actorName}}
	if err := s.plans.broadcast(env); err != nil {
		s.log.Warn("lifecycle broadcast failed",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// recordDeadLetter journals an undeliverable message and broadcasts a
// deadletter notice carrying a flat summary of it.
func (s *System) recordDeadLetter(target string, env *Envelope, reason string) {
	s.journal.RecordDeadLetter(DeadLetter{
		Target:   target,
		Reason:   reason,
		Envelope: env,
		At:       s.registry.now(),
	})
	s.log.Warn("dead letter",
		zap.String("target", target),
		zap.String("type", env.Type),
		zap.String("reason", reason))

	notice := &Envelope{
		Type: TypeDeadLetter,
		Payload: map[string]any{
			"target":        target,
			"reason":        reason,
			"messageType":   env.Type,
			"correlationId": env.CorrelationID,
		},
	}
	if err := s.plans.broadcast(notice); err != nil {
		s.log.Warn("deadletter broadcast failed", zap.Error(err))
	}
}
