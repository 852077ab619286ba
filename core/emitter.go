package core

import (
	"sync"

	"go.uber.org/zap"
)

// Emitter broadcasts envelopes to subscribers. Delivery is synchronous
// and in subscription order, so events emitted A, B, C are observed as
// A, B, C by every subscriber. A panicking subscriber is logged and does
// not take down the emitting actor.
type Emitter struct {
	log *zap.Logger

	mu   sync.RWMutex
	next int
	subs []subscription
}

type subscription struct {
	id int
	fn func(*Envelope)
}

// NewEmitter creates an emitter. A nil logger disables logging.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{log: logger.Named("emitter")}
}

// Subscribe registers fn for every subsequent broadcast and returns a
// cancel function. Cancel is idempotent.
func (e *Emitter) Subscribe(fn func(*Envelope)) (cancel func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, sub := range e.subs {
			if sub.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Emit delivers env to every subscriber in subscription order.
func (e *Emitter) Emit(env *Envelope) {
	e.mu.RLock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, sub := range subs {
		e.deliver(sub, env)
	}
}

func (e *Emitter) deliver(sub subscription, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("subscriber panicked",
				zap.Int("subscriber", sub.id),
				zap.String("type", env.Type),
				zap.Any("panic", r))
		}
	}()
	sub.fn(env)
}
