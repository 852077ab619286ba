package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine is a minimal behavior engine: it records what it was sent
// and applies context updates to its snapshot.
type fakeEngine struct {
	mu   sync.Mutex
	sent []*Envelope
	subs []func(Snapshot)
	snap Snapshot
}

func (f *fakeEngine) Send(env *Envelope) {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	if env.Type == TypeContextUpdate {
		f.snap.Context = env.Payload
	}
	subs := make([]func(Snapshot), len(f.subs))
	copy(subs, f.subs)
	snap := f.snap
	f.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (f *fakeEngine) Subscribe(fn func(Snapshot)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeEngine) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) sentOfType(msgType string) []*Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Envelope
	for _, env := range f.sent {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func TestApplyNilResult(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("idle", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, s.results.Apply(context.Background(), ref, nil, "", ""))
}

func TestSmartDefaultContextBecomesReply(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	req, err := s.registry.Register("ask-smart-1", time.Minute)
	require.NoError(t, err)

	balance := map[string]any{"balance": 42}
	err = s.results.Apply(context.Background(), ref, &Result{Context: balance}, "ask-smart-1", "GET_BALANCE")
	require.NoError(t, err)

	v, err := req.Wait(context.Background())
	require.NoError(t, err)
	env, ok := v.(*Envelope)
	require.True(t, ok)
	assert.Equal(t, "GET_BALANCE", env.Type)
	assert.Equal(t, "ask-smart-1", env.CorrelationID)
	assert.Equal(t, balance, env.Payload)
}

func TestExplicitReplyWins(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	req, err := s.registry.Register("ask-explicit-1", time.Minute)
	require.NoError(t, err)

	result := &Result{
		Context: map[string]any{"balance": 42},
		Reply:   "use me",
	}
	require.NoError(t, s.results.Apply(context.Background(), ref, result, "ask-explicit-1", "GET_BALANCE"))

	v, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "use me", v.(*Envelope).Payload)
}

func TestTellNeverReplies(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	log := &collector{}
	s.Subscribe(log.record)

	result := &Result{
		Context: map[string]any{"balance": 42},
		Reply:   "never sent",
	}
	// Empty correlation id: the triggering message was a tell.
	require.NoError(t, s.results.Apply(context.Background(), ref, result, "", "DEPOSIT"))

	assert.Equal(t, 0, s.Registry().PendingCount())
	for _, env := range log.received() {
		assert.NotEqual(t, "DEPOSIT", env.Type, "a tell must not produce a reply envelope")
		assert.NotEqual(t, TypeResponse, env.Type)
	}
}

func TestReplyFallbackTypeIsResponse(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	req, err := s.registry.Register("ask-fallback-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.results.Apply(context.Background(), ref, &Result{Reply: 7}, "ask-fallback-1", ""))

	v, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, v.(*Envelope).Type)
}

func TestReplyWithoutRegistryDegradesToBroadcast(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	log := &collector{}
	s.Subscribe(log.record)

	degraded := NewResultProcessor(nil, s.plans, s.emitter, nil)
	err = degraded.Apply(context.Background(), ref, &Result{Reply: "broadcast me"}, "ask-orphan-1", "QUERY")
	require.NoError(t, err)

	events := log.received()
	require.Len(t, events, 1)
	assert.Equal(t, "QUERY", events[0].Type)
	assert.Equal(t, "broadcast me", events[0].Payload)
}

func TestBehaviorSwitchBroadcastsChange(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("worker", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	log := &collector{}
	s.Subscribe(log.record)

	next := func(_ context.Context, _ *ReceiveContext) (any, error) { return nil, nil }
	require.NoError(t, s.results.Apply(context.Background(), ref, &Result{Behavior: next}, "", "SWITCH"))

	var changed []*Envelope
	for _, env := range log.received() {
		if env.Type == TypeBehaviorChanged {
			changed = append(changed, env)
		}
	}
	require.Len(t, changed, 1)
	payload, ok := changed[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "worker", payload["actor"])
}

func TestContextUpdateGoesThroughEngine(t *testing.T) {
	s := newTestSystem(t, nil)
	engine := &fakeEngine{}
	ref, err := s.Spawn("machine", nil, ActorOptions{Engine: engine})
	require.NoError(t, err)

	next := map[string]any{"count": 3}
	require.NoError(t, s.results.Apply(context.Background(), ref, &Result{Context: next}, "", "TICK"))

	updates := engine.sentOfType(TypeContextUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, next, updates[0].Payload)
	assert.Equal(t, next, ref.currentState())
}

func TestContextPhaseFailureStopsProcessing(t *testing.T) {
	s := newTestSystem(t, nil)
	engine := &fakeEngine{}
	ref, err := s.Spawn("machine", nil, ActorOptions{Engine: engine})
	require.NoError(t, err)

	req, err := s.registry.Register("ask-phase-1", time.Minute)
	require.NoError(t, err)

	result := &Result{
		Context: func() {}, // not transferable, fails the update envelope
		Reply:   "never delivered",
	}
	err = s.results.Apply(context.Background(), ref, result, "ask-phase-1", "GET")
	require.Error(t, err)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "context", pe.Phase)
	assert.Equal(t, "machine", pe.Actor)

	// The reply phase never ran: the request is still pending.
	assert.Equal(t, 1, s.Registry().PendingCount())
	select {
	case <-req.done:
		t.Fatal("request should not have completed")
	default:
	}
}

func TestReplyPhaseFailureSkipsEmit(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	_, err = s.registry.Register("ask-badreply-1", time.Minute)
	require.NoError(t, err)

	log := &collector{}
	s.Subscribe(log.record)

	result := &Result{
		Reply: func() {}, // unserializable reply
		Emit:  []any{map[string]any{"type": "SHOULD_NOT_EMIT"}},
	}
	err = s.results.Apply(context.Background(), ref, result, "ask-badreply-1", "GET")
	require.Error(t, err)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "reply", pe.Phase)

	for _, env := range log.received() {
		assert.NotEqual(t, "SHOULD_NOT_EMIT", env.Type, "emit must not run after a failed reply phase")
	}
}

func TestEmitPhaseRunsLast(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bank", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	req, err := s.registry.Register("ask-emit-1", time.Minute)
	require.NoError(t, err)

	log := &collector{}
	s.Subscribe(log.record)

	result := &Result{
		Reply: "done",
		Emit: []any{
			map[string]any{"type": "AUDIT", "action": "withdraw"},
		},
	}
	require.NoError(t, s.results.Apply(context.Background(), ref, result, "ask-emit-1", "WITHDRAW"))

	v, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v.(*Envelope).Payload)

	events := domainEvents(log.received())
	require.Len(t, events, 1)
	assert.Equal(t, "AUDIT", events[0].Type)
}
