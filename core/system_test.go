package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupekit/troupe/codec"
)

// newTestSystem builds a system on a manual clock with logging off. The
// clock keeps every timeout under the test's control.
func newTestSystem(t *testing.T, clock Clock) *System {
	t.Helper()
	if clock == nil {
		clock = NewManualClock()
	}
	s := NewSystem(SystemOptions{Clock: clock})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// collector records envelopes, usable both as an actor behavior and as
// an emitter subscriber.
type collector struct {
	mu   sync.Mutex
	envs []*Envelope
}

func (c *collector) record(env *Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) behavior(_ context.Context, rc *ReceiveContext) (any, error) {
	c.record(rc.Envelope)
	return nil, nil
}

func (c *collector) received() []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Envelope, len(c.envs))
	copy(out, c.envs)
	return out
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

// domainEvents filters out runtime notifications, leaving only the
// events a test emitted itself.
func domainEvents(envs []*Envelope) []*Envelope {
	var out []*Envelope
	for _, env := range envs {
		if strings.HasPrefix(env.Type, "troupe.") || env.Type == TypeBehaviorChanged {
			continue
		}
		out = append(out, env)
	}
	return out
}

func TestTellDeliversToRunningActor(t *testing.T) {
	s := newTestSystem(t, nil)
	echo := &collector{}
	_, err := s.Spawn("echo", echo.behavior, ActorOptions{})
	require.NoError(t, err)

	err = s.Tell("echo", &Envelope{Type: "HELLO", Payload: "world"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return echo.count() == 1 },
		time.Second, 5*time.Millisecond)

	env := echo.received()[0]
	assert.Equal(t, "HELLO", env.Type)
	assert.Equal(t, "world", env.Payload)
	assert.False(t, env.IsAsk(), "a tell carries no correlation id")
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, EnvelopeVersion, env.Version)
}

func TestAskResolvesWithSmartDefault(t *testing.T) {
	s := newTestSystem(t, nil)

	_, err := s.Spawn("bank", func(_ context.Context, rc *ReceiveContext) (any, error) {
		if rc.Envelope.Type == "GET_BALANCE" {
			return &Result{Context: map[string]any{"balance": 42}}, nil
		}
		return nil, nil
	}, ActorOptions{})
	require.NoError(t, err)

	resp, err := s.Ask(context.Background(), "bank", &Envelope{Type: "GET_BALANCE"}, 1000*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "GET_BALANCE", resp.Type)
	assert.Equal(t, map[string]any{"balance": 42}, resp.Payload)
	assert.True(t, strings.HasPrefix(resp.CorrelationID, "ask-"))
	assert.Equal(t, 0, s.Registry().PendingCount())
}

func TestAskTimeoutCarriesConfiguredLimit(t *testing.T) {
	clock := NewManualClock()
	s := newTestSystem(t, clock)

	_, err := s.Spawn("silent", func(_ context.Context, _ *ReceiveContext) (any, error) {
		return nil, nil // never replies
	}, ActorOptions{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "silent", &Envelope{Type: "GET_BALANCE"}, 1000*time.Millisecond)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return s.Registry().PendingCount() == 1 },
		time.Second, 5*time.Millisecond)
	clock.Advance(1000 * time.Millisecond)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAskTimeout)
		assert.Contains(t, err.Error(), "1000")
	case <-time.After(time.Second):
		t.Fatal("ask did not complete after the clock advanced")
	}
	assert.Equal(t, 0, s.Registry().PendingCount())
}

func TestAskDoesNotMutateCallerEnvelope(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Spawn("bank", func(_ context.Context, _ *ReceiveContext) (any, error) {
		return &Result{Reply: "ok"}, nil
	}, ActorOptions{})
	require.NoError(t, err)

	env := &Envelope{Type: "GET"}
	resp, err := s.Ask(context.Background(), "bank", env, time.Second)
	require.NoError(t, err)

	assert.Empty(t, env.CorrelationID, "the caller's envelope stays untouched")
	assert.True(t, env.Timestamp.IsZero())
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestAskToMissingActorFailsFast(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Ask(context.Background(), "nobody", &Envelope{Type: "PING"}, time.Second)
	assert.ErrorIs(t, err, ErrActorNotFound)
	assert.Equal(t, 0, s.Registry().PendingCount(), "nothing may be registered on fail-fast")
}

func TestSendAskToStoppedActorFailFast(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Spawn("worker", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Stop("worker"))

	err = s.Tell("worker", &Envelope{Type: "PING"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActorNotRunning)

	var nre *NotRunningError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, ActorStateStopped, nre.State)
	assert.Contains(t, err.Error(), "stopped")

	_, err = s.Ask(context.Background(), "worker", &Envelope{Type: "PING"}, time.Second)
	assert.ErrorIs(t, err, ErrActorNotRunning)
	assert.Equal(t, 0, s.Registry().PendingCount())

	dead := s.Journal().DeadLetters()
	require.NotEmpty(t, dead)
	assert.Equal(t, "worker", dead[0].Target)
}

func TestResolveSuggestsClosestName(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Spawn("billing", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	_, err = s.Resolve("biling")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActorNotFound)
	assert.Contains(t, err.Error(), "billing")
}

func TestSpawnDuplicateName(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Spawn("one", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	_, err = s.Spawn("one", (&collector{}).behavior, ActorOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestUnserializablePayloadRejected(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Spawn("echo", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	err = s.Tell("echo", &Envelope{Type: "BAD", Payload: func() {}})
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrNotTransferable)
}

func TestShutdownRejectsAllPending(t *testing.T) {
	clock := NewManualClock()
	s := NewSystem(SystemOptions{Clock: clock})

	_, err := s.Spawn("silent", func(_ context.Context, _ *ReceiveContext) (any, error) {
		return nil, nil
	}, ActorOptions{})
	require.NoError(t, err)

	const asks = 3
	errCh := make(chan error, asks)
	for i := 0; i < asks; i++ {
		go func() {
			_, err := s.Ask(context.Background(), "silent", &Envelope{Type: "WAIT"}, time.Minute)
			errCh <- err
		}()
	}
	require.Eventually(t, func() bool { return s.Registry().PendingCount() == asks },
		time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	for i := 0; i < asks; i++ {
		select {
		case err := <-errCh:
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShuttingDown)
			assert.NotErrorIs(t, err, ErrAskTimeout)
		case <-time.After(time.Second):
			t.Fatal("pending ask was never rejected")
		}
	}
	assert.Equal(t, 0, s.Registry().PendingCount())

	// The front door is closed once shutdown begins.
	err = s.Tell("silent", &Envelope{Type: "LATE"})
	assert.ErrorIs(t, err, ErrSystemStopping)
	_, err = s.Spawn("late", (&collector{}).behavior, ActorOptions{})
	assert.ErrorIs(t, err, ErrSystemStopping)
}

func TestBecomesSwitchesHandler(t *testing.T) {
	s := newTestSystem(t, nil)

	second := func(_ context.Context, _ *ReceiveContext) (any, error) {
		return &Result{Reply: "second"}, nil
	}
	first := func(_ context.Context, _ *ReceiveContext) (any, error) {
		return &Result{Reply: "first", Behavior: second}, nil
	}
	_, err := s.Spawn("shape", first, ActorOptions{})
	require.NoError(t, err)

	resp, err := s.Ask(context.Background(), "shape", &Envelope{Type: "POKE"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Payload)

	resp, err = s.Ask(context.Background(), "shape", &Envelope{Type: "POKE"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Payload)
}

func TestMailboxFullDeadLetters(t *testing.T) {
	s := newTestSystem(t, nil)
	block := make(chan struct{})
	defer close(block)

	ref, err := s.Spawn("slow", func(_ context.Context, _ *ReceiveContext) (any, error) {
		<-block
		return nil, nil
	}, ActorOptions{MailboxSize: 1})
	require.NoError(t, err)

	// First message occupies the loop, second fills the buffer.
	require.NoError(t, s.Tell("slow", &Envelope{Type: "N1"}))
	require.Eventually(t, func() bool { return ref.Stats().MailboxDepth == 0 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, s.Tell("slow", &Envelope{Type: "N2"}))

	err = s.Tell("slow", &Envelope{Type: "N3"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMailboxFull)

	dead := s.Journal().DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "slow", dead[0].Target)
	assert.Equal(t, "N3", dead[0].Envelope.Type)
}

func TestHandlerErrorFailsActorButNotPendingAsk(t *testing.T) {
	clock := NewManualClock()
	s := newTestSystem(t, clock)

	ref, err := s.Spawn("fragile", func(_ context.Context, _ *ReceiveContext) (any, error) {
		return nil, assert.AnError
	}, ActorOptions{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "fragile", &Envelope{Type: "DO"}, 500*time.Millisecond)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return ref.State() == ActorStateError },
		time.Second, 5*time.Millisecond)

	// The ask is not rejected by the failure; it runs into its timeout.
	assert.Equal(t, 1, s.Registry().PendingCount())
	clock.Advance(500 * time.Millisecond)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAskTimeout)
	case <-time.After(time.Second):
		t.Fatal("ask was never completed")
	}

	err = s.Tell("fragile", &Envelope{Type: "MORE"})
	assert.ErrorIs(t, err, ErrActorNotRunning)
}

func TestPanickingHandlerFailsActor(t *testing.T) {
	s := newTestSystem(t, nil)
	ref, err := s.Spawn("bomb", func(_ context.Context, _ *ReceiveContext) (any, error) {
		panic("kaboom")
	}, ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Tell("bomb", &Envelope{Type: "TRIGGER"}))
	require.Eventually(t, func() bool { return ref.State() == ActorStateError },
		time.Second, 5*time.Millisecond)
}

func TestLifecycleEventsBroadcast(t *testing.T) {
	s := newTestSystem(t, nil)
	log := &collector{}
	s.Subscribe(log.record)

	_, err := s.Spawn("ephemeral", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Stop("ephemeral"))

	var started, stopped bool
	for _, env := range log.received() {
		payload, _ := env.Payload.(map[string]any)
		if payload == nil || payload["actor"] != "ephemeral" {
			continue
		}
		switch env.Type {
		case TypeActorStarted:
			started = true
		case TypeActorStopped:
			stopped = true
		}
	}
	assert.True(t, started, "missing started event")
	assert.True(t, stopped, "missing stopped event")
}

func TestEngineBackedActorForwardsMessages(t *testing.T) {
	s := newTestSystem(t, nil)
	engine := &fakeEngine{}
	_, err := s.Spawn("machine", nil, ActorOptions{Engine: engine})
	require.NoError(t, err)

	require.NoError(t, s.Tell("machine", &Envelope{Type: "EVOLVE"}))
	require.Eventually(t, func() bool { return len(engine.sentOfType("EVOLVE")) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestEmitBroadcastsAndJournals(t *testing.T) {
	s := newTestSystem(t, nil)
	log := &collector{}
	s.Subscribe(log.record)

	require.NoError(t, s.Emit(&Envelope{Type: "NOTICE", Payload: "hello"}))

	events := domainEvents(log.received())
	require.Len(t, events, 1)
	assert.Equal(t, "NOTICE", events[0].Type)
	assert.GreaterOrEqual(t, s.Journal().Len(), 1)
}

func TestStatsAndActorCount(t *testing.T) {
	s := newTestSystem(t, nil)
	_, err := s.Spawn("a", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)
	_, err = s.Spawn("b", (&collector{}).behavior, ActorOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, s.ActorCount())
	assert.Len(t, s.Stats(), 2)

	require.NoError(t, s.Tell("a", &Envelope{Type: "WORK"}))
	require.Eventually(t, func() bool {
		for _, st := range s.Stats() {
			if st.Name == "a" && st.MessagesProcessed == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
