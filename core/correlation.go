package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// emitIDPrefix marks correlation ids stamped onto broadcast events, as
// opposed to ids tracking a pending ask.
const emitIDPrefix = "emit"

// RegistryOptions configures a CorrelationRegistry.
type RegistryOptions struct {
	// DefaultTimeout applies when Register is called with a
	// non-positive timeout.
	DefaultTimeout time.Duration

	// MaxPending caps the number of simultaneously pending requests.
	MaxPending int

	// IDPrefix leads every generated request id.
	IDPrefix string

	// Clock drives timeout timers. Tests inject a ManualClock here.
	Clock Clock

	// Logger receives debug traces of the registry's races.
	Logger *zap.Logger
}

// DefaultRegistryOptions returns the production defaults.
func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		DefaultTimeout: 30 * time.Second,
		MaxPending:     1024,
		IDPrefix:       "ask",
	}
}

func (o RegistryOptions) withDefaults() RegistryOptions {
	def := DefaultRegistryOptions()
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = def.DefaultTimeout
	}
	if o.MaxPending <= 0 {
		o.MaxPending = def.MaxPending
	}
	if o.IDPrefix == "" {
		o.IDPrefix = def.IDPrefix
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// requestState makes exactly-once completion structural: every
// resolution attempt checks the state under the request's own lock, so
// response, timeout and shutdown can race freely and only one wins.
type requestState int

const (
	requestPending requestState = iota
	requestResolved
	requestRejected
)

// PendingRequest is the suspended half of an ask. It is created by
// Register and completed exactly once: by a response, by its timeout, or
// by shutdown.
type PendingRequest struct {
	id        string
	createdAt time.Time
	timeout   time.Duration
	timer     Timer

	mu    sync.Mutex
	state requestState
	value any
	err   error
	done  chan struct{}
}

// CorrelationID returns the id this request is registered under.
func (p *PendingRequest) CorrelationID() string { return p.id }

// Wait blocks until the request completes or ctx is done. Abandoning the
// wait does not unregister the request; its timer still reaps it.
func (p *PendingRequest) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.state == requestRejected {
			return nil, p.err
		}
		return p.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingRequest) resolve(v any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != requestPending {
		return false
	}
	p.state = requestResolved
	p.value = v
	close(p.done)
	return true
}

func (p *PendingRequest) reject(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != requestPending {
		return false
	}
	p.state = requestRejected
	p.err = err
	close(p.done)
	return true
}

// CorrelationRegistry generates correlation ids and tracks one pending
// request per id until it is resolved by a response, rejected by its
// timeout, or drained by shutdown. It is owned by the System root; it is
// never package-level state.
//
// The pending map is the only mutable state shared across actors in this
// package. A single mutex guards it, and every completion path removes
// the entry before completing the request, so late and duplicate
// responses degrade to logged no-ops.
type CorrelationRegistry struct {
	opts RegistryOptions
	log  *zap.Logger
	seq  uint64

	mu      sync.Mutex
	pending map[string]*PendingRequest
}

// NewCorrelationRegistry creates a registry. Zero-valued options fall
// back to DefaultRegistryOptions.
func NewCorrelationRegistry(opts RegistryOptions) *CorrelationRegistry {
	opts = opts.withDefaults()
	return &CorrelationRegistry{
		opts:    opts,
		log:     opts.Logger.Named("correlation"),
		pending: make(map[string]*PendingRequest),
	}
}

// NextID returns a fresh request id. Ids are unique while pending:
// counter plus timestamp plus a random suffix, no cryptographic claim.
func (r *CorrelationRegistry) NextID() string {
	return r.nextID(r.opts.IDPrefix)
}

// NextEmitID returns a fresh id for a broadcast event that was emitted
// without one, so downstream consumers can still deduplicate.
func (r *CorrelationRegistry) NextEmitID() string {
	return r.nextID(emitIDPrefix)
}

func (r *CorrelationRegistry) nextID(prefix string) string {
	seq := atomic.AddUint64(&r.seq, 1)
	return fmt.Sprintf("%s-%d-%d-%s", prefix, seq, r.opts.Clock.Now().UnixMilli(), uuid.NewString()[:8])
}

// now exposes the registry's clock to sibling components, so stamped
// timestamps follow the same time source as the timers.
func (r *CorrelationRegistry) now() time.Time {
	return r.opts.Clock.Now()
}

// Register creates a pending request under id and arms its timeout,
// falling back to the configured default when timeout is non-positive.
// It fails synchronously, without registering anything, when the id is
// already pending or the registry is at capacity. Both are programmer
// errors, not transient conditions.
func (r *CorrelationRegistry) Register(id string, timeout time.Duration) (*PendingRequest, error) {
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	r.mu.Lock()
	if _, exists := r.pending[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("register '%s': %w", id, ErrDuplicateCorrelation)
	}
	if len(r.pending) >= r.opts.MaxPending {
		r.mu.Unlock()
		return nil, fmt.Errorf("register '%s': %w (limit %d)", id, ErrRegistryFull, r.opts.MaxPending)
	}

	req := &PendingRequest{
		id:        id,
		createdAt: r.opts.Clock.Now(),
		timeout:   timeout,
		done:      make(chan struct{}),
	}
	r.pending[id] = req
	req.timer = r.opts.Clock.AfterFunc(timeout, func() { r.HandleTimeout(id) })
	r.mu.Unlock()

	r.log.Debug("registered request",
		zap.String("id", id),
		zap.Duration("timeout", timeout))
	return req, nil
}

// HandleResponse resolves the request pending under id and cancels its
// timer. An unknown id is a logged no-op: late and duplicate responses
// are ordinary races under timeout semantics, not bugs.
func (r *CorrelationRegistry) HandleResponse(id string, response any) {
	r.mu.Lock()
	req, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("response for unknown correlation id", zap.String("id", id))
		return
	}
	delete(r.pending, id)
	r.mu.Unlock()

	if req.timer != nil {
		req.timer.Stop()
	}
	if req.resolve(response) {
		r.log.Debug("resolved request", zap.String("id", id))
	}
}

// HandleTimeout rejects the request pending under id with a
// *TimeoutError carrying the elapsed and configured durations. The armed
// timer invokes it; tests may also call it directly. Unknown ids are
// logged no-ops.
func (r *CorrelationRegistry) HandleTimeout(id string) {
	r.mu.Lock()
	req, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("timeout for unknown correlation id", zap.String("id", id))
		return
	}
	delete(r.pending, id)
	r.mu.Unlock()

	// A manual invocation may precede the armed timer.
	if req.timer != nil {
		req.timer.Stop()
	}
	elapsed := r.opts.Clock.Now().Sub(req.createdAt)
	if req.reject(&TimeoutError{CorrelationID: id, Elapsed: elapsed, Limit: req.timeout}) {
		r.log.Debug("request timed out",
			zap.String("id", id),
			zap.Duration("elapsed", elapsed),
			zap.Duration("limit", req.timeout))
	}
}

// PendingCount returns the number of requests currently pending.
func (r *CorrelationRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ClearAll rejects everything pending with ErrShuttingDown, each request
// exactly once, and leaves the registry empty. Used on system shutdown.
func (r *CorrelationRegistry) ClearAll() {
	r.mu.Lock()
	drained := make([]*PendingRequest, 0, len(r.pending))
	for _, req := range r.pending {
		drained = append(drained, req)
	}
	r.pending = make(map[string]*PendingRequest)
	r.mu.Unlock()

	for _, req := range drained {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.reject(fmt.Errorf("request '%s': %w", req.id, ErrShuttingDown))
	}
	if len(drained) > 0 {
		r.log.Info("cleared pending requests", zap.Int("count", len(drained)))
	}
}

// fail removes and rejects a single pending request. The runtime uses it
// when delivery fails after registration, so the entry does not linger
// until its timeout.
func (r *CorrelationRegistry) fail(id string, err error) {
	r.mu.Lock()
	req, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)
	r.mu.Unlock()

	if req.timer != nil {
		req.timer.Stop()
	}
	req.reject(err)
}
