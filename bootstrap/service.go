// Package bootstrap assembles a configured troupe runtime: it loads
// configuration, builds the logger, constructs the actor system and
// manages the lifecycle of any additional services an application
// registers alongside it.
package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service is a component whose lifetime the runtime manages. Services
// start in dependency order and stop in reverse.
type Service interface {
	// Name returns the service name
	Name() string

	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error
}

// Manager starts and stops registered services in dependency order.
type Manager struct {
	log *zap.Logger

	mu         sync.Mutex
	services   map[string]Service
	deps       map[string][]string
	startOrder []string
	started    bool

	// timeout bounds each service's Start and Stop call
	timeout time.Duration
}

// NewManager creates a lifecycle manager. A nil logger disables logging.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		log:      logger.Named("lifecycle"),
		services: make(map[string]Service),
		deps:     make(map[string][]string),
		timeout:  30 * time.Second,
	}
}

// SetTimeout sets the per-service start and stop timeout.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timeout > 0 {
		m.timeout = timeout
	}
}

// Register adds a service with optional dependencies. Registration is
// refused once the manager has started.
func (m *Manager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot register service '%s': manager already started", name)
	}
	if _, exists := m.services[name]; exists {
		return fmt.Errorf("service '%s' is already registered", name)
	}

	m.services[name] = service
	m.deps[name] = deps
	return nil
}

// Start starts all services in dependency order. The first failure
// aborts the startup and is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("manager already started")
	}

	order, err := m.startupOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		startCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.services[name].Start(startCtx)
		cancel()
		if err != nil {
			m.rollback(ctx)
			return fmt.Errorf("failed to start service '%s': %w", name, err)
		}
		m.startOrder = append(m.startOrder, name)
		m.log.Info("service started", zap.String("service", name))
	}

	m.started = true
	return nil
}

// rollback stops the services a failed Start already brought up, in
// reverse order. Called with the manager lock held.
func (m *Manager) rollback(ctx context.Context) {
	for i := len(m.startOrder) - 1; i >= 0; i-- {
		name := m.startOrder[i]
		stopCtx, cancel := context.WithTimeout(ctx, m.timeout)
		if err := m.services[name].Stop(stopCtx); err != nil {
			m.log.Error("rollback stop failed", zap.String("service", name), zap.Error(err))
		}
		cancel()
	}
	m.startOrder = nil
}

// Stop stops all started services in reverse start order. Every service
// is attempted; the last failure is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var lastErr error
	for i := len(m.startOrder) - 1; i >= 0; i-- {
		name := m.startOrder[i]

		stopCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.services[name].Stop(stopCtx)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("failed to stop service '%s': %w", name, err)
			m.log.Error("service stop failed", zap.String("service", name), zap.Error(err))
			continue
		}
		m.log.Info("service stopped", zap.String("service", name))
	}

	m.started = false
	m.startOrder = nil
	return lastErr
}

// Services returns all registered service names, sorted.
func (m *Manager) Services() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// startupOrder resolves a start order with Kahn's algorithm. Ties break
// alphabetically so the order is stable across runs.
func (m *Manager) startupOrder() ([]string, error) {
	inDegree := make(map[string]int, len(m.services))
	dependents := make(map[string][]string, len(m.services))
	for name := range m.services {
		inDegree[name] = 0
	}

	for name, deps := range m.deps {
		for _, dep := range deps {
			if _, exists := m.services[dep]; !exists {
				return nil, fmt.Errorf("dependency '%s' of service '%s' is not registered", dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(m.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		var released []string
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(order) != len(m.services) {
		return nil, fmt.Errorf("circular dependency detected among services")
	}
	return order, nil
}
