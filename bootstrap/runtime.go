package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/troupekit/troupe/config"
	"github.com/troupekit/troupe/core"
	"github.com/troupekit/troupe/observability"
)

// systemServiceName is the lifecycle name of the actor system itself.
// Services that talk to actors should depend on it.
const systemServiceName = "actor-system"

// Runtime is a fully assembled troupe application: configuration,
// logger, actor system and managed services.
type Runtime struct {
	config  *config.Config
	logger  *zap.Logger
	system  *core.System
	manager *Manager

	shutdownOnce sync.Once
	shutdownErr  error
}

// Config returns the effective configuration.
func (r *Runtime) Config() *config.Config { return r.config }

// Logger returns the runtime's root logger.
func (r *Runtime) Logger() *zap.Logger { return r.logger }

// System returns the actor system.
func (r *Runtime) System() *core.System { return r.system }

// Run starts all services and blocks until the context is cancelled or
// the process receives SIGINT or SIGTERM, then shuts down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.manager.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("runtime started",
		zap.String("app", r.config.App.Name),
		zap.String("version", r.config.App.Version),
		zap.String("environment", r.config.App.Environment.String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		r.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		r.logger.Info("context cancelled, shutting down")
	}

	return r.Shutdown(context.Background())
}

// Shutdown stops all services, the actor system among them. It is safe
// to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.shutdownErr = r.manager.Stop(ctx)
		r.logger.Info("runtime stopped", zap.String("app", r.config.App.Name))
		_ = r.logger.Sync()
	})
	return r.shutdownErr
}

// Builder assembles a Runtime step by step.
type Builder struct {
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
	clock      core.Clock
	watch      bool

	services []serviceRegistration
}

type serviceRegistration struct {
	name    string
	service Service
	deps    []string
}

// NewBuilder creates a runtime builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfigFile loads configuration from the given file at build time.
func (b *Builder) WithConfigFile(path string) *Builder {
	b.configFile = path
	return b
}

// WithConfig uses an already constructed configuration, skipping file
// discovery.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithLogger uses the given logger instead of building one from the
// logging configuration.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the runtime clock. Tests use this to drive
// timeouts deterministically.
func (b *Builder) WithClock(clock core.Clock) *Builder {
	b.clock = clock
	return b
}

// WithConfigWatch reloads the configuration file on change. Requires
// WithConfigFile.
func (b *Builder) WithConfigWatch() *Builder {
	b.watch = true
	return b
}

// WithService registers an application service. Services depending on
// actors should name "actor-system" among their dependencies.
func (b *Builder) WithService(name string, service Service, deps ...string) *Builder {
	b.services = append(b.services, serviceRegistration{name: name, service: service, deps: deps})
	return b
}

// Build loads configuration, constructs the logger and the actor
// system, and wires all registered services into a runtime.
func (b *Builder) Build() (*Runtime, error) {
	cfg, err := b.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger, err = observability.SetupLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to set up logging: %w", err)
		}
	}

	system := core.NewSystem(core.SystemOptions{
		Logger: logger,
		Clock:  b.clock,
		Actor: core.ActorOptions{
			MailboxSize:    cfg.Actor.MailboxSize,
			ProcessTimeout: cfg.Actor.ProcessTimeout,
		},
		Correlation: core.RegistryOptions{
			DefaultTimeout: cfg.Correlation.DefaultTimeout,
			MaxPending:     cfg.Correlation.MaxPending,
			IDPrefix:       cfg.Correlation.IDPrefix,
		},
		JournalCapacity: cfg.Journal.Capacity,
		ShutdownTimeout: cfg.Actor.ShutdownTimeout,
	})

	manager := NewManager(logger)
	manager.SetTimeout(cfg.Actor.ShutdownTimeout)
	if err := manager.Register(systemServiceName, &systemService{system: system}); err != nil {
		return nil, err
	}

	if b.watch {
		if b.configFile == "" {
			return nil, fmt.Errorf("config watching requires a config file")
		}
		watcher, err := config.NewWatcher(b.configFile, config.NewLoader())
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		watcher.WithLogger(logger)
		if err := manager.Register("config-watcher", &watcherService{watcher: watcher}); err != nil {
			return nil, err
		}
	}

	for _, reg := range b.services {
		if err := manager.Register(reg.name, reg.service, reg.deps...); err != nil {
			return nil, err
		}
	}

	return &Runtime{
		config:  cfg,
		logger:  logger,
		system:  system,
		manager: manager,
	}, nil
}

func (b *Builder) loadConfig() (*config.Config, error) {
	if b.cfg != nil {
		if err := b.cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return b.cfg, nil
	}
	loader := config.NewLoader()
	if b.configFile != "" {
		return loader.LoadFromFile(b.configFile)
	}
	return loader.AutoLoad()
}

// systemService adapts the actor system to the Service interface. The
// system is live from construction, so Start has nothing to do.
type systemService struct {
	system *core.System
}

func (s *systemService) Name() string { return systemServiceName }

func (s *systemService) Start(context.Context) error { return nil }

func (s *systemService) Stop(ctx context.Context) error {
	return s.system.Shutdown(ctx)
}

// watcherService adapts the config watcher to the Service interface.
type watcherService struct {
	watcher *config.Watcher
}

func (s *watcherService) Name() string { return "config-watcher" }

func (s *watcherService) Start(context.Context) error {
	return s.watcher.Start()
}

func (s *watcherService) Stop(context.Context) error {
	return s.watcher.Stop()
}
