// Package daemon assembles the swarm service: session buffers, capability
// providers, the agent runner and the HTTP API, with their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/swarm/internal/config"
	"github.com/harun/swarm/internal/logger"
	"github.com/harun/swarm/internal/observability"
	"github.com/harun/swarm/internal/tracing"
	"github.com/harun/swarm/pkg/agent"
	"github.com/harun/swarm/pkg/api"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/harun/swarm/pkg/capability"
	"github.com/harun/swarm/pkg/dispatch"
	"github.com/harun/swarm/pkg/providers"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// Daemon represents the swarm service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store      *buffer.Store
	registry   *capability.Registry
	providers  *providers.Set
	dispatcher *dispatch.Dispatcher
	loop       *agent.Loop
	runner     *agent.Runner

	// Services
	janitor   *buffer.Janitor
	server    *api.Server
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// newDecider builds the decision source from config; tests replace it
var newDecider = func(cfg *config.Config, reg *capability.Registry, log zerolog.Logger) (agent.Decider, error) {
	provider, err := agent.NewProvider(cfg.Agent.Provider, cfg.Agent.APIKey, cfg.Agent.BaseURL)
	if err != nil {
		return nil, err
	}
	return agent.NewLLMDecider(agent.LLMDeciderConfig{
		Provider: provider,
		Registry: reg,
		Decision: agent.DecisionConfig{
			Model:        cfg.Agent.Model,
			Temperature:  cfg.Agent.Temperature,
			MaxTokens:    cfg.Agent.MaxTokens,
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxRetries:   cfg.Agent.MaxRetries,
		},
		Logger: log,
	})
}

// newFetcher builds the browser backend; tests replace it
var newFetcher = func(cfg config.BrowserConfig, log zerolog.Logger) providers.PageFetcher {
	return providers.NewRodFetcher(providers.RodConfig{
		ControlURL: cfg.ControlURL,
		ChromePath: cfg.ChromePath,
		Headless:   cfg.Headless,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:     log,
	})
}

// New creates a new daemon instance. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if err := tracing.InitOpenTelemetry(tracing.Config{
		ServiceName: "swarm",
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(); err != nil {
		d.releaseCore()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.releaseCore()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds everything a run needs, in dependency order
func (d *Daemon) initializeCoreModules() error {
	auditPath := d.config.Logging.AuditFile
	if auditPath == "" && d.config.DataDir != "" {
		auditPath = filepath.Join(d.config.DataDir, "audit.log")
	}
	if auditPath != "" {
		if err := os.MkdirAll(filepath.Dir(auditPath), 0755); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to create audit directory")
		} else if err := observability.InitAuditLogger(auditPath); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
		}
	}

	d.store = buffer.NewStore()

	var fetcher providers.PageFetcher
	if d.config.Tools.Browser.Enabled {
		fetcher = newFetcher(d.config.Tools.Browser, d.logger.Component("browser"))
	}
	var search providers.SearchConfig
	if d.config.Tools.Exa.Enabled {
		search = providers.SearchConfig{
			APIKey:  d.config.Tools.Exa.APIKey,
			BaseURL: d.config.Tools.Exa.BaseURL,
		}
	}

	set, err := providers.NewSet(providers.Options{
		Buffers: d.store,
		Search:  search,
		Fetcher: fetcher,
	})
	if err != nil {
		return fmt.Errorf("failed to create providers: %w", err)
	}
	d.providers = set

	d.registry = capability.NewRegistry()
	if err := set.Register(d.registry); err != nil {
		return fmt.Errorf("failed to register providers: %w", err)
	}
	d.logger.Info().Strs("tools", d.registry.Names()).Msg("Capability registry sealed")

	d.dispatcher, err = dispatch.New(dispatch.Config{
		Registry: d.registry,
		Timeout:  d.config.ToolTimeout(),
		Logger:   d.logger.Component("dispatch"),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	decider, err := newDecider(d.config, d.registry, d.logger.Component("decider"))
	if err != nil {
		return fmt.Errorf("failed to create decider: %w", err)
	}

	d.loop, err = agent.NewLoop(agent.LoopConfig{
		Decider:       decider,
		Dispatcher:    d.dispatcher,
		Store:         d.store,
		MaxIterations: d.config.Agent.MaxIterations,
		Logger:        d.logger.Component("loop"),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent loop: %w", err)
	}

	d.runner, err = agent.NewRunner(agent.RunnerConfig{
		Store:  d.store,
		Loop:   d.loop,
		Logger: d.logger.Component("runner"),
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	d.logger.Info().Int("max_iterations", d.loop.MaxIterations()).Msg("Agent runner initialized")

	return nil
}

// initializeServices builds the janitor and the HTTP server
func (d *Daemon) initializeServices() error {
	var err error

	d.janitor, err = buffer.NewJanitor(buffer.JanitorConfig{
		Store:    d.store,
		TTL:      d.config.BufferTTL(),
		Schedule: d.config.Buffers.SweepSchedule,
		OnEvict:  d.runner.Forget,
		Logger:   d.logger.Component("janitor"),
	})
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}

	d.server, err = api.NewServer(api.Config{
		Host:           d.config.Server.Host,
		Port:           d.config.Server.Port,
		Runs:           d.runner,
		Buffers:        d.store,
		Registry:       d.registry,
		RateLimit:      d.config.Server.RateLimit,
		Burst:          d.config.Server.Burst,
		StreamInterval: d.config.StreamInterval(),
		Logger:         d.logger.Component("api"),
	})
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}

	return nil
}

// Start starts the janitor and the HTTP server and writes the PID file
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting swarm daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.janitor.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	if err := d.server.Start(); err != nil {
		d.janitor.Stop()
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start api server: %w", err)
	}

	log.Info().Str("addr", d.server.Addr()).Msg("Swarm daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop shuts the services down and releases every resource
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Stopping swarm daemon")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop api server")
		errs = append(errs, err)
	}

	d.janitor.Stop()

	if err := d.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
		errs = append(errs, err)
	}

	log.Info().Msg("Swarm daemon stopped")
	return errors.Join(errs...)
}

// Close cancels active runs and releases providers, audit and tracing.
// It is what an in-process caller uses when Start was never called.
func (d *Daemon) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var errs []error
	if d.runner != nil {
		if err := d.runner.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to drain runs")
			errs = append(errs, err)
		}
	}
	d.releaseCore()
	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			errs = append(errs, err)
		}
		d.tracingEnabled = false
	}
	return errors.Join(errs...)
}

func (d *Daemon) releaseCore() {
	if d.providers != nil {
		if err := d.providers.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close providers")
		}
	}
	_ = observability.GetAuditLogger().Close()
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// ApplyConfig applies the settings that can change without a restart
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	if cfg.Logging.Level != "" && cfg.Logging.Level != d.config.Logging.Level {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring invalid log level from config reload")
			return
		}
		d.logger.Info().Str("level", cfg.Logging.Level).Msg("Log level changed")
		d.config.Logging.Level = cfg.Logging.Level
	}
}

// Status represents daemon status
type Status struct {
	Running    bool
	Uptime     time.Duration
	StartTime  time.Time
	Addr       string
	Sessions   int
	ActiveRuns int
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Status{
		Running:    d.running,
		StartTime:  d.startTime,
		Sessions:   d.store.Len(),
		ActiveRuns: d.runner.Active(),
	}
	if d.running {
		s.Uptime = time.Since(d.startTime)
		s.Addr = d.server.Addr()
	}
	return s
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetStore returns the session buffer store
func (d *Daemon) GetStore() *buffer.Store {
	return d.store
}

// GetRegistry returns the sealed capability registry
func (d *Daemon) GetRegistry() *capability.Registry {
	return d.registry
}

// GetRunner returns the agent runner
func (d *Daemon) GetRunner() *agent.Runner {
	return d.runner
}

// GetServer returns the API server
func (d *Daemon) GetServer() *api.Server {
	return d.server
}
