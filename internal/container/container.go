package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/application/dispatcher"
	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/application/workflow"
	"github.com/garyjia/budget-approval/internal/infrastructure/messaging"
	"github.com/garyjia/budget-approval/internal/metrics"
)

// Container owns the store, observers and workflow engine of one process
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	db    *DatabaseBundle
	store port.RequestStore

	natsConn  *nats.Conn
	publisher *messaging.Publisher
	metrics   *metrics.Recorder

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.WorkflowEngine
	services   *ServiceBundle

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start brings the components up in dependency order. A failing step tears
// down whatever earlier steps opened.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed.Load():
		return fmt.Errorf("container has been closed")
	case c.ready.Load():
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting budget approval container", zap.String("store", c.config.StoreDriver))

	steps := []struct {
		component string
		run       func() error
	}{
		{"store", c.initStore},
		{"observers", c.initObservers},
		{"services", c.initServices},
		{"workflow", c.initDispatcherAndWorkflow},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			c.teardown()
			c.cancel()
			return fmt.Errorf("start %s: %w", step.component, err)
		}
		c.logger.Info("Component started", zap.String("component", step.component))
	}

	c.ready.Store(true)
	c.logger.Info("Container ready",
		zap.Bool("metrics", c.metrics != nil),
		zap.Bool("nats", c.publisher != nil))
	return nil
}

// Close drains the dispatcher, then NATS, then closes the database.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)
	if c.cancel != nil {
		c.cancel()
	}

	if errs := c.teardown(); len(errs) > 0 {
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	c.logger.Info("Container closed")
	return nil
}

// teardown releases components in reverse start order and forgets them
func (c *Container) teardown() []error {
	var errs []error

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.natsConn != nil {
		if err := c.natsConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
		c.natsConn = nil
		c.publisher = nil
	}

	if c.db != nil {
		if err := c.db.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.db = nil
	}

	for _, err := range errs {
		c.logger.Error("Shutdown step failed", zap.Error(err))
	}
	return errs
}

// Ready reports whether Start completed and Close has not run
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health probes each component. NATS is only reported when enabled.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{Overall: true, Components: map[string]ComponentHealth{}}
	report := func(name string, h ComponentHealth) {
		status.Components[name] = h
		status.Overall = status.Overall && h.Healthy
	}

	report("store", c.storeHealth())
	if c.dispatcher == nil {
		report("dispatcher", ComponentHealth{Message: "not initialized"})
	} else {
		report("dispatcher", ComponentHealth{Healthy: true})
	}
	if c.config.NATS.Enabled {
		report("nats", c.natsHealth())
	}
	return status
}

func (c *Container) storeHealth() ComponentHealth {
	if c.store == nil {
		return ComponentHealth{Message: "not initialized"}
	}
	if c.db != nil {
		if err := c.db.DB.PingContext(c.ctx); err != nil {
			return ComponentHealth{Message: "ping failed: " + err.Error()}
		}
	}
	return ComponentHealth{Healthy: true, Message: c.config.StoreDriver}
}

func (c *Container) natsHealth() ComponentHealth {
	if c.natsConn == nil || !c.natsConn.IsConnected() {
		return ComponentHealth{Message: "disconnected"}
	}
	return ComponentHealth{Healthy: true, Message: c.natsConn.ConnectedUrl()}
}

func (c *Container) initStore() error {
	if c.config.StoreDriver == StoreSQLite {
		db, err := ProvideDatabase(c.ctx, &c.config.Database, c.logger)
		if err != nil {
			return err
		}
		c.db = db
	}

	store, err := ProvideRequestStore(c.config.StoreDriver, c.db, c.logger.Named("store"))
	if err != nil {
		return err
	}
	c.store = store
	return nil
}

func (c *Container) initObservers() error {
	if c.config.Metrics.Enabled {
		c.metrics = metrics.NewRecorder()
	}

	conn, publisher, err := ProvideNATS(&c.config.NATS, c.logger)
	if err != nil {
		return err
	}
	c.natsConn, c.publisher = conn, publisher
	return nil
}

func (c *Container) initServices() error {
	services, err := ProvideServices(c.store, &c.config.Report, c.logger)
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initDispatcherAndWorkflow() error {
	d, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = d

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Store:      c.store,
		Dispatcher: d,
		Metrics:    c.metrics,
		Audit:      c.services.Audit,
		Publisher:  c.publisher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine
	return nil
}

// Store returns the request store.
func (c *Container) Store() port.RequestStore {
	return c.store
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Services returns the application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Metrics returns the metrics recorder, nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container configuration.
func (c *Container) Config() *Config {
	return c.config
}
