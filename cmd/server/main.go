package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/config"
	"github.com/garyjia/budget-approval/internal/container"
	httpapi "github.com/garyjia/budget-approval/internal/interfaces/http"
	"github.com/garyjia/budget-approval/pkg/utils"
)

func main() {
	// BUDGET_CONFIG points at an optional YAML file; env vars override it
	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting budget approval service",
		zap.String("store", cfg.Store.Driver),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	deps := httpapi.Dependencies{
		Workflow: c.WorkflowEngine(),
		Query:    c.Services().Query,
		Exporter: c.Services().Exporter,
		Health: func() (bool, interface{}) {
			status := c.Health()
			return status.Overall, status.Components
		},
	}
	if m := c.Metrics(); m != nil {
		deps.Metrics = m.Handler()
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Mode:         cfg.Server.Mode,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,

		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps, container.NewLoggerAdapter(logger.Named("http")))

	// Blocks until a signal arrives, then shuts the listener down
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("Server exited successfully")
	return nil
}
