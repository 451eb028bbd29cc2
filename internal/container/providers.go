package container

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/application/dispatcher"
	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/application/service"
	"github.com/garyjia/budget-approval/internal/application/workflow"
	"github.com/garyjia/budget-approval/internal/infrastructure/messaging"
	"github.com/garyjia/budget-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/budget-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/budget-approval/internal/infrastructure/report"
	"github.com/garyjia/budget-approval/internal/metrics"
	"github.com/garyjia/budget-approval/migrations"
	"github.com/garyjia/budget-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB   *database.DB
	TxDB *sqlite.DB
}

// ProvideDatabase opens the SQLite database and runs pending migrations,
// from MigrationsDir when set and from the embedded schema otherwise.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.ApplyDir(ctx, cfg.MigrationsDir)
	} else {
		err = migrator.Apply(ctx, migrations.FS)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:   db,
		TxDB: sqlite.NewDB(db, logger),
	}, nil
}

// ProvideRequestStore creates the request store for the configured driver.
// The sqlite driver requires a database bundle.
func ProvideRequestStore(driver string, db *DatabaseBundle, logger *zap.Logger) (port.RequestStore, error) {
	switch driver {
	case StoreMemory:
		return memory.NewRequestStore(), nil
	case StoreSQLite:
		if db == nil {
			return nil, fmt.Errorf("database is required for the sqlite store")
		}
		return sqlite.NewRequestStore(db.TxDB, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
	), nil
}

// ProvideNATS connects to NATS and wraps the connection in a publisher.
// Returns nil values when publishing is disabled.
func ProvideNATS(cfg *NATSConfig, logger *zap.Logger) (*nats.Conn, *messaging.Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil, nil
	}

	conn, err := messaging.Connect(cfg.URL, cfg.ClientName, logger)
	if err != nil {
		return nil, nil, err
	}
	return conn, messaging.NewPublisher(conn, cfg.SubjectPrefix, logger.Named("nats")), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Store      port.RequestStore
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Recorder
	Audit      *service.AuditTrail
	Publisher  *messaging.Publisher
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine and registers the event
// handlers that observe it.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("workflow")}),
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}

	engine := workflow.NewEngine(deps.Store, opts...)

	if deps.Audit != nil {
		deps.Dispatcher.SubscribeAll("audit_trail", deps.Audit.Handle)
	}
	if deps.Publisher != nil {
		deps.Dispatcher.SubscribeAll("nats_publisher", deps.Publisher.Handle)
	}

	return engine, nil
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Query    service.QueryService
	Audit    *service.AuditTrail
	Exporter port.ReportExporter
}

// ProvideServices creates the read-side services.
func ProvideServices(store port.RequestStore, reportCfg *ReportConfig, logger *zap.Logger) (*ServiceBundle, error) {
	if store == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	var requestsSheet, logsSheet string
	if reportCfg != nil {
		requestsSheet, logsSheet = reportCfg.RequestsSheet, reportCfg.LogsSheet
	}

	serviceLogger := &zapLoggerAdapter{logger: logger.Named("service")}
	return &ServiceBundle{
		Query:    service.NewQueryService(store, serviceLogger),
		Audit:    service.NewAuditTrail(&zapLoggerAdapter{logger: logger.Named("audit")}),
		Exporter: report.NewExcelExporter(requestsSheet, logsSheet, logger.Named("report")),
	}, nil
}
