// Package container provides dependency injection and lifecycle management
// for the budget approval service.
package container

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/budget-approval/internal/infrastructure/report"
)

// Store drivers understood by the container
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// StoreDriver selects the request store: memory or sqlite
	StoreDriver string

	// Database configuration, used by the sqlite store
	Database DatabaseConfig

	// Server configuration
	Server ServerConfig

	// NATS event publishing
	NATS NATSConfig

	// Prometheus metrics
	Metrics MetricsConfig

	// Excel report export
	Report ReportConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout bounds how long a writer waits for the database lock
	BusyTimeout time.Duration

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
	ClientName    string
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// ReportConfig names the sheets of exported workbooks.
type ReportConfig struct {
	RequestsSheet string
	LogsSheet     string
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	if err := report.ValidateSheetNames(c.Report.RequestsSheet, c.Report.LogsSheet); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}
