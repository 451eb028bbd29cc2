package config

import (
	"github.com/garyjia/budget-approval/internal/container"
)

// ToContainerConfig maps the viper-loaded file config onto container.Config
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		StoreDriver: c.Store.Driver,
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			Mode:         c.Server.Mode,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		NATS: container.NATSConfig{
			Enabled:       c.NATS.Enabled,
			URL:           c.NATS.URL,
			SubjectPrefix: c.NATS.SubjectPrefix,
			ClientName:    c.NATS.ClientName,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
			Path:    c.Metrics.Path,
		},
		Report: container.ReportConfig{
			RequestsSheet: c.Report.RequestsSheet,
			LogsSheet:     c.Report.LogsSheet,
		},
	}
}
