package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/config"
	"github.com/garyjia/budget-approval/internal/container"
	"github.com/garyjia/budget-approval/pkg/utils"
)

// app carries the started container between PersistentPreRunE and the subcommands
type app struct {
	out       io.Writer
	container *container.Container
	logger    *zap.Logger
	json      bool
}

// execute runs one CLI invocation and always releases the container, even
// when the subcommand fails
func execute(out io.Writer, args []string) error {
	cmd, a := rootCmd(out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	return err
}

func rootCmd(out io.Writer) (*cobra.Command, *app) {
	var (
		configPath string
		dbPath     string
		logLevel   string
	)
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:   "budgetctl",
		Short: "Drive the budget request approval workflow",
		Long: `budgetctl submits budget requests and moves them through the approval
chain: admin, reviewer 1, reviewer 2 and final authority.

It reads the same configuration as the server and always uses the SQLite store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.start(cmd.Context(), configPath, dbPath, logLevel)
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path, overrides database.path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.json, "json", false, "Print tables as JSON")

	cmd.AddCommand(
		submitCmd(a),
		forwardCmd(a),
		approveCmd(a),
		rejectCmd(a),
		getCmd(a),
		listCmd(a),
		summaryCmd(a),
		exportCmd(a),
	)

	return cmd, a
}

func (a *app) start(ctx context.Context, configPath, dbPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Store.Driver = config.DriverSQLite
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	cfg.Metrics.Enabled = false

	logger, err := utils.NewCLILogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	a.container = c
	return nil
}

func (a *app) close() error {
	if a.container == nil {
		return nil
	}
	err := a.container.Close()
	a.container = nil
	_ = a.logger.Sync()
	return err
}
