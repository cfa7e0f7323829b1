package main

import (
	"context"
	"fmt"

	"github.com/erp/crmsync/internal/app"
	"github.com/erp/crmsync/internal/infrastructure/config"
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the ERP to CRM sync pipeline",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file (default: ./config.toml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newSyncCmd(flags))
	cmd.AddCommand(newProjectionCmd(flags))
	cmd.AddCommand(newMatrixCmd(flags))
	cmd.AddCommand(newEventsCmd(flags))
	return cmd
}

// withPipeline builds the pipeline for one command and closes it afterwards.
// The trigger never runs from the CLI.
func withPipeline(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, p *app.Pipeline) error) error {
	cfg, err := config.LoadFrom(flags.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(&logger.Config{
		Level:      flags.logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "15:04:05.000",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	p, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("Error closing pipeline", zap.Error(err))
		}
	}()
	return fn(ctx, p)
}
