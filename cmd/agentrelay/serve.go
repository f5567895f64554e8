package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"agentrelay/internal/app"
	"agentrelay/pkg/config"
	"agentrelay/pkg/logger"
)

func newServeCommand() *cobra.Command {
	var flags config.Flags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay http api and realtime listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.Set = map[string]bool{
				"addr":   cmd.Flags().Changed("addr"),
				"db":     cmd.Flags().Changed("db"),
				"config": cmd.Flags().Changed("config"),
			}
			return serve(flags)
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "0.0.0.0:8080", "api listen address host:port")
	cmd.Flags().StringVar(&flags.DB, "db", "./.database", "pebble store directory")
	cmd.Flags().StringVar(&flags.Config, "config", "./config.yaml", "path to the yaml config file")
	return cmd
}

func serve(flags config.Flags) error {
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		app.Abort("failed to load config file", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		app.Abort("failed to build effective config", err)
	}
	if err := config.ValidateConfig(eff); err != nil {
		app.Abort("invalid configuration", err)
	}
	// store.path may have been defaulted during validation
	eff.DBPath = eff.Config.Store.Path

	logger.Init(eff.Config.Logging.Level, eff.Config.Logging.Format)
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)

	a, err := app.New(eff, version, commit, buildDate, nil)
	if err != nil {
		app.Abort("failed to initialize app", err)
	}

	ctx, cancel := app.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("app_run_failed", "error", runErr)
	}

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
