package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/server"
	"mercator-hq/ganymede/pkg/telemetry/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxy server",
	Long: `Run starts the proxy server with the specified configuration.

The server loads accounts.json, the signature cache, and usage history
from the configured data directory, then serves the client endpoints
until interrupted. The configuration file is watched for changes and
reloaded in place.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.MustGetConfig()

	logLevel := cfg.Telemetry.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:             logLevel,
		Format:            cfg.Telemetry.Logging.Format,
		RedactCredentials: cfg.Telemetry.Logging.Redact(),
		Writer:            os.Stderr,
	})
	if err != nil {
		return err
	}
	logger.InstallDefault()

	state, err := server.NewAppState(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Hot-reload the configuration file; the watcher discards candidates
	// that fail validation.
	watcher := config.NewWatcher(cfgFile, nil)
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			logger.Warn("config watcher exited", "error", err)
		}
	}()

	return server.NewServer(state).Start(ctx)
}
