/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"saladict/pkg/browser/memhost"
	"saladict/pkg/bus"
	"saladict/pkg/config"
	"saladict/pkg/logger"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "saladict",
	Short: "Drive the Saladict messaging and storage layer from a terminal",
	Long: "Runs the Saladict extension messaging layer against a simulated browser host. " +
		"Use the console to send messages between contexts and watch storage, or the notebook commands to manage saved words.",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and installs the process logger.
func setup(component string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	return cfg, logger.ForContext(appLogger, component, ""), nil
}

// openHost starts a browser host backed by the configured state directory.
func openHost(cfg *config.Config, log *slog.Logger, trace *bus.TraceBus) (*memhost.Host, error) {
	host, err := memhost.New(
		memhost.WithLogger(log),
		memhost.WithTrace(trace),
		memhost.WithStateDir(cfg.Host.StateDir),
		memhost.WithExtensionURL(cfg.Host.ExtensionURL),
	)
	if err != nil {
		return nil, fmt.Errorf("open browser host: %w", err)
	}
	return host, nil
}
