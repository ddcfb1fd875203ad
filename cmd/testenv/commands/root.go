package commands

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mongowebapi/mongo-web-api/pkg/config"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
)

// configPath is the value of the --config flag.
var configPath string

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "testenv",
		Short:         "Ephemeral test environments for the mongo-web-api service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	rootCmd.AddCommand(
		newUpCmd(),
		newPortCmd(),
		newPrepareCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and builds the matching logger.
func loadConfig() (config.Config, logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, errors.Wrap(err, "Failed to load configuration")
	}
	log := logging.New(cfg.LogLevel, os.Stderr, cfg.LogFormat == "json")
	return cfg, log, nil
}
