// Command gojostore creates, serves, queries and backs up a gojostore
// database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sushant-115/gojostore/config"
	"github.com/sushant-115/gojostore/pkg/logger"
	"go.uber.org/zap"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "gojostore",
		Short:         "gojostore storage engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the YAML config file")
	root.AddCommand(
		newCreateCommand(),
		newServeCommand(),
		newShellCommand(),
		newBackupCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies the store flags common to
// the subcommands.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("path") {
		cfg.Store.Path, _ = cmd.Flags().GetString("path")
	}
	if cmd.Flags().Changed("mem") {
		cfg.Store.Memory, _ = cmd.Flags().GetString("mem")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("path", "", "File prefix of the store (overrides store.path)")
	cmd.Flags().String("mem", "", "Page cache size, e.g. 64MiB (overrides store.memory)")
}
