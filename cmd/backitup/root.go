package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/backitup/backitup/internal/config"
	"github.com/backitup/backitup/internal/logging"
)

var (
	configPath string
	logFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "backitup",
	Short: "Backup agent for filesystem sources and container volumes",
	Long: `backitup periodically captures configured filesystem sources and named
container volumes into compressed archives, replicates them to local
and/or remote object storage, records every artifact in a durable
catalog, and enforces per-schedule retention policies through a
multi-gate validation pipeline.

Configuration is read from (first match wins):
  1. --config FILE / $BACKITUP_CONFIG
  2. .backitup/config.yaml, walking up from the current directory
  3. $XDG_CONFIG_HOME/backitup/config.yaml
  4. ~/.backitup/config.yaml

Every setting can also be supplied via BACKITUP_* environment
variables (dots and dashes become underscores).`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Interactive invocations tee to
// stderr; the run daemon typically sets --log-file and detaches.
func newLogger() (*slog.Logger, func() error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logging.New(logging.Options{
		FilePath:    logFile,
		Interactive: isatty.IsTerminal(os.Stderr.Fd()),
		Level:       level,
	})
}
