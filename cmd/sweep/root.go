package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/sweep/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Clean up idle EC2 resources",
		Long: `Sweep - idle EC2 resource cleanup

Sweep finds stopped instances, unattached volumes, self-owned images and
orphaned snapshots older than a retention period and removes them.

Runs are simulated unless --execute is given. Every run writes a JSON
result file and is kept in a local history database.`,
		Example: `  sweep --region us-east-1                      # Dry run, 30 day retention
  sweep --days 14 --exclude-tag DoNotDelete     # Protect tagged resources
  sweep --execute --max-workers 5               # Delete for real
  sweep --interval 24h --metrics-addr :9090     # Run daily as a daemon`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCleanup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Sweep {{.Version}} - idle EC2 resource cleanup
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// loadConfig reads the config file when one is given, otherwise the defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}

	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}
