// Package cmd provides CLI commands for the facet analysis tool.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quenchlab/facet/core/config"
	"github.com/quenchlab/facet/core/errs"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "Facet - structural signature analysis for particle trajectories",
	Long: `Facet reduces particle simulation snapshots to libraries of distinct
structural signatures and maps them onto a low-dimensional manifold with
landmark diffusion maps.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the effective configuration and installs the logger it
// asks for. Every subcommand goes through here before doing work.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Logging.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("%w: unknown log level %q", errs.ErrConfiguration, level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}
