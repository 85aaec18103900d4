package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quenchlab/facet/core/metrics"
	"github.com/quenchlab/facet/core/pipeline"
)

var (
	analyzeWorkers   int
	analyzeOutputDir string
	analyzeLibrary   string
	analyzeStrict    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FRAME...",
	Short: "Classify trajectory frames and build the diffusion-map embedding",
	Long: `Classify the particle environments of every frame, reduce them across the
worker group into a signature library, and embed the library with a landmark
diffusion map. Writes one .cmap color file per frame plus the manifold
geometry.

Examples:
  facet analyze dump.*.xyz
  facet analyze --config facet.yaml --workers 8 frames/*.xyz
  facet analyze --output results --library signatures.msgpack dump.xyz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "worker count (overrides configuration)")
	analyzeCmd.Flags().StringVar(&analyzeOutputDir, "output", "", "output directory (overrides configuration)")
	analyzeCmd.Flags().StringVar(&analyzeLibrary, "library", "", "also save the signature library archive to this path")
	analyzeCmd.Flags().BoolVar(&analyzeStrict, "strict", false, "fail on malformed frames instead of skipping them")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if analyzeWorkers > 0 {
		cfg.Pipeline.Workers = analyzeWorkers
	}
	if analyzeOutputDir != "" {
		cfg.Output.Dir = analyzeOutputDir
	}
	if analyzeLibrary != "" {
		cfg.Output.Library = analyzeLibrary
	}
	if analyzeStrict {
		cfg.Pipeline.Strict = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Listen); err != nil {
				slog.Error("metrics listener failed", slog.String("cause", err.Error()))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return pipeline.New(cfg).Run(ctx, args)
}
