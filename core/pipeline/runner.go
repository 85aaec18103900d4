// Package pipeline runs the full analysis: frame files are partitioned
// across an in-process worker group, each worker classifies its frames into
// a local signature library, one collective reduction merges the libraries,
// and the coordinator carries the result through landmark selection,
// distance computation, outlier rejection, embedding, and output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/quenchlab/facet/builder"
	"github.com/quenchlab/facet/core/comm"
	"github.com/quenchlab/facet/core/config"
	"github.com/quenchlab/facet/core/ensemble"
	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/metrics"
	"github.com/quenchlab/facet/core/signature"
	"github.com/quenchlab/facet/trajectory"
)

// Runner executes the configured pipeline over a set of frame files.
type Runner struct {
	cfg *config.Config

	// NewBuilder creates one graph-construction collaborator per worker.
	// Defaults to the bundled cell-list builder; deployments with their own
	// canonical-graph code replace it.
	NewBuilder func() (builder.Builder, error)
}

// New creates a Runner for the given configuration.
func New(cfg *config.Config) *Runner {
	return &Runner{
		cfg: cfg,
		NewBuilder: func() (builder.Builder, error) {
			return builder.NewCellBuilder(cfg.Builder.Cutoff, cfg.Builder.Shells, cfg.Builder.CacheSize)
		},
	}
}

// SelectFrames filters candidate frame files through the configured
// include/exclude glob patterns. No include patterns means everything is
// included; exclusion is applied afterwards.
func SelectFrames(files, include, exclude []string) ([]string, error) {
	inc, err := compileGlobs(include)
	if err != nil {
		return nil, err
	}
	exc, err := compileGlobs(exclude)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		name := filepath.Base(f)
		if len(inc) > 0 && !matchAny(inc, name) {
			continue
		}
		if matchAny(exc, name) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad frame pattern %q: %v", errs.ErrConfiguration, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Run analyzes the frame files end to end. Workers map their partitions
// independently; the collective reduction and every coordinator stage follow;
// the color broadcast fans results back out to all workers.
func (r *Runner) Run(ctx context.Context, frames []string) error {
	frames, err := SelectFrames(frames, r.cfg.Pipeline.Include, r.cfg.Pipeline.Exclude)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frame files to analyze", errs.ErrConfiguration)
	}

	start := time.Now()
	slog.Info("analysis started",
		slog.Int("frames", len(frames)),
		slog.Int("workers", r.cfg.Pipeline.Workers))

	err = comm.Run(ctx, r.cfg.Pipeline.Workers, func(ctx context.Context, c comm.Context) error {
		return r.worker(ctx, c, frames)
	})
	if err != nil {
		return err
	}

	slog.Info("analysis complete", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Runner) worker(ctx context.Context, c comm.Context, frames []string) error {
	b, err := r.NewBuilder()
	if err != nil {
		return err
	}

	e := ensemble.New(c)
	e.Seed = r.cfg.Pipeline.Seed
	e.Rotations = r.cfg.Colors.Rotations
	e.DMap.Alpha = r.cfg.DMap.Alpha
	e.DMap.NumEvec = r.cfg.DMap.NumEvec
	e.DMap.Epsilon = r.cfg.DMap.Epsilon

	for _, i := range c.Partition(len(frames)) {
		if err := r.insertFrame(e, b, frames[i]); err != nil {
			if errors.Is(err, errs.ErrData) && !r.cfg.Pipeline.Strict {
				slog.Warn("skipping malformed frame",
					slog.String("frame", frames[i]),
					slog.Int("rank", c.Rank()),
					slog.String("cause", err.Error()))
				metrics.FramesSkipped.Inc()
				continue
			}
			return err
		}
	}

	if err := e.Collect(ctx); err != nil {
		return err
	}

	if c.Coordinator() {
		if err := r.reduce(e); err != nil {
			return err
		}
	}

	if err := e.WriteColors(ctx, r.cfg.Output.Dir); err != nil {
		return err
	}
	if c.Coordinator() {
		if err := e.WriteManifold(filepath.Join(r.cfg.Output.Dir, r.cfg.Output.Manifold)); err != nil {
			return err
		}
		if r.cfg.Output.Library != "" {
			if err := e.Library().Save(r.cfg.Output.Library, signaturePrecision(r.cfg)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) insertFrame(e *ensemble.Ensemble, b builder.Builder, path string) error {
	frame, err := trajectory.ReadXYZ(path, r.cfg.Pipeline.PBC)
	if err != nil {
		return err
	}
	lib, lookup, err := b.Build(frame)
	if err != nil {
		return err
	}
	return e.Insert(path, lib, lookup)
}

// reduce runs every coordinator-only stage between the collective reduction
// and the output collective.
func (r *Runner) reduce(e *ensemble.Ensemble) error {
	err := e.Prune(ensemble.PruneOptions{
		Mode:          r.cfg.Prune.Mode,
		NumTop:        r.cfg.Prune.NumTop,
		MinFreq:       r.cfg.Prune.MinFreq,
		MinPercentile: r.cfg.Prune.MinPercentile,
		NumRandom:     r.cfg.Prune.NumRandom,
	})
	if err != nil {
		return err
	}
	if err := e.ComputeDists(); err != nil {
		return err
	}
	if r.cfg.Outliers.Mode != "" {
		if err := e.DetectDistOutliers(r.cfg.Outliers.Mode, r.cfg.Outliers.Thresh); err != nil {
			return err
		}
	}
	return e.BuildDMap()
}

func signaturePrecision(cfg *config.Config) string {
	if cfg.Output.HalfPrecision {
		return signature.PrecisionHalf
	}
	return signature.PrecisionFull
}
