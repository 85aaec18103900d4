package ensemble

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/quenchlab/facet/core/colorspace"
	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/metrics"
	"github.com/quenchlab/facet/trajectory"
)

// colorColumns are the embedding columns used as RGB channels; column 0 is
// the pinned trivial eigenvector and never a channel.
var colorColumns = [3]int{1, 2, 3}

// BuildDMap embeds the distance matrix through the diffusion-map engine,
// honoring any landmark designation and outlier filtering performed so far.
func (e *Ensemble) BuildDMap() error {
	if err := e.requirePhase(PhaseDistances, "diffusion map construction"); err != nil {
		return err
	}
	start := time.Now()

	if err := e.DMap.Build(e.dists, e.lmIdx, e.validRows, e.validCols); err != nil {
		return err
	}

	e.phase = PhaseEmbedded
	metrics.PhaseDuration.WithLabelValues("dmap").Observe(time.Since(start).Seconds())
	slog.Info("diffusion map construction complete",
		slog.Int("landmarks", len(e.lmIdx)),
		slog.Float64("alpha", e.DMap.Alpha),
		slog.Float64("epsilon", e.DMap.Epsilon),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// colorShare is the broadcast payload fanning the coordinator's results back
// out to the workers.
type colorShare struct {
	Colors    [][3]float64
	FrameMaps map[string][]int
}

// WriteColors is the final collective: the coordinator broadcasts the color
// table and per-frame index maps, then every worker writes one .cmap file per
// frame in its partition, one "<signature-index> <R> <G> <B>" line per
// particle. Particles of unclassified signatures carry index -1 and the
// corner color.
func (e *Ensemble) WriteColors(ctx context.Context, dir string) error {
	var share colorShare
	if e.comm.Coordinator() {
		if err := e.requirePhase(PhaseEmbedded, "color output"); err != nil {
			return err
		}
		table, err := e.colorTable()
		if err != nil {
			return err
		}
		share = colorShare{Colors: table, FrameMaps: e.FrameMaps()}
	}

	got, err := e.comm.Broadcast(ctx, share)
	if err != nil {
		return err
	}
	share = got.(colorShare)

	keys := make([]string, 0, len(share.FrameMaps))
	for key := range share.FrameMaps {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, f := range e.comm.Partition(len(keys)) {
		key := keys[f]
		if err := writeColorMap(cmapPath(dir, key), share.FrameMaps[key], share.Colors); err != nil {
			return err
		}
	}
	if e.comm.Coordinator() {
		e.phase = PhaseExported
	}
	slog.Info("frame color maps written",
		slog.Int("rank", e.comm.Rank()),
		slog.Int("frames", len(e.comm.Partition(len(keys)))))
	return nil
}

// colorTable extracts the RGB triple of every signature from the engine's
// color coordinates, applying the configured rotation sequence.
func (e *Ensemble) colorTable() ([][3]float64, error) {
	n, cols := e.DMap.ColorCoords.Dims()
	if cols <= colorColumns[2] {
		return nil, fmt.Errorf("%w: color output needs at least %d embedding columns, have %d",
			errs.ErrConfiguration, colorColumns[2]+1, cols)
	}
	table := make([][3]float64, n)
	for i := 0; i < n; i++ {
		for c, col := range colorColumns {
			table[i][c] = e.DMap.ColorCoords.At(i, col)
		}
	}
	return colorspace.RotateSeq(table, e.Rotations), nil
}

func cmapPath(dir, frameKey string) string {
	return filepath.Join(dir, filepath.Base(frameKey)+".cmap")
}

func writeColorMap(path string, frameMap []int, colors [][3]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write color map: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, idx := range frameMap {
		rgb := [3]float64{1, 1, 1}
		if idx >= 0 && idx < len(colors) {
			rgb = colors[idx]
		}
		fmt.Fprintf(w, "%d %.6f %.6f %.6f\n", idx, rgb[0], rgb[1], rgb[2])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write color map: %w", err)
	}
	return nil
}

// WriteManifold exports the structural-similarity manifold itself as a
// synthetic geometry file: one particle per classified signature, positioned
// at its embedding coordinates inside a box sized to twice the largest
// absolute coordinate, with a .cmap sidecar pairing the signature indices
// with their colors. Coordinator only.
func (e *Ensemble) WriteManifold(path string) error {
	if err := e.requirePhase(PhaseEmbedded, "manifold export"); err != nil {
		return err
	}
	table, err := e.colorTable()
	if err != nil {
		return err
	}

	n, _ := e.DMap.Coords.Dims()
	var xyz []trajectory.Vec3
	var kept []int
	var box trajectory.Vec3
	for i := 0; i < n; i++ {
		if !e.DMap.Classified(i) {
			continue
		}
		var p trajectory.Vec3
		for c, col := range colorColumns {
			p[c] = e.DMap.Coords.At(i, col)
			box[c] = math.Max(box[c], 2*math.Abs(p[c]))
		}
		xyz = append(xyz, p)
		kept = append(kept, i)
	}

	frame := &trajectory.Frame{N: len(xyz), Box: box, XYZ: xyz}
	if err := trajectory.WriteXYZ(path, frame); err != nil {
		return err
	}

	file, err := os.Create(path + ".cmap")
	if err != nil {
		return fmt.Errorf("write manifold colors: %w", err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	for _, i := range kept {
		// first column keeps the signature's true dense index even though
		// unclassified rows are skipped
		rgb := table[i]
		fmt.Fprintf(w, "%d %.6f %.6f %.6f\n", i, rgb[0], rgb[1], rgb[2])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write manifold colors: %w", err)
	}

	e.phase = PhaseExported
	slog.Info("manifold geometry exported",
		slog.String("path", path),
		slog.Int("signatures", len(xyz)))
	return nil
}
