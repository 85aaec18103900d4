package dmap

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/quenchlab/facet/core/colorspace"
	"github.com/quenchlab/facet/core/errs"
)

// Engine drives one diffusion-map construction over a signature distance
// matrix. Alpha exponentiates distances before any other use (alpha < 1
// exaggerates differences between nearby structures, alpha > 1 smooths them);
// Epsilon is the kernel bandwidth, defaulted to the median of the full
// alpha-scaled matrix when zero.
//
// After Build, per-signature tables are indexed by the original, unfiltered
// dense indices. Signatures excluded by validity filtering carry NaN
// embedding rows and corner colors, never zeros, so missing data stays
// distinguishable from a zero coordinate.
type Engine struct {
	Alpha   float64
	NumEvec int
	Epsilon float64
	Solver  Solver

	Evals       []float64
	Evecs       *mat.Dense // per landmark-column slot, NaN where filtered
	EvecsNy     *mat.Dense // per original row via Nystrom, nil without landmarks
	Coords      *mat.Dense // n x NumEvec embedding, NaN sentinel rows
	ColorCoords *mat.Dense // n x NumEvec bounded colors, column 0 pinned to 0.5
}

// NewEngine returns an Engine with the conventional defaults: alpha 1, four
// eigenvectors, bandwidth chosen from the data.
func NewEngine() *Engine {
	return &Engine{Alpha: 1.0, NumEvec: 4, Solver: SpectralSolver{}}
}

// Build embeds the distance matrix. landmarks holds the dense signature
// indices anchoring the solve (one per valid column); validRows and validCols
// restrict which rows and columns participate, each defaulting to all. With
// landmarks the square landmark submatrix feeds the eigensolver and the
// valid-rows rectangle feeds Nystrom extension; without landmarks the valid
// square submatrix serves both roles and no extension is performed.
func (e *Engine) Build(dists *mat.Dense, landmarks, validRows, validCols []int) error {
	if dists == nil {
		return fmt.Errorf("%w: no distance matrix", errs.ErrNotReady)
	}
	n, m := dists.Dims()
	if validRows == nil {
		validRows = ascending(n)
	}
	if validCols == nil {
		validCols = ascending(m)
	}

	scaled := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			scaled.Set(i, j, math.Pow(dists.At(i, j), e.Alpha))
		}
	}

	if e.Epsilon <= 0 {
		e.Epsilon = matrixMedian(scaled)
		slog.Debug("kernel bandwidth defaulted to matrix median",
			slog.Float64("epsilon", e.Epsilon))
	}

	lmRows := landmarks
	if lmRows == nil {
		lmRows = validRows
	}
	if len(lmRows) != len(validCols) {
		return fmt.Errorf("%w: %d landmark rows against %d valid columns",
			errs.ErrConfiguration, len(lmRows), len(validCols))
	}
	square := submatrix(scaled, lmRows, validCols)

	res, err := e.Solver.Decompose(square, e.Epsilon, e.NumEvec)
	if err != nil {
		return err
	}
	e.Evals = res.Evals
	e.Evecs = backfill(res.Evecs, m, e.NumEvec, validCols)

	if landmarks != nil {
		rect := submatrix(scaled, validRows, validCols)
		ny, err := e.Solver.Extend(res, rect)
		if err != nil {
			return err
		}
		e.EvecsNy = backfill(ny, n, e.NumEvec, validRows)
		e.Coords = e.EvecsNy
	} else {
		e.EvecsNy = nil
		e.Coords = backfill(res.Evecs, n, e.NumEvec, validRows)
	}

	e.ColorCoords = colorspace.RankTransform(e.Coords)
	for i := 0; i < n; i++ {
		if !finiteRow(e.Coords.RawRowView(i)) {
			// unclassified rows sit at the color-space corner
			for t := 0; t < e.NumEvec; t++ {
				e.ColorCoords.Set(i, t, 1)
			}
			continue
		}
		// the first eigenvector of the diffusion operator is constant;
		// pin its channel instead of rank-transforming noise
		e.ColorCoords.Set(i, 0, 0.5)
	}
	return nil
}

// Classified reports whether the signature at dense index i received a real
// embedding, as opposed to the missing sentinel.
func (e *Engine) Classified(i int) bool {
	return e.Coords != nil && finiteRow(e.Coords.RawRowView(i))
}

func ascending(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func submatrix(src *mat.Dense, rows, cols []int) *mat.Dense {
	out := mat.NewDense(len(rows), len(cols), nil)
	for i, r := range rows {
		for j, c := range cols {
			out.Set(i, j, src.At(r, c))
		}
	}
	return out
}

// backfill scatters solved rows into a full-size table at the given original
// indices, leaving every other entry NaN.
func backfill(src *mat.Dense, rows, cols int, at []int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	nan := math.NaN()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, nan)
		}
	}
	for i, r := range at {
		out.SetRow(r, src.RawRowView(i))
	}
	return out
}

func matrixMedian(m *mat.Dense) float64 {
	rows, cols := m.Dims()
	vals := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		vals = append(vals, m.RawRowView(i)...)
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

func finiteRow(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
