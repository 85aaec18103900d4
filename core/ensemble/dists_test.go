package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/signature"
)

// lineLibrary builds signatures with 1-D structure at the given positions so
// distance relationships are easy to reason about.
func lineLibrary(t *testing.T, positions []float64) *Ensemble {
	t.Helper()
	lib := signature.NewLibrary()
	for i, x := range positions {
		require.NoError(t, lib.Add(key(i), []float64{x, 0.0}, 1, 1))
	}
	e := New(soloContext())
	require.NoError(t, e.Insert("frame", lib, signature.FrameLookup{}))
	return e
}

func key(i int) string {
	return string(rune('a' + i))
}

func TestComputeDistsSquareWithZeroDiagonal(t *testing.T) {
	e := lineLibrary(t, []float64{0, 1, 2, 5})
	require.NoError(t, e.ComputeDists())

	n, m := e.Dists().Dims()
	require.Equal(t, 4, n)
	require.Equal(t, 4, m)
	for i := 0; i < n; i++ {
		require.Equal(t, 0.0, e.Dists().At(i, i), "diagonal must be exactly zero")
	}
	require.InDelta(t, 5.0, e.Dists().At(0, 3), 1e-12)
	require.InDelta(t, 4.0, e.Dists().At(3, 1), 1e-12)
	require.Equal(t, PhaseDistances, e.Phase())
}

func TestComputeDistsRespectsLandmarks(t *testing.T) {
	e := lineLibrary(t, []float64{0, 1, 2, 5})
	top := 2
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", NumTop: &top}))
	require.NoError(t, e.ComputeDists())

	n, m := e.Dists().Dims()
	require.Equal(t, 4, n)
	require.Equal(t, 2, m)
}

func TestCutoffOutlierRows(t *testing.T) {
	e := lineLibrary(t, []float64{0, 0.2, 0.4, 10})
	require.NoError(t, e.ComputeDists())
	require.NoError(t, e.DetectDistOutliers("cutoff", 0.5))

	// every row's minimum distance is 0 (its own diagonal), so all survive
	require.Equal(t, []int{0, 1, 2, 3}, e.ValidRows())
	require.Empty(t, e.InvalidRows())
}

func TestCutoffComplementInvariant(t *testing.T) {
	// landmark-restricted matrix: rows far from every landmark drop out
	e := lineLibrary(t, []float64{0, 0.2, 0.4, 10})
	top := 3
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", NumTop: &top}))
	require.Equal(t, []int{0, 1, 2}, e.Landmarks())
	require.NoError(t, e.ComputeDists())
	require.NoError(t, e.DetectDistOutliers("cutoff", 0.5))

	require.Equal(t, []int{0, 1, 2}, e.ValidRows())
	require.Equal(t, []int{3}, e.InvalidRows())
	require.Equal(t, PhaseFiltered, e.Phase())
}

func TestAgglomerativeOutlierRejection(t *testing.T) {
	e := lineLibrary(t, []float64{0, 0.1, 0.2, 100})
	require.NoError(t, e.ComputeDists())
	require.NoError(t, e.DetectDistOutliers("agglomerative", 0))

	require.Equal(t, []int{0, 1, 2}, e.ValidRows())
	require.Equal(t, []int{3}, e.InvalidRows())
	// the landmark set shrank to the valid columns
	require.Equal(t, []int{0, 1, 2}, e.Landmarks())
}

func TestOutlierUnknownMode(t *testing.T) {
	e := lineLibrary(t, []float64{0, 1})
	require.NoError(t, e.ComputeDists())
	require.ErrorIs(t, e.DetectDistOutliers("zscore", 0), errs.ErrConfiguration)
}

func TestTypicalClusterKeepsSmallestMedian(t *testing.T) {
	got := typicalCluster([]float64{1, 1, 5, 5})
	require.Equal(t, []int{0, 1}, got)
}

func TestBestGroupTieBreaksBySmallestIndex(t *testing.T) {
	// equal medians: the cluster containing the smallest original index wins
	sums := []float64{3, 3, 3, 3}
	got := bestGroup(sums, [][]int{{1, 3}, {0, 2}})
	require.Equal(t, []int{0, 2}, got)
}

func TestMedian(t *testing.T) {
	require.InDelta(t, 2.0, median([]float64{3, 1, 2}), 1e-12)
	require.InDelta(t, 2.5, median([]float64{4, 1, 2, 3}), 1e-12)
	require.False(t, math.IsNaN(median([]float64{7})))
}
