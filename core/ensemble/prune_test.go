package ensemble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/signature"
)

func populated(t *testing.T, counts []int, sizes []int) *Ensemble {
	t.Helper()
	e := New(soloContext())
	require.NoError(t, e.Insert("frame", testLibrary(t, counts, sizes), signature.FrameLookup{}))
	return e
}

func TestPruneMinFreqSpecScenario(t *testing.T) {
	e := populated(t, []int{1, 5, 3, 2, 7}, nil)
	min := 3.0
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", MinFreq: &min}))
	require.Equal(t, []int{1, 2, 4}, e.Landmarks())
	require.Equal(t, PhasePruned, e.Phase())
}

func TestPruneNumTopBreaksTiesByIndex(t *testing.T) {
	e := populated(t, []int{4, 9, 4, 4, 1}, nil)
	top := 3
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", NumTop: &top}))
	// 9 first, then the tied 4s by ascending original index
	require.Equal(t, []int{0, 1, 2}, e.Landmarks())
}

func TestPruneNumTopLargerThanLibrary(t *testing.T) {
	e := populated(t, []int{2, 1}, nil)
	top := 10
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", NumTop: &top}))
	require.Equal(t, []int{0, 1}, e.Landmarks())
}

func TestPruneMinPercentile(t *testing.T) {
	e := populated(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, nil)
	pct := 95.0
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", MinPercentile: &pct}))
	require.Equal(t, []int{9}, e.Landmarks())
}

func TestPruneClusterSizeCriterion(t *testing.T) {
	e := populated(t, []int{1, 1, 1}, []int{10, 2, 30})
	min := 5.0
	require.NoError(t, e.Prune(PruneOptions{Mode: "clustersize", MinFreq: &min}))
	require.Equal(t, []int{0, 2}, e.Landmarks())
}

func TestPruneNumRandomSupplement(t *testing.T) {
	e := populated(t, []int{9, 1, 1, 1, 1, 1}, nil)
	e.Seed = 7
	top := 1
	require.NoError(t, e.Prune(PruneOptions{Mode: "frequency", NumTop: &top, NumRandom: 2}))

	lm := e.Landmarks()
	require.Len(t, lm, 3)
	require.Contains(t, lm, 0)
	for i := 1; i < len(lm); i++ {
		require.Greater(t, lm[i], lm[i-1], "landmarks sorted ascending")
	}

	// same seed, same draw
	e2 := populated(t, []int{9, 1, 1, 1, 1, 1}, nil)
	e2.Seed = 7
	require.NoError(t, e2.Prune(PruneOptions{Mode: "frequency", NumTop: &top, NumRandom: 2}))
	require.Equal(t, lm, e2.Landmarks())
}

func TestPruneConfigurationErrors(t *testing.T) {
	min := 1.0
	top := 2

	e := populated(t, []int{1, 2}, nil)
	require.ErrorIs(t, e.Prune(PruneOptions{Mode: "volume", MinFreq: &min}), errs.ErrConfiguration)
	require.ErrorIs(t, e.Prune(PruneOptions{Mode: "frequency"}), errs.ErrConfiguration)
	require.ErrorIs(t, e.Prune(PruneOptions{Mode: "frequency", MinFreq: &min, NumTop: &top}),
		errs.ErrConfiguration)
}
