package ensemble

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/metrics"
)

// PruneOptions selects the landmark criterion and exactly one selection rule.
type PruneOptions struct {
	// Mode picks the criterion array: "frequency" ranks signatures by
	// occurrence count, "clustersize" by largest-cluster size.
	Mode string

	// NumTop keeps the indices of the NumTop largest criterion values, ties
	// broken toward the smaller original index.
	NumTop *int
	// MinFreq keeps every index whose criterion value is >= the threshold.
	MinFreq *float64
	// MinPercentile keeps every index whose value is >= that percentile of
	// the criterion distribution.
	MinPercentile *float64

	// NumRandom additionally draws this many indices without replacement
	// from the unselected pool and unions them in.
	NumRandom int
}

// Prune designates landmark signatures from the global library. The result
// is deterministic: indices come back sorted ascending, and the random
// supplement draws from the ensemble's seeded source.
func (e *Ensemble) Prune(opts PruneOptions) error {
	if err := e.requirePhase(PhasePopulated, "prune"); err != nil {
		return err
	}

	var vals []float64
	switch opts.Mode {
	case "frequency":
		vals = e.library.Counts()
	case "clustersize":
		vals = e.library.ClusterSizes()
	default:
		return fmt.Errorf("%w: prune mode must be frequency or clustersize, got %q",
			errs.ErrConfiguration, opts.Mode)
	}

	set := 0
	for _, ok := range []bool{opts.NumTop != nil, opts.MinFreq != nil, opts.MinPercentile != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of NumTop, MinFreq, MinPercentile must be supplied",
			errs.ErrConfiguration)
	}

	var selected []int
	switch {
	case opts.NumTop != nil:
		selected = topIndices(vals, *opts.NumTop)
	case opts.MinFreq != nil:
		selected = thresholdIndices(vals, *opts.MinFreq)
	default:
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		thresh := stat.Quantile(*opts.MinPercentile/100, stat.LinInterp, sorted, nil)
		selected = thresholdIndices(vals, thresh)
	}

	if opts.NumRandom > 0 {
		selected = unionRandom(selected, len(vals), opts.NumRandom, e.Seed)
	}
	sort.Ints(selected)

	e.lmIdx = selected
	e.phase = PhasePruned
	metrics.LandmarksSelected.Set(float64(len(selected)))
	slog.Info("landmarks selected",
		slog.String("mode", opts.Mode),
		slog.Int("landmarks", len(selected)),
		slog.Int("signatures", len(vals)))
	return nil
}

// topIndices returns the positions of the num largest values, preferring the
// smaller index between equal values, sorted ascending.
func topIndices(vals []float64, num int) []int {
	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if vals[order[a]] != vals[order[b]] {
			return vals[order[a]] > vals[order[b]]
		}
		return order[a] < order[b]
	})
	if num > len(order) {
		num = len(order)
	}
	out := append([]int(nil), order[:num]...)
	sort.Ints(out)
	return out
}

func thresholdIndices(vals []float64, thresh float64) []int {
	var out []int
	for i, v := range vals {
		if v >= thresh {
			out = append(out, i)
		}
	}
	return out
}

// unionRandom draws extra indices without replacement from the pool outside
// selected and unions them in.
func unionRandom(selected []int, n, extra int, seed int64) []int {
	chosen := make(map[int]bool, len(selected))
	for _, i := range selected {
		chosen[i] = true
	}
	pool := make([]int, 0, n-len(chosen))
	for i := 0; i < n; i++ {
		if !chosen[i] {
			pool = append(pool, i)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(pool), func(a, b int) { pool[a], pool[b] = pool[b], pool[a] })
	if extra > len(pool) {
		extra = len(pool)
	}
	return append(selected, pool[:extra]...)
}
