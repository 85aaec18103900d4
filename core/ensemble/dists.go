package ensemble

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"

	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/hierarchy"
	"github.com/quenchlab/facet/core/metrics"
)

// ComputeDists builds the n x m matrix of Euclidean distances from every
// signature descriptor to each landmark descriptor. If no landmarks were
// designated, every signature becomes one, giving a square matrix with an
// exactly zero diagonal.
func (e *Ensemble) ComputeDists() error {
	if err := e.requirePhase(PhasePopulated, "distance computation"); err != nil {
		return err
	}
	start := time.Now()

	n := e.library.Len()
	if e.lmIdx == nil {
		e.lmIdx = make([]int, n)
		for i := range e.lmIdx {
			e.lmIdx[i] = i
		}
	}

	desc := e.library.Descriptors()
	if desc == nil {
		return fmt.Errorf("%w: distance computation on an empty library", errs.ErrNotReady)
	}

	e.dists = mat.NewDense(n, len(e.lmIdx), nil)
	for j, lm := range e.lmIdx {
		anchor := desc.RawRowView(lm)
		for i := 0; i < n; i++ {
			if i == lm {
				// a signature is at distance zero from itself regardless of
				// floating-point accumulation
				e.dists.Set(i, j, 0)
				continue
			}
			e.dists.Set(i, j, vek.Distance(desc.RawRowView(i), anchor))
		}
	}

	e.phase = PhaseDistances
	metrics.PhaseDuration.WithLabelValues("distances").Observe(time.Since(start).Seconds())
	slog.Info("distance matrix computed",
		slog.Int("rows", n),
		slog.Int("landmarks", len(e.lmIdx)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// DetectDistOutliers filters atypical rows and columns from the distance
// matrix before embedding.
//
// Mode "agglomerative" clusters the column sums (then the row sums) with
// one-dimensional centroid linkage, cuts the dendrogram at the median sum,
// and keeps the cluster with the smallest median; between clusters of equal
// median the one containing the smallest original index wins. This rejects
// atypical reference structures and sampled environments such as free
// surfaces or vapor.
//
// Mode "cutoff" keeps a row iff its minimum distance across all columns is
// strictly below thresh; all columns stay valid.
//
// Either way the landmark set shrinks to the valid columns and invalidRows
// becomes the exact complement of validRows.
func (e *Ensemble) DetectDistOutliers(mode string, thresh float64) error {
	if err := e.requirePhase(PhaseDistances, "outlier rejection"); err != nil {
		return err
	}
	n, m := e.dists.Dims()

	switch mode {
	case "agglomerative":
		colSums := make([]float64, m)
		for i := 0; i < n; i++ {
			vek.Add_Inplace(colSums, e.dists.RawRowView(i))
		}
		e.validCols = typicalCluster(colSums)

		kept := make([]int, len(e.validCols))
		for i, c := range e.validCols {
			kept[i] = e.lmIdx[c]
		}
		e.lmIdx = kept

		rowSums := make([]float64, n)
		for i := 0; i < n; i++ {
			rowSums[i] = vek.Sum(e.dists.RawRowView(i))
		}
		e.validRows = typicalCluster(rowSums)

	case "cutoff":
		e.validCols = nil
		e.validRows = nil
		for i := 0; i < n; i++ {
			if vek.Min(e.dists.RawRowView(i)) < thresh {
				e.validRows = append(e.validRows, i)
			}
		}
		for j := 0; j < m; j++ {
			e.validCols = append(e.validCols, j)
		}

	default:
		return fmt.Errorf("%w: outlier detection mode must be agglomerative or cutoff, got %q",
			errs.ErrConfiguration, mode)
	}

	e.invalidRows = complement(e.validRows, n)
	e.phase = PhaseFiltered
	metrics.InvalidRows.Set(float64(len(e.invalidRows)))
	metrics.LandmarksSelected.Set(float64(len(e.lmIdx)))
	slog.Info("outlier rejection complete",
		slog.String("mode", mode),
		slog.Int("valid_rows", len(e.validRows)),
		slog.Int("invalid_rows", len(e.invalidRows)),
		slog.Int("valid_cols", len(e.validCols)))
	return nil
}

// typicalCluster cuts the centroid-linkage dendrogram of sums at their median
// and returns the member indices of the cluster with the smallest median sum,
// ties resolved toward the cluster holding the smallest original index.
func typicalCluster(sums []float64) []int {
	if len(sums) < 2 {
		out := make([]int, len(sums))
		for i := range out {
			out[i] = i
		}
		return out
	}
	labels := hierarchy.Cut(hierarchy.Linkage(sums), len(sums), median(sums))
	return bestGroup(sums, hierarchy.Groups(labels))
}

// bestGroup picks the cluster with the smallest median sum; between equal
// medians the cluster containing the smallest original index wins.
func bestGroup(sums []float64, groups [][]int) []int {
	best := 0
	bestMed := groupMedian(sums, groups[0])
	for g := 1; g < len(groups); g++ {
		med := groupMedian(sums, groups[g])
		if med < bestMed || (med == bestMed && groups[g][0] < groups[best][0]) {
			best, bestMed = g, med
		}
	}
	return groups[best]
}

func groupMedian(sums []float64, members []int) float64 {
	vals := make([]float64, len(members))
	for i, m := range members {
		vals[i] = sums[m]
	}
	return median(vals)
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func complement(valid []int, n int) []int {
	keep := make(map[int]bool, len(valid))
	for _, i := range valid {
		keep[i] = true
	}
	out := make([]int, 0, n-len(valid))
	for i := 0; i < n; i++ {
		if !keep[i] {
			out = append(out, i)
		}
	}
	return out
}
