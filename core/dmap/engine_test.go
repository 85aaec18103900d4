package dmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// testDists builds the full pairwise Euclidean distance matrix of 1-D points.
func testDists(points []float64) *mat.Dense {
	n := len(points)
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.Set(i, j, math.Abs(points[i]-points[j]))
		}
	}
	return d
}

func TestDecomposeTrivialEigenpair(t *testing.T) {
	d := testDists([]float64{0, 1, 2, 5, 6})
	res, err := SpectralSolver{}.Decompose(d, 2.0, 3)
	require.NoError(t, err)

	// the leading eigenpair of the diffusion operator is lambda=1 with a
	// constant eigenvector
	require.InDelta(t, 1.0, res.Evals[0], 1e-10)
	first := res.Evecs.At(0, 0)
	for i := 1; i < 5; i++ {
		require.InDelta(t, first, res.Evecs.At(i, 0), 1e-10)
	}

	// eigenvalues come back descending
	for i := 1; i < len(res.Evals); i++ {
		require.LessOrEqual(t, res.Evals[i], res.Evals[i-1]+1e-12)
	}
}

func TestDecomposeRejectsBadInput(t *testing.T) {
	rect := mat.NewDense(2, 3, nil)
	_, err := SpectralSolver{}.Decompose(rect, 1.0, 1)
	require.ErrorIs(t, err, ErrNotSquare)

	sq := testDists([]float64{0, 1})
	_, err = SpectralSolver{}.Decompose(sq, 0, 1)
	require.ErrorIs(t, err, ErrBadBandwidth)

	_, err = SpectralSolver{}.Decompose(sq, 1.0, 3)
	require.ErrorIs(t, err, ErrTooManyEvec)
}

func TestExtendReproducesLandmarkCoordinates(t *testing.T) {
	d := testDists([]float64{0, 0.7, 1.9, 3.2, 4.0})
	solver := SpectralSolver{}
	res, err := solver.Decompose(d, 1.5, 4)
	require.NoError(t, err)

	// extending with the landmark rows themselves must give back the direct
	// eigenvector coordinates
	ny, err := solver.Extend(res, d)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		for c := 0; c < 4; c++ {
			require.InDelta(t, res.Evecs.At(i, c), ny.At(i, c), 1e-8,
				"landmark %d component %d", i, c)
		}
	}
}

func TestExtendRejectsColumnMismatch(t *testing.T) {
	d := testDists([]float64{0, 1, 2})
	res, err := SpectralSolver{}.Decompose(d, 1.0, 2)
	require.NoError(t, err)
	_, err = SpectralSolver{}.Extend(res, mat.NewDense(2, 5, nil))
	require.ErrorIs(t, err, ErrNotSquare)
}

func TestBuildSquareNoLandmarks(t *testing.T) {
	e := NewEngine()
	d := testDists([]float64{0, 0.5, 1.1, 3.0, 3.3})
	require.NoError(t, e.Build(d, nil, nil, nil))

	rows, cols := e.Coords.Dims()
	require.Equal(t, 5, rows)
	require.Equal(t, 4, cols)
	require.Nil(t, e.EvecsNy)

	// default bandwidth is the median of the alpha-scaled matrix
	require.Greater(t, e.Epsilon, 0.0)
	for i := 0; i < 5; i++ {
		require.Equal(t, 0.5, e.ColorCoords.At(i, 0))
		require.True(t, e.Classified(i))
	}
}

func TestBuildAllLandmarksMatchesSpecScenario(t *testing.T) {
	e := NewEngine()
	d := testDists([]float64{0, 1, 2, 3, 4})
	require.NoError(t, e.Build(d, []int{0, 1, 2, 3, 4}, nil, nil))

	rows, cols := e.Coords.Dims()
	require.Equal(t, 5, rows)
	require.Equal(t, 4, cols)
	for i := 0; i < 5; i++ {
		require.Equal(t, 0.5, e.ColorCoords.At(i, 0))
		for c := 0; c < 4; c++ {
			require.False(t, math.IsNaN(e.Coords.At(i, c)))
			require.GreaterOrEqual(t, e.ColorCoords.At(i, c), 0.0)
			require.LessOrEqual(t, e.ColorCoords.At(i, c), 1.0)
		}
	}
}

func TestBuildBackfillsSentinelRows(t *testing.T) {
	e := NewEngine()
	points := []float64{0, 0.4, 0.9, 1.3, 50.0}
	d := testDists(points)

	// row 4 filtered out; landmarks are the remaining four signatures
	lm := []int{0, 1, 2, 3}
	require.NoError(t, e.Build(d, lm, []int{0, 1, 2, 3}, []int{0, 1, 2, 3}))

	for c := 0; c < 4; c++ {
		require.True(t, math.IsNaN(e.Coords.At(4, c)), "filtered row must carry NaN, not zero")
		require.Equal(t, 1.0, e.ColorCoords.At(4, c), "filtered row takes the corner color")
	}
	require.False(t, e.Classified(4))
	for i := 0; i < 4; i++ {
		require.True(t, e.Classified(i))
		require.Equal(t, 0.5, e.ColorCoords.At(i, 0))
	}
}

func TestBuildLandmarkSubsetExtendsAllRows(t *testing.T) {
	e := NewEngine()
	e.Epsilon = 1.0
	points := []float64{0, 0.5, 1.0, 1.5, 2.0, 2.5}
	n := len(points)
	lm := []int{0, 2, 4}

	// n x m rectangle: distances from every signature to each landmark
	d := mat.NewDense(n, len(lm), nil)
	for i := 0; i < n; i++ {
		for j, l := range lm {
			d.Set(i, j, math.Abs(points[i]-points[l]))
		}
	}

	e.NumEvec = 2
	require.NoError(t, e.Build(d, lm, nil, nil))

	rows, cols := e.Coords.Dims()
	require.Equal(t, n, rows)
	require.Equal(t, 2, cols)
	for i := 0; i < n; i++ {
		require.True(t, e.Classified(i))
	}

	// landmark rows agree with their direct eigenvector coordinates
	for j, l := range lm {
		for c := 0; c < 2; c++ {
			require.InDelta(t, e.Evecs.At(j, c), e.Coords.At(l, c), 1e-8)
		}
	}
}

func TestBuildRejectsShapeMismatch(t *testing.T) {
	e := NewEngine()
	d := testDists([]float64{0, 1, 2})
	err := e.Build(d, []int{0, 1}, nil, nil) // 2 landmarks, 3 valid columns
	require.Error(t, err)
}

func TestBuildNilDistances(t *testing.T) {
	err := NewEngine().Build(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestMatrixMedian(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 3, 2, 4})
	require.InDelta(t, 2.5, matrixMedian(m), 1e-12)

	odd := mat.NewDense(1, 3, []float64{9, 1, 4})
	require.InDelta(t, 4.0, matrixMedian(odd), 1e-12)
}
