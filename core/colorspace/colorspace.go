// Package colorspace maps embedding coordinates onto the RGB unit cube.
//
// Diffusion-map coordinates are unbounded and unevenly distributed, so each
// column is rank-transformed to a uniform distribution over [0,1] before use
// as a color channel. Rotations about the cube center reorient the palette
// without leaving the cube.
package colorspace

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Axis selects the Cartesian axis for a cube rotation.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Rotation is one step of a display-orientation sequence: Turns x 90 degrees
// about Axis.
type Rotation struct {
	Axis  Axis `yaml:"axis"`
	Turns int  `yaml:"turns"`
}

// Rotate rotates coordinates confined to the unit cube by turns x 90 degrees
// about one Cartesian axis, pivoting about the cube center so results stay
// inside the cube. Four turns is the identity within floating-point tolerance.
func Rotate(coords [][3]float64, axis Axis, turns int) [][3]float64 {
	theta := float64(turns) * math.Pi / 2
	c, s := math.Cos(theta), math.Sin(theta)
	var r [3][3]float64
	switch axis {
	case AxisX:
		r = [3][3]float64{{1, 0, 0}, {0, c, -s}, {0, s, c}}
	case AxisY:
		r = [3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
	default:
		r = [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
	}
	out := make([][3]float64, len(coords))
	for i, p := range coords {
		var q [3]float64
		for col := 0; col < 3; col++ {
			// row vector times rotation matrix, pivoted about the center
			q[col] = 0.5 + (p[0]-0.5)*r[0][col] + (p[1]-0.5)*r[1][col] + (p[2]-0.5)*r[2][col]
		}
		out[i] = q
	}
	return out
}

// RotateSeq applies a sequence of cube rotations in order.
func RotateSeq(coords [][3]float64, seq []Rotation) [][3]float64 {
	for _, rot := range seq {
		coords = Rotate(coords, rot.Axis, rot.Turns)
	}
	return coords
}

// RankTransform maps each column of m independently onto [0,1] by empirical
// rank: finite values are stably sorted and their ranks linearly interpolated
// so the column minimum maps to exactly 0 and the maximum to exactly 1, with
// ties sharing the rank of their first sorted occurrence. Rows containing any
// non-finite entry are excluded from ranking and forced to 1 in every column,
// marking them as unclassified.
func RankTransform(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		rankColumn(m, out, rows, j)
	}
	for i := 0; i < rows; i++ {
		if !finiteRow(m.RawRowView(i)) {
			for j := 0; j < cols; j++ {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}

func rankColumn(m, out *mat.Dense, rows, j int) {
	finite := make([]float64, 0, rows)
	for i := 0; i < rows; i++ {
		if v := m.At(i, j); !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	sort.Float64s(finite)
	for i := 0; i < rows; i++ {
		v := m.At(i, j)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.Set(i, j, 1)
			continue
		}
		out.Set(i, j, uniformRank(finite, v))
	}
}

// uniformRank returns the position of v within the sorted sample, scaled into
// [0,1]. Equal values take the rank of the first occurrence.
func uniformRank(sorted []float64, v float64) float64 {
	n := len(sorted)
	if n <= 1 {
		return 0
	}
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return float64(lo) / float64(n-1)
}

func finiteRow(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
