// Package trajectory holds simulation snapshot geometry: particle
// coordinates, the periodic box, and the boundary-condition mask, plus the
// XYZ reader and writer used at the pipeline edges.
package trajectory

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/quenchlab/facet/core/errs"
)

// flatSpan is the coordinate extent below which an axis is treated as
// degenerate and the frame as quasi-2D.
const flatSpan = 1e-4

// Vec3 is one Cartesian point or extent.
type Vec3 [3]float64

// Frame is one simulation snapshot.
type Frame struct {
	N   int
	Box Vec3
	XYZ []Vec3
	PBC [3]bool
}

// NewFrame builds a frame from raw coordinates, a box, and a periodic
// boundary spec naming the wrapped axes as a subset of "xyz". Degenerate axes
// (coordinate span below 1e-4) are flattened: the box extent is forced to 1,
// coordinates to 0, and the axis dropped from the periodic mask.
func NewFrame(xyz []Vec3, box Vec3, pbc string) (*Frame, error) {
	mask, err := ParsePBC(pbc)
	if err != nil {
		return nil, err
	}
	f := &Frame{N: len(xyz), Box: box, XYZ: xyz, PBC: mask}
	f.flattenDegenerateAxes()
	return f, nil
}

// ParsePBC converts a periodic boundary spec into a per-axis mask.
func ParsePBC(pbc string) ([3]bool, error) {
	var mask [3]bool
	for _, p := range strings.ToLower(pbc) {
		i := strings.IndexRune("xyz", p)
		if i < 0 {
			return mask, fmt.Errorf("%w: periodic boundary conditions must be a combination of x, y and z, got %q",
				errs.ErrConfiguration, pbc)
		}
		mask[i] = true
	}
	return mask, nil
}

func (f *Frame) flattenDegenerateAxes() {
	if f.N == 0 {
		return
	}
	for d := 0; d < 3; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range f.XYZ {
			lo = math.Min(lo, p[d])
			hi = math.Max(hi, p[d])
		}
		if hi-lo >= flatSpan {
			continue
		}
		slog.Info("detected quasi-2D configuration", slog.Int("axis", d))
		f.Box[d] = 1
		for i := range f.XYZ {
			f.XYZ[i][d] = 0
		}
		f.PBC[d] = false
	}
}

// Wrap applies the minimum-image convention to a displacement vector along
// the periodic axes.
func (f *Frame) Wrap(v Vec3) Vec3 {
	for d := 0; d < 3; d++ {
		if f.PBC[d] && f.Box[d] > 0 {
			v[d] -= f.Box[d] * math.Round(v[d]/f.Box[d])
		}
	}
	return v
}
