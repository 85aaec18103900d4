// Package dmap builds the landmark diffusion-map embedding of a signature
// distance matrix. The Engine prepares landmark and out-of-sample submatrices
// and delegates the spectral work to a Solver; the bundled SpectralSolver is
// a gonum-backed implementation of the normalized diffusion operator with
// Nystrom extension.
//
// Reference: "Diffusion maps" (Coifman & Lafon, 2006); landmark extension per
// "Using the Nystrom method to speed up kernel machines" (Williams & Seeger).
package dmap

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sentinel errors for spectral decomposition. Use errors.Is() to check.
var (
	// ErrNotSquare indicates the landmark distance matrix is not square.
	ErrNotSquare = errors.New("dmap: landmark distance matrix must be square")

	// ErrBadBandwidth indicates a non-positive kernel bandwidth.
	ErrBadBandwidth = errors.New("dmap: kernel bandwidth must be positive")

	// ErrTooManyEvec indicates more eigenpairs were requested than the
	// landmark count supports.
	ErrTooManyEvec = errors.New("dmap: more eigenvectors requested than landmarks")

	// ErrFactorization indicates the eigendecomposition failed to converge.
	ErrFactorization = errors.New("dmap: eigendecomposition failed")
)

// evalFloor is the smallest eigenvalue magnitude used for Nystrom division;
// components below it are treated as degenerate and extended as zero.
const evalFloor = 1e-12

// Result holds one solved diffusion operator: the top eigenvalues in
// descending order, the matching right eigenvectors of the landmark operator
// (one row per landmark), and the bandwidth the kernel was built with.
type Result struct {
	Evals   []float64
	Evecs   *mat.Dense
	Epsilon float64
}

// Solver is the external eigensolver collaborator: it decomposes a landmark
// distance matrix into diffusion-map eigenpairs and extends the embedding to
// out-of-sample points from their landmark distances.
type Solver interface {
	Decompose(dists *mat.Dense, epsilon float64, numEvec int) (*Result, error)
	Extend(res *Result, dists *mat.Dense) (*mat.Dense, error)
}

// SpectralSolver implements Solver with a Gaussian kernel
// k(d) = exp(-d^2 / 2eps^2) and degree normalization. The symmetric conjugate
// of the diffusion operator is factorized with mat.EigenSym and converted
// back to right eigenvectors of the row-stochastic operator.
type SpectralSolver struct{}

func (SpectralSolver) Decompose(dists *mat.Dense, epsilon float64, numEvec int) (*Result, error) {
	m, cols := dists.Dims()
	if m != cols {
		return nil, fmt.Errorf("%w: got %d x %d", ErrNotSquare, m, cols)
	}
	if epsilon <= 0 {
		return nil, fmt.Errorf("%w: got %g", ErrBadBandwidth, epsilon)
	}
	if numEvec < 1 || numEvec > m {
		return nil, fmt.Errorf("%w: num_evec=%d with %d landmarks", ErrTooManyEvec, numEvec, m)
	}

	kernel := mat.NewDense(m, m, nil)
	deg := make([]float64, m)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			k := gaussKernel(dists.At(i, j), epsilon)
			kernel.Set(i, j, k)
			deg[i] += k
		}
	}

	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, kernel.At(i, j)/math.Sqrt(deg[i]*deg[j]))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, ErrFactorization
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// gonum orders eigenvalues ascending; the diffusion coordinates are the
	// top numEvec pairs, converted to right eigenvectors of D^-1 K by the
	// D^-1/2 conjugation
	res := &Result{
		Evals:   make([]float64, numEvec),
		Evecs:   mat.NewDense(m, numEvec, nil),
		Epsilon: epsilon,
	}
	for t := 0; t < numEvec; t++ {
		src := m - 1 - t
		res.Evals[t] = vals[src]
		for i := 0; i < m; i++ {
			res.Evecs.Set(i, t, vecs.At(i, src)/math.Sqrt(deg[i]))
		}
	}
	return res, nil
}

// Extend estimates diffusion coordinates for out-of-sample points. Each row
// of dists holds one point's distances to every landmark; the kernelized row
// is degree-normalized and projected onto the landmark eigenvectors, scaled
// by the inverse eigenvalues. A row that is itself a landmark reproduces that
// landmark's direct coordinates.
func (SpectralSolver) Extend(res *Result, dists *mat.Dense) (*mat.Dense, error) {
	p, m := dists.Dims()
	lm, k := res.Evecs.Dims()
	if m != lm {
		return nil, fmt.Errorf("%w: %d landmark columns against %d solved landmarks", ErrNotSquare, m, lm)
	}

	out := mat.NewDense(p, k, nil)
	row := make([]float64, m)
	for i := 0; i < p; i++ {
		var w float64
		for j := 0; j < m; j++ {
			row[j] = gaussKernel(dists.At(i, j), res.Epsilon)
			w += row[j]
		}
		for t := 0; t < k; t++ {
			if w == 0 || math.Abs(res.Evals[t]) < evalFloor {
				out.Set(i, t, 0)
				continue
			}
			var acc float64
			for j := 0; j < m; j++ {
				acc += row[j] * res.Evecs.At(j, t)
			}
			out.Set(i, t, acc/(w*res.Evals[t]))
		}
	}
	return out, nil
}

func gaussKernel(d, epsilon float64) float64 {
	return math.Exp(-(d * d) / (2 * epsilon * epsilon))
}
