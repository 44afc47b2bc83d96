package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultEpsilon is the relative eigenvalue cutoff used for rank truncation.
// Eigenvalues below DefaultEpsilon times the largest eigenvalue are treated
// as numerically zero.
const DefaultEpsilon = 1e-6

var ErrSingularMatrix = errors.New("linalg: matrix has no eigenvalues above cutoff")

// InvSqrtSplit computes a rank-truncated inverse square root factor L of the
// symmetric positive semi-definite matrix c, such that L*Lᵀ is the
// pseudo-inverse of c. L has one column per eigenvalue exceeding
// epsilon*maxEigenvalue, ordered by decreasing eigenvalue. The column count
// is the usable rank of c.
func InvSqrtSplit(c *mat.SymDense, epsilon float64) (*mat.Dense, int, error) {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(c, true); !ok {
		return nil, 0, fmt.Errorf("linalg: eigendecomposition failed")
	}

	d := c.SymmetricDim()
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back in ascending order.
	largest := vals[d-1]
	if largest <= 0 {
		return nil, 0, ErrSingularMatrix
	}
	cutoff := epsilon * largest

	rank := 0
	for i := d - 1; i >= 0; i-- {
		if vals[i] <= cutoff {
			break
		}
		rank++
	}
	if rank == 0 {
		return nil, 0, ErrSingularMatrix
	}

	l := mat.NewDense(d, rank, nil)
	for j := 0; j < rank; j++ {
		src := d - 1 - j
		scale := 1.0 / math.Sqrt(vals[src])
		for i := 0; i < d; i++ {
			l.Set(i, j, vecs.At(i, src)*scale)
		}
	}
	return l, rank, nil
}

// InvSqrt computes the symmetric pseudo-inverse square root
// Q diag(1/sqrt(eig)) Qᵀ of c, with the same rank truncation policy as
// InvSqrtSplit.
func InvSqrt(c *mat.SymDense, epsilon float64) (*mat.Dense, error) {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(c, true); !ok {
		return nil, fmt.Errorf("linalg: eigendecomposition failed")
	}

	d := c.SymmetricDim()
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	largest := vals[d-1]
	if largest <= 0 {
		return nil, ErrSingularMatrix
	}
	cutoff := epsilon * largest

	out := mat.NewDense(d, d, nil)
	kept := 0
	for k := 0; k < d; k++ {
		if vals[k] <= cutoff {
			continue
		}
		kept++
		s := 1.0 / math.Sqrt(vals[k])
		for i := 0; i < d; i++ {
			vi := vecs.At(i, k) * s
			for j := 0; j < d; j++ {
				out.Set(i, j, out.At(i, j)+vi*vecs.At(j, k))
			}
		}
	}
	if kept == 0 {
		return nil, ErrSingularMatrix
	}
	return out, nil
}

// MatrixPower returns a raised to the non-negative integer power n by
// repeated squaring.
func MatrixPower(a mat.Matrix, n int) *mat.Dense {
	d, _ := a.Dims()
	out := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		out.Set(i, i, 1)
	}
	if n == 0 {
		return out
	}
	base := mat.DenseCopyOf(a)
	for n > 0 {
		if n&1 == 1 {
			var tmp mat.Dense
			tmp.Mul(out, base)
			out.CloneFrom(&tmp)
		}
		n >>= 1
		if n > 0 {
			var sq mat.Dense
			sq.Mul(base, base)
			base.CloneFrom(&sq)
		}
	}
	return out
}

// SymFromDense symmetrizes a square matrix into a SymDense, averaging the
// off-diagonal pairs. Small asymmetries from accumulated rounding are folded
// away here.
func SymFromDense(a *mat.Dense) *mat.SymDense {
	d, _ := a.Dims()
	s := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}
