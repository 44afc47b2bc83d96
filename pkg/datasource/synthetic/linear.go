package synthetic

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LowRankProcess generates slowly decorrelating trajectories: Gaussian white
// noise accumulated into a random walk, then pushed through a linear map of
// known rank into the full feature space and offset by a fixed mean. The
// spectral decomposition of such data retains at most rank components.
type LowRankProcess struct {
	a    *mat.Dense
	mean []float64
	rng  *rand.Rand
}

// NewLowRankProcess draws a random dim x dim map with exactly rank
// non-negligible singular directions and a random offset.
func NewLowRankProcess(dim, rank int, rng *rand.Rand) *LowRankProcess {
	mean := make([]float64, dim)
	for i := range mean {
		mean[i] = rng.NormFloat64()
	}
	return &LowRankProcess{
		a:    RandomMatrix(dim, rank, 0.01, rng),
		mean: mean,
		rng:  rng,
	}
}

// Trajectory generates one trajectory of the given number of frames.
func (p *LowRankProcess) Trajectory(frames int) *mat.Dense {
	dim := len(p.mean)
	walk := mat.NewDense(frames, dim, nil)
	acc := make([]float64, dim)
	for t := 0; t < frames; t++ {
		for j := 0; j < dim; j++ {
			acc[j] += p.rng.NormFloat64()
			walk.Set(t, j, acc[j])
		}
	}
	var out mat.Dense
	out.Mul(walk, p.a)
	for t := 0; t < frames; t++ {
		for j := 0; j < dim; j++ {
			out.Set(t, j, out.At(t, j)+p.mean[j])
		}
	}
	return &out
}

// RandomMatrix draws a random n x n matrix whose spectrum is clamped to at
// least eps on the first rank singular directions and zero beyond.
func RandomMatrix(n, rank int, eps float64, rng *rand.Rand) *mat.Dense {
	if rank > n {
		rank = n
	}
	raw := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			raw.Set(i, j, rng.NormFloat64())
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(raw, mat.SVDFull); !ok {
		panic("synthetic: SVD of random matrix failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)

	s := mat.NewDense(n, n, nil)
	for i := 0; i < rank; i++ {
		s.Set(i, i, math.Max(vals[i], eps))
	}
	var out mat.Dense
	out.Product(&u, s, v.T())
	return &out
}
