// Package synthetic generates trajectory data with known dynamical
// properties, for tests and benchmarking of the spectral estimator.
package synthetic

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MarkovChain samples trajectories from a finite-state process with a known
// transition matrix. Frames are one-hot state indicators, so the estimated
// propagator of the generated data can be compared against the transition
// matrix directly.
type MarkovChain struct {
	n   int
	cdf [][]float64
	rng *rand.Rand
}

// NewMarkovChain validates the row-stochastic transition matrix t and
// prepares cumulative rows for sampling.
func NewMarkovChain(t *mat.Dense, rng *rand.Rand) (*MarkovChain, error) {
	r, c := t.Dims()
	if r != c {
		return nil, fmt.Errorf("synthetic: transition matrix must be square, got %dx%d", r, c)
	}
	cdf := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		sum := 0.0
		for j := 0; j < c; j++ {
			p := t.At(i, j)
			if p < 0 {
				return nil, fmt.Errorf("synthetic: negative transition probability at (%d,%d)", i, j)
			}
			sum += p
			row[j] = sum
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return nil, fmt.Errorf("synthetic: row %d sums to %v, want 1", i, sum)
		}
		row[c-1] = 1.0
		cdf[i] = row
	}
	return &MarkovChain{n: r, cdf: cdf, rng: rng}, nil
}

// States returns the number of states.
func (m *MarkovChain) States() int { return m.n }

// Sample draws a discrete trajectory of the given length starting in state
// start.
func (m *MarkovChain) Sample(steps, start int) []int {
	dtraj := make([]int, steps)
	s := start
	for t := 0; t < steps; t++ {
		dtraj[t] = s
		u := m.rng.Float64()
		row := m.cdf[s]
		next := 0
		for next < m.n-1 && row[next] <= u {
			next++
		}
		s = next
	}
	return dtraj
}

// OneHot expands a discrete trajectory into one-hot indicator frames.
func (m *MarkovChain) OneHot(dtraj []int) *mat.Dense {
	out := mat.NewDense(len(dtraj), m.n, nil)
	for t, s := range dtraj {
		out.Set(t, s, 1)
	}
	return out
}

// Trajectory samples a one-hot indicator trajectory in one call.
func (m *MarkovChain) Trajectory(steps, start int) *mat.Dense {
	return m.OneHot(m.Sample(steps, start))
}
