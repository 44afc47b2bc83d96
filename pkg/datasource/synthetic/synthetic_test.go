package synthetic

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewMarkovChain_Validation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, err := NewMarkovChain(mat.NewDense(2, 3, nil), rng)
	require.Error(t, err)

	_, err = NewMarkovChain(mat.NewDense(2, 2, []float64{1.2, -0.2, 0.5, 0.5}), rng)
	require.Error(t, err)

	_, err = NewMarkovChain(mat.NewDense(2, 2, []float64{0.5, 0.4, 0.5, 0.5}), rng)
	require.Error(t, err)

	chain, err := NewMarkovChain(mat.NewDense(2, 2, []float64{0.9, 0.1, 0.2, 0.8}), rng)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.States())
}

func TestMarkovChain_Sampling(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	chain, err := NewMarkovChain(mat.NewDense(3, 3, []float64{
		0.8, 0.1, 0.1,
		0.1, 0.8, 0.1,
		0.1, 0.1, 0.8,
	}), rng)
	require.NoError(t, err)

	dtraj := chain.Sample(500, 2)
	require.Len(t, dtraj, 500)
	assert.Equal(t, 2, dtraj[0])
	visited := map[int]bool{}
	for _, s := range dtraj {
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 3)
		visited[s] = true
	}
	assert.Len(t, visited, 3)

	frames := chain.OneHot(dtraj)
	rows, cols := frames.Dims()
	require.Equal(t, 500, rows)
	require.Equal(t, 3, cols)
	for r := 0; r < rows; r++ {
		sum := 0.0
		for c := 0; c < cols; c++ {
			sum += frames.At(r, c)
		}
		require.Equal(t, 1.0, sum)
		assert.Equal(t, 1.0, frames.At(r, dtraj[r]))
	}
}

func TestMarkovChain_AbsorbingState(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	chain, err := NewMarkovChain(mat.NewDense(2, 2, []float64{
		1.0, 0.0,
		0.5, 0.5,
	}), rng)
	require.NoError(t, err)

	dtraj := chain.Sample(100, 0)
	for _, s := range dtraj {
		assert.Equal(t, 0, s)
	}
}

func TestRandomMatrix_Rank(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m := RandomMatrix(6, 2, 0.01, rng)

	var svd mat.SVD
	require.True(t, svd.Factorize(m, mat.SVDNone))
	vals := svd.Values(nil)
	assert.Greater(t, vals[0], 0.01)
	assert.Greater(t, vals[1], 0.01)
	for _, v := range vals[2:] {
		assert.InDelta(t, 0, v, 1e-12)
	}
}

func TestLowRankProcess_Shape(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	p := NewLowRankProcess(5, 3, rng)

	traj := p.Trajectory(40)
	rows, cols := traj.Dims()
	assert.Equal(t, 40, rows)
	assert.Equal(t, 5, cols)
}
