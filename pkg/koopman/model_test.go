package koopman

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedModel(t *testing.T, opts ...Option) *Model {
	t.Helper()
	trajs := lowRankTrajectories(31, 8, 5, 400, 300)
	est, err := New(10, opts...)
	require.NoError(t, err)
	require.NoError(t, est.Fit(trajs[0], trajs[1]))
	model, err := est.Model()
	require.NoError(t, err)
	return model
}

func TestModel_LazyDiagonalization(t *testing.T) {
	model := fittedModel(t)

	// Moment fields are present before diagonalization, decomposition
	// fields are not.
	p := model.Params()
	assert.NotNil(t, p["C00"])
	assert.NotNil(t, p["mean_0"])
	assert.Nil(t, p["singular_values"])
	assert.Nil(t, p["U"])
	assert.Nil(t, p["dim"])

	_, err := model.SingularValues()
	require.NoError(t, err)

	p = model.Params()
	assert.NotNil(t, p["singular_values"])
	assert.NotNil(t, p["U"])
	assert.NotNil(t, p["V"])
	assert.NotNil(t, p["dim"])
}

func TestModel_DiagonalizationCached(t *testing.T) {
	model := fittedModel(t)

	left1, err := model.Left()
	require.NoError(t, err)
	left2, err := model.Left()
	require.NoError(t, err)
	// Repeated access must not recompute.
	assert.Same(t, left1, left2)
}

func TestModel_SingularValuesSortedInUnitInterval(t *testing.T) {
	model := fittedModel(t)
	svals, err := model.SingularValues()
	require.NoError(t, err)
	for i, s := range svals {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0+1e-10)
		if i > 0 {
			assert.LessOrEqual(t, s, svals[i-1])
		}
	}
}

func TestModel_DimensionCap(t *testing.T) {
	model := fittedModel(t, WithDimension(2))
	k, err := model.Dimension()
	require.NoError(t, err)
	assert.Equal(t, 2, k)

	right, err := model.Right()
	require.NoError(t, err)
	_, cols := right.Dims()
	assert.Equal(t, 2, cols)
}

func TestModel_VarCutoff(t *testing.T) {
	full := fittedModel(t)
	kFull, err := full.Dimension()
	require.NoError(t, err)

	truncated := fittedModel(t, WithVarCutoff(0.5))
	kCut, err := truncated.Dimension()
	require.NoError(t, err)
	assert.Less(t, kCut, kFull)
	assert.GreaterOrEqual(t, kCut, 1)
}

func TestModel_KineticMapScaling(t *testing.T) {
	plain := fittedModel(t)
	scaled := fittedModel(t, WithScaling(ScalingKineticMap))

	svals, err := plain.SingularValues()
	require.NoError(t, err)
	up, err := plain.Right()
	require.NoError(t, err)
	us, err := scaled.Right()
	require.NoError(t, err)

	rows, cols := up.Dims()
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			assert.InDelta(t, up.At(i, j)*svals[j], us.At(i, j), 1e-9)
		}
	}
}

func TestModel_CommuteMapScaling(t *testing.T) {
	plain := fittedModel(t)
	scaled := fittedModel(t, WithScaling(ScalingCommuteMap))

	svals, err := plain.SingularValues()
	require.NoError(t, err)
	up, err := plain.Right()
	require.NoError(t, err)
	us, err := scaled.Right()
	require.NoError(t, err)

	rows, cols := up.Dims()
	for j := 0; j < cols; j++ {
		s := math.Min(svals[j], 0.9999999)
		f := math.Sqrt(0.5 * float64(plain.Lag()) * s / (1.0 - s))
		for i := 0; i < rows; i++ {
			assert.InDelta(t, up.At(i, j)*f, us.At(i, j), 1e-9)
		}
	}
}

func TestModel_TransformFloat32(t *testing.T) {
	model := fittedModel(t)
	probe := lowRankTrajectories(32, 8, 5, 40)[0]

	y64, err := model.Transform(probe, false)
	require.NoError(t, err)
	y32, err := model.TransformFloat32(probe, false)
	require.NoError(t, err)

	rows, cols := y64.Dims()
	require.Len(t, y32, rows)
	for i := 0; i < rows; i++ {
		require.Len(t, y32[i], cols)
		for j := 0; j < cols; j++ {
			assert.InDelta(t, y64.At(i, j), float64(y32[i][j]), math.Abs(y64.At(i, j))*1e-6+1e-6)
		}
	}
}

func TestScalingString(t *testing.T) {
	assert.Equal(t, "none", ScalingNone.String())
	assert.Equal(t, "kinetic-map", ScalingKineticMap.String())
	assert.Equal(t, "commute-map", ScalingCommuteMap.String())
}
