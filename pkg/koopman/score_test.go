package koopman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func fitModel(t *testing.T, lag int, trajs []*mat.Dense, opts ...Option) *Model {
	t.Helper()
	est, err := New(lag, opts...)
	require.NoError(t, err)
	for _, traj := range trajs {
		require.NoError(t, est.PartialFit(traj))
	}
	model, err := est.Model()
	require.NoError(t, err)
	return model
}

func TestScore_SelfConsistency(t *testing.T) {
	trajs := lowRankTrajectories(31, 6, 6, 4000)
	model := fitModel(t, 5, trajs)

	svals, err := model.SingularValues()
	require.NoError(t, err)

	sum1, sum2 := 1.0, 1.0
	for _, s := range svals {
		sum1 += s
		sum2 += s * s
	}

	// Scored against its own covariances the whitened cross term is exactly
	// diag(svals), so the scores reduce to sums over the spectrum.
	s1, err := model.Score(nil, Score1)
	require.NoError(t, err)
	assert.InDelta(t, sum1, s1, 1e-8)

	s2, err := model.Score(nil, Score2)
	require.NoError(t, err)
	assert.InDelta(t, sum2, s2, 1e-8)

	se, err := model.Score(nil, ScoreE)
	require.NoError(t, err)
	assert.InDelta(t, sum2, se, 1e-8)
}

func TestScore_TruncationIsMonotone(t *testing.T) {
	trajs := lowRankTrajectories(32, 6, 6, 4000)
	full := fitModel(t, 5, trajs)
	capped := fitModel(t, 5, trajs, WithDimension(2))

	for _, method := range []ScoreMethod{Score1, Score2, ScoreE} {
		fullScore, err := full.Score(nil, method)
		require.NoError(t, err)
		cappedScore, err := capped.Score(nil, method)
		require.NoError(t, err)
		assert.LessOrEqual(t, cappedScore, fullScore+1e-10, "method %v", method)
	}
}

func TestScore_HeldOutData(t *testing.T) {
	trajs := lowRankTrajectories(33, 4, 4, 20000, 20000)
	train := fitModel(t, 5, trajs[:1])
	test := fitModel(t, 5, trajs[1:])

	selfScore, err := train.Score(nil, Score2)
	require.NoError(t, err)
	crossScore, err := train.Score(test, Score2)
	require.NoError(t, err)

	// Both halves sample the same process, so the held-out score stays
	// close to the in-sample one.
	assert.Greater(t, crossScore, 1.0)
	assert.InDelta(t, selfScore, crossScore, 0.2)
}

func TestScore_IncompatibleModels(t *testing.T) {
	base := fitModel(t, 5, lowRankTrajectories(34, 4, 4, 500))

	narrow := fitModel(t, 5, lowRankTrajectories(35, 3, 3, 500))
	_, err := base.Score(narrow, Score2)
	require.ErrorIs(t, err, ErrIncompatibleModels)

	shifted := fitModel(t, 7, lowRankTrajectories(36, 4, 4, 500))
	_, err = base.Score(shifted, Score2)
	require.ErrorIs(t, err, ErrIncompatibleModels)
}

func TestScore_UnknownMethod(t *testing.T) {
	model := fitModel(t, 5, lowRankTrajectories(37, 3, 3, 500))
	_, err := model.Score(nil, ScoreMethod(99))
	require.Error(t, err)
}

func TestScoreMethod_String(t *testing.T) {
	assert.Equal(t, "1", Score1.String())
	assert.Equal(t, "2", Score2.String())
	assert.Equal(t, "E", ScoreE.String())
}
