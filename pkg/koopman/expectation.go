package koopman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/linalg"
	"github.com/mvracek/koopman/pkg/moments"
)

// Expectation evaluates linear observables under the model propagated over
// lagMultiple steps, assuming the process is exactly Markovian at the base
// lag.
//
// observables is a d x nObs matrix of observable column vectors, evaluated
// on the future frames. statistics, when non-nil, is a d x nStat matrix of
// weighting vectors evaluated on the past frames; the result is then the
// nStat x nObs lagged cross covariance. With statistics nil the result is a
// 1 x nObs row of plain expectations under the stationary weighting.
//
// Mean-free flags mark inputs that are already centered singular functions,
// so the constant component is left out of their expansion.
func (m *Model) Expectation(observables, statistics *mat.Dense, lagMultiple int, obsMeanFree, statMeanFree bool) (*mat.Dense, error) {
	if lagMultiple < 1 {
		return nil, fmt.Errorf("koopman: lag multiple must be >= 1, got %d", lagMultiple)
	}
	if err := m.diagonalize(); err != nil {
		return nil, err
	}

	d := m.mom.Dim()
	if r, _ := observables.Dims(); r != d {
		return nil, fmt.Errorf("%w: observables have %d rows, model width is %d",
			moments.ErrDimensionMismatch, r, d)
	}
	if statistics != nil {
		if r, _ := statistics.Dims(); r != d {
			return nil, fmt.Errorf("%w: statistics have %d rows, model width is %d",
				moments.ErrDimensionMismatch, r, d)
		}
	}

	k := m.dim
	u := m.leftW
	v := m.rightW

	// Blocked one-step propagator in the whitened basis, with the constant
	// function occupying row/column zero.
	s := mat.NewDense(k+1, k+1, nil)
	s.Set(0, 0, 1)
	for i := 0; i < k; i++ {
		s.Set(i+1, i+1, m.svals[i])
	}

	var p *mat.Dense
	if lagMultiple == 1 {
		p = s
	} else {
		blk := mat.NewDense(k+1, k+1, nil)
		blk.Set(0, 0, 1)
		meanDiff := mat.NewVecDense(d, nil)
		for i := 0; i < d; i++ {
			meanDiff.SetVec(i, m.mom.MeanT[i]-m.mom.Mean0[i])
		}
		var col mat.VecDense
		col.MulVec(u.T(), meanDiff)
		for i := 0; i < k; i++ {
			blk.Set(i+1, 0, col.AtVec(i))
		}
		var inner mat.Dense
		inner.Product(u.T(), m.mom.Ctt, v)
		blk.Slice(1, k+1, 1, k+1).(*mat.Dense).Copy(&inner)

		var sp mat.Dense
		sp.Mul(s, blk)
		pow := linalg.MatrixPower(&sp, lagMultiple-1)
		p = mat.NewDense(k+1, k+1, nil)
		p.Mul(pow, s)
	}

	_, nObs := observables.Dims()
	q := mat.NewDense(nObs, k+1, nil)
	if !obsMeanFree {
		for j := 0; j < nObs; j++ {
			dot := 0.0
			for i := 0; i < d; i++ {
				dot += observables.At(i, j) * m.mom.MeanT[i]
			}
			q.Set(j, 0, dot)
		}
	}
	var qBody mat.Dense
	qBody.Product(observables.T(), m.mom.Ctt, v)
	q.Slice(0, nObs, 1, k+1).(*mat.Dense).Copy(&qBody)

	if statistics == nil {
		// Plain expectation: start in the constant function and propagate,
		// so column zero of the propagator carries the mean drift.
		out := mat.NewDense(1, nObs, nil)
		for j := 0; j < nObs; j++ {
			acc := 0.0
			for c := 0; c <= k; c++ {
				acc += p.At(c, 0) * q.At(j, c)
			}
			out.Set(0, j, acc)
		}
		return out, nil
	}

	_, nStat := statistics.Dims()
	r := mat.NewDense(nStat, k+1, nil)
	if !statMeanFree {
		for j := 0; j < nStat; j++ {
			dot := 0.0
			for i := 0; i < d; i++ {
				dot += statistics.At(i, j) * m.mom.Mean0[i]
			}
			r.Set(j, 0, dot)
		}
	}
	var rBody mat.Dense
	rBody.Product(statistics.T(), m.mom.C00, u)
	r.Slice(0, nStat, 1, k+1).(*mat.Dense).Copy(&rBody)

	var out mat.Dense
	out.Product(r, p, q.T())
	return &out, nil
}
