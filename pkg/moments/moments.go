package moments

import "gonum.org/v1/gonum/mat"

// Moments holds finalized, mean-centered lagged moments. C00 covers the
// past frames, Ctt the future frames, C0t the cross term. Normalization is
// the biased 1/n estimator.
type Moments struct {
	N   int64
	Lag int

	Mean0 []float64
	MeanT []float64

	C00 *mat.SymDense
	C0t *mat.Dense
	Ctt *mat.SymDense
}

// Dim returns the feature width.
func (m *Moments) Dim() int { return len(m.Mean0) }

// KoopmanOperator estimates the one-step propagator inv(C00u)·C0tu from the
// uncentered moment matrices. For data from a finite-state process this
// approximates the transition matrix.
func (m *Moments) KoopmanOperator() (*mat.Dense, error) {
	d := m.Dim()
	c0 := mat.NewDense(d, d, nil)
	c1 := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			c0.Set(i, j, m.C00.At(i, j)+m.Mean0[i]*m.Mean0[j])
			c1.Set(i, j, m.C0t.At(i, j)+m.Mean0[i]*m.MeanT[j])
		}
	}
	var k mat.Dense
	if err := k.Solve(c0, c1); err != nil {
		return nil, err
	}
	return &k, nil
}
