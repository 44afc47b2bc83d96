package koopman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/linalg"
)

// ScoreMethod identifies the generalized matrix norm used to score a model.
type ScoreMethod uint8

const (
	// Score1 sums the singular values of the generalized cross term
	// (nuclear norm), rewarding any captured correlation.
	Score1 ScoreMethod = iota + 1
	// Score2 sums the squared singular values (squared Frobenius norm),
	// penalizing weak components more strongly.
	Score2
	// ScoreE evaluates the Rayleigh-quotient-like cross term between the
	// model subspace and the test model's raw covariances; sensitive to
	// overfitting when the test model comes from held-out data.
	ScoreE
)

func (s ScoreMethod) String() string {
	switch s {
	case Score1:
		return "1"
	case Score2:
		return "2"
	case ScoreE:
		return "E"
	default:
		return fmt.Sprintf("score(%d)", uint8(s))
	}
}

// Score measures how well this model's top-k singular subspace captures the
// dynamical content of the test model's covariances. Passing nil for test
// scores the model against its own covariances. All methods count the
// constant singular function, adding one to the subspace contribution.
func (m *Model) Score(test *Model, method ScoreMethod) (float64, error) {
	if test == nil {
		test = m
	}
	if test.mom.Dim() != m.mom.Dim() {
		return 0, fmt.Errorf("%w: feature widths %d and %d",
			ErrIncompatibleModels, m.mom.Dim(), test.mom.Dim())
	}
	if test.mom.Lag != m.mom.Lag {
		return 0, fmt.Errorf("%w: lags %d and %d",
			ErrIncompatibleModels, m.mom.Lag, test.mom.Lag)
	}
	if err := m.diagonalize(); err != nil {
		return 0, err
	}

	u := m.leftW
	v := m.rightW
	k := m.dim

	switch method {
	case Score1, Score2:
		var uCu, vCv, b mat.Dense
		uCu.Product(u.T(), test.mom.C00, u)
		vCv.Product(v.T(), test.mom.Ctt, v)
		b.Product(u.T(), test.mom.C0t, v)

		a, err := linalg.InvSqrt(linalg.SymFromDense(&uCu), m.epsilon)
		if err != nil {
			return 0, fmt.Errorf("scoring C00 projection: %w", err)
		}
		c, err := linalg.InvSqrt(linalg.SymFromDense(&vCv), m.epsilon)
		if err != nil {
			return 0, fmt.Errorf("scoring Ctt projection: %w", err)
		}

		var abc mat.Dense
		abc.Product(a, &b, c)
		var svd mat.SVD
		if ok := svd.Factorize(&abc, mat.SVDNone); !ok {
			return 0, fmt.Errorf("koopman: SVD of score matrix failed")
		}
		sum := 0.0
		for _, s := range svd.Values(nil) {
			if method == Score1 {
				sum += s
			} else {
				sum += s * s
			}
		}
		return sum + 1, nil

	case ScoreE:
		sk := mat.NewDense(k, k, nil)
		for i := 0; i < k; i++ {
			sk.Set(i, i, m.svals[i])
		}
		// tr(2 V S Uᵀ C0t' - V S Uᵀ C00' U S Vᵀ Ctt')
		var vsu, t1, proj, t2 mat.Dense
		vsu.Product(v, sk, u.T())
		t1.Mul(&vsu, test.mom.C0t)
		proj.Product(&vsu, test.mom.C00, u, sk, v.T())
		t2.Mul(&proj, test.mom.Ctt)

		tr := 0.0
		d := m.mom.Dim()
		for i := 0; i < d; i++ {
			tr += 2*t1.At(i, i) - t2.At(i, i)
		}
		return tr + 1, nil

	default:
		return 0, fmt.Errorf("koopman: unknown score method %v", method)
	}
}
