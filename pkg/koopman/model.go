package koopman

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/linalg"
	"github.com/mvracek/koopman/pkg/moments"
)

// Scaling selects the post-hoc rescaling of the singular functions.
type Scaling int

const (
	// ScalingNone keeps the whitened singular functions as they are, so
	// projected output has identity covariance.
	ScalingNone Scaling = iota
	// ScalingKineticMap scales singular functions by their singular values,
	// so Euclidean distances in the projection approximate kinetic distance.
	ScalingKineticMap
	// ScalingCommuteMap scales singular functions to commute-distance
	// semantics, sqrt(0.5*lag*s/(1-s)).
	ScalingCommuteMap
)

func (s Scaling) String() string {
	switch s {
	case ScalingNone:
		return "none"
	case ScalingKineticMap:
		return "kinetic-map"
	case ScalingCommuteMap:
		return "commute-map"
	default:
		return fmt.Sprintf("scaling(%d)", int(s))
	}
}

// Model is the spectral decomposition of the estimated propagator. It wraps
// finalized moments; the whitened SVD runs lazily on the first access to any
// decomposition-dependent value and is cached afterwards. A model never
// mutates once diagonalized.
type Model struct {
	mom       *moments.Moments
	epsilon   float64
	scaling   Scaling
	reqDim    int
	varCutoff float64

	diagOnce sync.Once
	diagDone bool
	diagErr  error

	svals         []float64
	left, right   *mat.Dense // scaled, d x k
	leftW, rightW *mat.Dense // unscaled whitened-basis vectors, d x k
	rank0, rankt  int
	dim           int
}

func newModel(mom *moments.Moments, epsilon float64, scaling Scaling, reqDim int, varCutoff float64) *Model {
	return &Model{
		mom:       mom,
		epsilon:   epsilon,
		scaling:   scaling,
		reqDim:    reqDim,
		varCutoff: varCutoff,
	}
}

// Moments exposes the underlying centered moments.
func (m *Model) Moments() *moments.Moments { return m.mom }

// Lag returns the lag the moments were accumulated with.
func (m *Model) Lag() int { return m.mom.Lag }

// FeatureDim returns the input feature width d.
func (m *Model) FeatureDim() int { return m.mom.Dim() }

// N returns the number of lagged pairs behind the model.
func (m *Model) N() int64 { return m.mom.N }

func (m *Model) diagonalize() error {
	m.diagOnce.Do(func() {
		m.diagErr = m.doDiagonalize()
		m.diagDone = m.diagErr == nil
	})
	return m.diagErr
}

func (m *Model) doDiagonalize() error {
	l0, rank0, err := linalg.InvSqrtSplit(m.mom.C00, m.epsilon)
	if err != nil {
		return fmt.Errorf("whitening C00: %w", err)
	}
	lt, rankt, err := linalg.InvSqrtSplit(m.mom.Ctt, m.epsilon)
	if err != nil {
		return fmt.Errorf("whitening Ctt: %w", err)
	}
	m.rank0, m.rankt = rank0, rankt

	var w mat.Dense
	w.Product(l0.T(), m.mom.C0t, lt)

	var svd mat.SVD
	if ok := svd.Factorize(&w, mat.SVDThin); !ok {
		return fmt.Errorf("koopman: SVD of whitened matrix failed")
	}
	svals := svd.Values(nil)
	var up, vp mat.Dense
	svd.UTo(&up)
	svd.VTo(&vp)

	k := len(svals)
	if m.reqDim > 0 && m.reqDim < k {
		k = m.reqDim
	}
	if m.varCutoff > 0 && m.varCutoff < 1 {
		k = min(k, dimByVariance(svals, m.varCutoff))
	}

	d := m.mom.Dim()
	left := mat.NewDense(d, k, nil)
	right := mat.NewDense(d, k, nil)
	left.Mul(l0, up.Slice(0, rank0, 0, k))
	right.Mul(lt, vp.Slice(0, rankt, 0, k))

	m.svals = svals
	m.leftW = left
	m.rightW = right
	m.left, m.right = m.applyScaling(left, right, svals[:k])
	m.dim = k
	return nil
}

func (m *Model) applyScaling(left, right *mat.Dense, svals []float64) (*mat.Dense, *mat.Dense) {
	if m.scaling == ScalingNone {
		return left, right
	}
	d, k := left.Dims()
	sl := mat.NewDense(d, k, nil)
	sr := mat.NewDense(d, k, nil)
	for j := 0; j < k; j++ {
		var f float64
		switch m.scaling {
		case ScalingKineticMap:
			f = svals[j]
		case ScalingCommuteMap:
			s := math.Min(svals[j], 0.9999999)
			f = math.Sqrt(0.5 * float64(m.mom.Lag) * s / (1.0 - s))
		}
		for i := 0; i < d; i++ {
			sl.Set(i, j, left.At(i, j)*f)
			sr.Set(i, j, right.At(i, j)*f)
		}
	}
	return sl, sr
}

// dimByVariance returns the smallest k whose cumulative squared singular
// values reach the requested fraction of the total kinetic variance.
func dimByVariance(svals []float64, cutoff float64) int {
	total := 0.0
	for _, s := range svals {
		total += s * s
	}
	if total == 0 {
		return len(svals)
	}
	cum := 0.0
	for i, s := range svals {
		cum += s * s
		if cum/total >= cutoff {
			return i + 1
		}
	}
	return len(svals)
}

// SingularValues returns the singular values of the whitened cross
// covariance, sorted descending. The constant function is removed by mean
// centering and is not part of the reported spectrum.
func (m *Model) SingularValues() ([]float64, error) {
	if err := m.diagonalize(); err != nil {
		return nil, err
	}
	out := make([]float64, len(m.svals))
	copy(out, m.svals)
	return out, nil
}

// Dimension returns the retained number of singular components k.
func (m *Model) Dimension() (int, error) {
	if err := m.diagonalize(); err != nil {
		return 0, err
	}
	return m.dim, nil
}

// Left returns the past singular vectors as columns of a d x k matrix,
// rescaled per the configured scaling mode.
func (m *Model) Left() (*mat.Dense, error) {
	if err := m.diagonalize(); err != nil {
		return nil, err
	}
	return m.left, nil
}

// Right returns the future singular vectors as columns of a d x k matrix,
// rescaled per the configured scaling mode.
func (m *Model) Right() (*mat.Dense, error) {
	if err := m.diagonalize(); err != nil {
		return nil, err
	}
	return m.right, nil
}

// Transform projects a block of frames onto the top-k singular functions,
// (X - mean) · Vecs, preserving the row count. With right=true the future
// singular vectors and future mean are used, otherwise the past ones.
func (m *Model) Transform(x mat.Matrix, right bool) (*mat.Dense, error) {
	if err := m.diagonalize(); err != nil {
		return nil, err
	}
	rows, cols := x.Dims()
	if cols != m.mom.Dim() {
		return nil, fmt.Errorf("%w: model has width %d, input has %d",
			moments.ErrDimensionMismatch, m.mom.Dim(), cols)
	}

	mean := m.mom.Mean0
	vecs := m.left
	if right {
		mean = m.mom.MeanT
		vecs = m.right
	}

	centered := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			centered.Set(i, j, x.At(i, j)-mean[j])
		}
	}
	out := mat.NewDense(rows, m.dim, nil)
	out.Mul(centered, vecs)
	return out, nil
}

// TransformFloat32 is Transform with the result demoted to single
// precision, for sinks that store large projected data sets compactly.
func (m *Model) TransformFloat32(x mat.Matrix, right bool) ([][]float32, error) {
	y, err := m.Transform(x, right)
	if err != nil {
		return nil, err
	}
	rows, cols := y.Dims()
	out := make([][]float32, rows)
	for i := 0; i < rows; i++ {
		row := make([]float32, cols)
		for j := 0; j < cols; j++ {
			row[j] = float32(y.At(i, j))
		}
		out[i] = row
	}
	return out, nil
}

// Params exports the numeric model fields as a flat name to value map, for
// equivalence checks between independently fitted models. Decomposition
// fields are nil until the model has been diagonalized; Params never
// triggers diagonalization itself.
func (m *Model) Params() map[string]any {
	p := map[string]any{
		"lag":             m.mom.Lag,
		"n":               m.mom.N,
		"mean_0":          m.mom.Mean0,
		"mean_t":          m.mom.MeanT,
		"C00":             m.mom.C00,
		"C0t":             m.mom.C0t,
		"Ctt":             m.mom.Ctt,
		"singular_values": nil,
		"U":               nil,
		"V":               nil,
		"dim":             nil,
	}
	if m.diagDone {
		p["singular_values"] = m.svals
		p["U"] = m.left
		p["V"] = m.right
		p["dim"] = m.dim
	}
	return p
}
