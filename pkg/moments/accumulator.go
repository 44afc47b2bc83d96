// Package moments implements incremental, chunk-wise accumulation of
// time-lagged first and second moments over trajectory data. Sums are kept
// uncentered so accumulators merge by plain addition; centering happens once
// at finalization. Any partitioning of the same trajectories into chunks
// produces identical finalized moments up to floating-point rounding.
package moments

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimensionMismatch = errors.New("moments: feature width differs between chunks")
	ErrInsufficientData  = errors.New("moments: no trajectory contributed a lagged pair")
)

// Accumulator collects uncentered lagged-moment sums for a single lag. One
// accumulator is owned by one goroutine; independent accumulators never
// share state and can be filled concurrently, then merged.
type Accumulator struct {
	lag int
	dim int

	n    int64
	sumX []float64 // column sums of past frames
	sumY []float64 // column sums of future frames
	sxx  *mat.Dense
	sxy  *mat.Dense
	syy  *mat.Dense

	// Carry-over of trailing frames from the current trajectory, so lagged
	// pairs spanning a chunk boundary are not lost. Holds at most lag frames.
	carry *mat.Dense
	seen  int64 // frames of the current trajectory consumed so far
}

// NewAccumulator creates an empty accumulator for the given lag. The feature
// width is fixed by the first chunk submitted.
func NewAccumulator(lag int) (*Accumulator, error) {
	if lag <= 0 {
		return nil, fmt.Errorf("moments: lag must be positive, got %d", lag)
	}
	return &Accumulator{lag: lag}, nil
}

// Lag returns the configured lag in frames.
func (a *Accumulator) Lag() int { return a.lag }

// Dim returns the feature width, or 0 before any chunk was submitted.
func (a *Accumulator) Dim() int { return a.dim }

// PairCount returns the number of lagged pairs accumulated so far.
func (a *Accumulator) PairCount() int64 { return a.n }

// BeginTrajectory marks the start of a new trajectory. Pending carry-over
// frames are discarded; lagged pairs never span trajectory boundaries.
func (a *Accumulator) BeginTrajectory() {
	a.carry = nil
	a.seen = 0
}

// AddChunk folds one contiguous block of frames of the current trajectory
// into the running sums. Chunks shorter than lag+1 frames only extend the
// carry-over; they contribute pairs once enough subsequent frames arrive.
func (a *Accumulator) AddChunk(chunk mat.Matrix) error {
	rows, cols := chunk.Dims()
	if rows == 0 {
		return nil
	}
	if a.dim == 0 {
		a.dim = cols
		a.sumX = make([]float64, cols)
		a.sumY = make([]float64, cols)
		a.sxx = mat.NewDense(cols, cols, nil)
		a.sxy = mat.NewDense(cols, cols, nil)
		a.syy = mat.NewDense(cols, cols, nil)
	} else if cols != a.dim {
		return fmt.Errorf("%w: have %d, chunk has %d", ErrDimensionMismatch, a.dim, cols)
	}

	combined := a.combine(chunk)
	cRows, _ := combined.Dims()

	pairsBefore := a.seen - int64(a.lag)
	if pairsBefore < 0 {
		pairsBefore = 0
	}
	pairsAfter := a.seen + int64(rows) - int64(a.lag)
	if pairsAfter < 0 {
		pairsAfter = 0
	}
	newPairs := int(pairsAfter - pairsBefore)

	if newPairs > 0 {
		x := combined.Slice(0, newPairs, 0, a.dim)
		y := combined.Slice(a.lag, a.lag+newPairs, 0, a.dim)
		a.accumulate(x.(*mat.Dense), y.(*mat.Dense), newPairs)
	}

	a.seen += int64(rows)

	keep := a.lag
	if int64(keep) > a.seen {
		keep = int(a.seen)
	}
	carry := mat.NewDense(keep, a.dim, nil)
	carry.Copy(combined.Slice(cRows-keep, cRows, 0, a.dim))
	a.carry = carry
	return nil
}

// combine prefixes the carried frames onto the chunk.
func (a *Accumulator) combine(chunk mat.Matrix) *mat.Dense {
	rows, _ := chunk.Dims()
	cRows := 0
	if a.carry != nil {
		cRows, _ = a.carry.Dims()
	}
	combined := mat.NewDense(cRows+rows, a.dim, nil)
	if cRows > 0 {
		combined.Slice(0, cRows, 0, a.dim).(*mat.Dense).Copy(a.carry)
	}
	combined.Slice(cRows, cRows+rows, 0, a.dim).(*mat.Dense).Copy(chunk)
	return combined
}

func (a *Accumulator) accumulate(x, y *mat.Dense, pairs int) {
	var pxx, pxy, pyy mat.Dense
	pxx.Mul(x.T(), x)
	pxy.Mul(x.T(), y)
	pyy.Mul(y.T(), y)
	a.sxx.Add(a.sxx, &pxx)
	a.sxy.Add(a.sxy, &pxy)
	a.syy.Add(a.syy, &pyy)

	for r := 0; r < pairs; r++ {
		xi := x.RawRowView(r)
		yi := y.RawRowView(r)
		for c := 0; c < a.dim; c++ {
			a.sumX[c] += xi[c]
			a.sumY[c] += yi[c]
		}
	}
	a.n += int64(pairs)
}

// Merge folds the sums of another accumulator into this one. Both must share
// the same lag and feature width. The other accumulator's pending carry-over
// is ignored; call it only after whole trajectories were submitted.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other.lag != a.lag {
		return fmt.Errorf("moments: cannot merge accumulators with lags %d and %d", a.lag, other.lag)
	}
	if other.n == 0 {
		return nil
	}
	if a.dim == 0 {
		a.dim = other.dim
		a.sumX = make([]float64, a.dim)
		a.sumY = make([]float64, a.dim)
		a.sxx = mat.NewDense(a.dim, a.dim, nil)
		a.sxy = mat.NewDense(a.dim, a.dim, nil)
		a.syy = mat.NewDense(a.dim, a.dim, nil)
	} else if other.dim != a.dim {
		return fmt.Errorf("%w: have %d, other has %d", ErrDimensionMismatch, a.dim, other.dim)
	}
	for c := 0; c < a.dim; c++ {
		a.sumX[c] += other.sumX[c]
		a.sumY[c] += other.sumY[c]
	}
	a.sxx.Add(a.sxx, other.sxx)
	a.sxy.Add(a.sxy, other.sxy)
	a.syy.Add(a.syy, other.syy)
	a.n += other.n
	return nil
}

// Finalize centers the accumulated sums into moment matrices. The
// accumulator is left untouched and may keep receiving chunks; a later
// Finalize reflects the additional data.
func (a *Accumulator) Finalize() (*Moments, error) {
	if a.n == 0 {
		return nil, ErrInsufficientData
	}
	d := a.dim
	nInv := 1.0 / float64(a.n)

	mean0 := make([]float64, d)
	meanT := make([]float64, d)
	for c := 0; c < d; c++ {
		mean0[c] = a.sumX[c] * nInv
		meanT[c] = a.sumY[c] * nInv
	}

	c00 := mat.NewSymDense(d, nil)
	ctt := mat.NewSymDense(d, nil)
	c0t := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			c0t.Set(i, j, a.sxy.At(i, j)*nInv-mean0[i]*meanT[j])
		}
		for j := i; j < d; j++ {
			c00.SetSym(i, j, a.sxx.At(i, j)*nInv-mean0[i]*mean0[j])
			ctt.SetSym(i, j, a.syy.At(i, j)*nInv-meanT[i]*meanT[j])
		}
	}

	return &Moments{
		N:     a.n,
		Lag:   a.lag,
		Mean0: mean0,
		MeanT: meanT,
		C00:   c00,
		C0t:   c0t,
		Ctt:   ctt,
	}, nil
}
