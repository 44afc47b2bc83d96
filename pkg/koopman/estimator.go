// Package koopman estimates a low-dimensional spectral decomposition of the
// dynamical propagator underlying a set of time-series trajectories, and
// validates it against the data with a Chapman-Kolmogorov consistency test.
package koopman

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/linalg"
	"github.com/mvracek/koopman/pkg/moments"
)

// Estimator accumulates time-lagged moments over trajectory data and builds
// the spectral Model. Streaming updates and batch fits over the same data
// produce identical models up to floating-point rounding.
//
// An estimator instance is not safe for concurrent updates; callers must
// serialize AddChunk/PartialFit per instance. Independent estimators never
// share state.
type Estimator struct {
	lag       int
	scaling   Scaling
	reqDim    int
	varCutoff float64
	epsilon   float64
	logger    *zap.Logger
	runID     uuid.UUID

	acc   *moments.Accumulator
	model *Model
}

// New creates an estimator for the given lag in frames.
func New(lag int, opts ...Option) (*Estimator, error) {
	acc, err := moments.NewAccumulator(lag)
	if err != nil {
		return nil, err
	}
	e := &Estimator{
		lag:     lag,
		epsilon: linalg.DefaultEpsilon,
		logger:  zap.NewNop(),
		runID:   uuid.Must(uuid.NewV7()),
		acc:     acc,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Lag returns the configured lag in frames.
func (e *Estimator) Lag() int { return e.lag }

// RunID identifies this estimator instance in logs.
func (e *Estimator) RunID() uuid.UUID { return e.runID }

// BeginTrajectory marks the start of a new trajectory for subsequent
// AddChunk calls.
func (e *Estimator) BeginTrajectory() {
	e.acc.BeginTrajectory()
}

// AddChunk submits one contiguous block of frames of the current
// trajectory. Any previously built model is invalidated.
func (e *Estimator) AddChunk(chunk mat.Matrix) error {
	if err := e.acc.AddChunk(chunk); err != nil {
		return err
	}
	e.model = nil
	return nil
}

// PartialFit submits one whole trajectory through the streaming pathway.
func (e *Estimator) PartialFit(traj mat.Matrix) error {
	e.BeginTrajectory()
	return e.AddChunk(traj)
}

// Fit performs a batch fit over a collection of trajectories. It is
// equivalent to streaming the same trajectories through PartialFit.
func (e *Estimator) Fit(trajs ...mat.Matrix) error {
	for i, traj := range trajs {
		if err := e.PartialFit(traj); err != nil {
			return fmt.Errorf("trajectory %d: %w", i, err)
		}
	}
	e.logger.Debug("batch fit complete",
		zap.Stringer("run_id", e.runID),
		zap.Int("lag", e.lag),
		zap.Int("trajectories", len(trajs)),
		zap.Int64("pairs", e.acc.PairCount()))
	return nil
}

// FitSource drains a chunk source through the streaming pathway. Chunks of
// one trajectory must arrive in order; trajectories may arrive in any
// order.
func (e *Estimator) FitSource(ctx context.Context, src Source) error {
	it := src.Chunks()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := it.Next()
		if errors.Is(err, ErrEof) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading chunk: %w", err)
		}
		if chunk.NewTrajectory {
			e.BeginTrajectory()
		}
		if err := e.AddChunk(chunk.Data); err != nil {
			return err
		}
	}
	e.logger.Debug("source fit complete",
		zap.Stringer("run_id", e.runID),
		zap.Int("lag", e.lag),
		zap.Int64("pairs", e.acc.PairCount()))
	return nil
}

// Model finalizes the accumulated moments into the spectral model. The
// model is cached until further data arrives. Returns ErrUnfitted when no
// data has been submitted at all; when chunks arrived but every trajectory
// was shorter than lag+1 frames, the moments.ErrInsufficientData from
// finalization propagates instead.
func (e *Estimator) Model() (*Model, error) {
	if e.model != nil {
		return e.model, nil
	}
	if e.acc.Dim() == 0 {
		return nil, ErrUnfitted
	}
	mom, err := e.acc.Finalize()
	if err != nil {
		return nil, err
	}
	e.model = newModel(mom, e.epsilon, e.scaling, e.reqDim, e.varCutoff)
	return e.model, nil
}

// Transform projects trajectories onto the fitted singular functions. Row
// counts are preserved per trajectory; no frames are dropped. With
// right=true the future singular functions are used.
func (e *Estimator) Transform(right bool, trajs ...mat.Matrix) ([]*mat.Dense, error) {
	model, err := e.Model()
	if err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, len(trajs))
	for i, traj := range trajs {
		y, err := model.Transform(traj, right)
		if err != nil {
			return nil, fmt.Errorf("trajectory %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// fitAtLag re-runs the moment estimator and decomposition over a source at
// a different lag, inheriting this estimator's numerical configuration.
func (e *Estimator) fitAtLag(ctx context.Context, src Source, lag int) (*Model, error) {
	sub, err := New(lag,
		WithScaling(e.scaling),
		WithDimension(e.reqDim),
		WithVarCutoff(e.varCutoff),
		WithEpsilon(e.epsilon),
		WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	if err := sub.FitSource(ctx, src); err != nil {
		return nil, err
	}
	return sub.Model()
}
