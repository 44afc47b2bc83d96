package koopman

import "gonum.org/v1/gonum/mat"

// Chunk is one contiguous block of frames from a single trajectory.
// NewTrajectory marks the first chunk of each trajectory; lagged pairs are
// never formed across that boundary.
type Chunk struct {
	Data          *mat.Dense
	NewTrajectory bool
}

// ChunkIter yields successive chunks of a data set. Next returns ErrEof
// when the pass is exhausted.
type ChunkIter interface {
	Next() (Chunk, error)
}

// Source provides repeatable passes over a set of trajectories. Each call
// to Chunks starts an independent pass, so re-estimation at several lags
// can iterate the same data concurrently.
type Source interface {
	Chunks() ChunkIter
}

// SliceSource serves in-memory trajectories, one chunk per trajectory.
type SliceSource struct {
	trajs []*mat.Dense
}

// NewSliceSource wraps already loaded trajectory matrices in a Source.
func NewSliceSource(trajs ...*mat.Dense) *SliceSource {
	return &SliceSource{trajs: trajs}
}

func (s *SliceSource) Chunks() ChunkIter {
	return &sliceIter{trajs: s.trajs}
}

type sliceIter struct {
	trajs []*mat.Dense
	idx   int
}

func (it *sliceIter) Next() (Chunk, error) {
	if it.idx >= len(it.trajs) {
		return Chunk{}, ErrEof
	}
	c := Chunk{Data: it.trajs[it.idx], NewTrajectory: true}
	it.idx++
	return c, nil
}
