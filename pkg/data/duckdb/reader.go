// Package duckdb streams trajectory frames out of a DuckDB database. The
// expected table layout is one row per frame: a trajectory id column, a
// frame index column and one column per feature.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/koopman"
)

type Reader struct {
	dataSourceName string
	db             *sql.DB
}

func NewReader(dataSourceName string) *Reader {
	return &Reader{
		dataSourceName: dataSourceName,
	}
}

func (r *Reader) Connect() error {
	db, err := sql.Open("duckdb", r.dataSourceName)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	r.db = db
	return nil
}

func (r *Reader) Close() {
	_ = r.db.Close()
}

// LoadFrames streams every frame of the table in trajectory order through
// the handler. featureCols names the feature columns in frame order. The
// frame slice is reused between calls; handlers that retain values past
// the call must copy them.
func (r *Reader) LoadFrames(ctx context.Context, table string, featureCols []string, handler func(trajID int64, frame []float64) error) error {

	query := fmt.Sprintf(`SELECT traj_id, %s FROM %s ORDER BY traj_id, frame_idx`,
		strings.Join(featureCols, ", "), table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("error preparing query: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	frame := make([]float64, len(featureCols))
	dest := make([]any, len(featureCols)+1)
	var trajID int64
	dest[0] = &trajID
	for i := range frame {
		dest[i+1] = &frame[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("error scanning row: %w", err)
		}
		if err := handler(trajID, frame); err != nil {
			return fmt.Errorf("error processing frame: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error scanning rows: %w", err)
	}

	return nil
}

// TrajectorySource adapts a table to the estimator's chunk source
// interface. Each pass issues a fresh query, so independent passes can run
// concurrently.
type TrajectorySource struct {
	reader      *Reader
	table       string
	featureCols []string
	chunkFrames int
	ctx         context.Context
}

// NewTrajectorySource builds a repeatable source over the given table.
func (r *Reader) NewTrajectorySource(ctx context.Context, table string, featureCols []string, chunkFrames int) *TrajectorySource {
	if chunkFrames <= 0 {
		chunkFrames = 4096
	}
	return &TrajectorySource{
		reader:      r,
		table:       table,
		featureCols: featureCols,
		chunkFrames: chunkFrames,
		ctx:         ctx,
	}
}

func (s *TrajectorySource) Chunks() koopman.ChunkIter {
	return &tableIter{src: s}
}

type tableIter struct {
	src  *TrajectorySource
	rows *sql.Rows
	err  error

	pendingFrame []float64
	pendingTraj  int64
	havePending  bool
	lastTraj     int64
	started      bool
}

func (it *tableIter) Next() (koopman.Chunk, error) {
	if it.err != nil {
		return koopman.Chunk{}, it.err
	}
	if it.rows == nil {
		query := fmt.Sprintf(`SELECT traj_id, %s FROM %s ORDER BY traj_id, frame_idx`,
			strings.Join(it.src.featureCols, ", "), it.src.table)
		rows, err := it.src.reader.db.QueryContext(it.src.ctx, query)
		if err != nil {
			it.err = fmt.Errorf("error preparing query: %w", err)
			return koopman.Chunk{}, it.err
		}
		it.rows = rows
	}

	dim := len(it.src.featureCols)
	data := make([]float64, 0, it.src.chunkFrames*dim)
	chunkTraj := int64(0)
	count := 0

	if it.havePending {
		chunkTraj = it.pendingTraj
		data = append(data, it.pendingFrame...)
		count = 1
		it.havePending = false
	}

	frame := make([]float64, dim)
	dest := make([]any, dim+1)
	var trajID int64
	dest[0] = &trajID
	for i := range frame {
		dest[i+1] = &frame[i]
	}

	for count < it.src.chunkFrames && it.rows.Next() {
		if err := it.rows.Scan(dest...); err != nil {
			it.err = fmt.Errorf("error scanning row: %w", err)
			return koopman.Chunk{}, it.err
		}
		if count == 0 {
			chunkTraj = trajID
		} else if trajID != chunkTraj {
			// Trajectory boundary: hold the frame for the next chunk.
			it.pendingFrame = append(it.pendingFrame[:0], frame...)
			it.pendingTraj = trajID
			it.havePending = true
			break
		}
		data = append(data, frame...)
		count++
	}

	if count == 0 {
		if err := it.rows.Err(); err != nil {
			it.err = fmt.Errorf("error scanning rows: %w", err)
			return koopman.Chunk{}, it.err
		}
		_ = it.rows.Close()
		it.err = koopman.ErrEof
		return koopman.Chunk{}, it.err
	}

	newTraj := !it.started || chunkTraj != it.lastTraj
	it.started = true
	it.lastTraj = chunkTraj
	return koopman.Chunk{
		Data:          mat.NewDense(count, dim, data),
		NewTrajectory: newTraj,
	}, nil
}
