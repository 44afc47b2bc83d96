package historical

import (
	"fmt"

	"github.com/mvracek/koopman/pkg/koopman"
)

const defaultChunkFrames = 4096

// FileSet exposes a set of trajectory files as a repeatable chunk source
// for the estimator. Each file is one trajectory; each pass re-reads the
// mapped files, so several estimator runs can consume the set concurrently.
type FileSet struct {
	sources     []*Source
	chunkFrames int
}

// NewFileSet creates a source over the given files, all sharing the feature
// width dim. chunkFrames <= 0 selects the default chunk size.
func NewFileSet(dim, chunkFrames int, paths ...string) *FileSet {
	if chunkFrames <= 0 {
		chunkFrames = defaultChunkFrames
	}
	fs := &FileSet{chunkFrames: chunkFrames}
	for _, p := range paths {
		fs.sources = append(fs.sources, NewSource(p, dim))
	}
	return fs
}

// Open maps all files. Close must be called when done.
func (f *FileSet) Open() error {
	for i, s := range f.sources {
		if err := s.Open(); err != nil {
			for _, o := range f.sources[:i] {
				o.Close()
			}
			return err
		}
	}
	return nil
}

func (f *FileSet) Close() {
	for _, s := range f.sources {
		s.Close()
	}
}

func (f *FileSet) Chunks() koopman.ChunkIter {
	return &fileSetIter{set: f}
}

type fileSetIter struct {
	set     *FileSet
	fileIdx int
	frame   int64
}

func (it *fileSetIter) Next() (koopman.Chunk, error) {
	for it.fileIdx < len(it.set.sources) {
		src := it.set.sources[it.fileIdx]
		chunk, err := src.ReadChunk(it.frame, it.set.chunkFrames)
		if err != nil {
			return koopman.Chunk{}, fmt.Errorf("file %q: %w", src.dataSourceName, err)
		}
		if chunk == nil {
			it.fileIdx++
			it.frame = 0
			continue
		}
		newTraj := it.frame == 0
		rows, _ := chunk.Dims()
		it.frame += int64(rows)
		return koopman.Chunk{Data: chunk, NewTrajectory: newTraj}, nil
	}
	return koopman.Chunk{}, koopman.ErrEof
}
