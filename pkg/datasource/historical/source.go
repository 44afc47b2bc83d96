// Package historical reads recorded trajectory data from packed binary
// frame files: little-endian float64 values, one fixed-width frame after
// another, one trajectory per file.
package historical

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/exp/mmap"
	"gonum.org/v1/gonum/mat"
)

const frameValueSize = 8

// Source is a memory-mapped reader over one trajectory file.
type Source struct {
	dataSourceName string
	dim            int
	reader         *mmap.ReaderAt
	bufferPool     *sync.Pool
}

// NewSource creates a reader for a frame file of the given feature width.
func NewSource(dataSourceName string, dim int) *Source {
	return &Source{
		dataSourceName: dataSourceName,
		dim:            dim,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buffer := make([]byte, dim*frameValueSize)
				return &buffer
			},
		},
	}
}

func (s *Source) Open() error {
	var err error
	s.reader, err = mmap.Open(s.dataSourceName)
	if err != nil {
		return fmt.Errorf("unable to open data source %q: %w", s.dataSourceName, err)
	}
	return nil
}

func (s *Source) Close() {
	_ = s.reader.Close()
}

// FrameCount returns the number of complete frames in the file.
func (s *Source) FrameCount() (int64, error) {
	frameSize := int64(s.dim * frameValueSize)
	fileInfo, err := os.Stat(s.dataSourceName)
	if err != nil {
		return 0, fmt.Errorf("unable to get data source %q stats: %w", s.dataSourceName, err)
	}
	totalSize := fileInfo.Size()
	if totalSize%frameSize != 0 {
		return 0, fmt.Errorf("file size is not a multiple of frame size")
	}
	return totalSize / frameSize, nil
}

// ReadFrame decodes the frame at the given index into dst, which must have
// length dim.
func (s *Source) ReadFrame(index int64, dst []float64) error {
	buffer := s.bufferPool.Get().(*[]byte)
	defer s.bufferPool.Put(buffer)

	offset := index * int64(len(*buffer))
	n, err := s.reader.ReadAt(*buffer, offset)
	if err != nil && n < len(*buffer) {
		return fmt.Errorf("unable to read frame %d: %w", index, err)
	}
	for i := 0; i < s.dim; i++ {
		bits := binary.LittleEndian.Uint64((*buffer)[i*frameValueSize:])
		dst[i] = math.Float64frombits(bits)
	}
	return nil
}

// ReadChunk reads up to frames frames starting at frameIndex. Fewer rows
// come back at the end of the file.
func (s *Source) ReadChunk(frameIndex int64, frames int) (*mat.Dense, error) {
	total, err := s.FrameCount()
	if err != nil {
		return nil, err
	}
	if frameIndex >= total {
		return nil, nil
	}
	if rem := total - frameIndex; int64(frames) > rem {
		frames = int(rem)
	}
	out := mat.NewDense(frames, s.dim, nil)
	for r := 0; r < frames; r++ {
		if err := s.ReadFrame(frameIndex+int64(r), out.RawRowView(r)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
