package historical

import (
	"encoding/binary"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// WriteFrames appends a block of frames to w in the packed binary layout
// the Source reads.
func WriteFrames(w io.Writer, frames *mat.Dense) error {
	rows, cols := frames.Dims()
	buf := make([]byte, cols*frameValueSize)
	for r := 0; r < rows; r++ {
		row := frames.RawRowView(r)
		for c, v := range row {
			binary.LittleEndian.PutUint64(buf[c*frameValueSize:], math.Float64bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
