// Package live streams frames into the estimator from a websocket feed,
// for observed systems that deliver state samples continuously. Messages
// are JSON objects carrying a trajectory id and one feature vector.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/koopman"
)

// FrameMessage is one wire message: a frame of the given trajectory.
type FrameMessage struct {
	Traj  int64     `json:"traj"`
	Frame []float64 `json:"frame"`
}

type Source struct {
	conn *websocket.Conn

	ctx       context.Context
	ctxCancel context.CancelFunc

	frames chan FrameMessage
}

// Dial connects to a frame feed and starts the read loop.
func Dial(url string) (*Source, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		conn:      conn,
		ctx:       ctx,
		ctxCancel: cancel,
		frames:    make(chan FrameMessage, 1024),
	}
	go s.read()
	return s, nil
}

func (s *Source) Stop() {
	s.ctxCancel()
	_ = s.conn.Close()
}

// Frames exposes the decoded message stream. The channel closes when the
// connection ends.
func (s *Source) Frames() <-chan FrameMessage {
	return s.frames
}

func (s *Source) read() {
	defer close(s.frames)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					slog.Debug("websocket closed", "error", err)
					return
				}
				slog.Warn("cannot read data", "error", err)
				time.Sleep(1 * time.Second) // prevent tight loop
				return
			}

			var msg FrameMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				slog.Warn("unmarshal failed", "error", err)
				continue
			}

			select {
			case s.frames <- msg:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// Feed drains the frame stream into an estimator, batching frames of the
// same trajectory into chunks. A change of trajectory id starts a new
// trajectory. Feed returns when the stream or the context ends.
func (s *Source) Feed(ctx context.Context, est *koopman.Estimator, chunkFrames int) error {
	if chunkFrames <= 0 {
		chunkFrames = 256
	}

	var (
		buf     []float64
		rows    int
		dim     int
		curTraj int64
		started bool
	)

	flush := func() error {
		if rows == 0 {
			return nil
		}
		chunk := mat.NewDense(rows, dim, buf)
		buf = nil
		rows = 0
		return est.AddChunk(chunk)
	}

	for {
		select {
		case <-ctx.Done():
			return flush()
		case msg, ok := <-s.frames:
			if !ok {
				return flush()
			}
			if !started || msg.Traj != curTraj {
				if err := flush(); err != nil {
					return err
				}
				est.BeginTrajectory()
				curTraj = msg.Traj
				started = true
				dim = len(msg.Frame)
			}
			if len(msg.Frame) != dim {
				slog.Warn("dropping frame with unexpected width",
					"traj", msg.Traj, "want", dim, "got", len(msg.Frame))
				continue
			}
			buf = append(buf, msg.Frame...)
			rows++
			if rows >= chunkFrames {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}
