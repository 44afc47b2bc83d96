package live

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/koopman"
)

// frameServer serves the given messages over one websocket connection and
// drops the connection when done.
func frameServer(t *testing.T, msgs []FrameMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			payload, err := json.Marshal(m)
			if err != nil {
				t.Errorf("marshal: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func randomTraj(rng *rand.Rand, frames, dim int) *mat.Dense {
	out := mat.NewDense(frames, dim, nil)
	for r := 0; r < frames; r++ {
		for c := 0; c < dim; c++ {
			out.Set(r, c, rng.NormFloat64())
		}
	}
	return out
}

func messagesFor(traj int64, frames *mat.Dense) []FrameMessage {
	rows, cols := frames.Dims()
	msgs := make([]FrameMessage, rows)
	for r := 0; r < rows; r++ {
		frame := make([]float64, cols)
		copy(frame, frames.RawRowView(r))
		msgs[r] = FrameMessage{Traj: traj, Frame: frame}
	}
	return msgs
}

func TestFeed_MatchesDirectFit(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	a := randomTraj(rng, 120, 3)
	b := randomTraj(rng, 80, 3)

	msgs := append(messagesFor(1, a), messagesFor(2, b)...)
	srv := frameServer(t, msgs)

	src, err := Dial(wsURL(srv))
	require.NoError(t, err)
	defer src.Stop()

	streamed, err := koopman.New(2)
	require.NoError(t, err)
	// Small chunks force mid-trajectory flushes.
	require.NoError(t, src.Feed(t.Context(), streamed, 7))

	direct, err := koopman.New(2)
	require.NoError(t, err)
	require.NoError(t, direct.Fit(a, b))

	ms, err := streamed.Model()
	require.NoError(t, err)
	md, err := direct.Model()
	require.NoError(t, err)

	require.Equal(t, md.Moments().N, ms.Moments().N)
	sd, err := md.SingularValues()
	require.NoError(t, err)
	ss, err := ms.SingularValues()
	require.NoError(t, err)
	require.Equal(t, len(sd), len(ss))
	for i := range sd {
		assert.InDelta(t, sd[i], ss[i], 1e-12)
	}
}

func TestFeed_DropsMalformedFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := randomTraj(rng, 60, 2)

	msgs := messagesFor(1, a)
	// A frame of the wrong width mid-stream must be skipped, not fed.
	bad := FrameMessage{Traj: 1, Frame: []float64{1, 2, 3, 4, 5}}
	msgs = append(msgs[:30], append([]FrameMessage{bad}, msgs[30:]...)...)
	srv := frameServer(t, msgs)

	src, err := Dial(wsURL(srv))
	require.NoError(t, err)
	defer src.Stop()

	streamed, err := koopman.New(1)
	require.NoError(t, err)
	require.NoError(t, src.Feed(t.Context(), streamed, 16))

	direct, err := koopman.New(1)
	require.NoError(t, err)
	require.NoError(t, direct.Fit(a))

	ms, err := streamed.Model()
	require.NoError(t, err)
	md, err := direct.Model()
	require.NoError(t, err)
	assert.Equal(t, md.Moments().N, ms.Moments().N)
}

func TestFeed_ContextCancel(t *testing.T) {
	// A server that never sends keeps the stream open; cancellation must
	// unblock Feed.
	hold := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(hold.Close)

	src, err := Dial(wsURL(hold))
	require.NoError(t, err)
	defer src.Stop()

	est, err := koopman.New(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- src.Feed(ctx, est, 8) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Feed did not return on context cancellation")
	}
}
