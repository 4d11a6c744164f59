package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/projection"
)

func dialLive(t *testing.T, ws *WebServer) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ws.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/frames"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestLiveFramesStreamsFrame(t *testing.T) {
	src := &fakeSource{frames: make(chan *host.Frame, 1)}
	src.frames <- testFrame(projection.Cartesian)
	ws := newTestServer(src, nil)

	conn := dialLive(t, ws)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got liveFrame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, uint64(3), got.Seq)
	assert.Equal(t, "cartesian", got.Mode)
	assert.Equal(t, 4, got.Requested)
	assert.Equal(t, 3, got.Populated)
	assert.InDelta(t, 0.75, got.FillRatio, 1e-9)
	assert.Equal(t, 1, got.Stride)
	require.Len(t, got.Points, 3)
	assert.Equal(t, [3]float32{0, 2, 20}, got.Points[1])

	conn.Close()
	assert.Eventually(t, func() bool {
		return len(src.unsubscribed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"sub-1"}, src.unsubscribed())
}

func TestLiveFramesClosedSubscription(t *testing.T) {
	src := &fakeSource{frames: make(chan *host.Frame, 1)}
	close(src.frames)
	ws := newTestServer(src, nil)

	conn := dialLive(t, ws)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestNewLiveFrameSpherical(t *testing.T) {
	ch := projection.NewChannels(1)
	ch[0][0], ch[1][0], ch[2][0], ch[3][0] = 2, 90, 0, 5
	f := &host.Frame{Seq: 1, Mode: projection.Spherical, Requested: 1, Populated: 1, Channels: ch}

	got := newLiveFrame(f, defaultMaxPoints)
	require.Len(t, got.Points, 1)
	assert.Equal(t, "spherical", got.Mode)
	assert.InDelta(t, 0.0, got.Points[0][0], 1e-5)
	assert.InDelta(t, 2.0, got.Points[0][1], 1e-5)
	assert.Equal(t, float32(5), got.Points[0][2])
}
