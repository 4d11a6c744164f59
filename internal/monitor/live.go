package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/livox.bridge/internal/host"
)

const (
	livePingInterval  = 30 * time.Second
	liveReadDeadline  = 60 * time.Second
	liveWriteDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveFrame is one message on /ws/frames.
type liveFrame struct {
	Seq       uint64       `json:"seq"`
	At        time.Time    `json:"at"`
	Mode      string       `json:"mode"`
	Requested int          `json:"requested"`
	Populated int          `json:"populated"`
	FillRatio float64      `json:"fill_ratio"`
	Stride    int          `json:"stride"`
	Points    [][3]float32 `json:"points"`
}

func newLiveFrame(f *host.Frame, maxPoints int) liveFrame {
	pts, stride := framePoints(f, maxPoints)
	msg := liveFrame{
		Seq:       f.Seq,
		At:        f.At,
		Mode:      f.Mode.String(),
		Requested: f.Requested,
		Populated: f.Populated,
		FillRatio: float64(f.FillRatio),
		Stride:    stride,
		Points:    make([][3]float32, len(pts)),
	}
	for i, p := range pts {
		msg.Points[i] = [3]float32{float32(p.X), float32(p.Y), float32(p.Intensity)}
	}
	return msg
}

// handleLiveFrames streams every cooked frame as JSON with x, y and
// intensity per point. Slow clients skip frames.
// Query params:
//   - max_points (optional; default 8000)
func (ws *WebServer) handleLiveFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("websocket upgrade: %v", err)
		return
	}
	maxPoints := maxPointsParam(r)
	id, frames := ws.source.Subscribe()
	defer ws.source.Unsubscribe(id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(liveReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(liveReadDeadline))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logf("websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case f, ok := <-frames:
			conn.SetWriteDeadline(time.Now().Add(liveWriteDeadline))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			data, err := json.Marshal(newLiveFrame(f, maxPoints))
			if err != nil {
				logf("encode live frame: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
