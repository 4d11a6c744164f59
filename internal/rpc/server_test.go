package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/projection"
)

type fakeSource struct {
	mu     sync.Mutex
	snap   livox.Snapshot
	resets int
	limit  int
	subs   map[string]chan *host.Frame
	subbed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string]chan *host.Frame), subbed: make(chan struct{}, 4)}
}

func (f *fakeSource) Snapshot() livox.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) Info() host.Info {
	return host.Info{Executions: 11, FillRatio: 0.25}
}

func (f *fakeSource) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeSource) SetBufferLimit(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = n
}

func (f *fakeSource) Subscribe() (string, <-chan *host.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "sub"
	ch := make(chan *host.Frame, 1)
	f.subs[id] = ch
	f.subbed <- struct{}{}
	return id, ch
}

func (f *fakeSource) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

func (f *fakeSource) publish(fr *host.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- fr
	}
}

func (f *fakeSource) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

func startTestServer(t *testing.T, src Source) *SessionServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, NewServer(src, "fake")) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return NewSessionServiceClient(conn)
}

func TestGetStatus(t *testing.T) {
	src := newFakeSource()
	src.snap = livox.Snapshot{
		SessionID:       "abc",
		Running:         true,
		Connected:       true,
		StatusText:      "Connected to SN1 (192.168.1.12)",
		Serial:          "SN1",
		Handle:          0x0c01a8c0,
		RequestedType:   livox.DataTypeCartesianHigh,
		ActiveType:      livox.DataTypeCartesianLow,
		BufferedSamples: 5,
		BufferLimit:     200000,
		TotalPoints:     960,
	}
	client := startTestServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := client.GetStatus(ctx)
	require.NoError(t, err)

	m := st.AsMap()
	assert.Equal(t, "abc", m["session_id"])
	assert.Equal(t, true, m["connected"])
	assert.Equal(t, "high", m["requested_data_type"])
	assert.Equal(t, "low", m["active_data_type"])
	assert.Equal(t, float64(5), m["buffered_samples"])
	assert.Equal(t, float64(960), m["total_points"])
	assert.Equal(t, float64(201435328), m["handle"])
	assert.Equal(t, float64(11), m["executions"])
	assert.Equal(t, "fake", m["driver"])
}

func TestResetAndBufferLimit(t *testing.T) {
	src := newFakeSource()
	client := startTestServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.ResetBuffer(ctx))
	require.NoError(t, client.SetBufferLimit(ctx, 4096))

	src.mu.Lock()
	assert.Equal(t, 1, src.resets)
	assert.Equal(t, 4096, src.limit)
	src.mu.Unlock()

	err := client.SetBufferLimit(ctx, 1<<40)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStreamFrames(t *testing.T) {
	src := newFakeSource()
	client := startTestServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamFrames(ctx)
	require.NoError(t, err)

	select {
	case <-src.subbed:
	case <-ctx.Done():
		t.Fatal("server never subscribed")
	}

	ch := projection.NewChannels(3)
	ch[0][0], ch[1][0], ch[2][0], ch[3][0] = 1, 2, 3, 4
	src.publish(&host.Frame{Seq: 1, Mode: projection.Spherical, Requested: 3, Populated: 1, Channels: ch})

	msg, err := stream.Recv()
	require.NoError(t, err)
	f, err := DecodeFrame(msg.GetValue())
	require.NoError(t, err)
	assert.Equal(t, projection.Spherical, f.Mode)
	assert.Equal(t, 1, f.Populated)
	assert.Equal(t, 3, f.Requested)
	assert.Equal(t, []float32{1, 0, 0}, f.Channels[0])
	assert.Equal(t, []float32{4, 0, 0}, f.Channels[3])

	// Closing the subscription ends the stream cleanly.
	src.closeAll()
	_, err = stream.Recv()
	require.Error(t, err)
}
