package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
)

var logf = monitoring.Component("gRPC")

// Frames can hold 65536 samples per channel.
const maxMsgSize = 16 * 1024 * 1024

// Source is the part of host.Host the service reads and controls.
type Source interface {
	Snapshot() livox.Snapshot
	Info() host.Info
	Reset()
	SetBufferLimit(n int)
	Subscribe() (string, <-chan *host.Frame)
	Unsubscribe(id string)
}

// Ensure Server implements the gRPC interface.
var _ SessionServiceServer = (*Server)(nil)

// Server implements SessionService over a Source.
type Server struct {
	source Source
	driver string
}

func NewServer(source Source, driver string) *Server {
	return &Server{source: source, driver: driver}
}

// GetStatus returns the session snapshot and host counters as a Struct.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.source.Snapshot()
	info := s.source.Info()
	st, err := structpb.NewStruct(map[string]interface{}{
		"session_id":          snap.SessionID,
		"config_path":         snap.ConfigPath,
		"running":             snap.Running,
		"connected":           snap.Connected,
		"status":              snap.StatusText,
		"info":                snap.InfoText,
		"serial":              snap.Serial,
		"lidar_ip":            snap.LidarIP,
		"handle":              snap.Handle,
		"requested_data_type": snap.RequestedType.String(),
		"active_data_type":    snap.ActiveType.String(),
		"buffered_samples":    snap.BufferedSamples,
		"buffer_limit":        snap.BufferLimit,
		"evicted_samples":     snap.EvictedSamples,
		"total_points":        snap.TotalPoints,
		"executions":          info.Executions,
		"fill_ratio":          float64(info.FillRatio),
		"driver":              s.driver,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build status: %v", err)
	}
	return st, nil
}

func (s *Server) ResetBuffer(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.source.Reset()
	return &emptypb.Empty{}, nil
}

func (s *Server) SetBufferLimit(ctx context.Context, req *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
	n := req.GetValue()
	if n > math.MaxInt32 {
		return nil, status.Errorf(codes.InvalidArgument, "buffer limit %d too large", n)
	}
	s.source.SetBufferLimit(int(n))
	return &emptypb.Empty{}, nil
}

// StreamFrames sends every frame the host publishes until the client goes
// away or the host closes. Slow clients skip frames.
func (s *Server) StreamFrames(_ *emptypb.Empty, stream FrameStreamServer) error {
	ctx := stream.Context()
	id, frames := s.source.Subscribe()
	defer s.source.Unsubscribe(id)
	logf("StreamFrames started: subscriber=%s", id)

	for {
		select {
		case <-ctx.Done():
			logf("StreamFrames cancelled: subscriber=%s", id)
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := stream.Send(wrapperspb.Bytes(EncodeFrame(f))); err != nil {
				logf("Send error: %v", err)
				return err
			}
		}
	}
}

// NewGRPCServer returns a grpc.Server with the service registered.
func NewGRPCServer(srv *Server) *grpc.Server {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterSessionServiceServer(gs, srv)
	return gs
}

// Serve runs the service on lis until ctx is cancelled. Open streams get one
// second to finish before they are cut.
func Serve(ctx context.Context, lis net.Listener, srv *Server) error {
	gs := NewGRPCServer(srv)
	errCh := make(chan error, 1)
	go func() {
		logf("listening on %s", lis.Addr())
		errCh <- gs.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		gs.Stop()
	}
	logf("server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string, srv *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return Serve(ctx, lis, srv)
}
