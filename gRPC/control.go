// Package control exposes live statistics and a remote stop over gRPC.
//
// The service uses protobuf well-known types only, so it is registered from a
// hand-written descriptor instead of generated stubs.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"ObjectCounter/detect"
	"ObjectCounter/fps"
	"ObjectCounter/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "objectcounter.Control"

	statsMethod = "/" + ServiceName + "/Stats"
	stopMethod  = "/" + ServiceName + "/Stop"
)

// ControlServer is the server API of the control service.
type ControlServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// Stopper is anything that can ask the capture loop to finish.
type Stopper interface {
	RequestExit()
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func stopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: stopMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Stop(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes objectcounter.Control for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "Stop", Handler: stopHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objectcounter/control",
}

// Server keeps the latest frame statistics and forwards stop requests.
type Server struct {
	stopper Stopper

	mu    sync.RWMutex
	frame detect.Frame
	stats fps.Stats
}

var _ ControlServer = (*Server)(nil)

// NewServer returns a control server that stops the loop through stopper.
func NewServer(stopper Stopper) *Server {
	return &Server{stopper: stopper}
}

// ObserveFrame stores the latest published frame.
func (s *Server) ObserveFrame(frame detect.Frame, stats fps.Stats) {
	s.mu.Lock()
	s.frame = frame
	s.stats = stats
	s.mu.Unlock()
}

// Stats reports frame count, frame rate and the counts of the latest frame.
func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.RLock()
	frame, stats := s.frame, s.stats
	s.mu.RUnlock()

	counts := make(map[string]any, len(frame.Counts))
	for label, n := range frame.Counts {
		counts[label] = n
	}
	text := make([]any, 0, len(frame.Text))
	for _, line := range frame.Text {
		text = append(text, line)
	}
	return structpb.NewStruct(map[string]any{
		"frames":            stats.Frames,
		"elapsed_seconds":   stats.Elapsed.Seconds(),
		"fps":               stats.FPS,
		"inference_seconds": frame.Duration.Seconds(),
		"counts":            counts,
		"text":              text,
	})
}

// Stop asks the capture loop to finish after its current frame.
func (s *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.stopper == nil {
		return nil, errors.New("no capture loop attached")
	}
	logger.Log().Warn("Stop requested over gRPC")
	s.stopper.RequestExit()
	return &emptypb.Empty{}, nil
}

// Register attaches srv to g.
func Register(g *grpc.Server, srv ControlServer) {
	g.RegisterService(&ServiceDesc, srv)
}

// StartGRPCServer serves srv on port in the background.
func StartGRPCServer(port int, srv ControlServer, opts ...grpc.ServerOption) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("control listen on port %d: %w", port, err)
	}
	g := grpc.NewServer(opts...)
	Register(g, srv)
	go func() {
		logger.Log().Info("Control server listening", zap.String("addr", lis.Addr().String()))
		if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("Control server stopped", zap.Error(err))
		}
	}()
	return g, nil
}

// Client calls the control service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Stats fetches the live statistics.
func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Stop requests a graceful stop of the capture loop.
func (c *Client) Stop(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, stopMethod, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}
