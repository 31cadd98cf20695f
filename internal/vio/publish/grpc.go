package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/vio-frontend/internal/vio"
)

const (
	outputServiceName = "vio.v1.OutputStream"
	subscribeMethod   = "/" + outputServiceName + "/Subscribe"
)

// OutputStreamServer is the server side of the output stream service.
// Requests and responses are google.protobuf.Struct: the request carries
// an optional "topics" list, each response is one Message.
type OutputStreamServer interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var outputStreamDesc = grpc.ServiceDesc{
	ServiceName: outputServiceName,
	HandlerType: (*OutputStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "vio/v1/output.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(OutputStreamServer).Subscribe(req, stream)
}

// RegisterOutputStreamServer registers srv on s.
func RegisterOutputStreamServer(s grpc.ServiceRegistrar, srv OutputStreamServer) {
	s.RegisterService(&outputStreamDesc, srv)
}

// GRPCConfig holds the gRPC server settings.
type GRPCConfig struct {
	ListenAddr   string
	MaxClients   int
	ClientBuffer int
}

// DefaultGRPCConfig returns the default gRPC configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		ListenAddr:   "localhost:50051",
		MaxClients:   5,
		ClientBuffer: 64,
	}
}

// GRPCServer streams hub messages to gRPC clients.
type GRPCServer struct {
	cfg      GRPCConfig
	hub      *Hub
	server   *grpc.Server
	listener net.Listener

	clients atomic.Int32
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewGRPCServer creates a stopped server.
func NewGRPCServer(cfg GRPCConfig, hub *Hub) *GRPCServer {
	def := DefaultGRPCConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}

	const maxMsgSize = 16 * 1024 * 1024 // point clouds
	s := &GRPCServer{
		cfg: cfg,
		hub: hub,
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(maxMsgSize),
			grpc.MaxSendMsgSize(maxMsgSize),
		),
	}
	RegisterOutputStreamServer(s.server, s)
	return s
}

// Start listens on the configured address and serves in the background.
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *GRPCServer) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("grpc server already running")
	}
	s.listener = lis
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		vio.Opsf("gRPC output stream listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			vio.Opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *GRPCServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.server.Stop()
	s.wg.Wait()
	vio.Opsf("gRPC output stream stopped")
}

// Subscribe streams hub messages until the client goes away.
func (s *GRPCServer) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	if n := s.clients.Add(1); int(n) > s.cfg.MaxClients {
		s.clients.Add(-1)
		return status.Errorf(codes.ResourceExhausted, "max %d clients", s.cfg.MaxClients)
	}
	defer s.clients.Add(-1)

	var topics []string
	if v, ok := req.GetFields()["topics"]; ok {
		for _, t := range v.GetListValue().GetValues() {
			topics = append(topics, t.GetStringValue())
		}
	}

	id, ch := s.hub.Subscribe(s.cfg.ClientBuffer, topics...)
	defer s.hub.Unsubscribe(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := toStruct(msg)
			if err != nil {
				return status.Errorf(codes.Internal, "encoding %s: %v", msg.Topic, err)
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

// toStruct converts a message to its JSON-shaped protobuf form.
func toStruct(msg Message) (*structpb.Struct, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// OutputStreamClient receives messages from a GRPCServer.
type OutputStreamClient struct {
	stream grpc.ClientStream
}

// SubscribeOutputs opens an output stream on conn for topics (every topic
// when none are given).
func SubscribeOutputs(ctx context.Context, conn grpc.ClientConnInterface, topics ...string) (*OutputStreamClient, error) {
	stream, err := conn.NewStream(ctx, &outputStreamDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	list := make([]interface{}, len(topics))
	for i, t := range topics {
		list[i] = t
	}
	req, err := structpb.NewStruct(map[string]interface{}{"topics": list})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &OutputStreamClient{stream: stream}, nil
}

// Recv blocks for the next message.
func (c *OutputStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
