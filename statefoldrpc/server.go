// Package statefoldrpc exposes fold.GlobalArchive's StateAt/InputBoxAt over
// gRPC for out-of-process consumers (spec.md §4.11) — indexers, GraphQL
// servers, or any reader that wants the folded state without linking the
// fold package directly. Grounded on go-ethereum's own rpc package
// convention of one exported method per RPC with a context-first signature,
// and on servermanager's JSON-over-gRPC wire style (no protoc-generated
// stub tree; a hand-written grpc.ServiceDesc plays that role instead).
package statefoldrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/cartesi/rollups-operator/fold"
	smpb "github.com/cartesi/rollups-operator/servermanager/pb"
	"github.com/cartesi/rollups-operator/statefoldrpc/pb"
	"github.com/cartesi/rollups-operator/types"
)

const serviceName = "cartesi.statefoldrpc.StateFold"

// Archive is the capability Server needs from fold.GlobalArchive, declared
// narrowly so tests can supply a fake instead of a live chain-backed one.
type Archive interface {
	StateAt(ctx context.Context, addr fold.Addresses, constants *types.RollupsConstants, block *types.Block) (*types.RollupsState, error)
	InputBoxAt(ctx context.Context, addr fold.Addresses, constants *types.RollupsConstants, block *types.Block) (*types.DAppInputBox, error)
}

// Server adapts Archive to the gRPC wire shapes in pb.
type Server struct {
	archive Archive
}

func NewServer(archive Archive) *Server {
	return &Server{archive: archive}
}

// Register attaches the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// NewGRPCServer builds a grpc.Server with the JSON wire codec forced
// (server-side subtype negotiation needs no client opt-in this way) and
// archive registered on it.
func NewGRPCServer(archive Archive) *grpc.Server {
	gs := grpc.NewServer(grpc.ForceServerCodec(smpb.Codec{}))
	NewServer(archive).Register(gs)
	return gs
}

func (s *Server) stateAt(ctx context.Context, req *pb.StateAtRequest) (*pb.StateAtResponse, error) {
	state, err := s.archive.StateAt(ctx, req.Addresses, &req.Constants, &req.Block)
	if err != nil {
		return nil, err
	}
	return &pb.StateAtResponse{State: state}, nil
}

func (s *Server) inputBoxAt(ctx context.Context, req *pb.InputBoxAtRequest) (*pb.InputBoxAtResponse, error) {
	box, err := s.archive.InputBoxAt(ctx, req.Addresses, &req.Constants, &req.Block)
	if err != nil {
		return nil, err
	}
	return &pb.InputBoxAtResponse{InputBox: box}, nil
}

func stateAtHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(pb.StateAtRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).stateAt(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/StateAt", serviceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).stateAt(ctx, req.(*pb.StateAtRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func inputBoxAtHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(pb.InputBoxAtRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).inputBoxAt(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/InputBoxAt", serviceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).inputBoxAt(ctx, req.(*pb.InputBoxAtRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StateAt", Handler: stateAtHandler},
		{MethodName: "InputBoxAt", Handler: inputBoxAtHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "statefoldrpc",
}
