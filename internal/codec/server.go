package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/rollout-eval/internal/logging"
	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region registration
// PolicyServiceServer is the server side of the Predict RPC.
type PolicyServiceServer interface {
	Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var policyServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PolicyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rolleval/v1/policy.proto",
}

// RegisterPolicyServer exposes srv on s.
func RegisterPolicyServer(s grpc.ServiceRegistrar, srv PolicyServiceServer) {
	s.RegisterService(&policyServiceDesc, srv)
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PolicyServiceServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PolicyServiceServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion registration

// #region server
// Server answers Predict for a fixed catalog of puzzles, with one policy per
// puzzle built lazily from a factory.
type Server struct {
	puzzles map[string]puzzle.Puzzle
	factory policy.Factory
	logger  *slog.Logger

	mu       sync.Mutex
	policies map[string]policy.Policy
}

// NewServer indexes puzzles by id. Duplicate ids are rejected.
func NewServer(puzzles []puzzle.Puzzle, factory policy.Factory, logger *slog.Logger) (*Server, error) {
	s := &Server{
		puzzles:  make(map[string]puzzle.Puzzle, len(puzzles)),
		factory:  factory,
		logger:   logging.OrDiscard(logger),
		policies: make(map[string]policy.Policy),
	}
	for _, p := range puzzles {
		if _, dup := s.puzzles[p.ID()]; dup {
			return nil, fmt.Errorf("duplicate puzzle id %q", p.ID())
		}
		s.puzzles[p.ID()] = p
	}
	return s, nil
}

// Predict implements PolicyServiceServer.
func (s *Server) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, st, err := DecodeState(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p, ok := s.puzzles[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown puzzle %q", id)
	}
	if err := p.ValidState(st); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	pol, err := s.policyFor(p)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "policy for %s: %v", id, err)
	}
	a, err := pol.Predict(ctx, st)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		s.logger.Warn("predict failed", "puzzle_id", id, "error", err)
		return nil, status.Errorf(codes.FailedPrecondition, "predict %s: %v", id, err)
	}
	out, err := EncodeAction(a)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode action: %v", err)
	}
	s.logger.Debug("predict", "puzzle_id", id, "state", st.String(), "action", a.String())
	return out, nil
}

func (s *Server) policyFor(p puzzle.Puzzle) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pol, ok := s.policies[p.ID()]; ok {
		return pol, nil
	}
	pol, err := s.factory(p)
	if err != nil {
		return nil, err
	}
	if !policy.IsConcurrencySafe(pol) {
		pol = policy.Synchronized(pol)
	}
	s.policies[p.ID()] = pol
	return pol, nil
}

// #endregion server
