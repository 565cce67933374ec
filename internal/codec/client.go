package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region service
const (
	serviceName   = "rolleval.v1.PolicyService"
	predictMethod = "/" + serviceName + "/Predict"
)

// PolicyServiceClient is the client side of the Predict RPC. Requests and
// responses are google.protobuf.Struct messages.
type PolicyServiceClient interface {
	Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type policyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPolicyServiceClient binds the Predict RPC to a connection.
func NewPolicyServiceClient(cc grpc.ClientConnInterface) PolicyServiceClient {
	return &policyServiceClient{cc: cc}
}

func (c *policyServiceClient) Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, predictMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service

// #region client-struct
// PolicyClient talks to a policy served over gRPC.
type PolicyClient struct {
	conn   *grpc.ClientConn
	client PolicyServiceClient
}

// #endregion client-struct

// #region constructor
// NewPolicyClient connects to a remote policy server.
func NewPolicyClient(addr string, opts ...grpc.DialOption) (*PolicyClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &PolicyClient{
		conn:   conn,
		client: NewPolicyServiceClient(conn),
	}, nil
}

// NewPolicyClientWithService creates a PolicyClient with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewPolicyClientWithService(svc PolicyServiceClient) *PolicyClient {
	return &PolicyClient{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *PolicyClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region predict
// Predict asks the remote policy for its action in s.
func (c *PolicyClient) Predict(ctx context.Context, puzzleID string, s puzzle.State) (puzzle.Action, error) {
	req, err := EncodeState(puzzleID, s)
	if err != nil {
		return puzzle.Action{}, fmt.Errorf("encode state: %w", err)
	}
	resp, err := c.client.Predict(ctx, req)
	if err != nil {
		return puzzle.Action{}, fmt.Errorf("predict rpc: %w", err)
	}
	a, err := DecodeAction(resp)
	if err != nil {
		return puzzle.Action{}, fmt.Errorf("predict response: %w", err)
	}
	return a, nil
}

// ForPuzzle binds the client to one puzzle so it satisfies policy.Policy.
// The binding is safe for concurrent use.
func (c *PolicyClient) ForPuzzle(p puzzle.Puzzle) policy.Policy {
	return remote{client: c, puzzleID: p.ID()}
}

// Factory returns a policy.Factory over ForPuzzle.
func (c *PolicyClient) Factory() policy.Factory {
	return func(p puzzle.Puzzle) (policy.Policy, error) { return c.ForPuzzle(p), nil }
}

type remote struct {
	client   *PolicyClient
	puzzleID string
}

func (r remote) Predict(ctx context.Context, s puzzle.State) (puzzle.Action, error) {
	return r.client.Predict(ctx, r.puzzleID, s)
}

func (r remote) ConcurrencySafe() bool { return true }

// #endregion predict
