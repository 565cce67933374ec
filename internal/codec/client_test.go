package codec

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region mock
type mockPolicyService struct {
	resp *structpb.Struct
	err  error

	got []*structpb.Struct
}

func (m *mockPolicyService) Predict(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.got = append(m.got, in)
	return m.resp, m.err
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

// #endregion mock

// #region client-tests
func TestNewPolicyClient_LazyDial(t *testing.T) {
	c, err := NewPolicyClient("localhost:0")
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestPredict_Move(t *testing.T) {
	mock := &mockPolicyService{resp: mustStruct(t, map[string]any{
		"kind": "move", "block": "C", "from": 0, "to": 2,
	})}
	c := NewPolicyClientWithService(mock)

	s := puzzle.NewState([]puzzle.Block{"A", "B", "C"}, nil, nil)
	a, err := c.Predict(context.Background(), "abc", s)
	require.NoError(t, err)
	assert.True(t, a.Equal(puzzle.Move("C", 0, 2)))

	require.Len(t, mock.got, 1)
	id, sent, err := DecodeState(mock.got[0])
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.True(t, sent.Equal(s))
	assert.NoError(t, c.Close())
}

func TestPredict_Stop(t *testing.T) {
	c := NewPolicyClientWithService(&mockPolicyService{resp: mustStruct(t, map[string]any{"kind": "STOP"})})
	a, err := c.ForPuzzle(puzzle.MustNew("x",
		puzzle.NewState([]puzzle.Block{"A"}, nil),
		puzzle.NewState(nil, []puzzle.Block{"A"}),
		nil,
	)).Predict(context.Background(), puzzle.NewState([]puzzle.Block{"A"}, nil))
	require.NoError(t, err)
	assert.True(t, a.IsStop())
}

func TestPredict_RPCError(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewPolicyClientWithService(&mockPolicyService{err: boom})
	_, err := c.Predict(context.Background(), "x", puzzle.NewState(nil))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "predict rpc")
}

func TestPredict_MalformedResponse(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown kind":   {"kind": "jump"},
		"missing to":     {"kind": "move", "block": "A", "from": 0},
		"fractional peg": {"kind": "move", "block": "A", "from": 0.5, "to": 1},
		"string peg":     {"kind": "move", "block": "A", "from": "0", "to": 1},
		"missing block":  {"kind": "move", "from": 0, "to": 1},
		"huge peg":       {"kind": "move", "block": "A", "from": 1e300, "to": 1},
		"negative huge":  {"kind": "move", "block": "A", "from": 0, "to": -1e19},
		"infinite peg":   {"kind": "move", "block": "A", "from": math.Inf(1), "to": 1},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewPolicyClientWithService(&mockPolicyService{resp: mustStruct(t, resp)})
			_, err := c.Predict(context.Background(), "x", puzzle.NewState(nil))
			assert.ErrorIs(t, err, ErrBadMessage)
			assert.ErrorIs(t, err, puzzle.ErrMalformedAction)
		})
	}
}

func TestDecodeState_Rejects(t *testing.T) {
	cases := map[string]map[string]any{
		"no id":       {"pegs": []any{}},
		"no pegs":     {"puzzle_id": "x"},
		"flat pegs":   {"puzzle_id": "x", "pegs": []any{"A"}},
		"number name": {"puzzle_id": "x", "pegs": []any{[]any{1}}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeState(mustStruct(t, msg))
			assert.ErrorIs(t, err, ErrBadMessage)
		})
	}
}

// #endregion client-tests

// #region end-to-end
func hanoi(t *testing.T) puzzle.Puzzle {
	t.Helper()
	p, err := puzzle.New("hanoi",
		puzzle.NewState([]puzzle.Block{"A", "B", "C"}, nil, nil),
		puzzle.NewState(nil, nil, []puzzle.Block{"A", "B", "C"}),
		puzzle.RankedBySequence("A", "B", "C"),
	)
	require.NoError(t, err)
	return p
}

// serve starts srv on an in-memory listener and returns a connected client.
func serve(t *testing.T, srv PolicyServiceServer) *PolicyClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterPolicyServer(gs, srv)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	c, err := NewPolicyClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRemoteOracle_SolvesHanoi(t *testing.T) {
	p := hanoi(t)
	srv, err := NewServer([]puzzle.Puzzle{p}, policy.OracleFactory(0), nil)
	require.NoError(t, err)
	c := serve(t, srv)

	e, err := rollout.NewEngine(rollout.DefaultConfig())
	require.NoError(t, err)
	tr, err := e.Run(context.Background(), c.ForPuzzle(p), p)
	require.NoError(t, err)
	assert.Equal(t, trajectory.Solved, tr.Outcome())
	assert.Equal(t, 8, tr.Len())
}

func TestServer_UnknownPuzzle(t *testing.T) {
	srv, err := NewServer([]puzzle.Puzzle{hanoi(t)}, policy.OracleFactory(0), nil)
	require.NoError(t, err)
	c := serve(t, srv)

	_, err = c.Predict(context.Background(), "missing", puzzle.NewState([]puzzle.Block{"A"}, nil))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_StateDoesNotFit(t *testing.T) {
	srv, err := NewServer([]puzzle.Puzzle{hanoi(t)}, policy.OracleFactory(0), nil)
	require.NoError(t, err)
	c := serve(t, srv)

	for name, st := range map[string]puzzle.State{
		"peg count":      puzzle.NewState([]puzzle.Block{"A"}, nil),
		"repeated block": puzzle.NewState([]puzzle.Block{"A", "A"}, []puzzle.Block{"B"}, nil),
		"unknown block":  puzzle.NewState([]puzzle.Block{"A", "B"}, []puzzle.Block{"X"}, nil),
		"breaks rule":    puzzle.NewState([]puzzle.Block{"C", "B", "A"}, nil, nil),
	} {
		_, err = c.Predict(context.Background(), "hanoi", st)
		assert.Equal(t, codes.InvalidArgument, status.Code(err), name)
	}
}

func TestServer_PolicyErrorIsFailedPrecondition(t *testing.T) {
	srv, err := NewServer([]puzzle.Puzzle{hanoi(t)}, func(puzzle.Puzzle) (policy.Policy, error) {
		return policy.NewScripted(false), nil
	}, nil)
	require.NoError(t, err)
	c := serve(t, srv)

	_, err = c.Predict(context.Background(), "hanoi", hanoi(t).Start())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServer_SharesOnePolicyPerPuzzle(t *testing.T) {
	built := 0
	srv, err := NewServer([]puzzle.Puzzle{hanoi(t)}, func(p puzzle.Puzzle) (policy.Policy, error) {
		built++
		return policy.NewScripted(true, puzzle.Move("C", 0, 2), puzzle.Move("B", 0, 1)), nil
	}, nil)
	require.NoError(t, err)

	start := mustState(t, "hanoi", hanoi(t).Start())
	first, err := srv.Predict(context.Background(), start)
	require.NoError(t, err)
	second, err := srv.Predict(context.Background(), start)
	require.NoError(t, err)

	assert.Equal(t, 1, built)
	assert.Equal(t, "C", first.GetFields()["block"].GetStringValue())
	assert.Equal(t, "B", second.GetFields()["block"].GetStringValue())
}

func TestNewServer_RejectsDuplicates(t *testing.T) {
	_, err := NewServer([]puzzle.Puzzle{hanoi(t), hanoi(t)}, policy.OracleFactory(0), nil)
	assert.Error(t, err)
}

func mustState(t *testing.T, id string, s puzzle.State) *structpb.Struct {
	t.Helper()
	msg, err := EncodeState(id, s)
	require.NoError(t, err)
	return msg
}

// #endregion end-to-end
