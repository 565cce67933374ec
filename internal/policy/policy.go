package policy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region concurrency
// IsConcurrencySafe reports the declared contract of p. Undeclared means unsafe.
func IsConcurrencySafe(p Policy) bool {
	c, ok := p.(Concurrency)
	return ok && c.ConcurrencySafe()
}

// Shared returns a factory handing the same instance to every rollout.
// Unsafe policies are wrapped in Synchronized first.
func Shared(p Policy) Factory {
	if !IsConcurrencySafe(p) {
		p = Synchronized(p)
	}
	return func(puzzle.Puzzle) (Policy, error) { return p, nil }
}

type synchronized struct {
	mu    sync.Mutex
	inner Policy
}

// Synchronized serializes calls to p behind a mutex.
func Synchronized(p Policy) Policy {
	if s, ok := p.(*synchronized); ok {
		return s
	}
	return &synchronized{inner: p}
}

func (s *synchronized) Predict(ctx context.Context, st puzzle.State) (puzzle.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Predict(ctx, st)
}

func (s *synchronized) ConcurrencySafe() bool { return true }

// #endregion concurrency

// #region constant
type constant struct{ action puzzle.Action }

// Constant always predicts a. Constant(puzzle.Stop()) is the always-STOP baseline.
func Constant(a puzzle.Action) Policy { return constant{action: a} }

func (c constant) Predict(ctx context.Context, _ puzzle.State) (puzzle.Action, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.Action{}, err
	}
	return c.action, nil
}

func (c constant) ConcurrencySafe() bool { return true }

// #endregion constant

// #region scripted
// Scripted replays a fixed action sequence regardless of the state it is
// shown. It carries a cursor and is not safe for concurrent use.
type Scripted struct {
	actions []puzzle.Action
	loop    bool
	next    int
}

// NewScripted returns a policy emitting actions in order. Once exhausted it
// returns ErrScriptExhausted unless loop is set, in which case it wraps around.
func NewScripted(loop bool, actions ...puzzle.Action) *Scripted {
	return &Scripted{actions: append([]puzzle.Action(nil), actions...), loop: loop}
}

func (s *Scripted) Predict(ctx context.Context, _ puzzle.State) (puzzle.Action, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.Action{}, err
	}
	if s.next >= len(s.actions) {
		if !s.loop || len(s.actions) == 0 {
			return puzzle.Action{}, fmt.Errorf("after %d actions: %w", s.next, ErrScriptExhausted)
		}
		s.next = 0
	}
	a := s.actions[s.next]
	s.next++
	return a, nil
}

// Calls returns how many actions have been served since the last wrap.
func (s *Scripted) Calls() int { return s.next }

// #endregion scripted

// #region oracle
type oracle struct {
	p     puzzle.Puzzle
	limit int
}

// Oracle returns a policy that plays the first move of a shortest plan from
// whatever state it is shown, and STOP at the goal. It is stateless.
func Oracle(p puzzle.Puzzle, limit int) Policy {
	if limit <= 0 {
		limit = puzzle.DefaultSolveLimit
	}
	return oracle{p: p, limit: limit}
}

// OracleFactory builds one oracle per puzzle.
func OracleFactory(limit int) Factory {
	return func(p puzzle.Puzzle) (Policy, error) { return Oracle(p, limit), nil }
}

func (o oracle) Predict(ctx context.Context, s puzzle.State) (puzzle.Action, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.Action{}, err
	}
	plan, err := o.p.Solve(s, o.limit)
	if err != nil {
		return puzzle.Action{}, fmt.Errorf("oracle %s from %s: %w: %v", o.p.ID(), s, ErrNoPlan, err)
	}
	return plan[0], nil
}

func (o oracle) ConcurrencySafe() bool { return true }

// #endregion oracle

// #region random
// Random picks uniformly among the legal moves of the state it is shown, and
// STOP with probability stopRate. It never emits an illegal move. Each
// instance owns its generator and is not safe for concurrent use.
type Random struct {
	p        puzzle.Puzzle
	rng      *rand.Rand
	stopRate float64
}

// NewRandom returns a seeded random policy for p.
func NewRandom(p puzzle.Puzzle, seed int64, stopRate float64) *Random {
	return &Random{p: p, rng: rand.New(rand.NewSource(seed)), stopRate: stopRate}
}

// RandomFactory derives a distinct, reproducible seed per puzzle from base.
func RandomFactory(base int64, stopRate float64) Factory {
	return func(p puzzle.Puzzle) (Policy, error) {
		seed := base
		for _, c := range p.ID() {
			seed = seed*31 + int64(c)
		}
		return NewRandom(p, seed, stopRate), nil
	}
}

func (r *Random) Predict(ctx context.Context, s puzzle.State) (puzzle.Action, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.Action{}, err
	}
	if r.rng.Float64() < r.stopRate {
		return puzzle.Stop(), nil
	}
	moves := r.p.LegalMoves(s)
	if len(moves) == 0 {
		return puzzle.Stop(), nil
	}
	return moves[r.rng.Intn(len(moves))], nil
}

// #endregion random
