package puzzle

import (
	"errors"
	"fmt"
)

// ErrNoSolution is returned when the goal is unreachable within the search limit.
var ErrNoSolution = errors.New("no solution")

// DefaultSolveLimit bounds the number of states a search may expand.
const DefaultSolveLimit = 1 << 18

// #region solve
type searchEdge struct {
	parent string
	move   Action
}

// Solve finds a shortest plan from `from` to the puzzle's goal by
// breadth-first search. The plan ends with STOP. Moves are expanded in
// (from, to) order, so the result is deterministic. limit <= 0 uses
// DefaultSolveLimit.
func (p Puzzle) Solve(from State, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = DefaultSolveLimit
	}
	if from.NumPegs() != p.NumPegs() {
		return nil, fmt.Errorf("%w: state has %d pegs, puzzle %s has %d",
			ErrMalformedAction, from.NumPegs(), p.id, p.NumPegs())
	}
	if p.IsGoal(from) {
		return []Action{Stop()}, nil
	}

	visited := map[string]searchEdge{from.Key(): {}}
	queue := []State{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, m := range p.LegalMoves(cur) {
			next, _, err := p.Apply(cur, m)
			if err != nil {
				return nil, err
			}
			if _, seen := visited[next.Key()]; seen {
				continue
			}
			visited[next.Key()] = searchEdge{parent: cur.Key(), move: m}
			if p.IsGoal(next) {
				return unwind(visited, from.Key(), next.Key()), nil
			}
			if len(visited) >= limit {
				return nil, fmt.Errorf("%w: %s: search limit %d reached", ErrNoSolution, p.id, limit)
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w: %s: goal unreachable", ErrNoSolution, p.id)
}

func unwind(visited map[string]searchEdge, root, leaf string) []Action {
	var rev []Action
	for k := leaf; k != root; k = visited[k].parent {
		rev = append(rev, visited[k].move)
	}
	plan := make([]Action, 0, len(rev)+1)
	for i := len(rev) - 1; i >= 0; i-- {
		plan = append(plan, rev[i])
	}
	return append(plan, Stop())
}

// #endregion solve
