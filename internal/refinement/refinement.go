package refinement

import (
	"context"
	"fmt"
	"go-tamp/pkg/models"
	"math/rand/v2"
)

// OptionPolicy hands out the next option to execute from the given state.
type OptionPolicy func(ctx context.Context, state models.State) (*models.Option, error)

// GreedyOptionPolicy executes the plan one skill at a time, sampling each
// skill's parameters when its step is reached.
//
// Before each step the atoms the rest of the plan relies on must hold: the
// step's preconditions plus, when atomsSeq is given, the atoms of the
// expected abstract state that later steps or the goal need. On a fresh
// plan (step 0) a violation is a broken planner/refiner contract and panics.
func GreedyOptionPolicy(plan []*models.GroundNSRT, goal models.AtomSet, rng *rand.Rand, atomsSeq []models.AtomSet) OptionPolicy {
	necessary := NecessaryAtoms(plan, goal, atomsSeq)
	step := 0
	return func(_ context.Context, state models.State) (*models.Option, error) {
		if step >= len(plan) {
			return nil, fmt.Errorf("%w: skill plan exhausted", models.ErrOptionExecutionFailure)
		}
		cur := plan[step]
		if !necessary[step].AllHold(state) {
			if step == 0 {
				panic(fmt.Sprintf("preconditions of %s do not hold at the start of a fresh plan", cur))
			}
			return nil, fmt.Errorf("%w: %s did not reach the atoms needed by %s", models.ErrOptionExecutionFailure, plan[step-1], cur)
		}
		step++
		opt := cur.SampleOption(state, goal, rng)
		if !opt.Initiable(state) {
			return nil, fmt.Errorf("%w: %s not initiable", models.ErrOptionExecutionFailure, opt)
		}
		return opt, nil
	}
}

// NecessaryAtoms returns, for each plan step, the atoms that must hold when
// the step begins.
func NecessaryAtoms(plan []*models.GroundNSRT, goal models.AtomSet, atomsSeq []models.AtomSet) []models.AtomSet {
	res := make([]models.AtomSet, len(plan))
	needed := goal.Clone()
	for i := len(plan) - 1; i >= 0; i-- {
		op := plan[i].Op
		needed = needed.Minus(op.AddEffects).Union(op.Preconditions)
		step := op.Preconditions.Clone()
		if i < len(atomsSeq) {
			for k, a := range atomsSeq[i] {
				if _, ok := needed[k]; ok {
					step[k] = a
				}
			}
		}
		res[i] = step
	}
	return res
}
