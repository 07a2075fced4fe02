package planner

import (
	"fmt"
	"go-tamp/pkg/models"
	"math"
)

type Heuristic string

const (
	Blind     Heuristic = "blind"
	GoalCount Heuristic = "goal_count"
	HAdd      Heuristic = "hadd"
	// HMax is admissible, so search with it returns cost-optimal plans.
	HMax Heuristic = "hmax"
)

func ParseHeuristic(s string) (Heuristic, error) {
	switch h := Heuristic(s); h {
	case Blind, GoalCount, HAdd, HMax:
		return h, nil
	case "":
		return HMax, nil
	default:
		return "", fmt.Errorf("unknown task planning heuristic %q", s)
	}
}

type heuristicFn func(atoms models.AtomSet) float64

func newHeuristic(h Heuristic, goal models.AtomSet, ops []*models.GroundOperator, cost func(*models.GroundOperator) float64) heuristicFn {
	switch h {
	case GoalCount:
		return func(atoms models.AtomSet) float64 {
			return float64(len(goal.Minus(atoms)))
		}
	case HAdd:
		return func(atoms models.AtomSet) float64 {
			return relaxedCost(atoms, goal, ops, cost, sum)
		}
	case HMax:
		return func(atoms models.AtomSet) float64 {
			return relaxedCost(atoms, goal, ops, cost, math.Max)
		}
	default:
		return func(models.AtomSet) float64 { return 0 }
	}
}

func sum(a, b float64) float64 {
	return a + b
}

// relaxedCost computes the delete-relaxation cost of the goal, combining
// precondition costs with agg (max for hmax, sum for hadd).
func relaxedCost(atoms, goal models.AtomSet, ops []*models.GroundOperator, cost func(*models.GroundOperator) float64, agg func(a, b float64) float64) float64 {
	reached := make(map[string]float64, len(atoms))
	for k := range atoms {
		reached[k] = 0
	}
	for changed := true; changed; {
		changed = false
		for _, op := range ops {
			pre, ok := combine(op.Preconditions, reached, agg)
			if !ok {
				continue
			}
			c := pre + cost(op)
			for k := range op.AddEffects {
				if old, seen := reached[k]; !seen || c < old {
					reached[k] = c
					changed = true
				}
			}
		}
	}
	h, ok := combine(goal, reached, agg)
	if !ok {
		return math.Inf(1)
	}
	return h
}

func combine(atoms models.AtomSet, reached map[string]float64, agg func(a, b float64) float64) (float64, bool) {
	total := 0.0
	for k := range atoms {
		c, ok := reached[k]
		if !ok {
			return 0, false
		}
		total = agg(total, c)
	}
	return total, true
}
