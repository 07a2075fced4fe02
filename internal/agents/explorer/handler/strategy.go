package handler

import (
	"fmt"
	"math"
)

// TaskStrategy selects what the explorer does once the assigned task is finished.
type TaskStrategy int

const (
	// Repeat cycles through the seen tasks, alternating goals and initial states.
	Repeat TaskStrategy = iota
	// SuccessRate practices operators with low success rate and few trials.
	SuccessRate
	// PlanningProgress practices the operator whose improvement most lowers plan costs.
	PlanningProgress
	// Random scores operators uniformly.
	Random
)

func (s TaskStrategy) String() string {
	switch s {
	case Repeat:
		return "task_repeat"
	case SuccessRate:
		return "success_rate"
	case PlanningProgress:
		return "planning_progress"
	case Random:
		return "random"
	}
	return fmt.Sprintf("TaskStrategy(%d)", int(s))
}

func ParseTaskStrategy(s string) (TaskStrategy, error) {
	switch s {
	case "task_repeat", "repeat":
		return Repeat, nil
	case "success_rate":
		return SuccessRate, nil
	case "planning_progress":
		return PlanningProgress, nil
	case "random":
		return Random, nil
	}
	return 0, fmt.Errorf("unrecognized explore task strategy: %q", s)
}

// Practices reports whether the strategy practices operators after the assigned task.
func (s TaskStrategy) Practices() bool {
	return s != Repeat
}

// successRateScore favors operators that fail often and have been tried
// little: (1 - rate) plus a UCB bonus.
func successRateScore(history []bool, totalTrials int, bonus float64) float64 {
	n := len(history)
	if n == 0 {
		return math.Inf(1)
	}
	s := 0
	for _, ok := range history {
		if ok {
			s++
		}
	}
	rate := float64(s) / float64(n)
	ucb := bonus * math.Sqrt(math.Log(float64(totalTrials))/float64(n))
	return (1.0 - rate) + ucb
}
