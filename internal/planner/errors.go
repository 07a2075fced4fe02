package planner

import "errors"

var (
	// ErrPlanningFailure means no operator sequence connects the initial state to the goal.
	ErrPlanningFailure = errors.New("planning failure")

	// ErrPlanningTimeout means the search exceeded its time budget.
	ErrPlanningTimeout = errors.New("planning timeout")
)

// IsRecoverable reports whether err is one of the planning errors callers
// are expected to handle by trying another goal.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrPlanningFailure) || errors.Is(err, ErrPlanningTimeout)
}
