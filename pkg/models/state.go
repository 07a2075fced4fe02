package models

// Mode is the exploration controller state.
type Mode string

const (
	PursuingAssigned Mode = "pursuing_assigned"
	AssignedFinished Mode = "assigned_finished"
	Practicing       Mode = "practicing"
	RandomFallback   Mode = "random_fallback" // no goal reachable this decision
)
