package models

import (
	"time"
)

type Episode struct {
	Mode          Mode           `json:"mode"`
	TrainTask     int            `json:"trainTask"`
	Steps         int            `json:"steps"`
	Budget        int            `json:"budget"`
	SkillsStarted int            `json:"skillsStarted"`
	History       []SkillOutcome `json:"history"`
	Done          bool           `json:"done"`
	Errs          Error          `json:"error,omitempty"`
}

type Status struct {
	Episode    Episode           `json:"episode"`
	Competence []OperatorSummary `json:"competence"`
}

type Error struct {
	Err     error      `json:"-"`
	Message string     `json:"message,omitempty"`
	Time    *time.Time `json:"time,omitempty"`
}

// SkillOutcome is one recorded skill termination.
type SkillOutcome struct {
	Operator OperatorKey `json:"operator"`
	Success  bool        `json:"success"`
}

type OperatorSummary struct {
	Operator     OperatorKey `json:"operator"`
	Attempts     int         `json:"attempts"`
	Successes    int         `json:"successes"`
	Competence   float64     `json:"competence"`
	Extrapolated float64     `json:"extrapolated"`
}
