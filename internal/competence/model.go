package competence

import (
	"math"
)

// Model is a Beta-Bernoulli estimate of how often a skill succeeds.
// The prior pseudo-counts keep the estimate strictly inside (0, 1).
type Model struct {
	name      string
	alpha     float64
	beta      float64
	successes int
	n         int
}

func NewModel(name string, alpha, beta float64) *Model {
	return &Model{name: name, alpha: alpha, beta: beta}
}

func (m *Model) Name() string {
	return m.name
}

func (m *Model) Observe(success bool) {
	m.n++
	if success {
		m.successes++
	}
}

func (m *Model) Observations() int {
	return m.n
}

func (m *Model) Successes() int {
	return m.successes
}

// CurrentCompetence is the posterior mean over the full history.
func (m *Model) CurrentCompetence() float64 {
	return (m.alpha + float64(m.successes)) / (m.alpha + m.beta + float64(m.n))
}

// PredictCompetence is the expected posterior mean after lookahead more
// attempts. The hypothetical outcomes succeed at the larger of the empirical
// rate and the current competence, so the prediction never drops below the
// current estimate and grows with lookahead.
func (m *Model) PredictCompetence(lookahead int) float64 {
	current := m.CurrentCompetence()
	if lookahead <= 0 {
		return current
	}
	if m.n == 0 {
		return current
	}
	rate := float64(m.successes) / float64(m.n)
	if rate <= current {
		return current
	}
	k := float64(lookahead)
	w := m.alpha + m.beta + float64(m.n)
	return (w*current + k*rate) / (w + k)
}

// Cost converts a competence into a planning cost.
func Cost(competence float64) float64 {
	return -math.Log(competence)
}

// DefaultCost is the cost of an operator that has never been tried.
func DefaultCost(alpha, beta float64) float64 {
	return Cost(NewModel("", alpha, beta).CurrentCompetence())
}
