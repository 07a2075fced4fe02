package competence

import (
	"go-tamp/pkg/models"
	"sort"
)

// Ledger is the execution history of every ground operator that has been
// tried, together with its competence model. Histories are append-only.
//
// A Ledger is not safe for concurrent use; it is owned by one exploration
// episode at a time and handed back to the caller afterwards.
type Ledger struct {
	alpha   float64
	beta    float64
	history map[models.OperatorKey][]bool
	models  map[models.OperatorKey]*Model
}

func NewLedger(alpha, beta float64) *Ledger {
	return &Ledger{
		alpha:   alpha,
		beta:    beta,
		history: map[models.OperatorKey][]bool{},
		models:  map[models.OperatorKey]*Model{},
	}
}

// Record appends one outcome and keeps the operator's model in sync.
func (l *Ledger) Record(op models.OperatorKey, success bool) {
	l.history[op] = append(l.history[op], success)
	m, ok := l.models[op]
	if !ok {
		m = NewModel(string(op), l.alpha, l.beta)
		l.models[op] = m
	}
	m.Observe(success)
}

func (l *Ledger) History(op models.OperatorKey) []bool {
	return l.history[op]
}

func (l *Ledger) Model(op models.OperatorKey) (*Model, bool) {
	m, ok := l.models[op]
	return m, ok
}

func (l *Ledger) Len() int {
	return len(l.history)
}

// Operators returns the keys of all tried operators in lexical order.
func (l *Ledger) Operators() []models.OperatorKey {
	keys := make([]models.OperatorKey, 0, len(l.history))
	for k := range l.history {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (l *Ledger) TotalTrials() int {
	total := 0
	for _, h := range l.history {
		total += len(h)
	}
	return total
}

// SuccessRate is the empirical success rate; zero for untried operators.
func (l *Ledger) SuccessRate(op models.OperatorKey) float64 {
	h := l.history[op]
	if len(h) == 0 {
		return 0
	}
	s := 0
	for _, ok := range h {
		if ok {
			s++
		}
	}
	return float64(s) / float64(len(h))
}

// Costs maps every modelled operator to -log(current competence).
func (l *Ledger) Costs() map[models.OperatorKey]float64 {
	costs := make(map[models.OperatorKey]float64, len(l.models))
	for k, m := range l.models {
		costs[k] = Cost(m.CurrentCompetence())
	}
	return costs
}

func (l *Ledger) DefaultCost() float64 {
	return DefaultCost(l.alpha, l.beta)
}

func (l *Ledger) Summary(lookahead int) []models.OperatorSummary {
	res := make([]models.OperatorSummary, 0, len(l.models))
	for _, k := range l.Operators() {
		m := l.models[k]
		res = append(res, models.OperatorSummary{
			Operator:     k,
			Attempts:     m.Observations(),
			Successes:    m.Successes(),
			Competence:   m.CurrentCompetence(),
			Extrapolated: m.PredictCompetence(lookahead),
		})
	}
	return res
}

// Snapshot copies the histories for persistence.
func (l *Ledger) Snapshot() map[models.OperatorKey][]bool {
	snap := make(map[models.OperatorKey][]bool, len(l.history))
	for k, h := range l.history {
		snap[k] = append([]bool(nil), h...)
	}
	return snap
}

// Restore replays a snapshot into an empty ledger.
func (l *Ledger) Restore(snap map[models.OperatorKey][]bool) {
	for k, h := range snap {
		for _, ok := range h {
			l.Record(k, ok)
		}
	}
}
