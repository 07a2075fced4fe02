package competence

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-tamp/pkg/models"
	"math"
	"math/rand/v2"
	"testing"
)

func TestModel_CurrentCompetenceStaysInsideUnitInterval(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
	}{
		{name: "empty", outcomes: nil},
		{name: "all failures", outcomes: []bool{false, false, false, false, false}},
		{name: "all successes", outcomes: []bool{true, true, true, true, true}},
		{name: "mixed", outcomes: []bool{true, false, true, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel("op", 1, 1)
			for _, o := range tt.outcomes {
				m.Observe(o)
				c := m.CurrentCompetence()
				assert.Greater(t, c, 0.0)
				assert.Less(t, c, 1.0)
			}
			assert.Equal(t, len(tt.outcomes), m.Observations())
		})
	}
}

func TestModel_ConvergesToEmpiricalRate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	m := NewModel("op", 2, 3)
	successes := 0
	for i := 0; i < 20000; i++ {
		ok := rng.Float64() < 0.7
		if ok {
			successes++
		}
		m.Observe(ok)
	}
	empirical := float64(successes) / 20000
	assert.InDelta(t, empirical, m.CurrentCompetence(), 1e-3)
}

func TestModel_PredictCompetence(t *testing.T) {
	for _, rate := range []int{0, 1, 3, 5, 9, 10} {
		m := NewModel("op", 1, 1)
		for i := 0; i < 10; i++ {
			m.Observe(i < rate)
		}
		require.Equal(t, m.CurrentCompetence(), m.PredictCompetence(0))
		prev := m.PredictCompetence(0)
		for k := 1; k <= 50; k++ {
			p := m.PredictCompetence(k)
			assert.GreaterOrEqual(t, p, prev, "rate %d lookahead %d", rate, k)
			assert.Greater(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			prev = p
		}
	}
}

func TestDefaultCost(t *testing.T) {
	assert.InDelta(t, math.Log(2), DefaultCost(1, 1), 1e-12)
	assert.InDelta(t, -math.Log(0.25), DefaultCost(1, 3), 1e-12)
}

func TestLedger_RecordKeepsModelInSync(t *testing.T) {
	l := NewLedger(1, 1)
	op := models.OperatorKey("PickUp(block1)")
	for i := 0; i < 7; i++ {
		l.Record(op, i%2 == 0)
	}
	require.Len(t, l.History(op), 7)
	m, ok := l.Model(op)
	require.True(t, ok)
	assert.Equal(t, 7, m.Observations())
	assert.Equal(t, 4, m.Successes())
	assert.Equal(t, 7, l.TotalTrials())
	assert.InDelta(t, 4.0/7.0, l.SuccessRate(op), 1e-12)

	_, ok = l.Model("Unknown()")
	assert.False(t, ok)
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := NewLedger(1, 1)
	l.Record("A()", true)
	l.Record("A()", false)
	l.Record("B(x)", true)

	restored := NewLedger(1, 1)
	restored.Restore(l.Snapshot())
	assert.Equal(t, l.Operators(), restored.Operators())
	assert.Equal(t, l.Costs(), restored.Costs())

	// the snapshot is a copy
	snap := l.Snapshot()
	snap["A()"][0] = false
	assert.True(t, l.History("A()")[0])
}
