package handler

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-tamp/internal/competence"
	"go-tamp/internal/planner"
	"go-tamp/pkg/envs/blocks"
	"go-tamp/pkg/models"
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

type recorder struct {
	modes    []models.Mode
	outcomes []models.SkillOutcome
	plans    int
}

func (r *recorder) OutcomeRecorded(op models.OperatorKey, success bool, _ float64) {
	r.outcomes = append(r.outcomes, models.SkillOutcome{Operator: op, Success: success})
}

func (r *recorder) ModeChanged(mode models.Mode) {
	r.modes = append(r.modes, mode)
}

func (r *recorder) Planned(planner.Metrics, error) {
	r.plans++
}

type sink struct {
	data []Datum
}

func (s *sink) SaveDatum(_ context.Context, d Datum) error {
	s.data = append(s.data, d)
	return nil
}

func testConfig(strategy TaskStrategy) Config {
	return Config{
		Strategy:         strategy,
		Bonus:            0.1,
		Horizon:          10,
		MaxOptionSteps:   10,
		MaxReplanRetries: 1,
		ReplanFrequency:  3,
		MaxReplanTasks:   4,
		MaxScoringTasks:  4,
		Lookahead:        5,
		Seed:             1,
		PlanningTimeout:  time.Second,
		Heuristic:        planner.HMax,
	}
}

func newEnv(t *testing.T, cfg blocks.Config) *blocks.Env {
	t.Helper()
	env, err := blocks.New(cfg)
	require.NoError(t, err)
	return env
}

func operatorKey(t *testing.T, env *blocks.Env, name string, block int) models.OperatorKey {
	t.Helper()
	for _, op := range env.Domain().Operators {
		if op.Name == name && op.Objects[0] == env.Block(block) {
			return op.Key()
		}
	}
	t.Fatalf("no operator %s for block%d", name, block)
	return ""
}

// act runs one decision step and applies the action to the environment.
func act(t *testing.T, ep *Episode, env *blocks.Env, state models.State) (models.State, error) {
	t.Helper()
	a, err := ep.Act(context.Background(), state)
	if err != nil {
		return state, err
	}
	next, err := env.Step(state, a)
	require.NoError(t, err)
	return next, nil
}

func TestEpisode_ReachesAssignedGoal(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1})
	obs := &recorder{}
	ledger := competence.NewLedger(1, 1)
	e := New(testConfig(SuccessRate), env.Domain(), env.TrainTasks(), ledger, nil, WithObserver(obs))

	ep := e.ExplorationStrategy(0)
	assert.Equal(t, models.PursuingAssigned, ep.Mode())

	state := env.Reset(0)
	var err error
	for i := 0; i < 2; i++ {
		state, err = act(t, ep, env, state)
		require.NoError(t, err)
	}
	assert.True(t, env.TrainTasks()[0].GoalHolds(state))
	assert.Equal(t, 2, ep.SkillsStarted())

	// nothing applies once the block is on the table
	_, err = act(t, ep, env, state)
	assert.ErrorIs(t, err, ErrNoApplicableSkill)
	assert.True(t, ep.AssignedFinished())
	assert.Contains(t, obs.modes, models.AssignedFinished)

	pick := operatorKey(t, env, "PickUp", 1)
	put := operatorKey(t, env, "PutOnTable", 1)
	assert.Equal(t, []bool{true}, ledger.History(pick))
	assert.Equal(t, []bool{true}, ledger.History(put))
	assert.Equal(t, []models.SkillOutcome{{Operator: pick, Success: true}, {Operator: put, Success: true}}, ep.History())
	assert.True(t, e.SeenTrainTasks()[0])
}

func TestEpisode_ReplansAfterOptionFailure(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1, IncludePush: true, Broken: []string{"Push"}})
	push := operatorKey(t, env, "Push", 1)
	pick := operatorKey(t, env, "PickUp", 1)
	put := operatorKey(t, env, "PutOnTable", 1)

	ledger := competence.NewLedger(1, 1)
	ledger.Record(push, true)
	for i := 0; i < 3; i++ {
		ledger.Record(pick, true)
		ledger.Record(put, true)
	}
	e := New(testConfig(SuccessRate), env.Domain(), env.TrainTasks(), ledger, nil)
	ep := e.ExplorationStrategy(0)

	_, err := ep.Act(context.Background(), env.Reset(0))
	require.NoError(t, err)

	assert.Equal(t, []models.SkillOutcome{{Operator: push, Success: false}}, ep.History())
	assert.Equal(t, []bool{true, false}, ledger.History(push))
	require.NotNil(t, ep.executor.Current())
	assert.Equal(t, pick, ep.executor.Current().Skill.Op.Key())
	assert.Equal(t, 2, ep.SkillsStarted())
}

func TestEpisode_RandomSkillAfterReplanRetries(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1, IncludePush: true, Broken: []string{"Push"}})
	push := operatorKey(t, env, "Push", 1)
	pick := operatorKey(t, env, "PickUp", 1)
	ledger := competence.NewLedger(1, 1)
	e := New(testConfig(SuccessRate), env.Domain(), env.TrainTasks(), ledger, nil)
	ep := e.ExplorationStrategy(0)

	// Push stays the cheapest plan after one failure, so both retries pick it
	state, err := act(t, ep, env, env.Reset(0))
	require.NoError(t, err)
	assert.Equal(t, []models.SkillOutcome{{Operator: push, Success: false}, {Operator: push, Success: false}}, ep.History())
	assert.Equal(t, models.RandomFallback, ep.Mode())
	require.NotNil(t, ep.executor.Current())
	assert.Equal(t, pick, ep.executor.Current().Skill.Op.Key())
	assert.Equal(t, 3, ep.SkillsStarted())

	state, err = act(t, ep, env, state)
	require.NoError(t, err)
	assert.True(t, env.TrainTasks()[0].GoalHolds(state))
}

func TestEpisode_NoWorkingSkillEndsWithoutExecutionFailure(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1, IncludePush: true, Broken: []string{"Push", "PickUp"}})
	push := operatorKey(t, env, "Push", 1)
	pick := operatorKey(t, env, "PickUp", 1)
	e := New(testConfig(SuccessRate), env.Domain(), env.TrainTasks(), competence.NewLedger(1, 1), nil)
	ep := e.ExplorationStrategy(0)

	_, err := ep.Act(context.Background(), env.Reset(0))
	require.ErrorIs(t, err, ErrNoApplicableSkill)
	assert.NotErrorIs(t, err, models.ErrOptionExecutionFailure)
	assert.Equal(t, []models.SkillOutcome{
		{Operator: push, Success: false},
		{Operator: push, Success: false},
		{Operator: pick, Success: false},
	}, ep.History())
}

func TestEpisode_PracticesWithExplorerSampler(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1, PlaceThreshold: 2})
	env.Domain().ExplorerSamplers["PutOnTable"] = func(models.State, models.AtomSet, *rand.Rand, []models.Object) []float64 {
		return []float64{42}
	}
	pick := operatorKey(t, env, "PickUp", 1)
	put := operatorKey(t, env, "PutOnTable", 1)
	ledger := competence.NewLedger(1, 1)
	ledger.Record(put, false)
	cfg := testConfig(SuccessRate)
	cfg.Horizon = 0
	obs := &recorder{}
	e := New(cfg, env.Domain(), env.TrainTasks(), ledger, nil, WithObserver(obs))
	ep := e.ExplorationStrategy(0)

	// no horizon left: go straight to reaching PutOnTable's preconditions
	state, err := act(t, ep, env, env.Reset(0))
	require.NoError(t, err)
	assert.True(t, ep.AssignedFinished())
	assert.Equal(t, models.Practicing, ep.Mode())
	assert.Equal(t, pick, ep.executor.Current().Skill.Op.Key())
	require.NotNil(t, ep.nextPractice)
	assert.Equal(t, put, ep.nextPractice.Op.Key())

	state, err = act(t, ep, env, state)
	require.NoError(t, err)
	cur := ep.executor.Current()
	require.NotNil(t, cur)
	assert.Equal(t, put, cur.Skill.Op.Key())
	assert.Equal(t, []float64{42}, cur.Params)
	assert.Nil(t, ep.nextPractice)
	assert.Equal(t, models.Practicing, ep.Mode())
	assert.Contains(t, obs.modes, models.Practicing)
	assert.Equal(t, blocks.Table, state.(*blocks.State).Location("block1"))

	// the template keeps its own sampler
	params := env.Domain().NSRTs["PutOnTable"].Sampler(state, nil, rand.New(rand.NewPCG(1, 2)), nil)
	assert.NotEqual(t, []float64{42}, params)
}

func TestEpisode_OptionTimeoutRecordedOnce(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1})
	env.Domain().NSRTs["PickUp"].Option.Terminal = func(models.State, map[string]any, []models.Object, []float64) bool {
		return false
	}
	cfg := testConfig(SuccessRate)
	cfg.MaxOptionSteps = 2
	ledger := competence.NewLedger(1, 1)
	e := New(cfg, env.Domain(), env.TrainTasks(), ledger, nil)
	ep := e.ExplorationStrategy(0)

	state := env.Reset(0)
	var err error
	for i := 0; i < 2; i++ {
		state, err = act(t, ep, env, state)
		require.NoError(t, err)
	}
	_, err = act(t, ep, env, state)
	require.ErrorIs(t, err, models.ErrOptionTimeout)

	pick := operatorKey(t, env, "PickUp", 1)
	assert.Equal(t, []bool{true}, ledger.History(pick))

	// the next step starts a new skill without booking the old one again
	_, err = act(t, ep, env, state)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, ledger.History(pick))
	assert.Len(t, ep.History(), 1)

	ep.Finish(context.Background(), state)
	assert.Len(t, ep.History(), 2)
}

func TestEpisode_LedgerMatchesModels(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 2, PlaceThreshold: 0.5})
	ledger := competence.NewLedger(1, 1)
	e := New(testConfig(PlanningProgress), env.Domain(), env.TrainTasks(), ledger, nil)

	for task := 0; task < 2; task++ {
		ep := e.ExplorationStrategy(task)
		state := env.Reset(task)
		var err error
		for i := 0; i < 12 && err == nil; i++ {
			state, err = act(t, ep, env, state)
		}
		ep.Finish(context.Background(), state)
	}

	require.NotZero(t, ledger.Len())
	for _, op := range ledger.Operators() {
		m, ok := ledger.Model(op)
		require.True(t, ok)
		assert.Equal(t, len(ledger.History(op)), m.Observations(), op)
		c := m.CurrentCompetence()
		assert.True(t, c > 0 && c < 1, op)
	}
}

func TestEpisode_SavesEveryDatum(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1})
	s := &sink{}
	cfg := testConfig(SuccessRate)
	cfg.SaveEveryDatum = true
	e := New(cfg, env.Domain(), env.TrainTasks(), competence.NewLedger(1, 1), nil, WithDatumSink(s))
	ep := e.ExplorationStrategy(0)

	state := env.Reset(0)
	var err error
	for i := 0; i < 2; i++ {
		state, err = act(t, ep, env, state)
		require.NoError(t, err)
	}
	ep.Finish(context.Background(), state)

	require.Len(t, s.data, 2)
	assert.Equal(t, "PickUp", s.data[0].Template)
	assert.Equal(t, []string{"block1"}, s.data[0].Objects)
	assert.Len(t, s.data[0].Input, 1)
	assert.Equal(t, "PutOnTable", s.data[1].Template)
	assert.Len(t, s.data[1].Input, 3)
	assert.True(t, s.data[1].Success)
}

func TestEpisode_RepeatFallsBackToRandom(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 2})
	obs := &recorder{}
	e := New(testConfig(Repeat), env.Domain(), env.TrainTasks(), competence.NewLedger(1, 1), nil, WithObserver(obs))
	ep := e.ExplorationStrategy(0)

	state := env.Reset(0)
	var err error
	for i := 0; i < 3; i++ {
		state, err = act(t, ep, env, state)
		require.NoError(t, err)
	}
	// the initial state is unreachable, so block2 gets picked up at random
	assert.True(t, ep.AssignedFinished())
	assert.Equal(t, models.RandomFallback, ep.Mode())
	assert.Equal(t, blocks.Held, state.(*blocks.State).Location("block2"))
}

func TestExplorer_SuccessRatePracticesWeakOperator(t *testing.T) {
	ledger := competence.NewLedger(1, 1)
	for i := 0; i < 10; i++ {
		ledger.Record("strong", i < 9)
		ledger.Record("weak", i < 1)
	}
	env := newEnv(t, blocks.Config{Blocks: 1})
	e := New(testConfig(SuccessRate), env.Domain(), env.TrainTasks(), ledger, nil)

	weakFirst := 0
	for i := 0; i < 20; i++ {
		if e.practiceOrder(context.Background())[0] == "weak" {
			weakFirst++
		}
	}
	assert.Equal(t, 20, weakFirst)
}

func TestExplorer_PlanningProgressSkipsPerfectOperators(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1})
	pick := operatorKey(t, env, "PickUp", 1)
	put := operatorKey(t, env, "PutOnTable", 1)
	ledger := competence.NewLedger(1, 1)
	ledger.Record(pick, true)
	ledger.Record(pick, true)
	ledger.Record(put, true)
	ledger.Record(put, false)

	e := New(testConfig(PlanningProgress), env.Domain(), env.TrainTasks(), ledger, map[int]bool{0: true})
	assert.True(t, math.IsInf(e.score(context.Background(), pick), -1))

	s := e.score(context.Background(), put)
	assert.False(t, math.IsInf(s, 0))
	assert.Less(t, s, 0.0)
	assert.Equal(t, []models.OperatorKey{put, pick}, e.practiceOrder(context.Background()))
}

func TestStrategy_SuccessRateScore(t *testing.T) {
	assert.True(t, math.IsInf(successRateScore(nil, 5, 1), 1))
	assert.InDelta(t, 0.5, successRateScore([]bool{true, false}, 2, 0), 1e-9)
	assert.Greater(t, successRateScore([]bool{true}, 10, 1), successRateScore([]bool{true}, 2, 1))
}

func TestStrategy_Parse(t *testing.T) {
	for _, s := range []TaskStrategy{Repeat, SuccessRate, PlanningProgress, Random} {
		got, err := ParseTaskStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseTaskStrategy("curiosity")
	assert.Error(t, err)
	assert.False(t, Repeat.Practices())
	assert.True(t, PlanningProgress.Practices())
}

func TestPlanCache_ReturnsCachedPlanBetweenRefreshes(t *testing.T) {
	calls := 0
	op := &models.GroundOperator{Name: "Noop"}
	c := NewPlanCache(3,
		func(TaskID) (models.Task, bool) { return models.Task{}, true },
		func(context.Context, models.Task, map[models.OperatorKey]float64) ([]*models.GroundOperator, error) {
			calls++
			return []*models.GroundOperator{op}, nil
		})
	id := TaskID{Kind: TrainTask, Index: 0}

	first := c.GetOrRefresh(context.Background(), id, nil)
	for i := 0; i < 2; i++ {
		got := c.GetOrRefresh(context.Background(), id, nil)
		assert.Same(t, &first[0], &got[0])
	}
	assert.Equal(t, 1, calls)

	c.GetOrRefresh(context.Background(), id, nil)
	assert.Equal(t, 2, calls)
}

func TestPlanCache_FailedPlanIsCachedAsNil(t *testing.T) {
	calls := 0
	c := NewPlanCache(2,
		func(TaskID) (models.Task, bool) { return models.Task{}, true },
		func(context.Context, models.Task, map[models.OperatorKey]float64) ([]*models.GroundOperator, error) {
			calls++
			return nil, planner.ErrPlanningFailure
		})
	id := TaskID{Kind: ReplanTask, Index: 7}

	assert.Nil(t, c.GetOrRefresh(context.Background(), id, nil))
	assert.Nil(t, c.GetOrRefresh(context.Background(), id, nil))
	assert.Equal(t, 1, calls)
	assert.Nil(t, c.GetOrRefresh(context.Background(), id, nil))
	assert.Equal(t, 2, calls)

	c.Forget(id)
	c.GetOrRefresh(context.Background(), id, nil)
	assert.Equal(t, 3, calls)
}

func TestExplorer_EvictedReplanTasksLeaveCache(t *testing.T) {
	env := newEnv(t, blocks.Config{Blocks: 1})
	cfg := testConfig(SuccessRate)
	cfg.MaxReplanTasks = 1
	e := New(cfg, env.Domain(), env.TrainTasks(), competence.NewLedger(1, 1), nil)

	e.addReplanTask(env.TrainTasks()[0])
	first := TaskID{Kind: ReplanTask, Index: e.replanTasks.IDs()[0]}
	e.cache.GetOrRefresh(context.Background(), first, nil)
	require.Contains(t, e.cache.calls, first)

	e.addReplanTask(env.TrainTasks()[0])
	assert.NotContains(t, e.cache.calls, first)
	assert.Equal(t, 1, e.replanTasks.Len())
}
