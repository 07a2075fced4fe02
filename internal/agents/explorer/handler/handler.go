package handler

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog/log"
	"go-tamp/internal/competence"
	"go-tamp/internal/planner"
	"go-tamp/pkg/logger"
	"go-tamp/pkg/memory/buffer"
	"go-tamp/pkg/models"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// ErrNoApplicableSkill means not even random exploration could find a skill to run.
var ErrNoApplicableSkill = errors.New("no applicable skill")

type Config struct {
	Strategy TaskStrategy
	// Bonus is the UCB constant of the success rate strategy.
	Bonus float64
	// Horizon is the number of decisions spent on the assigned task.
	Horizon          int
	MaxOptionSteps   int
	MaxReplanRetries int
	ReplanFrequency  int
	MaxReplanTasks   int
	// MaxScoringTasks caps the seen train tasks used by planning progress.
	MaxScoringTasks int
	Lookahead       int
	SaveEveryDatum  bool
	Seed            uint64

	PlanningTimeout time.Duration
	Heuristic       planner.Heuristic
}

// Datum is one sampler training example emitted after a skill terminates.
type Datum struct {
	Operator models.OperatorKey `json:"operator"`
	Template string             `json:"template"`
	Objects  []string           `json:"objects"`
	Input    []float64          `json:"input"`
	Params   []float64          `json:"params"`
	Success  bool               `json:"success"`
	Time     time.Time          `json:"time"`
}

// DatumSink persists sampler data; where and how is up to the implementation.
type DatumSink interface {
	SaveDatum(ctx context.Context, d Datum) error
}

// Observer receives bookkeeping events, e.g. for metrics.
type Observer interface {
	OutcomeRecorded(op models.OperatorKey, success bool, competence float64)
	ModeChanged(mode models.Mode)
	Planned(metrics planner.Metrics, err error)
}

type Option func(*Explorer)

func WithDatumSink(s DatumSink) Option {
	return func(e *Explorer) { e.sink = s }
}

func WithObserver(o Observer) Option {
	return func(e *Explorer) { e.observer = o }
}

// Explorer owns everything that outlives a single episode: the ledger handed
// in by the caller, the seen train tasks, replanning tasks and the plan cache.
type Explorer struct {
	cfg         Config
	domain      *models.Domain
	trainTasks  []models.Task
	ledger      *competence.Ledger
	seen        map[int]bool
	replanTasks *buffer.Tasks
	cache       *PlanCache
	rng         *rand.Rand
	defaultCost float64
	sink        DatumSink
	observer    Observer

	lastSkill     *models.GroundNSRT
	lastOption    *models.Option
	lastInitState models.State
}

func New(cfg Config, domain *models.Domain, trainTasks []models.Task, ledger *competence.Ledger, seen map[int]bool, opts ...Option) *Explorer {
	if seen == nil {
		seen = map[int]bool{}
	}
	e := &Explorer{
		cfg:         cfg,
		domain:      domain,
		trainTasks:  trainTasks,
		ledger:      ledger,
		seen:        seen,
		replanTasks: buffer.New(cfg.MaxReplanTasks),
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		defaultCost: ledger.DefaultCost(),
	}
	e.cache = NewPlanCache(cfg.ReplanFrequency, e.resolveTask, e.taskPlan)
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Explorer) Ledger() *competence.Ledger {
	return e.ledger
}

func (e *Explorer) SeenTrainTasks() map[int]bool {
	return e.seen
}

func (e *Explorer) DefaultCost() float64 {
	return e.defaultCost
}

// ExplorationStrategy starts an episode on the given train task.
func (e *Explorer) ExplorationStrategy(trainTaskIdx int) *Episode {
	e.lastSkill = nil
	ep := &Episode{
		e:               e,
		trainTask:       trainTaskIdx,
		assigned:        e.trainTasks[trainTaskIdx],
		assignedHorizon: e.cfg.Horizon,
		mode:            models.PursuingAssigned,
		log: log.With().Fields(map[string]interface{}{
			logger.AgentNameField: "explorer",
			logger.TrainTaskField: trainTaskIdx,
		}).Logger(),
	}
	ep.executor = newExecutor(ep)
	return ep
}

func (e *Explorer) plan(ctx context.Context, task models.Task, costs map[models.OperatorKey]float64) (planner.Result, error) {
	res, err := planner.Plan(ctx, task, e.domain.Operators, e.domain.Predicates, planner.Options{
		Timeout:     e.cfg.PlanningTimeout,
		Seed:        e.cfg.Seed,
		Heuristic:   e.cfg.Heuristic,
		Costs:       costs,
		DefaultCost: e.defaultCost,
		// planning here must not fail because a plan is long
		MaxHorizon: 0,
	})
	if e.observer != nil {
		e.observer.Planned(res.Metrics, err)
	}
	return res, err
}

func (e *Explorer) taskPlan(ctx context.Context, task models.Task, costs map[models.OperatorKey]float64) ([]*models.GroundOperator, error) {
	res, err := e.plan(ctx, task, costs)
	if err != nil {
		return nil, err
	}
	return res.Plan, nil
}

func (e *Explorer) resolveTask(id TaskID) (models.Task, bool) {
	switch id.Kind {
	case TrainTask:
		if id.Index < 0 || id.Index >= len(e.trainTasks) {
			return models.Task{}, false
		}
		return e.trainTasks[id.Index], true
	case ReplanTask:
		return e.replanTasks.Get(id.Index)
	}
	return models.Task{}, false
}

func (e *Explorer) addReplanTask(task models.Task) {
	_, evicted := e.replanTasks.Add(task)
	for _, id := range evicted {
		e.cache.Forget(TaskID{Kind: ReplanTask, Index: id})
	}
}

func (e *Explorer) skills(plan []*models.GroundOperator) ([]*models.GroundNSRT, error) {
	res := make([]*models.GroundNSRT, len(plan))
	for i, op := range plan {
		s, ok := e.domain.Skill(op.Key())
		if !ok {
			return nil, fmt.Errorf("no skill for operator %s", op)
		}
		res[i] = s
	}
	return res, nil
}

// recordOutcome books the last executed skill into the ledger. The outcome
// is a success when all add effects hold; this ignores delete effects and
// side conditions. It is recorded at most once.
func (e *Explorer) recordOutcome(ctx context.Context, state models.State) (models.SkillOutcome, bool) {
	skill := e.lastSkill
	if skill == nil {
		return models.SkillOutcome{}, false
	}
	e.lastSkill = nil
	key := skill.Op.Key()
	success := skill.Op.AddEffects.AllHold(state)
	e.ledger.Record(key, success)
	model, _ := e.ledger.Model(key)
	log.Info().Str(logger.OperatorField, string(key)).Bool(logger.OutcomeField, success).Msg("skill terminated")
	if e.observer != nil {
		e.observer.OutcomeRecorded(key, success, model.CurrentCompetence())
	}

	if e.cfg.SaveEveryDatum && e.sink != nil && e.lastOption != nil && e.lastInitState != nil {
		opt := e.lastOption
		objects := make([]string, len(opt.Objects))
		for i, o := range opt.Objects {
			objects[i] = o.Name
		}
		input := append(e.lastInitState.Vec(opt.Objects), opt.Params...)
		d := Datum{
			Operator: key,
			Template: skill.Op.Name,
			Objects:  objects,
			Input:    input,
			Params:   opt.Params,
			Success:  success,
			Time:     time.Now(),
		}
		if err := e.sink.SaveDatum(ctx, d); err != nil {
			log.Error().Err(err).Str(logger.OperatorField, string(key)).Msg("unable to save sampler datum")
		}
	}
	return models.SkillOutcome{Operator: key, Success: success}, true
}

type scored struct {
	op    models.OperatorKey
	score float64
	tie   float64
}

// practiceOrder returns the tried operators by descending score, ties broken
// by a uniform draw.
func (e *Explorer) practiceOrder(ctx context.Context) []models.OperatorKey {
	ops := e.ledger.Operators()
	items := make([]scored, len(ops))
	for i, op := range ops {
		items[i] = scored{op: op, score: e.score(ctx, op), tie: e.rng.Float64()}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].tie > items[j].tie
	})
	res := make([]models.OperatorKey, len(items))
	for i, it := range items {
		res[i] = it.op
	}
	return res
}

func (e *Explorer) score(ctx context.Context, op models.OperatorKey) float64 {
	switch e.cfg.Strategy {
	case SuccessRate:
		return successRateScore(e.ledger.History(op), e.ledger.TotalTrials(), e.cfg.Bonus)
	case PlanningProgress:
		return e.planningProgressScore(ctx, op)
	case Random:
		return e.rng.Float64()
	case Repeat:
		return 0
	}
	panic(fmt.Sprintf("unhandled task strategy %s", e.cfg.Strategy))
}

// planningProgressScore is the negated total plan cost over a fixed subset of
// seen train tasks and the recent replanning tasks, assuming op's competence
// had improved by practicing it.
func (e *Explorer) planningProgressScore(ctx context.Context, op models.OperatorKey) float64 {
	model, ok := e.ledger.Model(op)
	if !ok {
		return math.Inf(-1)
	}
	rate := e.ledger.SuccessRate(op)
	if rate == 1.0 {
		return math.Inf(-1)
	}
	extrap := model.PredictCompetence(e.cfg.Lookahead)
	log.Debug().
		Str(logger.OperatorField, string(op)).
		Float64("success_rate", rate).
		Float64("competence", model.CurrentCompetence()).
		Int("attempts", model.Observations()).
		Float64("extrapolated", extrap).
		Msg("scoring operator")

	costs := e.ledger.Costs()
	costs[op] = competence.Cost(extrap)

	idxs := make([]int, 0, len(e.seen))
	for i := range e.seen {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	if len(idxs) > e.cfg.MaxScoringTasks {
		idxs = idxs[:e.cfg.MaxScoringTasks]
	}
	ids := make([]TaskID, 0, len(idxs)+e.replanTasks.Len())
	for _, i := range idxs {
		ids = append(ids, TaskID{Kind: TrainTask, Index: i})
	}
	for _, i := range e.replanTasks.IDs() {
		ids = append(ids, TaskID{Kind: ReplanTask, Index: i})
	}

	total := 0.0
	for _, id := range ids {
		// unreachable tasks are left out rather than penalized
		if plan := e.cache.GetOrRefresh(ctx, id, costs); plan != nil {
			total += planner.PlanCost(plan, costs, e.defaultCost)
		}
	}
	return -total
}

// randomOption samples an applicable skill that is not in exclude.
func (e *Explorer) randomOption(state models.State, exclude map[models.OperatorKey]bool) (*models.Option, error) {
	skills := e.domain.Skills()
	for _, i := range e.rng.Perm(len(skills)) {
		s := skills[i]
		if exclude[s.Op.Key()] || !s.Op.Preconditions.AllHold(state) {
			continue
		}
		opt := s.SampleOption(state, models.AtomSet{}, e.rng)
		if opt.Initiable(state) {
			return opt, nil
		}
	}
	return nil, ErrNoApplicableSkill
}
