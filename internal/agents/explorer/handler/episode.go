package handler

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"go-tamp/internal/planner"
	"go-tamp/internal/refinement"
	"go-tamp/pkg/logger"
	"go-tamp/pkg/models"
	"sort"
)

// Episode is the online policy for one exploration episode. It pursues the
// assigned goal first, then practices (or repeats tasks), replans whenever a
// skill fails and falls back to a random applicable skill when no goal can be
// planned for.
type Episode struct {
	e         *Explorer
	trainTask int
	assigned  models.Task
	log       zerolog.Logger

	mode             models.Mode
	assignedFinished bool
	assignedHorizon  int
	currentPolicy    refinement.OptionPolicy
	nextPractice     *models.GroundNSRT
	repeatGoal       models.AtomSet
	// forceRandom, when set, makes the next decision a random skill outside it.
	forceRandom map[models.OperatorKey]bool

	executor      *refinement.Executor
	skillsStarted int
	history       []models.SkillOutcome
}

type candidate struct {
	goal     models.AtomSet
	practice *models.GroundNSRT
	mode     models.Mode
}

func newExecutor(ep *Episode) *refinement.Executor {
	return refinement.NewExecutor(ep.nextOption, ep.e.cfg.MaxOptionSteps)
}

func (ep *Episode) Mode() models.Mode {
	return ep.mode
}

func (ep *Episode) AssignedFinished() bool {
	return ep.assignedFinished
}

func (ep *Episode) SkillsStarted() int {
	return ep.skillsStarted
}

func (ep *Episode) History() []models.SkillOutcome {
	return ep.history
}

func (ep *Episode) TrainTask() int {
	return ep.trainTask
}

// Terminate never stops the episode; the caller owns the step budget.
func (ep *Episode) Terminate(models.State) bool {
	return false
}

// Finish records the outcome of the skill running when the caller stops the episode.
func (ep *Episode) Finish(ctx context.Context, state models.State) {
	ep.record(ctx, state)
}

// Act returns the next low level action. An option timeout is recorded as a
// failed outcome and returned to the caller. A failing controller sends the
// episode back to the decision policy: first to replan, and past
// MaxReplanRetries to a random skill that has not failed during this call.
func (ep *Episode) Act(ctx context.Context, state models.State) (models.Action, error) {
	failed := map[models.OperatorKey]bool{}
	for failures := 0; ; failures++ {
		act, err := ep.executor.Step(ctx, state)
		switch {
		case err == nil:
			return act, nil
		case errors.Is(err, models.ErrOptionTimeout):
			ep.log.Info().Err(err).Msg("option timed out")
			ep.record(ctx, state)
			return models.Action{}, err
		case errors.Is(err, models.ErrOptionExecutionFailure):
			ep.log.Info().Err(err).Msg("option execution failure")
			if s := ep.e.lastSkill; s != nil {
				failed[s.Op.Key()] = true
			}
			ep.currentPolicy = nil
			if failures >= ep.e.cfg.MaxReplanRetries {
				ep.forceRandom = failed
			}
		default:
			return models.Action{}, err
		}
	}
}

func (ep *Episode) record(ctx context.Context, state models.State) {
	if out, ok := ep.e.recordOutcome(ctx, state); ok {
		ep.history = append(ep.history, out)
	}
}

// nextOption books the previous skill and then decides on the next one.
func (ep *Episode) nextOption(ctx context.Context, state models.State) (*models.Option, error) {
	ep.record(ctx, state)
	opt, err := ep.decide(ctx, state)
	if err != nil {
		return nil, err
	}
	ep.e.lastSkill = opt.Skill
	ep.e.lastOption = opt
	ep.e.lastInitState = state
	ep.skillsStarted++
	ep.log.Info().Str(logger.OperatorField, opt.Skill.String()).Msg("starting skill")
	return opt, nil
}

func (ep *Episode) setMode(mode models.Mode) {
	if ep.mode == mode {
		return
	}
	ep.log.Info().Str(logger.ModeField, string(mode)).Msgf("switching from %s", ep.mode)
	ep.mode = mode
	if ep.e.observer != nil {
		ep.e.observer.ModeChanged(mode)
	}
}

func (ep *Episode) finishAssigned(reason string) {
	ep.log.Info().Msg(reason)
	ep.assignedFinished = true
	ep.currentPolicy = nil
	ep.setMode(models.AssignedFinished)
}

func (ep *Episode) decide(ctx context.Context, state models.State) (*models.Option, error) {
	ep.e.seen[ep.trainTask] = true

	if !ep.assignedFinished {
		switch {
		case ep.assigned.GoalHolds(state):
			ep.finishAssigned("reached assigned goal")
		case ep.assignedHorizon <= 0:
			ep.finishAssigned("exhausted horizon for assigned task")
		default:
			ep.assignedHorizon--
		}
	}

	if exclude := ep.forceRandom; exclude != nil {
		ep.forceRandom = nil
		ep.log.Info().Msg("replanning retries exhausted, exploring randomly")
		ep.setMode(models.RandomFallback)
		return ep.e.randomOption(state, exclude)
	}

	for failures := 0; ; {
		if ep.nextPractice != nil && ep.nextPractice.Op.Preconditions.AllHold(state) {
			ep.log.Info().Str(logger.OperatorField, ep.nextPractice.String()).Msg("practicing skill")
			sampler := ep.e.domain.ExplorerSampler(ep.nextPractice.Op.Name)
			practice := ep.nextPractice.CopyWithSampler(sampler)
			ep.nextPractice = nil
			ep.currentPolicy = nil
			// the goal is unused by practice samplers
			return practice.SampleOption(state, models.AtomSet{}, ep.e.rng), nil
		}

		if ep.currentPolicy == nil {
			found, err := ep.selectPolicy(ctx, state)
			if err != nil {
				return nil, err
			}
			if !found {
				ep.log.Info().Msg("no reachable goal found, exploring randomly")
				ep.setMode(models.RandomFallback)
				return ep.e.randomOption(state, nil)
			}
			continue
		}

		opt, err := ep.currentPolicy(ctx, state)
		if err == nil {
			return opt, nil
		}
		if !errors.Is(err, models.ErrOptionExecutionFailure) {
			return nil, err
		}
		ep.log.Info().Err(err).Msg("option execution failure, replanning")
		ep.currentPolicy = nil
		failures++
		if failures > ep.e.cfg.MaxReplanRetries {
			ep.setMode(models.RandomFallback)
			return ep.e.randomOption(state, nil)
		}
	}
}

// selectPolicy plans to the first reachable candidate goal.
func (ep *Episode) selectPolicy(ctx context.Context, state models.State) (bool, error) {
	ep.nextPractice = nil
	for _, c := range ep.candidates(ctx, state) {
		if len(c.goal) == 0 {
			ep.nextPractice = c.practice
			ep.setMode(c.mode)
			return true, nil
		}
		task := models.Task{Init: state, Goal: c.goal}
		ep.log.Info().Str(logger.GoalField, c.goal.String()).Msg("replanning")
		ep.e.addReplanTask(task)

		res, err := ep.e.plan(ctx, task, ep.e.ledger.Costs())
		if err != nil {
			if !planner.IsRecoverable(err) {
				return false, err
			}
			ep.log.Warn().Err(err).Str(logger.GoalField, c.goal.String()).
				Msg("planning graph is not fully connected; exploration assumes every goal is reachable")
			continue
		}
		skills, err := ep.e.skills(res.Plan)
		if err != nil {
			return false, err
		}
		ep.currentPolicy = refinement.GreedyOptionPolicy(skills, c.goal, ep.e.rng, res.AtomsSeq)
		ep.nextPractice = c.practice
		if c.mode == models.AssignedFinished {
			ep.repeatGoal = c.goal
		}
		ep.setMode(c.mode)
		ep.log.Info().Int("length", len(res.Plan)).Float64("cost", res.Cost).Msg("plan found")
		return true, nil
	}
	return false, nil
}

func (ep *Episode) candidates(ctx context.Context, state models.State) []candidate {
	switch {
	case !ep.assignedFinished:
		return []candidate{{goal: ep.assigned.Goal, mode: models.PursuingAssigned}}
	case !ep.e.cfg.Strategy.Practices():
		return ep.repeatCandidates(state)
	default:
		return ep.practiceCandidates(ctx)
	}
}

// repeatCandidates walks the seen tasks in random order, proposing the goal
// being pursued first, then each task's goal and initial abstract state.
func (ep *Episode) repeatCandidates(state models.State) []candidate {
	idxs := make([]int, 0, len(ep.e.seen))
	for i := range ep.e.seen {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	ep.e.rng.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })

	var res []candidate
	for _, i := range idxs {
		task := ep.e.trainTasks[i]
		if !models.SameObjects(task.Init, state) {
			continue
		}
		if ep.repeatGoal != nil && !ep.repeatGoal.AllHold(state) {
			res = append(res, candidate{goal: ep.repeatGoal, mode: models.AssignedFinished})
		}
		for _, g := range []models.AtomSet{task.Goal, models.Abstract(task.Init, ep.e.domain.Predicates)} {
			if !g.AllHold(state) {
				res = append(res, candidate{goal: g, mode: models.AssignedFinished})
			}
		}
	}
	return res
}

func (ep *Episode) practiceCandidates(ctx context.Context) []candidate {
	var res []candidate
	for _, op := range ep.e.practiceOrder(ctx) {
		skill, ok := ep.e.domain.Skill(op)
		if !ok {
			ep.log.Warn().Str(logger.OperatorField, string(op)).Msg("no skill for practiced operator")
			continue
		}
		res = append(res, candidate{goal: skill.Op.Preconditions, practice: skill, mode: models.Practicing})
	}
	return res
}

func (ep *Episode) String() string {
	return fmt.Sprintf("episode(task=%d, mode=%s)", ep.trainTask, ep.mode)
}
