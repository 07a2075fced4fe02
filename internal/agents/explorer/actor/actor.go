package actor

import (
	"context"
	"errors"
	"fmt"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/internal/competence"
	"go-tamp/pkg/logger"
	"go-tamp/pkg/messages"
	"go-tamp/pkg/models"
	"time"
)

// Environment is the simulator an episode runs against.
type Environment interface {
	Domain() *models.Domain
	TrainTasks() []models.Task
	Reset(taskIdx int) models.State
	Step(state models.State, act models.Action) (models.State, error)
}

// Explorer runs one exploration episode. The mailbox serializes Step and
// GetStatus, so the episode is never touched concurrently.
type Explorer struct {
	env       Environment
	cfg       handler.Config
	opts      []handler.Option
	lookahead int

	id       uuid.UUID
	explorer *handler.Explorer
	episode  *handler.Episode
	state    models.State
	steps    int
	budget   int
	replyTo  *actor.PID
	ledger   *competence.Ledger
	seen     map[int]bool
	done     bool
	closing  bool
	err      models.Error
	final    []models.OperatorSummary
}

func New(env Environment, cfg handler.Config, opts ...handler.Option) actor.Producer {
	return func() actor.Actor {
		return &Explorer{
			env:       env,
			cfg:       cfg,
			opts:      opts,
			lookahead: cfg.Lookahead,
			id:        uuid.Nil,
		}
	}
}

func (agent *Explorer) Receive(ac actor.Context) {
	l := log.With().Fields(map[string]interface{}{logger.ActorIDField: ac.Self().GetId(), logger.AgentNameField: "explorer"}).Logger()
	switch msg := ac.Message().(type) {
	case *actor.Started:
		l.Debug().Msg("starting actor")
	case *actor.Stopping:
		l.Debug().Msg("stopping actor")
	case *actor.Stopped:
		l.Debug().Msg("stopped actor")
	case *actor.Restarting:
		l.Debug().Msg("restarting actor")
	case messages.GetStatus:
		ac.Respond(agent.status())
	case messages.NewEpisode:
		l.Debug().Str(logger.EpisodeField, msg.RequestID.String()).Msgf("NewEpisode received: task %d, %d steps", msg.TrainTask, msg.Steps)
		agent.guard(ac, l, func() { agent.start(ac, l, msg) })
	case messages.Step:
		agent.guard(ac, l, func() { agent.step(ac, l) })
	default:
		l.Warn().Str(logger.EpisodeField, agent.id.String()).Msgf("unknown message: %v", msg)
	}
}

func (agent *Explorer) start(ac actor.Context, l zerolog.Logger, msg messages.NewEpisode) {
	agent.id = msg.RequestID
	agent.replyTo = msg.ReplyTo
	agent.budget = msg.Steps
	agent.ledger = msg.Ledger
	agent.seen = msg.Seen
	agent.explorer = handler.New(agent.cfg, agent.env.Domain(), agent.env.TrainTasks(), msg.Ledger, msg.Seen, agent.opts...)
	if n := len(agent.env.TrainTasks()); msg.TrainTask < 0 || msg.TrainTask >= n {
		agent.fail(ac, l, fmt.Errorf("train task %d out of range [0, %d)", msg.TrainTask, n))
		return
	}
	agent.episode = agent.explorer.ExplorationStrategy(msg.TrainTask)
	agent.state = agent.env.Reset(msg.TrainTask)
	l.Info().Str(logger.EpisodeField, agent.id.String()).Int(logger.TrainTaskField, msg.TrainTask).Msg("exploring...")
	ac.Send(ac.Self(), messages.Step{})
}

func (agent *Explorer) step(ac actor.Context, l zerolog.Logger) {
	if agent.done || agent.episode == nil {
		return
	}
	ctx := context.Background()
	if agent.steps >= agent.budget || agent.episode.Terminate(agent.state) {
		agent.finish(ac, l)
		return
	}

	act, err := agent.act(ctx)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrOptionTimeout):
		// the outcome is already booked, a fresh option starts next step
		l.Info().Err(err).Msg("option timed out")
		agent.steps++
		ac.Send(ac.Self(), messages.Step{})
		return
	case errors.Is(err, handler.ErrNoApplicableSkill):
		l.Warn().Err(err).Msg("nothing left to explore, ending episode early")
		agent.finish(ac, l)
		return
	default:
		agent.fail(ac, l, err)
		return
	}

	next, err := agent.env.Step(agent.state, act)
	if err != nil {
		agent.fail(ac, l, fmt.Errorf("env step: %w", err))
		return
	}
	agent.state = next
	agent.steps++
	ac.Send(ac.Self(), messages.Step{})
}

// act turns a broken controller contract into an error so the ledger is
// still handed back.
func (agent *Explorer) act(ctx context.Context) (act models.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("explorer panic: %v", r)
		}
	}()
	return agent.episode.Act(ctx, agent.state)
}

// guard fails the episode on a panic anywhere in the step loop, so the
// ledger always goes back to its owner.
func (agent *Explorer) guard(ac actor.Context, l zerolog.Logger, f func()) {
	defer func() {
		if r := recover(); r != nil {
			if agent.done {
				l.Error().Str(logger.EpisodeField, agent.id.String()).Msgf("panic after episode completed: %v", r)
				return
			}
			agent.fail(ac, l, fmt.Errorf("explorer panic: %v", r))
		}
	}()
	f()
}

func (agent *Explorer) finish(ac actor.Context, l zerolog.Logger) {
	if agent.done {
		return
	}
	// a panic while finishing lands here again; skip the episode the second time
	if agent.episode != nil && !agent.closing {
		agent.closing = true
		agent.episode.Finish(context.Background(), agent.state)
	}
	agent.done = true
	ledger, seen := agent.ledger, agent.seen
	if agent.explorer != nil {
		ledger, seen = agent.explorer.Ledger(), agent.explorer.SeenTrainTasks()
	}
	if ledger != nil {
		agent.final = ledger.Summary(agent.lookahead)
	}
	l.Info().Str(logger.EpisodeField, agent.id.String()).Int("steps", agent.steps).Msg("episode complete")
	if agent.replyTo != nil {
		ac.Send(agent.replyTo, messages.EpisodeComplete{
			RequestID: agent.id,
			Ledger:    ledger,
			Seen:      seen,
			Episode:   agent.snapshot(),
		})
	}
}

func (agent *Explorer) fail(ac actor.Context, l zerolog.Logger, err error) {
	t := time.Now()
	agent.err = models.Error{Err: err, Message: err.Error(), Time: &t}
	l.Error().Err(err).Str(logger.EpisodeField, agent.id.String()).Msg("episode failed")
	if agent.replyTo != nil {
		ac.Send(agent.replyTo, messages.ReportError{RequestID: agent.id, Error: agent.err})
	}
	agent.finish(ac, l)
}

func (agent *Explorer) snapshot() models.Episode {
	ep := models.Episode{
		Steps:  agent.steps,
		Budget: agent.budget,
		Done:   agent.done,
		Errs:   agent.err,
	}
	if agent.episode != nil {
		ep.Mode = agent.episode.Mode()
		ep.TrainTask = agent.episode.TrainTask()
		ep.SkillsStarted = agent.episode.SkillsStarted()
		ep.History = append([]models.SkillOutcome(nil), agent.episode.History()...)
	}
	return ep
}

func (agent *Explorer) status() models.Status {
	s := models.Status{Episode: agent.snapshot()}
	switch {
	case agent.done:
		s.Competence = agent.final
	case agent.explorer != nil:
		s.Competence = agent.explorer.Ledger().Summary(agent.lookahead)
	}
	return s
}
