package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	explorer "go-tamp/internal/agents/explorer/actor"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/internal/competence"
	"go-tamp/internal/planner"
	"go-tamp/pkg/data"
	"go-tamp/pkg/logger"
	"go-tamp/pkg/messages"
	"go-tamp/pkg/models"
	"io"
	"net/http"
	"sort"
	"time"
)

// LedgerStore persists the ledger each time an episode hands it back.
type LedgerStore interface {
	SaveLedger(ctx context.Context, history map[models.OperatorKey][]bool, seen map[int]bool) error
}

// EpisodeCounter is told how every episode ended.
type EpisodeCounter interface {
	EpisodeFinished(failed bool)
}

type Options struct {
	Port          int
	StatusTimeout time.Duration
	// Steps is the default episode budget.
	Steps int
	// MaxEpisodes is how many finished episodes stay queryable; older
	// episode actors are stopped.
	MaxEpisodes int
	Handler     handler.Config
	// HandlerOptions are passed to every episode's explorer.
	HandlerOptions []handler.Option
	Gatherer       prometheus.Gatherer
	Store          LedgerStore
	Episodes       EpisodeCounter
}

type newEpisode struct {
	TrainTask int `json:"trainTask"`
	Steps     int `json:"steps"`
}

type newPlan struct {
	Goal string `json:"goal"`
	// TrainTask picks the initial state, defaults to the first train task.
	TrainTask int `json:"trainTask"`
}

type planResponse struct {
	Plan          []string `json:"plan"`
	Cost          float64  `json:"cost"`
	NodesExpanded int      `json:"nodesExpanded"`
}

type getStatus struct {
	Status models.Status `json:"status"`
}

type getCompetence struct {
	Competence []models.OperatorSummary `json:"competence"`
	Seen       []int                    `json:"seen"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	ac       *actor.RootContext
	server   *http.Server
	env      explorer.Environment
	opts     Options
	requests *requestsCache
	owner    *ledgerOwner
	failed   map[uuid.UUID]bool
	handoff  *actor.PID
}

func New(ac *actor.RootContext, env explorer.Environment, ledger *competence.Ledger, seen map[int]bool, opts Options) *Server {
	s := &Server{
		ac:       ac,
		env:      env,
		opts:     opts,
		requests: newRequestsCache(opts.MaxEpisodes),
		owner:    newLedgerOwner(ledger, seen),
		failed:   map[uuid.UUID]bool{},
	}
	s.handoff = ac.Spawn(actor.PropsFromFunc(s.receiveHandoff))

	r := chi.NewRouter()
	r.Use(logMiddleware())
	r.Post("/episodes", s.startEpisode)
	r.Get("/episodes/{id}", s.episodeStatus)
	r.Get("/competence", s.competence)
	r.Post("/plans", s.plan)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:    fmt.Sprint(":", opts.Port),
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

func (s *Server) startEpisode(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("new episode request")
	cmd := newEpisode{}
	if err := unmarshalRequestBody(r, &cmd); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		log.Debug().Err(err).Msg("cannot parse body")
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}
	if n := len(s.env.TrainTasks()); cmd.TrainTask < 0 || cmd.TrainTask >= n {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: fmt.Sprintf("trainTask must be in [0, %d)", n)})
		return
	}
	if cmd.Steps <= 0 {
		cmd.Steps = s.opts.Steps
	}

	id := uuid.New()
	ledger, seen, err := s.owner.checkout(id)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	decider := func(reason interface{}) actor.Directive {
		log.Error().Msgf("handling failure for episode. reason: %v", reason)
		return actor.StopDirective
	}
	strategy := actor.NewOneForOneStrategy(3, 10000, decider)
	props := actor.PropsFromProducer(explorer.New(s.env, s.opts.Handler, s.opts.HandlerOptions...), actor.WithSupervisor(strategy))
	pid, err := s.ac.SpawnNamed(props, "episode-"+id.String())
	if err != nil {
		s.owner.cancel(id)
		w.WriteHeader(http.StatusInternalServerError)
		log.Error().Err(err).Msg("unable to spawn episode")
		return
	}
	for _, old := range s.requests.add(id, pid) {
		s.ac.Stop(old)
	}
	s.ac.Send(pid, messages.NewEpisode{
		RequestID: id,
		TrainTask: cmd.TrainTask,
		Steps:     cmd.Steps,
		Ledger:    ledger,
		Seen:      seen,
		ReplyTo:   s.handoff,
	})

	log.Debug().Str(logger.EpisodeField, id.String()).Msg("episode has been started")
	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, struct {
		Id string `json:"id"`
	}{id.String()})
}

func (s *Server) episodeStatus(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse id"})
		return
	}
	pid, ok := s.requests.get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		log.Debug().Str(logger.EpisodeField, idParam).Msg("cannot find id")
		return
	}

	future := s.ac.RequestFuture(pid, messages.GetStatus{}, s.opts.StatusTimeout) // blocking
	res, err := future.Result()
	if err != nil {
		s.requests.remove(id)
		w.WriteHeader(http.StatusInternalServerError)
		log.Error().Str(logger.EpisodeField, idParam).Err(err).Msg("unable to get status from actor")
		return
	}
	status, ok := res.(models.Status)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		log.Error().Str(logger.EpisodeField, idParam).Msgf("unknown status from actor: %T", res)
		return
	}
	render.JSON(w, r, getStatus{status})
}

func (s *Server) competence(w http.ResponseWriter, r *http.Request) {
	res := getCompetence{}
	err := s.owner.with(func(ledger *competence.Ledger, seen map[int]bool) {
		res.Competence = ledger.Summary(s.opts.Handler.Lookahead)
		for i, ok := range seen {
			if ok {
				res.Seen = append(res.Seen, i)
			}
		}
	})
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}
	sort.Ints(res.Seen)
	render.JSON(w, r, res)
}

// plan answers what the planner would do now, with costs from the current ledger.
func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	cmd := newPlan{}
	if err := unmarshalRequestBody(r, &cmd); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}
	if n := len(s.env.TrainTasks()); cmd.TrainTask < 0 || cmd.TrainTask >= n {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: fmt.Sprintf("trainTask must be in [0, %d)", n)})
		return
	}
	init := s.env.Reset(cmd.TrainTask)
	domain := s.env.Domain()
	goal, err := data.ParseGoal(cmd.Goal, domain.Predicates, init.Objects())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	var costs map[models.OperatorKey]float64
	var defaultCost float64
	if err := s.owner.with(func(ledger *competence.Ledger, _ map[int]bool) {
		costs = ledger.Costs()
		defaultCost = ledger.DefaultCost()
	}); err != nil {
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	res, err := planner.Plan(r.Context(), models.Task{Init: init, Goal: goal}, domain.Operators, domain.Predicates, planner.Options{
		Timeout:     s.opts.Handler.PlanningTimeout,
		Seed:        s.opts.Handler.Seed,
		Heuristic:   s.opts.Handler.Heuristic,
		Costs:       costs,
		DefaultCost: defaultCost,
	})
	switch {
	case errors.Is(err, planner.ErrPlanningFailure):
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, planner.ErrPlanningTimeout):
		w.WriteHeader(http.StatusGatewayTimeout)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
		log.Error().Err(err).Msg("unable to plan")
		return
	}

	out := planResponse{Plan: make([]string, len(res.Plan)), Cost: res.Cost, NodesExpanded: res.Metrics.NodesExpanded}
	for i, op := range res.Plan {
		out.Plan[i] = op.String()
	}
	render.JSON(w, r, out)
}

// receiveHandoff takes the ledger back from finished episodes.
func (s *Server) receiveHandoff(c actor.Context) {
	switch msg := c.Message().(type) {
	case messages.ReportError:
		log.Error().Str(logger.EpisodeField, msg.RequestID.String()).Str("error", msg.Error.Message).Msg("episode reported an error")
		s.failed[msg.RequestID] = true
	case messages.EpisodeComplete:
		l := log.With().Str(logger.EpisodeField, msg.RequestID.String()).Logger()
		failed := s.failed[msg.RequestID]
		delete(s.failed, msg.RequestID)
		if s.opts.Episodes != nil {
			s.opts.Episodes.EpisodeFinished(failed)
		}
		if s.opts.Store != nil {
			// saved before checkin, the next episode mutates the ledger
			if err := s.opts.Store.SaveLedger(context.Background(), msg.Ledger.Snapshot(), msg.Seen); err != nil {
				l.Error().Err(err).Msg("unable to persist ledger")
			}
		}
		if !s.owner.checkin(msg.RequestID, msg.Ledger, msg.Seen) {
			l.Warn().Msg("episode returned a ledger it did not own")
			return
		}
		l.Info().Int("skills", msg.Episode.SkillsStarted).Msg("ledger handed back")
	}
}

func logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(log.Logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RefererHandler("referer"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))

	return c.Then
}

func unmarshalRequestBody(req *http.Request, output interface{}) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if err = req.Body.Close(); err != nil {
		return err
	}
	if err = json.Unmarshal(body, &output); err != nil {
		return err
	}

	return nil
}
