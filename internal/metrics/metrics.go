package metrics

import (
	"errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/internal/planner"
	"go-tamp/pkg/models"
)

const namespace = "tamp"

// Collector exports explorer bookkeeping to prometheus.
type Collector struct {
	outcomes   *prometheus.CounterVec
	competence *prometheus.GaugeVec
	modes      *prometheus.CounterVec
	plans      *prometheus.CounterVec
	planTime   prometheus.Histogram
	nodes      prometheus.Histogram
	episodes   *prometheus.CounterVec
}

var _ handler.Observer = (*Collector)(nil)

func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		// Labels: operator, outcome (success, failure)
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "skill_outcomes_total",
			Help:      "Recorded skill outcomes by ground operator",
		}, []string{"operator", "outcome"}),
		competence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "competence",
			Help:      "Posterior mean competence by ground operator",
		}, []string{"operator"}),
		modes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "mode_changes_total",
			Help:      "Explorer mode transitions by target mode",
		}, []string{"mode"}),
		// Labels: status (ok, failure, timeout)
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Task planning calls by result",
		}, []string{"status"}),
		planTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "duration_seconds",
			Help:      "Task planning latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		nodes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "nodes_expanded",
			Help:      "Search nodes expanded per planning call",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		episodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "episodes_total",
			Help:      "Finished exploration episodes by result",
		}, []string{"status"}),
	}
}

func (c *Collector) OutcomeRecorded(op models.OperatorKey, success bool, competence float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.outcomes.WithLabelValues(string(op), outcome).Inc()
	c.competence.WithLabelValues(string(op)).Set(competence)
}

func (c *Collector) ModeChanged(mode models.Mode) {
	c.modes.WithLabelValues(string(mode)).Inc()
}

func (c *Collector) Planned(m planner.Metrics, err error) {
	status := "ok"
	switch {
	case errors.Is(err, planner.ErrPlanningTimeout):
		status = "timeout"
	case err != nil:
		status = "failure"
	}
	c.plans.WithLabelValues(status).Inc()
	c.planTime.Observe(m.Duration.Seconds())
	c.nodes.Observe(float64(m.NodesExpanded))
}

// EpisodeFinished counts an episode; failed is true when it ended on an error.
func (c *Collector) EpisodeFinished(failed bool) {
	status := "ok"
	if failed {
		status = "failed"
	}
	c.episodes.WithLabelValues(status).Inc()
}
