package handler

import (
	"context"
	"fmt"
	"github.com/rs/zerolog/log"
	"go-tamp/pkg/models"
)

type TaskKind string

const (
	TrainTask  TaskKind = "train"
	ReplanTask TaskKind = "replan"
)

type TaskID struct {
	Kind  TaskKind
	Index int
}

func (id TaskID) String() string {
	return fmt.Sprintf("%s/%d", id.Kind, id.Index)
}

type PlanFunc func(ctx context.Context, task models.Task, costs map[models.OperatorKey]float64) ([]*models.GroundOperator, error)

type TaskResolver func(id TaskID) (models.Task, bool)

// PlanCache memoizes task plans and only replans a task every freq calls.
// A nil plan means the task is currently believed unreachable.
type PlanCache struct {
	freq    int
	plan    PlanFunc
	resolve TaskResolver
	plans   map[TaskID][]*models.GroundOperator
	calls   map[TaskID]int
}

func NewPlanCache(freq int, resolve TaskResolver, plan PlanFunc) *PlanCache {
	if freq < 1 {
		freq = 1
	}
	return &PlanCache{
		freq:    freq,
		plan:    plan,
		resolve: resolve,
		plans:   map[TaskID][]*models.GroundOperator{},
		calls:   map[TaskID]int{},
	}
}

func (c *PlanCache) GetOrRefresh(ctx context.Context, id TaskID, costs map[models.OperatorKey]float64) []*models.GroundOperator {
	if n, ok := c.calls[id]; !ok || n >= c.freq {
		c.calls[id] = 0
		c.plans[id] = nil
		if task, ok := c.resolve(id); ok {
			plan, err := c.plan(ctx, task, costs)
			if err != nil {
				log.Warn().Err(err).Str("task", id.String()).Msg("task planning failed in the explorer")
			} else {
				c.plans[id] = plan
			}
		}
	}
	c.calls[id]++
	return c.plans[id]
}

// Forget drops a task that no longer exists.
func (c *PlanCache) Forget(id TaskID) {
	delete(c.plans, id)
	delete(c.calls, id)
}
