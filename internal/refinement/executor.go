package refinement

import (
	"context"
	"fmt"
	"go-tamp/pkg/models"
)

// Executor turns an option policy into a per-step action policy. It keeps
// the active option until it is terminal and enforces the option step budget.
type Executor struct {
	next     OptionPolicy
	maxSteps int
	current  *models.Option
	steps    int
}

func NewExecutor(next OptionPolicy, maxOptionSteps int) *Executor {
	return &Executor{next: next, maxSteps: maxOptionSteps}
}

// Current returns the option being executed, if any.
func (e *Executor) Current() *models.Option {
	return e.current
}

// Abandon drops the active option so the next step asks for a new one.
func (e *Executor) Abandon() {
	e.current = nil
	e.steps = 0
}

func (e *Executor) Step(ctx context.Context, state models.State) (models.Action, error) {
	if e.current == nil || e.current.Terminal(state) {
		opt, err := e.next(ctx, state)
		if err != nil {
			e.Abandon()
			return models.Action{}, err
		}
		e.current = opt
		e.steps = 0
	}
	if e.maxSteps > 0 && e.steps >= e.maxSteps {
		opt := e.current
		e.Abandon()
		return models.Action{}, fmt.Errorf("%w: %s ran %d steps", models.ErrOptionTimeout, opt, e.maxSteps)
	}
	act, err := e.current.Policy(state)
	if err != nil {
		e.Abandon()
		return models.Action{}, err
	}
	e.steps++
	return act, nil
}
