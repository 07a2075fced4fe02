package planner

import (
	"container/heap"
	"context"
	"fmt"
	"go-tamp/pkg/models"
	"math"
	"math/rand/v2"
	"time"
)

type Options struct {
	Timeout   time.Duration
	Seed      uint64
	Heuristic Heuristic
	// Costs are per operator edge costs; operators not in the map pay DefaultCost.
	Costs       map[models.OperatorKey]float64
	DefaultCost float64
	// MaxHorizon bounds plan length; <= 0 means unbounded.
	MaxHorizon int
}

type Metrics struct {
	NodesExpanded int           `json:"nodesExpanded"`
	NodesCreated  int           `json:"nodesCreated"`
	Duration      time.Duration `json:"duration"`
}

type Result struct {
	Plan []*models.GroundOperator
	// AtomsSeq holds the abstract states visited by Plan, len(Plan)+1 entries.
	AtomsSeq []models.AtomSet
	Cost     float64
	Metrics  Metrics
}

// Plan runs a best-first search from the abstract projection of the task's
// initial state to any abstract state containing the goal, minimizing the
// summed operator cost.
func Plan(ctx context.Context, task models.Task, operators []*models.GroundOperator, predicates []*models.Predicate, opts Options) (Result, error) {
	init := models.Abstract(task.Init, predicates)
	return Search(ctx, init, task.Goal, operators, opts)
}

// Search is Plan over an already abstracted initial state.
func Search(ctx context.Context, init, goal models.AtomSet, operators []*models.GroundOperator, opts Options) (Result, error) {
	start := time.Now()
	metrics := Metrics{}
	done := func(res Result, err error) (Result, error) {
		metrics.Duration = time.Since(start)
		res.Metrics = metrics
		return res, err
	}

	cost := func(op *models.GroundOperator) float64 {
		if c, ok := opts.Costs[op.Key()]; ok {
			return c
		}
		return opts.DefaultCost
	}
	h := newHeuristic(opts.Heuristic, goal, operators, cost)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	root := &node{atoms: init, key: init.Key(), h: h(init), tie: rng.Float64()}
	if math.IsInf(root.h, 1) {
		return done(Result{}, fmt.Errorf("%w: goal %s unreachable under relaxation", ErrPlanningFailure, goal))
	}
	open := &queue{root}
	best := map[string]float64{root.key: 0}
	metrics.NodesCreated = 1

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return done(Result{}, fmt.Errorf("%w: %v", ErrPlanningTimeout, err))
		}
		if opts.Timeout > 0 && time.Since(start) > opts.Timeout {
			return done(Result{}, fmt.Errorf("%w: exceeded %s", ErrPlanningTimeout, opts.Timeout))
		}

		n := heap.Pop(open).(*node)
		if g, ok := best[n.key]; ok && n.g > g {
			continue // stale entry
		}
		if goal.Subset(n.atoms) {
			res := n.result()
			return done(res, nil)
		}
		metrics.NodesExpanded++
		if opts.MaxHorizon > 0 && n.depth >= opts.MaxHorizon {
			continue
		}
		for _, op := range operators {
			if !op.Applicable(n.atoms) {
				continue
			}
			next := op.Apply(n.atoms)
			key := next.Key()
			g := n.g + cost(op)
			if old, seen := best[key]; seen && old <= g {
				continue
			}
			hv := h(next)
			if math.IsInf(hv, 1) {
				continue
			}
			best[key] = g
			heap.Push(open, &node{
				atoms:  next,
				key:    key,
				g:      g,
				h:      hv,
				depth:  n.depth + 1,
				op:     op,
				parent: n,
				tie:    rng.Float64(),
			})
			metrics.NodesCreated++
		}
	}
	return done(Result{}, fmt.Errorf("%w: goal %s not reachable in %d expansions", ErrPlanningFailure, goal, metrics.NodesExpanded))
}

// PlanCost sums the edge costs of a plan.
func PlanCost(plan []*models.GroundOperator, costs map[models.OperatorKey]float64, defaultCost float64) float64 {
	total := 0.0
	for _, op := range plan {
		if c, ok := costs[op.Key()]; ok {
			total += c
		} else {
			total += defaultCost
		}
	}
	return total
}

type node struct {
	atoms  models.AtomSet
	key    string
	g, h   float64
	depth  int
	op     *models.GroundOperator
	parent *node
	tie    float64
	index  int
}

func (n *node) result() Result {
	plan := make([]*models.GroundOperator, n.depth)
	atoms := make([]models.AtomSet, n.depth+1)
	for cur := n; cur != nil; cur = cur.parent {
		atoms[cur.depth] = cur.atoms
		if cur.op != nil {
			plan[cur.depth-1] = cur.op
		}
	}
	return Result{Plan: plan, AtomsSeq: atoms, Cost: n.g}
}

type queue []*node

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	fi, fj := q[i].g+q[i].h, q[j].g+q[j].h
	if fi != fj {
		return fi < fj
	}
	if q[i].h != q[j].h {
		return q[i].h < q[j].h
	}
	return q[i].tie < q[j].tie
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *queue) Pop() any {
	old := *q
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return n
}
