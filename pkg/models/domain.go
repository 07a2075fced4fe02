package models

import (
	"fmt"
	"sort"
)

type Task struct {
	Init State
	Goal AtomSet
}

func (t Task) GoalHolds(state State) bool {
	return t.Goal.AllHold(state)
}

// Domain is the static registry of predicates, ground operators and skills.
// It is read-only once built.
type Domain struct {
	Predicates []*Predicate
	Operators  []*GroundOperator
	NSRTs      map[string]*NSRT
	// ExplorerSamplers substitute the default sampler while practicing.
	ExplorerSamplers map[string]Sampler

	skills map[OperatorKey]*GroundNSRT
	order  []OperatorKey
}

func NewDomain(predicates []*Predicate, nsrts []*NSRT, operators []*GroundOperator, explorerSamplers map[string]Sampler) (*Domain, error) {
	d := &Domain{
		Predicates:       predicates,
		Operators:        operators,
		NSRTs:            make(map[string]*NSRT, len(nsrts)),
		ExplorerSamplers: explorerSamplers,
		skills:           make(map[OperatorKey]*GroundNSRT, len(operators)),
	}
	if d.ExplorerSamplers == nil {
		d.ExplorerSamplers = map[string]Sampler{}
	}
	for _, n := range nsrts {
		d.NSRTs[n.Name] = n
	}
	for _, op := range operators {
		n, ok := d.NSRTs[op.Name]
		if !ok {
			return nil, fmt.Errorf("no skill template for operator %s", op)
		}
		if _, dup := d.skills[op.Key()]; dup {
			return nil, fmt.Errorf("duplicate ground operator %s", op)
		}
		d.skills[op.Key()] = NewGroundNSRT(op, n)
		d.order = append(d.order, op.Key())
	}
	sort.Slice(d.order, func(i, j int) bool { return d.order[i] < d.order[j] })
	return d, nil
}

func (d *Domain) Skill(key OperatorKey) (*GroundNSRT, bool) {
	s, ok := d.skills[key]
	return s, ok
}

// Skills returns all ground skills ordered by operator key.
func (d *Domain) Skills() []*GroundNSRT {
	res := make([]*GroundNSRT, 0, len(d.order))
	for _, k := range d.order {
		res = append(res, d.skills[k])
	}
	return res
}

// ExplorerSampler returns the practice sampler for a template, falling back to the default one.
func (d *Domain) ExplorerSampler(template string) Sampler {
	if s, ok := d.ExplorerSamplers[template]; ok {
		return s
	}
	return d.NSRTs[template].Sampler
}
