package models

import (
	"fmt"
	"math/rand/v2"
)

// OperatorKey is the identity of a ground operator: template name plus objects.
type OperatorKey string

type GroundOperator struct {
	Name          string
	Objects       []Object
	Preconditions AtomSet
	AddEffects    AtomSet
	DeleteEffects AtomSet
}

func (o *GroundOperator) Key() OperatorKey {
	return OperatorKey(o.Name + "(" + joinObjects(o.Objects) + ")")
}

func (o *GroundOperator) String() string {
	return string(o.Key())
}

// Applicable reports whether the preconditions are contained in the abstract state.
func (o *GroundOperator) Applicable(atoms AtomSet) bool {
	return o.Preconditions.Subset(atoms)
}

// Apply returns the successor abstract state.
func (o *GroundOperator) Apply(atoms AtomSet) AtomSet {
	return atoms.Minus(o.DeleteEffects).Union(o.AddEffects)
}

type Action struct {
	Arr []float64 `json:"arr"`
	// Extra carries environment specific payloads.
	Extra any `json:"-"`
}

// Sampler maps (state, goal, rng, objects) to continuous parameters.
type Sampler func(state State, goal AtomSet, rng *rand.Rand, objects []Object) []float64

type OptionPolicyFunc func(state State, memory map[string]any, objects []Object, params []float64) (Action, error)

type OptionPredicate func(state State, memory map[string]any, objects []Object, params []float64) bool

type ParameterizedOption struct {
	Name      string
	Policy    OptionPolicyFunc
	Initiable OptionPredicate
	Terminal  OptionPredicate
}

func (p *ParameterizedOption) Ground(objects []Object, params []float64) *Option {
	return &Option{Parent: p, Objects: objects, Params: params, Memory: map[string]any{}}
}

// Option is a parameterized option bound to objects and parameters.
type Option struct {
	Parent  *ParameterizedOption
	Objects []Object
	Params  []float64
	Memory  map[string]any
	// Skill is the ground skill that produced this option, if any.
	Skill *GroundNSRT
}

func (o *Option) Initiable(state State) bool {
	if o.Parent.Initiable == nil {
		return true
	}
	return o.Parent.Initiable(state, o.Memory, o.Objects, o.Params)
}

func (o *Option) Policy(state State) (Action, error) {
	return o.Parent.Policy(state, o.Memory, o.Objects, o.Params)
}

func (o *Option) Terminal(state State) bool {
	return o.Parent.Terminal(state, o.Memory, o.Objects, o.Params)
}

func (o *Option) String() string {
	return fmt.Sprintf("%s(%s)%v", o.Parent.Name, joinObjects(o.Objects), o.Params)
}

// NSRT is a skill template: an operator name paired with an option and a sampler.
type NSRT struct {
	Name    string
	Option  *ParameterizedOption
	Sampler Sampler
}

type GroundNSRT struct {
	Op      *GroundOperator
	NSRT    *NSRT
	sampler Sampler
}

func NewGroundNSRT(op *GroundOperator, nsrt *NSRT) *GroundNSRT {
	return &GroundNSRT{Op: op, NSRT: nsrt, sampler: nsrt.Sampler}
}

// CopyWithSampler re-arms the skill with another sampler without touching the template.
func (g *GroundNSRT) CopyWithSampler(s Sampler) *GroundNSRT {
	return &GroundNSRT{Op: g.Op, NSRT: g.NSRT, sampler: s}
}

func (g *GroundNSRT) SampleOption(state State, goal AtomSet, rng *rand.Rand) *Option {
	var params []float64
	if g.sampler != nil {
		params = g.sampler(state, goal, rng, g.Op.Objects)
	}
	opt := g.NSRT.Option.Ground(g.Op.Objects, params)
	opt.Skill = g
	return opt
}

func (g *GroundNSRT) String() string {
	return g.Op.String()
}
