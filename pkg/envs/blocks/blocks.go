// Package blocks is a small blocks world used by the demo server and tests.
// Blocks start on the floor; the robot can pick them up, put them on the
// table, or (optionally) push them onto the table directly. Placing on the
// table succeeds only when the sampled placement parameter clears a
// threshold, otherwise the block falls back to the floor.
package blocks

import (
	"fmt"
	"go-tamp/pkg/models"
	"math/rand/v2"
)

type Location int

const (
	Floor Location = iota
	Held
	Table
)

const (
	BlockType   = "block"
	SurfaceType = "surface"
)

type Config struct {
	Blocks int
	// IncludePush adds the one-step Push operator.
	IncludePush bool
	// Broken lists operator templates whose options always fail.
	Broken []string
	// PlaceThreshold is the minimum placement parameter for PutOnTable to succeed.
	PlaceThreshold float64
}

type State struct {
	objects []models.Object
	loc     map[string]Location
}

func (s *State) Objects() []models.Object {
	return s.objects
}

func (s *State) Vec(objects []models.Object) []float64 {
	vec := make([]float64, 0, len(objects))
	for _, o := range objects {
		vec = append(vec, float64(s.loc[o.Name]))
	}
	return vec
}

func (s *State) Location(block string) Location {
	return s.loc[block]
}

func (s *State) clone() *State {
	loc := make(map[string]Location, len(s.loc))
	for k, v := range s.loc {
		loc[k] = v
	}
	return &State{objects: s.objects, loc: loc}
}

func (s *State) holding() (string, bool) {
	for k, v := range s.loc {
		if v == Held {
			return k, true
		}
	}
	return "", false
}

// Command is the payload of every action in this world.
type Command struct {
	Operator string
	Objects  []models.Object
	Params   []float64
}

type Env struct {
	cfg        Config
	objects    []models.Object
	table      models.Object
	domain     *models.Domain
	trainTasks []models.Task

	OnFloor   *models.Predicate
	Holding   *models.Predicate
	HandEmpty *models.Predicate
	On        *models.Predicate
}

func New(cfg Config) (*Env, error) {
	if cfg.Blocks <= 0 {
		cfg.Blocks = 1
	}
	e := &Env{cfg: cfg, table: models.Object{Name: "table", Type: SurfaceType}}
	for i := 1; i <= cfg.Blocks; i++ {
		e.objects = append(e.objects, models.Object{Name: fmt.Sprintf("block%d", i), Type: BlockType})
	}
	e.objects = append(e.objects, e.table)

	e.OnFloor = &models.Predicate{Name: "OnFloor", Types: []string{BlockType}, Classifier: at(Floor)}
	e.Holding = &models.Predicate{Name: "Holding", Types: []string{BlockType}, Classifier: at(Held)}
	e.On = &models.Predicate{Name: "On", Types: []string{BlockType, SurfaceType}, Classifier: at(Table)}
	e.HandEmpty = &models.Predicate{Name: "HandEmpty", Classifier: func(s models.State, _ []models.Object) bool {
		_, held := s.(*State).holding()
		return !held
	}}

	broken := map[string]bool{}
	for _, b := range cfg.Broken {
		broken[b] = true
	}
	nsrts := []*models.NSRT{
		{Name: "PickUp", Option: e.option("PickUp", broken), Sampler: nullSampler},
		{Name: "PutOnTable", Option: e.option("PutOnTable", broken), Sampler: placeSampler},
		{Name: "Push", Option: e.option("Push", broken), Sampler: nullSampler},
	}
	var ops []*models.GroundOperator
	for _, b := range e.objects[:cfg.Blocks] {
		ops = append(ops, e.pickUp(b), e.putOnTable(b))
		if cfg.IncludePush {
			ops = append(ops, e.push(b))
		}
	}
	d, err := models.NewDomain(
		[]*models.Predicate{e.OnFloor, e.Holding, e.HandEmpty, e.On},
		nsrts, ops,
		map[string]models.Sampler{"PutOnTable": explorePlaceSampler},
	)
	if err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}
	e.domain = d

	for _, b := range e.objects[:cfg.Blocks] {
		e.trainTasks = append(e.trainTasks, models.Task{
			Init: e.initialState(),
			Goal: models.NewAtomSet(models.NewAtom(e.On, b, e.table)),
		})
	}
	return e, nil
}

func (e *Env) Domain() *models.Domain {
	return e.domain
}

func (e *Env) TrainTasks() []models.Task {
	return e.trainTasks
}

func (e *Env) Block(i int) models.Object {
	return e.objects[i-1]
}

func (e *Env) Table() models.Object {
	return e.table
}

func (e *Env) Reset(taskIdx int) models.State {
	return e.trainTasks[taskIdx].Init.(*State).clone()
}

func (e *Env) initialState() *State {
	s := &State{objects: e.objects, loc: map[string]Location{}}
	for _, b := range e.objects[:e.cfg.Blocks] {
		s.loc[b.Name] = Floor
	}
	return s
}

// Step applies the command carried by the action and returns the next state.
func (e *Env) Step(state models.State, act models.Action) (models.State, error) {
	s, ok := state.(*State)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", state)
	}
	cmd, ok := act.Extra.(Command)
	if !ok {
		return nil, fmt.Errorf("unexpected action payload %T", act.Extra)
	}
	next := s.clone()
	block := cmd.Objects[0].Name
	switch cmd.Operator {
	case "PickUp":
		if _, held := s.holding(); !held && s.loc[block] == Floor {
			next.loc[block] = Held
		}
	case "PutOnTable":
		if s.loc[block] == Held {
			next.loc[block] = Floor
			if len(cmd.Params) > 0 && cmd.Params[0] >= e.cfg.PlaceThreshold {
				next.loc[block] = Table
			}
		}
	case "Push":
		if _, held := s.holding(); !held && s.loc[block] == Floor {
			next.loc[block] = Table
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", cmd.Operator)
	}
	return next, nil
}

func (e *Env) option(name string, broken map[string]bool) *models.ParameterizedOption {
	return &models.ParameterizedOption{
		Name: name,
		Policy: func(_ models.State, memory map[string]any, objects []models.Object, params []float64) (models.Action, error) {
			if broken[name] {
				return models.Action{}, fmt.Errorf("%w: %s is broken", models.ErrOptionExecutionFailure, name)
			}
			memory["done"] = true
			return models.Action{Arr: params, Extra: Command{Operator: name, Objects: objects, Params: params}}, nil
		},
		Terminal: func(_ models.State, memory map[string]any, _ []models.Object, _ []float64) bool {
			return memory["done"] == true
		},
	}
}

func (e *Env) pickUp(b models.Object) *models.GroundOperator {
	return &models.GroundOperator{
		Name:          "PickUp",
		Objects:       []models.Object{b},
		Preconditions: models.NewAtomSet(models.NewAtom(e.OnFloor, b), models.NewAtom(e.HandEmpty)),
		AddEffects:    models.NewAtomSet(models.NewAtom(e.Holding, b)),
		DeleteEffects: models.NewAtomSet(models.NewAtom(e.OnFloor, b), models.NewAtom(e.HandEmpty)),
	}
}

func (e *Env) putOnTable(b models.Object) *models.GroundOperator {
	return &models.GroundOperator{
		Name:          "PutOnTable",
		Objects:       []models.Object{b, e.table},
		Preconditions: models.NewAtomSet(models.NewAtom(e.Holding, b)),
		AddEffects:    models.NewAtomSet(models.NewAtom(e.On, b, e.table), models.NewAtom(e.HandEmpty)),
		DeleteEffects: models.NewAtomSet(models.NewAtom(e.Holding, b)),
	}
}

func (e *Env) push(b models.Object) *models.GroundOperator {
	return &models.GroundOperator{
		Name:          "Push",
		Objects:       []models.Object{b, e.table},
		Preconditions: models.NewAtomSet(models.NewAtom(e.OnFloor, b), models.NewAtom(e.HandEmpty)),
		AddEffects:    models.NewAtomSet(models.NewAtom(e.On, b, e.table)),
		DeleteEffects: models.NewAtomSet(models.NewAtom(e.OnFloor, b)),
	}
}

func at(loc Location) models.Classifier {
	return func(s models.State, objects []models.Object) bool {
		return s.(*State).loc[objects[0].Name] == loc
	}
}

func nullSampler(models.State, models.AtomSet, *rand.Rand, []models.Object) []float64 {
	return nil
}

func placeSampler(_ models.State, _ models.AtomSet, rng *rand.Rand, _ []models.Object) []float64 {
	return []float64{0.25 + 0.75*rng.Float64()}
}

func explorePlaceSampler(_ models.State, _ models.AtomSet, rng *rand.Rand, _ []models.Object) []float64 {
	return []float64{rng.Float64()}
}
