package models

import (
	"sort"
	"strings"
)

type Object struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (o Object) String() string {
	return o.Name
}

// State is the continuous world state, owned by the environment.
type State interface {
	Objects() []Object
	// Vec returns the concatenated features of the given objects.
	Vec(objects []Object) []float64
}

type Classifier func(state State, objects []Object) bool

type Predicate struct {
	Name       string
	Types      []string
	Classifier Classifier
}

type GroundAtom struct {
	Predicate *Predicate
	Objects   []Object
}

func NewAtom(p *Predicate, objects ...Object) GroundAtom {
	return GroundAtom{Predicate: p, Objects: objects}
}

func (a GroundAtom) Holds(state State) bool {
	return a.Predicate.Classifier(state, a.Objects)
}

func (a GroundAtom) String() string {
	return a.Predicate.Name + "(" + joinObjects(a.Objects) + ")"
}

func joinObjects(objects []Object) string {
	names := make([]string, len(objects))
	for i, o := range objects {
		names[i] = o.Name
	}
	return strings.Join(names, ", ")
}

// AtomSet is a set of ground atoms keyed by their string identity.
type AtomSet map[string]GroundAtom

func NewAtomSet(atoms ...GroundAtom) AtomSet {
	s := make(AtomSet, len(atoms))
	for _, a := range atoms {
		s[a.String()] = a
	}
	return s
}

func (s AtomSet) Add(a GroundAtom) {
	s[a.String()] = a
}

func (s AtomSet) Has(a GroundAtom) bool {
	_, ok := s[a.String()]
	return ok
}

// Subset reports whether every atom of s is in other.
func (s AtomSet) Subset(other AtomSet) bool {
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

func (s AtomSet) Clone() AtomSet {
	c := make(AtomSet, len(s))
	for k, a := range s {
		c[k] = a
	}
	return c
}

func (s AtomSet) Union(other AtomSet) AtomSet {
	c := s.Clone()
	for k, a := range other {
		c[k] = a
	}
	return c
}

func (s AtomSet) Minus(other AtomSet) AtomSet {
	c := make(AtomSet, len(s))
	for k, a := range s {
		if _, ok := other[k]; !ok {
			c[k] = a
		}
	}
	return c
}

func (s AtomSet) Equal(other AtomSet) bool {
	return len(s) == len(other) && s.Subset(other)
}

// AllHold evaluates every atom against the state.
func (s AtomSet) AllHold(state State) bool {
	for _, a := range s {
		if !a.Holds(state) {
			return false
		}
	}
	return true
}

// Sorted returns the atom identities in lexical order.
func (s AtomSet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key is a canonical string for the whole set, usable as a map key.
func (s AtomSet) Key() string {
	return strings.Join(s.Sorted(), ";")
}

func (s AtomSet) String() string {
	return "{" + strings.Join(s.Sorted(), ", ") + "}"
}

// Abstract evaluates all groundings of the predicates over the objects of
// the state and returns those that hold.
func Abstract(state State, predicates []*Predicate) AtomSet {
	objects := state.Objects()
	atoms := AtomSet{}
	for _, p := range predicates {
		for _, choice := range groundings(objects, p.Types) {
			a := GroundAtom{Predicate: p, Objects: choice}
			if a.Holds(state) {
				atoms.Add(a)
			}
		}
	}
	return atoms
}

func groundings(objects []Object, types []string) [][]Object {
	res := [][]Object{{}}
	for _, t := range types {
		var next [][]Object
		for _, prefix := range res {
			for _, o := range objects {
				if o.Type != t {
					continue
				}
				choice := make([]Object, len(prefix), len(prefix)+1)
				copy(choice, prefix)
				next = append(next, append(choice, o))
			}
		}
		res = next
	}
	return res
}

// SameObjects reports whether two states contain the same set of objects.
func SameObjects(a, b State) bool {
	oa, ob := a.Objects(), b.Objects()
	if len(oa) != len(ob) {
		return false
	}
	seen := make(map[Object]struct{}, len(oa))
	for _, o := range oa {
		seen[o] = struct{}{}
	}
	for _, o := range ob {
		if _, ok := seen[o]; !ok {
			return false
		}
	}
	return true
}
