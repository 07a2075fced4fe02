package data

import (
	"errors"
	"fmt"
	"go-tamp/pkg/models"
	"regexp"
	"strings"
)

var (
	ErrMalformedAtom = errors.New("malformed atom")

	atomRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(([^()]*)\)\s*`)
)

// ParseAtom reads one ground atom such as "On(block1, table)".
func ParseAtom(s string, predicates []*models.Predicate, objects []models.Object) (models.GroundAtom, error) {
	atom, rest, err := parseAtom(s, predicates, objects)
	if err != nil {
		return models.GroundAtom{}, err
	}
	if strings.TrimSpace(rest) != "" {
		return models.GroundAtom{}, fmt.Errorf("%w: trailing input %q", ErrMalformedAtom, rest)
	}
	return atom, nil
}

// ParseGoal reads a comma separated conjunction of ground atoms, e.g.
// "On(block1, table), HandEmpty()". Blank input is the empty goal.
func ParseGoal(s string, predicates []*models.Predicate, objects []models.Object) (models.AtomSet, error) {
	goal := models.AtomSet{}
	if strings.TrimSpace(s) == "" {
		return goal, nil
	}
	rest := s
	for {
		atom, r, err := parseAtom(rest, predicates, objects)
		if err != nil {
			return nil, err
		}
		goal.Add(atom)
		r = strings.TrimSpace(r)
		if r == "" {
			return goal, nil
		}
		if !strings.HasPrefix(r, ",") {
			return nil, fmt.Errorf("%w: expected ',' before %q", ErrMalformedAtom, r)
		}
		rest = r[1:]
	}
}

func parseAtom(s string, predicates []*models.Predicate, objects []models.Object) (models.GroundAtom, string, error) {
	m := atomRe.FindStringSubmatchIndex(s)
	if m == nil {
		return models.GroundAtom{}, "", fmt.Errorf("%w: %q", ErrMalformedAtom, s)
	}
	name := s[m[2]:m[3]]
	args := s[m[4]:m[5]]

	var pred *models.Predicate
	for _, p := range predicates {
		if p.Name == name {
			pred = p
			break
		}
	}
	if pred == nil {
		return models.GroundAtom{}, "", fmt.Errorf("unknown predicate %q", name)
	}

	var names []string
	if strings.TrimSpace(args) != "" {
		for _, a := range strings.Split(args, ",") {
			names = append(names, strings.TrimSpace(a))
		}
	}
	if len(names) != len(pred.Types) {
		return models.GroundAtom{}, "", fmt.Errorf("%s takes %d objects, got %d", name, len(pred.Types), len(names))
	}

	grounding := make([]models.Object, len(names))
	for i, n := range names {
		o, ok := findObject(objects, n)
		if !ok {
			return models.GroundAtom{}, "", fmt.Errorf("unknown object %q", n)
		}
		if o.Type != pred.Types[i] {
			return models.GroundAtom{}, "", fmt.Errorf("object %s has type %s, %s expects %s", n, o.Type, name, pred.Types[i])
		}
		grounding[i] = o
	}
	return models.NewAtom(pred, grounding...), s[m[1]:], nil
}

func findObject(objects []models.Object, name string) (models.Object, bool) {
	for _, o := range objects {
		if o.Name == name {
			return o, true
		}
	}
	return models.Object{}, false
}
