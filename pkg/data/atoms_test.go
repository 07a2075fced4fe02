package data

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-tamp/pkg/envs/blocks"
	"go-tamp/pkg/models"
	"testing"
)

func env(t *testing.T) (*blocks.Env, []models.Object) {
	t.Helper()
	e, err := blocks.New(blocks.Config{Blocks: 2})
	require.NoError(t, err)
	return e, e.Reset(0).Objects()
}

func TestParseAtom(t *testing.T) {
	e, objects := env(t)

	a, err := ParseAtom(" On(block1,  table) ", e.Domain().Predicates, objects)
	require.NoError(t, err)
	assert.Equal(t, models.NewAtom(e.On, e.Block(1), e.Table()).String(), a.String())

	a, err = ParseAtom("HandEmpty()", e.Domain().Predicates, objects)
	require.NoError(t, err)
	assert.Equal(t, "HandEmpty()", a.String())
}

func TestParseAtom_Errors(t *testing.T) {
	e, objects := env(t)
	tests := []struct {
		in   string
		want string
	}{
		{in: "On block1", want: "malformed atom"},
		{in: "Under(block1, table)", want: "unknown predicate"},
		{in: "On(block1)", want: "takes 2 objects"},
		{in: "On(block9, table)", want: "unknown object"},
		{in: "On(table, block1)", want: "expects block"},
		{in: "On(block1, table) x", want: "trailing input"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseAtom(tt.in, e.Domain().Predicates, objects)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseGoal(t *testing.T) {
	e, objects := env(t)

	goal, err := ParseGoal("On(block1, table), On(block2, table)", e.Domain().Predicates, objects)
	require.NoError(t, err)
	want := models.NewAtomSet(models.NewAtom(e.On, e.Block(1), e.Table()), models.NewAtom(e.On, e.Block(2), e.Table()))
	assert.True(t, want.Equal(goal))

	_, err = ParseGoal("On(block1, table) On(block2, table)", e.Domain().Predicates, objects)
	assert.ErrorIs(t, err, ErrMalformedAtom)
}

func TestParseGoal_Blank(t *testing.T) {
	e, objects := env(t)

	for _, in := range []string{"", "  "} {
		goal, err := ParseGoal(in, e.Domain().Predicates, objects)
		require.NoError(t, err)
		assert.NotNil(t, goal)
		assert.Empty(t, goal)
	}

	_, err := ParseGoal("On(block1, table),", e.Domain().Predicates, objects)
	assert.ErrorIs(t, err, ErrMalformedAtom)
}
