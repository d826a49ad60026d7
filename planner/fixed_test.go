package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedSequence(t *testing.T) {
	f, err := NewFixedSequence([]Action{1, 0, 1}, []Action{0, 1}, 3)
	require.NoError(t, err)
	require.Equal(t, "fixed(actions=1,0,1)", f.Name())

	d, err := f.GetBranch([]Action{0}, Nil, 0)
	require.NoError(t, err)
	require.Equal(t, []Action{1, 0, 1}, d.Branch)
	require.True(t, d.Root.IsNil())

	// The returned branch is a copy.
	d.Branch[0] = 0
	d, _ = f.GetBranch([]Action{0}, Nil, 0)
	require.Equal(t, Action(1), d.Branch[0])

	_, err = f.GetBranch(nil, Nil, 0)
	require.ErrorIs(t, err, ErrEmptyPrefix)

	for range 20 {
		require.Contains(t, []Action{0, 1}, f.RandomAction())
	}
}

func TestFixedSequenceRejectsIllegalActions(t *testing.T) {
	_, err := NewFixedSequence(nil, []Action{0}, 0)
	require.Error(t, err)
	_, err = NewFixedSequence([]Action{2}, []Action{0, 1}, 0)
	require.Error(t, err)
}

func TestPlannerDispatch(t *testing.T) {
	iw := newTestPlanner(t, binarySim(), toyFeatures{size: 4096, atoms: pathAtom}, testConfig())
	f, err := NewFixedSequence([]Action{1}, []Action{0, 1}, 0)
	require.NoError(t, err)

	rollout := FromRolloutIW(iw)
	fixed := FromFixed(f)
	require.Equal(t, KindRolloutIW, rollout.Kind())
	require.Equal(t, KindFixed, fixed.Kind())
	require.Equal(t, "rollout", rollout.Kind().String())
	require.Equal(t, "fixed", fixed.Kind().String())
	require.Same(t, iw, rollout.RolloutIW())
	require.Nil(t, fixed.RolloutIW())
	require.True(t, strings.HasPrefix(rollout.Name(), "rollout("))

	d, err := rollout.GetBranch([]Action{0}, Nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, d.Branch)
	require.False(t, rollout.Advance(d.Root, d.Branch[0]).IsNil())

	d, err = fixed.GetBranch([]Action{0}, Nil, 0)
	require.NoError(t, err)
	require.Equal(t, []Action{1}, d.Branch)
	require.True(t, fixed.Advance(d.Root, 1).IsNil())

	var zero Planner
	require.Panics(t, func() { zero.Name() })
}
