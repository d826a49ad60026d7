package episode

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/rolloutiw/features"
	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/planner"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallArena() game.Options {
	opts := game.DefaultOptions()
	opts.Width, opts.Height = 7, 7
	opts.Lives = 2
	opts.Seed = 3
	return opts
}

func newEnv(t *testing.T) *game.Env {
	t.Helper()
	env, err := game.NewEnv(smallArena())
	require.NoError(t, err)
	return env
}

func newRollout(t *testing.T) planner.Planner {
	t.Helper()
	fx, err := features.New(features.RAM)
	require.NoError(t, err)
	iw, err := planner.New(newEnv(t), fx, planner.Config{
		Frameskip: 1,
		MaxDepth:  6,
		MaxRep:    12,
		Discount:  1,
		Alpha:     10000,
		Seed:      5,
	}, quietLogger())
	require.NoError(t, err)
	return planner.FromRolloutIW(iw)
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func TestRunWithRolloutPlanner(t *testing.T) {
	env := newEnv(t)
	var decisions []Decision
	var steps []Step
	res, err := Run(context.Background(), env, newRollout(t), Options{
		ID:         "ep-1",
		MaxLength:  25,
		OnDecision: func(d Decision) { decisions = append(decisions, d) },
		OnStep:     func(s Step) { steps = append(steps, s) },
	}, quietLogger())
	require.NoError(t, err)

	require.Equal(t, "ep-1", res.ID)
	require.False(t, res.Aborted)
	require.LessOrEqual(t, res.Steps, 25)
	require.Len(t, res.Prefix, res.Steps+1)
	require.Len(t, res.Rewards, res.Steps+1)
	require.Equal(t, sum(res.Rewards), res.Score)
	require.Equal(t, res.Decisions, len(decisions))
	require.Len(t, steps, res.Steps)
	require.GreaterOrEqual(t, res.Decisions, 1)
	for i, d := range decisions {
		require.Equal(t, i, d.Index)
		require.NotEmpty(t, d.Branch)
		require.Equal(t, d.Step+1, d.PrefixLen)
	}
	if res.Steps > 0 {
		require.Equal(t, res.Score, steps[len(steps)-1].Score)
	}
}

func TestRunWithFixedSequenceWalksIntoWall(t *testing.T) {
	env := newEnv(t)
	fixed, err := planner.NewFixedSequence([]planner.Action{game.MoveLeft}, env.LegalActions(), 1)
	require.NoError(t, err)

	res, err := Run(context.Background(), env, planner.FromFixed(fixed), Options{ID: "fixed", MaxLength: 1000}, quietLogger())
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Equal(t, 0, env.Lives())
	require.Equal(t, res.Steps, res.Decisions)
	for _, a := range res.Prefix[1:] {
		require.Equal(t, planner.Action(game.MoveLeft), a)
	}
}

func TestRunSingleActionReplansEveryStep(t *testing.T) {
	env := newEnv(t)
	fixed, err := planner.NewFixedSequence([]planner.Action{game.MoveUp, game.MoveDown, game.MoveLeft}, env.LegalActions(), 1)
	require.NoError(t, err)

	res, err := Run(context.Background(), env, planner.FromFixed(fixed), Options{MaxLength: 6, SingleAction: true}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, res.Steps, res.Decisions)
	// Every decision restarts the sequence, so only its first action is played.
	for _, a := range res.Prefix[1:] {
		require.Equal(t, planner.Action(game.MoveUp), a)
	}
}

func TestRunFollowsBranchUntilExhausted(t *testing.T) {
	opts := smallArena()
	opts.Food = game.FoodSettings{}
	env, err := game.NewEnv(opts)
	require.NoError(t, err)
	seq := []planner.Action{game.MoveLeft, game.MoveUp, game.MoveRight, game.MoveDown}
	fixed, err := planner.NewFixedSequence(seq, env.LegalActions(), 1)
	require.NoError(t, err)

	// The square walk never collides and there is no food, so no reward
	// interrupts the queue and two decisions cover eight steps.
	var decisions int
	res, err := Run(context.Background(), env, planner.FromFixed(fixed), Options{
		MaxLength:  8,
		OnDecision: func(Decision) { decisions++ },
	}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 8, res.Steps)
	require.Equal(t, 2, decisions)
	require.Equal(t, seq, res.Prefix[1:5])
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, newEnv(t), newRollout(t), Options{MaxLength: 10}, quietLogger())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, res.Steps)
	require.Len(t, res.Prefix, 1)
}

// noActions is a simulator with an empty action set.
type noActions struct{ *game.Env }

func (noActions) LegalActions() []planner.Action { return nil }

func TestRunAbortsWithoutLegalActions(t *testing.T) {
	fx, err := features.New(features.RAM)
	require.NoError(t, err)
	iw, err := planner.New(noActions{newEnv(t)}, fx, planner.Config{MaxDepth: 3, Discount: 1, Alpha: 1}, quietLogger())
	require.NoError(t, err)

	res, err := Run(context.Background(), newEnv(t), planner.FromRolloutIW(iw), Options{MaxLength: 10}, quietLogger())
	require.NoError(t, err)
	require.True(t, res.Aborted)
	require.Equal(t, 0, res.Steps)
}
