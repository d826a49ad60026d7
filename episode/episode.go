// Package episode plays one episode against a live simulator, asking a planner
// for branches and executing them action by action.
package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/rolloutiw/planner"
)

// Options control one episode.
type Options struct {
	ID string
	// MaxLength bounds the number of executed actions after the first one.
	MaxLength int
	// SingleAction re-plans after every action. Otherwise a branch is followed
	// until it runs out or a positive reward is observed.
	SingleAction bool

	// OnDecision and OnStep are called synchronously when set.
	OnDecision func(Decision)
	OnStep     func(Step)
}

// Decision describes one planner call.
type Decision struct {
	EpisodeID  string
	Index      int
	Step       int
	PrefixLen  int
	LastReward float64
	// Root is the planner's tree root for this decision. It is only valid
	// inside OnDecision.
	Root   planner.NodeID
	Branch []planner.Action
	Stats  planner.Stats
}

// Step describes one executed action.
type Step struct {
	EpisodeID string
	Index     int
	Action    planner.Action
	Reward    float64
	Score     float64
	Lives     int
	Terminal  bool
}

// Result summarises an episode.
type Result struct {
	ID        string
	Score     float64
	Steps     int
	Decisions int
	Elapsed   time.Duration
	Terminal  bool
	// Aborted is set when the planner had nothing to plan over.
	Aborted bool
	// Prefix is every executed action, the random first action included.
	Prefix  []planner.Action
	Rewards []float64
}

// AvgTime is the wall time per executed step.
func (r Result) AvgTime() time.Duration {
	if r.Steps == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(r.Steps)
}

// Run plays one episode on env, which must not be the planner's own simulator.
// An operational planner failure (no legal actions) ends the episode early
// with Aborted set and a nil error. Cancellation of ctx is checked between
// actions and returned as the error alongside the partial result.
func Run(ctx context.Context, env planner.Simulator, p planner.Planner, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("episode", opts.ID)
	start := time.Now()
	res := Result{ID: opts.ID}

	env.Reset()
	first := p.RandomAction()
	if first == planner.NoAction {
		logger.Warn("no legal actions, ending episode")
		res.Aborted = true
		res.Elapsed = time.Since(start)
		return res, nil
	}

	lastReward := env.Step(first)
	res.Prefix = append(res.Prefix, first)
	res.Rewards = append(res.Rewards, lastReward)
	res.Score = lastReward

	var branch []planner.Action
	root := planner.Nil
	step := 0
	for ; !env.IsTerminal() && step < opts.MaxLength; step++ {
		if err := ctx.Err(); err != nil {
			res.Steps = step
			res.Elapsed = time.Since(start)
			return res, err
		}

		if len(branch) == 0 {
			d, err := p.GetBranch(res.Prefix, root, lastReward)
			if errors.Is(err, planner.ErrNoLegalActions) {
				logger.Warn("planner has no legal actions, ending episode", "step", step)
				res.Aborted = true
				break
			}
			if err != nil {
				res.Steps = step
				res.Elapsed = time.Since(start)
				return res, fmt.Errorf("decision %d: %w", res.Decisions, err)
			}
			root = d.Root
			branch = d.Branch
			if opts.OnDecision != nil {
				opts.OnDecision(Decision{
					EpisodeID:  opts.ID,
					Index:      res.Decisions,
					Step:       step,
					PrefixLen:  len(res.Prefix),
					LastReward: lastReward,
					Root:       d.Root,
					Branch:     append([]planner.Action(nil), d.Branch...),
					Stats:      d.Stats,
				})
			}
			res.Decisions++
			if len(branch) == 0 {
				logger.Warn("empty branch, ending episode", "step", step)
				res.Aborted = true
				break
			}
			logger.Debug("branch", "len", len(branch), "actions", branch)
		}

		action := branch[0]
		branch = branch[1:]

		lastReward = env.Step(action)
		root = p.Advance(root, action)
		res.Prefix = append(res.Prefix, action)
		res.Rewards = append(res.Rewards, lastReward)
		res.Score += lastReward

		if opts.OnStep != nil {
			opts.OnStep(Step{
				EpisodeID: opts.ID,
				Index:     step,
				Action:    action,
				Reward:    lastReward,
				Score:     res.Score,
				Lives:     env.Lives(),
				Terminal:  env.IsTerminal(),
			})
		}

		if opts.SingleAction || lastReward > 0 {
			branch = nil
		}
	}

	res.Steps = step
	res.Terminal = env.IsTerminal()
	res.Elapsed = time.Since(start)
	logger.Info("episode finished",
		"score", res.Score,
		"decisions", res.Decisions,
		"steps", res.Steps,
		"total_time", res.Elapsed,
		"avg_time", res.AvgTime(),
		"terminal", res.Terminal,
		"aborted", res.Aborted,
	)
	return res, nil
}
