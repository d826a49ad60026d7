package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RolloutIW plans with width-based rollouts over a dedicated lookahead simulator.
// It is not safe for concurrent use; each episode worker owns its own instance.
type RolloutIW struct {
	cfg      Config
	sim      Simulator
	features FeatureExtractor
	logger   *slog.Logger
	rng      *rand.Rand

	actions []Action
	initial State
	tree    *Tree
	table   *NoveltyTable
}

// New creates a RolloutIW planner. sim must not be the simulator the episode is
// played on: rollouts restore and step it freely.
func New(sim Simulator, features FeatureExtractor, cfg Config, logger *slog.Logger) (*RolloutIW, error) {
	if err := features.Supports(sim); err != nil {
		return nil, fmt.Errorf("features %s: %w", features.Name(), err)
	}
	if cfg.MaxDepth <= 0 {
		return nil, fmt.Errorf("max depth must be positive, got %d", cfg.MaxDepth)
	}
	if cfg.Frameskip <= 0 {
		cfg.Frameskip = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	sim.Reset()
	return &RolloutIW{
		cfg:      cfg,
		sim:      sim,
		features: features,
		logger:   logger,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		actions:  append([]Action(nil), sim.LegalActions()...),
		initial:  sim.Snapshot(),
		tree:     NewTree(),
		table:    NewNoveltyTable(features.NumAtoms()),
	}, nil
}

// Tree exposes the search tree for inspection.
func (p *RolloutIW) Tree() *Tree { return p.tree }

// Table exposes the novelty table of the last decision.
func (p *RolloutIW) Table() *NoveltyTable { return p.table }

func (p *RolloutIW) Name() string {
	return fmt.Sprintf("rollout(frameskip=%d,budget=%s,features=%s,max-depth=%d,max-rep=%d,discount=%g,alpha=%g,debug=%t)",
		p.cfg.Frameskip, budgetString(p.cfg.Budget), p.features.Name(), p.cfg.MaxDepth, p.cfg.MaxRep,
		p.cfg.Discount, p.cfg.Alpha, p.cfg.Debug)
}

func budgetString(d time.Duration) string {
	if d <= 0 {
		return "inf"
	}
	return d.String()
}

// RandomAction returns a uniformly chosen legal action, or NoAction if there are none.
func (p *RolloutIW) RandomAction() Action {
	return randomAction(p.rng, p.actions)
}

// Advance promotes the child of root reached by a. See Tree.Advance.
func (p *RolloutIW) Advance(root NodeID, a Action) NodeID {
	if root.IsNil() || !p.tree.Valid(root) {
		return Nil
	}
	return p.tree.Advance(root, a)
}

// GetBranch runs rollouts from the position reached by prefix and returns the
// branch to execute. prev is the root returned by the previous Advance, or Nil
// to rebuild the root by replaying prefix.
func (p *RolloutIW) GetBranch(prefix []Action, prev NodeID, lastReward float64) (Decision, error) {
	if len(prefix) == 0 {
		return Decision{}, ErrEmptyPrefix
	}
	if len(p.actions) == 0 {
		return Decision{}, ErrNoLegalActions
	}

	level := slog.LevelDebug
	if p.cfg.Debug {
		level = slog.LevelInfo
	}
	p.logger.Log(context.Background(), level, "get branch",
		"prefix_len", len(prefix),
		"prefix", formatActions(prefix),
		"last_reward", lastReward,
		"input_nodes", p.inputNodes(prev),
	)

	var st Stats
	start := time.Now()
	p.table.Reset()

	root := prev
	if root.IsNil() || !p.tree.Valid(root) {
		root = p.freshRoot(prefix, &st)
	} else {
		st.Reused = true
		if a := p.tree.Action(root); a != prefix[len(prefix)-1] {
			panic(fmt.Sprintf("planner: reused root action %d does not match last executed action %d", a, prefix[len(prefix)-1]))
		}
	}
	parent := p.tree.Parent(root)
	if parent.IsNil() {
		panic("planner: root without a parent")
	}
	if grand := p.tree.Parent(parent); !grand.IsNil() {
		p.tree.node(parent).parent = Nil
		if p.tree.Valid(grand) {
			p.tree.freeSlot(grand)
		}
	}

	p.tree.ClearSolvedLabels(root)
	p.tree.SetSolved(parent, false)
	p.tree.NormalizeDepth(root)

	for {
		p.rollout(root, &st)
		if p.tree.Solved(root) {
			break
		}
		if p.cfg.Budget > 0 && time.Since(start) >= p.cfg.Budget {
			break
		}
	}

	p.tree.BackupValues(root, p.cfg.Discount)
	p.tree.CalculateHeight(root)

	value := p.tree.Value(root)
	p.logger.Log(context.Background(), level, "root",
		"solved", p.tree.Solved(root),
		"value", value,
		"imm_reward", p.tree.Reward(root),
		"children", p.formatChildren(root),
	)

	branch := p.selectBranch(root)
	if len(branch) == 0 {
		panic(fmt.Sprintf("planner: empty branch for root %s with %d children", root, p.tree.NumChildren(root)))
	}
	p.logger.Log(context.Background(), level, "branch",
		"value", value,
		"size", len(branch),
		"actions", formatActions(branch),
	)

	st.Total = time.Since(start)
	st.NoveltyEntries = p.table.Entries()
	st.TrackedAtoms = p.table.Len()
	st.Nodes = p.tree.NumNodes(root)
	st.Tips = p.tree.NumTips(root)
	st.Height = p.tree.Height(root)
	for _, c := range p.tree.node(root).children {
		st.RootHeights = append(st.RootHeights, p.tree.Height(c))
	}
	st.RootValue = value
	st.RootSolved = p.tree.Solved(root)
	p.logger.Info("decision stats", "stats", st.String())

	return Decision{Root: root, Branch: branch, Stats: st}, nil
}

// selectBranch picks the branch by the sign of the root value. With a zero
// value nothing distinguishes the branches yet, so only half of the longest
// zero-valued branch is committed.
func (p *RolloutIW) selectBranch(root NodeID) []Action {
	value := p.tree.Value(root)
	if value != 0 {
		return p.tree.BestBranch(root)
	}
	branch := p.tree.LongestZeroValueBranch(root)
	if len(branch) == 0 {
		return p.tree.BestBranch(root)
	}
	n := len(branch) / 2
	if n == 0 {
		n = 1
	}
	return branch[:n]
}

// freshRoot discards the tree and builds a synthetic parent holding the state
// just before the last prefix action, with the root below it.
func (p *RolloutIW) freshRoot(prefix []Action, st *Stats) NodeID {
	p.tree.Clear()
	parent := p.tree.NewRoot(NoAction, -1)
	state := p.applyPrefix(prefix, st)
	pn := p.tree.node(parent)
	pn.state = state
	pn.infoValid = true
	return p.tree.AddChild(parent, prefix[len(prefix)-1])
}

// applyPrefix replays all but the last prefix action from the initial state and
// returns the resulting snapshot.
func (p *RolloutIW) applyPrefix(prefix []Action, st *Stats) State {
	t := time.Now()
	p.sim.Reset()
	p.sim.Restore(p.initial)
	st.ResetTime += time.Since(t)
	for _, a := range prefix[:len(prefix)-1] {
		p.step(a, st)
	}
	t = time.Now()
	s := p.sim.Snapshot()
	st.StateTime += time.Since(t)
	return s
}

func (p *RolloutIW) step(a Action, st *Stats) float64 {
	st.SimCalls++
	t := time.Now()
	r := p.sim.Step(a)
	st.SimTime += time.Since(t)
	if math.IsInf(r, -1) {
		panic("planner: simulator returned -Inf reward")
	}
	return r
}

func (p *RolloutIW) inputNodes(prev NodeID) int {
	if prev.IsNil() || !p.tree.Valid(prev) {
		return 0
	}
	return p.tree.NumNodes(prev)
}

func (p *RolloutIW) formatChildren(id NodeID) string {
	var b strings.Builder
	b.WriteByte('[')
	for k, c := range p.tree.node(id).children {
		if k > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%g:%d", p.tree.Value(c), p.tree.Action(c))
	}
	b.WriteByte(']')
	return b.String()
}

func formatActions(actions []Action) string {
	var b strings.Builder
	for k, a := range actions {
		if k > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", a)
	}
	return b.String()
}
