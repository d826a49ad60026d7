// Package planner implements width-based rollout planning (RolloutIW).
//
// At every decision the planner grows a rollout tree rooted at the current
// position of a dedicated lookahead Simulator. A novelty table records the
// shallowest depth at which every feature atom has been seen; nodes that bring
// nothing new are pruned, nodes whose atoms are later reached at a shallower
// depth are invalidated. When the root is solved or the time budget runs out,
// values are backed up and a partial action sequence (the branch) is returned.
//
// The tree persists across decisions: the child matching the executed action
// becomes the next root and its siblings are released.
package planner

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Action is an index into the simulator's action space.
type Action int

// NoAction is held by the synthetic parent of a freshly built root.
const NoAction Action = -1

// State is an opaque, self-contained simulator snapshot.
type State any

// Simulator is the step/snapshot/restore oracle the planner looks ahead with.
// Step never returns -Inf; that value is reserved for invalidated nodes.
type Simulator interface {
	Reset()
	Step(a Action) float64
	IsTerminal() bool
	Lives() int
	LegalActions() []Action
	Snapshot() State
	Restore(s State)
}

// FeatureExtractor maps the simulator's current observation to an ascending,
// deduplicated list of atoms in [0, NumAtoms()).
type FeatureExtractor interface {
	// Atoms returns the atoms of sim's current observation. parent holds the
	// atoms of the previous observation and may be empty.
	Atoms(sim Simulator, parent []int) []int
	NumAtoms() int
	// Vision reports whether atoms are screen derived, which enables
	// frame-repeat compression.
	Vision() bool
	Supports(sim Simulator) error
	Name() string
}

var (
	// ErrNoLegalActions is returned when the simulator offers nothing to plan over.
	ErrNoLegalActions = errors.New("planner: no legal actions")
	// ErrEmptyPrefix is returned when GetBranch is called before any action was executed.
	ErrEmptyPrefix = errors.New("planner: empty action prefix")
)

// Config holds RolloutIW configuration.
type Config struct {
	Frameskip int
	// Budget is the soft wall-clock limit per decision. Zero means unbounded.
	Budget   time.Duration
	MaxDepth int
	MaxRep   int
	Discount float64
	Alpha    float64
	Debug    bool
	Seed     int64
}

// Decision is the outcome of one GetBranch call.
type Decision struct {
	Root   NodeID
	Branch []Action
	Stats  Stats
}

// Kind tags the concrete planner held by a Planner.
type Kind uint8

const (
	KindRolloutIW Kind = iota + 1
	KindFixed
)

func (k Kind) String() string {
	switch k {
	case KindRolloutIW:
		return "rollout"
	case KindFixed:
		return "fixed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Planner is a closed variant over the available planners.
type Planner struct {
	kind  Kind
	iw    *RolloutIW
	fixed *FixedSequence
}

// FromRolloutIW wraps p.
func FromRolloutIW(p *RolloutIW) Planner { return Planner{kind: KindRolloutIW, iw: p} }

// FromFixed wraps p.
func FromFixed(p *FixedSequence) Planner { return Planner{kind: KindFixed, fixed: p} }

func (p Planner) Kind() Kind { return p.kind }

// RolloutIW returns the wrapped RolloutIW planner, or nil.
func (p Planner) RolloutIW() *RolloutIW { return p.iw }

func (p Planner) Name() string {
	switch p.kind {
	case KindRolloutIW:
		return p.iw.Name()
	case KindFixed:
		return p.fixed.Name()
	}
	panic("planner: zero Planner")
}

func (p Planner) RandomAction() Action {
	switch p.kind {
	case KindRolloutIW:
		return p.iw.RandomAction()
	case KindFixed:
		return p.fixed.RandomAction()
	}
	panic("planner: zero Planner")
}

func (p Planner) GetBranch(prefix []Action, prev NodeID, lastReward float64) (Decision, error) {
	switch p.kind {
	case KindRolloutIW:
		return p.iw.GetBranch(prefix, prev, lastReward)
	case KindFixed:
		return p.fixed.GetBranch(prefix, prev, lastReward)
	}
	panic("planner: zero Planner")
}

// Advance moves the retained root past the executed action a.
func (p Planner) Advance(root NodeID, a Action) NodeID {
	switch p.kind {
	case KindRolloutIW:
		return p.iw.Advance(root, a)
	case KindFixed:
		return Nil
	}
	panic("planner: zero Planner")
}

func randomAction(rng *rand.Rand, actions []Action) Action {
	if len(actions) == 0 {
		return NoAction
	}
	return actions[rng.Intn(len(actions))]
}
