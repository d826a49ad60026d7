package planner

import (
	"fmt"
	"io"
	"log/slog"
)

// toyState is the whole state of toySim. Path encodes the actions taken since
// reset as a base-(len(actions)+1) number so every path has its own value.
type toyState struct {
	Path  int
	Steps int
	Lives int
	Over  bool
}

// toySim is a small deterministic simulator driven by a step function.
type toySim struct {
	s       toyState
	start   toyState
	actions []Action
	step    func(s *toyState, a Action) float64
}

func newToySim(actions []Action, lives int, step func(s *toyState, a Action) float64) *toySim {
	start := toyState{Lives: lives}
	return &toySim{s: start, start: start, actions: actions, step: step}
}

func (t *toySim) Reset()                 { t.s = t.start }
func (t *toySim) Step(a Action) float64  { return t.step(&t.s, a) }
func (t *toySim) IsTerminal() bool       { return t.s.Over }
func (t *toySim) Lives() int             { return t.s.Lives }
func (t *toySim) LegalActions() []Action { return t.actions }
func (t *toySim) Snapshot() State        { return t.s }
func (t *toySim) Restore(s State)        { t.s = s.(toyState) }

// toyFeatures derives atoms from the toy state.
type toyFeatures struct {
	size   int
	vision bool
	atoms  func(s toyState) []int
}

func (f toyFeatures) Atoms(sim Simulator, _ []int) []int { return f.atoms(sim.(*toySim).s) }
func (f toyFeatures) NumAtoms() int                      { return f.size }
func (f toyFeatures) Vision() bool                       { return f.vision }
func (f toyFeatures) Name() string                       { return "toy" }

func (f toyFeatures) Supports(sim Simulator) error {
	if _, ok := sim.(*toySim); !ok {
		return fmt.Errorf("unsupported simulator %T", sim)
	}
	return nil
}

func pathAtom(s toyState) []int { return []int{s.Path} }

func stepAtom(s toyState) []int { return []int{s.Steps} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Frameskip: 1,
		MaxDepth:  3,
		MaxRep:    2,
		Discount:  1,
		Alpha:     100,
		Seed:      1,
	}
}

// binarySim has two actions; every path is a distinct observation. Taking
// action 1 into the third step loses a life while paying a raw reward of 5,
// and taking action 0 into the fourth step pays 1.
func binarySim() *toySim {
	return newToySim([]Action{0, 1}, 3, func(s *toyState, a Action) float64 {
		s.Path = s.Path*3 + int(a) + 1
		s.Steps++
		switch {
		case s.Steps == 3 && a == 1:
			s.Lives--
			return 5
		case s.Steps == 4 && a == 0:
			return 1
		}
		return 0
	})
}

// walk visits id and its subtree depth first.
func walk(t *Tree, id NodeID, fn func(NodeID)) {
	fn(id)
	for _, c := range t.Children(id) {
		walk(t, c, fn)
	}
}

// childFor returns the child of id reached by a.
func childFor(t *Tree, id NodeID, a Action) NodeID {
	for _, c := range t.Children(id) {
		if t.Action(c) == a {
			return c
		}
	}
	return Nil
}
