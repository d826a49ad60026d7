package planner

import (
	"fmt"
	"math/rand"
	"time"
)

// FixedSequence replays a fixed action sequence regardless of the state. It is
// the baseline RolloutIW is compared against.
type FixedSequence struct {
	sequence []Action
	actions  []Action
	rng      *rand.Rand
}

// NewFixedSequence returns a baseline that answers every decision with
// sequence. legal is the simulator's action set, used by RandomAction.
func NewFixedSequence(sequence, legal []Action, seed int64) (*FixedSequence, error) {
	if len(sequence) == 0 {
		return nil, fmt.Errorf("fixed sequence is empty")
	}
	for _, a := range sequence {
		if !containsAction(legal, a) {
			return nil, fmt.Errorf("fixed sequence action %d is not legal", a)
		}
	}
	return &FixedSequence{
		sequence: append([]Action(nil), sequence...),
		actions:  append([]Action(nil), legal...),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (f *FixedSequence) Name() string {
	return fmt.Sprintf("fixed(actions=%s)", formatActions(f.sequence))
}

func (f *FixedSequence) RandomAction() Action {
	return randomAction(f.rng, f.actions)
}

// GetBranch ignores its inputs and returns a copy of the sequence.
func (f *FixedSequence) GetBranch(prefix []Action, _ NodeID, _ float64) (Decision, error) {
	if len(prefix) == 0 {
		return Decision{}, ErrEmptyPrefix
	}
	if len(f.actions) == 0 {
		return Decision{}, ErrNoLegalActions
	}
	start := time.Now()
	branch := append([]Action(nil), f.sequence...)
	return Decision{Root: Nil, Branch: branch, Stats: Stats{Total: time.Since(start)}}, nil
}

func containsAction(actions []Action, a Action) bool {
	for _, b := range actions {
		if a == b {
			return true
		}
	}
	return false
}
