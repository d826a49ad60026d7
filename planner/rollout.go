package planner

import (
	"slices"
	"time"
)

// rollout performs one random descent from root, growing the tree and applying
// the novelty rule to every node it reaches.
func (p *RolloutIW) rollout(root NodeID, st *Stats) {
	st.Rollouts++
	var seenPositive, seenNegative bool
	defer func() {
		if seenPositive {
			st.SeenPositive++
		}
		if seenNegative {
			st.SeenNegative++
		}
	}()

	t := p.tree
	if !t.InfoValid(root) {
		p.updateInfo(root, st)
	}

	id := root
	for !t.Solved(id) {
		if t.NumChildren(id) == 0 {
			start := time.Now()
			if t.FrameRep(id) == 0 {
				t.Expand(id, p.actions)
				st.Expansions++
			} else {
				t.ExpandRepeat(id)
			}
			st.ExpandTime += time.Since(start)
		}

		id = p.pickUnsolvedChild(id)
		if !t.InfoValid(id) {
			p.updateInfo(id, st)
		}

		n := t.node(id)
		if n.terminal {
			n.visited = true
			st.CaseTerminal++
			t.SolveAndBackpropagate(id)
			return
		}

		if n.frameRep > p.cfg.MaxRep {
			n.visited = true
			st.CaseMaxRep++
			t.SolveAndBackpropagate(id)
			return
		} else if n.frameRep > 0 {
			n.visited = true
			continue
		}

		if n.reward > 0 {
			seenPositive = true
		} else if n.reward < 0 {
			seenNegative = true
		}

		if n.depth > p.cfg.MaxDepth {
			n.visited = true
			st.CaseMaxDepth++
			t.SolveAndBackpropagate(id)
			return
		}

		recorded := p.recordedDepth(n.depth, n.atoms, st)
		switch {
		case recorded > n.depth:
			// Novel. A node visited in an earlier decision is passed through.
			if !n.visited {
				n.visited = true
				st.CaseNovel++
				start := time.Now()
				p.table.Update(n.depth, n.atoms)
				st.UpdateTime += time.Since(start)
			}
		case !n.visited:
			n.visited = true
			st.CasePruned++
			t.SolveAndBackpropagate(id)
			return
		case recorded < n.depth:
			st.CaseStale++
			p.invalidate(id)
			return
		default:
			st.CaseOptimal++
		}
	}
}

// invalidate discards a node that was reached by a shallower path after it had
// been visited. Its reward becomes -Inf so it never takes part in a branch.
func (p *RolloutIW) invalidate(id NodeID) {
	p.tree.RemoveChildren(id)
	p.tree.node(id).reward = negInf
	p.tree.SolveAndBackpropagate(id)
}

// recordedDepth returns the table depth of the atom that decides novelty for a
// node at depth. A node without atoms counts as recorded at its own depth.
func (p *RolloutIW) recordedDepth(depth int, atoms []int, st *Stats) int {
	start := time.Now()
	defer func() { st.NovelAtomTime += time.Since(start) }()
	atom, ok := p.table.SelectNovelAtom(depth, atoms)
	if !ok {
		return depth
	}
	d, _ := p.table.Depth(atom)
	return d
}

func (p *RolloutIW) pickUnsolvedChild(id NodeID) NodeID {
	children := p.tree.node(id).children
	unsolved := 0
	for _, c := range children {
		if !p.tree.Solved(c) {
			unsolved++
		}
	}
	if unsolved == 0 {
		panic("planner: descending into a node whose children are all solved")
	}
	k := p.rng.Intn(unsolved)
	for _, c := range children {
		if p.tree.Solved(c) {
			continue
		}
		if k == 0 {
			return c
		}
		k--
	}
	panic("unreachable")
}

// updateInfo computes the transition into id from its parent's snapshot.
func (p *RolloutIW) updateInfo(id NodeID, st *Stats) {
	parent := p.tree.Parent(id)
	pn := p.tree.node(parent)
	if !pn.infoValid || pn.state == nil {
		panic("planner: computing a transition from a parent without state")
	}
	parentState, parentLives, parentRep := pn.state, pn.lives, pn.frameRep
	parentAtoms := pn.atoms

	start := time.Now()
	p.sim.Restore(parentState)
	st.StateTime += time.Since(start)

	reward := p.step(p.tree.Action(id), st)
	terminal := p.sim.IsTerminal()

	start = time.Now()
	state := p.sim.Snapshot()
	st.StateTime += time.Since(start)

	if reward < 0 {
		reward *= p.cfg.Alpha
	}

	start = time.Now()
	atoms := p.features.Atoms(p.sim, parentAtoms)
	st.AtomsTime += time.Since(start)

	lives := p.sim.Lives()
	if parentLives != -1 && lives < parentLives {
		reward = -10 * p.cfg.Alpha
	}

	n := p.tree.node(id)
	n.reward = reward
	n.terminal = terminal
	n.state = state
	n.atoms = atoms
	n.lives = lives
	if p.features.Vision() && len(parentAtoms) > 0 && slices.Equal(parentAtoms, atoms) {
		n.frameRep = parentRep + p.cfg.Frameskip
	}
	n.infoValid = true
}
