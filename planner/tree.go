package planner

import (
	"fmt"
	"math"
)

// NodeID is a generation-checked handle into a Tree.
// The zero value is Nil; live nodes never use generation 0.
type NodeID struct {
	index int32
	gen   uint32
}

// Nil is the handle of no node.
var Nil NodeID

// negInf is the reward of invalidated nodes. Simulators never produce it.
var negInf = math.Inf(-1)

func (id NodeID) IsNil() bool { return id.gen == 0 }

func (id NodeID) String() string {
	if id.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("#%d.%d", id.index, id.gen)
}

// node is one position in the rollout tree.
type node struct {
	gen  uint32
	live bool

	action   Action
	depth    int
	height   int
	reward   float64
	terminal bool
	value    float64

	visited   bool
	solved    bool
	infoValid bool

	atoms    []int
	frameRep int
	// lives is -1 when unknown (synthetic parent of a fresh root).
	lives int
	state State

	parent   NodeID
	children []NodeID
}

// Tree is an arena of nodes. Parent and child links are handles; releasing a
// subtree returns its slots to a free list and bumps their generation so every
// outstanding handle into it becomes stale.
type Tree struct {
	nodes []node
	free  []int32
	live  int
}

func NewTree() *Tree {
	return &Tree{}
}

func (t *Tree) alloc(parent NodeID, action Action, depth int) NodeID {
	var idx int32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.nodes = append(t.nodes, node{})
		idx = int32(len(t.nodes) - 1)
	}
	gen := t.nodes[idx].gen + 1
	t.nodes[idx] = node{
		gen:    gen,
		live:   true,
		action: action,
		depth:  depth,
		lives:  -1,
		parent: parent,
	}
	t.live++
	return NodeID{index: idx, gen: gen}
}

// node panics on stale or nil handles: both mean the tree invariants are broken.
// The returned pointer is only valid until the next allocation.
func (t *Tree) node(id NodeID) *node {
	if id.IsNil() || int(id.index) >= len(t.nodes) {
		panic(fmt.Sprintf("planner: invalid node handle %s", id))
	}
	n := &t.nodes[id.index]
	if !n.live || n.gen != id.gen {
		panic(fmt.Sprintf("planner: stale node handle %s", id))
	}
	return n
}

func (t *Tree) freeSlot(id NodeID) {
	n := t.node(id)
	gen := n.gen + 1
	*n = node{gen: gen}
	t.free = append(t.free, id.index)
	t.live--
}

// Valid reports whether id refers to a live node.
func (t *Tree) Valid(id NodeID) bool {
	if id.IsNil() || int(id.index) >= len(t.nodes) {
		return false
	}
	n := &t.nodes[id.index]
	return n.live && n.gen == id.gen
}

// Len returns the number of live nodes in the arena.
func (t *Tree) Len() int { return t.live }

// Clear releases every node.
func (t *Tree) Clear() {
	for i := range t.nodes {
		if t.nodes[i].live {
			t.freeSlot(NodeID{index: int32(i), gen: t.nodes[i].gen})
		}
	}
}

// NewRoot creates a parentless node.
func (t *Tree) NewRoot(action Action, depth int) NodeID {
	return t.alloc(Nil, action, depth)
}

// AddChild creates a child of parent reached by action.
func (t *Tree) AddChild(parent NodeID, action Action) NodeID {
	depth := t.node(parent).depth + 1
	child := t.alloc(parent, action, depth)
	p := t.node(parent)
	p.children = append(p.children, child)
	return child
}

func (t *Tree) Action(id NodeID) Action       { return t.node(id).action }
func (t *Tree) Depth(id NodeID) int           { return t.node(id).depth }
func (t *Tree) Height(id NodeID) int          { return t.node(id).height }
func (t *Tree) Reward(id NodeID) float64      { return t.node(id).reward }
func (t *Tree) Value(id NodeID) float64       { return t.node(id).value }
func (t *Tree) Terminal(id NodeID) bool       { return t.node(id).terminal }
func (t *Tree) Visited(id NodeID) bool        { return t.node(id).visited }
func (t *Tree) Solved(id NodeID) bool         { return t.node(id).solved }
func (t *Tree) InfoValid(id NodeID) bool      { return t.node(id).infoValid }
func (t *Tree) FrameRep(id NodeID) int        { return t.node(id).frameRep }
func (t *Tree) Lives(id NodeID) int           { return t.node(id).lives }
func (t *Tree) Parent(id NodeID) NodeID       { return t.node(id).parent }
func (t *Tree) Atoms(id NodeID) []int         { return t.node(id).atoms }
func (t *Tree) State(id NodeID) State         { return t.node(id).state }
func (t *Tree) NumChildren(id NodeID) int     { return len(t.node(id).children) }
func (t *Tree) Child(id NodeID, k int) NodeID { return t.node(id).children[k] }

// Children returns a copy of id's children.
func (t *Tree) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.node(id).children...)
}

// SetReward overrides the immediate reward of id.
func (t *Tree) SetReward(id NodeID, r float64) { t.node(id).reward = r }

// SetSolved sets the solved label of id without propagation.
func (t *Tree) SetSolved(id NodeID, solved bool) { t.node(id).solved = solved }

// MarkVisited sets the visited flag of id.
func (t *Tree) MarkVisited(id NodeID) { t.node(id).visited = true }

// Pruned reports whether id was invalidated by a stale novelty test.
func (t *Tree) Pruned(id NodeID) bool { return t.node(id).reward == negInf }

// Expand creates one child per action. It is called once per node.
func (t *Tree) Expand(id NodeID, actions []Action) {
	if len(t.node(id).children) != 0 {
		panic(fmt.Sprintf("planner: expanding %s twice", id))
	}
	for _, a := range actions {
		t.AddChild(id, a)
	}
}

// ExpandRepeat creates a single child that repeats id's own action. Used while
// the observation is not changing.
func (t *Tree) ExpandRepeat(id NodeID) {
	t.Expand(id, []Action{t.node(id).action})
}

// Release frees id and its whole subtree. id is unlinked from its parent.
func (t *Tree) Release(id NodeID) {
	n := t.node(id)
	if parent := n.parent; !parent.IsNil() && t.Valid(parent) {
		p := t.node(parent)
		for k, c := range p.children {
			if c == id {
				p.children = append(p.children[:k], p.children[k+1:]...)
				break
			}
		}
	}
	t.releaseSubtree(id)
}

func (t *Tree) releaseSubtree(id NodeID) {
	for _, c := range t.node(id).children {
		t.releaseSubtree(c)
	}
	t.freeSlot(id)
}

// RemoveChildren discards the subtree built below id.
func (t *Tree) RemoveChildren(id NodeID) {
	for _, c := range t.node(id).children {
		t.releaseSubtree(c)
	}
	t.node(id).children = nil
}

// Advance returns the child of root reached by a, which becomes the next
// root. The old root stays as the new root's parent so that the new root's
// transition can still be recomputed from its snapshot; everything else
// (the old root's parent and the siblings) is released. If root has no child
// for a, the whole tree is released and Nil is returned.
func (t *Tree) Advance(root NodeID, a Action) NodeID {
	r := t.node(root)
	if parent := r.parent; !parent.IsNil() {
		r.parent = Nil
		if t.Valid(parent) {
			t.freeSlot(parent)
		}
		r = t.node(root)
	}

	selected := Nil
	children := r.children
	r.children = nil
	for _, c := range children {
		if selected.IsNil() && t.node(c).action == a {
			selected = c
			continue
		}
		t.releaseSubtree(c)
	}
	if selected.IsNil() {
		t.freeSlot(root)
		return Nil
	}
	t.node(root).children = []NodeID{selected}
	return selected
}

// ClearSolvedLabels unsolves id and its subtree.
func (t *Tree) ClearSolvedLabels(id NodeID) {
	n := t.node(id)
	n.solved = false
	for _, c := range n.children {
		t.ClearSolvedLabels(c)
	}
}

// NormalizeDepth makes id depth 0 and renumbers its subtree.
func (t *Tree) NormalizeDepth(id NodeID) {
	t.setDepth(id, 0)
}

func (t *Tree) setDepth(id NodeID, depth int) {
	n := t.node(id)
	n.depth = depth
	for _, c := range n.children {
		t.setDepth(c, depth+1)
	}
}

// SolveAndBackpropagate labels id solved and walks upwards, labelling each
// ancestor solved iff all of its children are solved.
func (t *Tree) SolveAndBackpropagate(id NodeID) {
	t.node(id).solved = true
	for parent := t.node(id).parent; !parent.IsNil(); parent = t.node(parent).parent {
		p := t.node(parent)
		for _, c := range p.children {
			if !t.node(c).solved {
				return
			}
		}
		p.solved = true
	}
}

// BackupValues computes values bottom-up: a childless node is worth its own
// reward, an internal node its reward plus the discounted best value among its
// children that were not invalidated. A node whose children were all
// invalidated is valued as a leaf.
func (t *Tree) BackupValues(id NodeID, discount float64) float64 {
	n := t.node(id)
	children := n.children
	best := negInf
	found := false
	for _, c := range children {
		v := t.BackupValues(c, discount)
		if t.Pruned(c) {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	n = t.node(id)
	if found {
		n.value = n.reward + discount*best
	} else {
		n.value = n.reward
	}
	return n.value
}

// CalculateHeight recomputes heights below id and returns id's height.
func (t *Tree) CalculateHeight(id NodeID) int {
	h := 0
	for _, c := range t.node(id).children {
		if ch := 1 + t.CalculateHeight(c); ch > h {
			h = ch
		}
	}
	t.node(id).height = h
	return h
}

// BestBranch descends greedily from id through the child of maximum value,
// skipping invalidated children. Ties go to the first child in expansion order.
func (t *Tree) BestBranch(id NodeID) []Action {
	var branch []Action
	for {
		best := Nil
		bestValue := negInf
		for _, c := range t.node(id).children {
			if t.Pruned(c) {
				continue
			}
			if v := t.node(c).value; best.IsNil() || v > bestValue {
				best, bestValue = c, v
			}
		}
		if best.IsNil() {
			return branch
		}
		branch = append(branch, t.node(best).action)
		id = best
	}
}

// LongestZeroValueBranch descends through zero-valued children, choosing the
// tallest one at every step. Heights must be current.
func (t *Tree) LongestZeroValueBranch(id NodeID) []Action {
	var branch []Action
	for {
		selected := Nil
		maxHeight := -1
		for _, c := range t.node(id).children {
			cn := t.node(c)
			if cn.value != 0 || cn.reward == negInf {
				continue
			}
			if cn.height > maxHeight {
				selected, maxHeight = c, cn.height
			}
		}
		if selected.IsNil() {
			return branch
		}
		branch = append(branch, t.node(selected).action)
		id = selected
	}
}

// NumNodes counts id and its descendants.
func (t *Tree) NumNodes(id NodeID) int {
	n := 1
	for _, c := range t.node(id).children {
		n += t.NumNodes(c)
	}
	return n
}

// NumTips counts the leaves below id.
func (t *Tree) NumTips(id NodeID) int {
	children := t.node(id).children
	if len(children) == 0 {
		return 1
	}
	n := 0
	for _, c := range children {
		n += t.NumTips(c)
	}
	return n
}
