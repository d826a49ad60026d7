package planner

import "math"

// unseen marks an atom that has not been recorded in the current decision.
const unseen = math.MaxInt32

// NoveltyTable records, for every tracked atom, the shallowest depth at which
// it was reached during the current decision.
type NoveltyTable struct {
	depth   []int32
	entries int
}

// NewNoveltyTable allocates a table over atoms [0, size).
func NewNoveltyTable(size int) *NoveltyTable {
	t := &NoveltyTable{depth: make([]int32, size)}
	t.Reset()
	return t
}

// Reset forgets every recorded depth.
func (t *NoveltyTable) Reset() {
	for i := range t.depth {
		t.depth[i] = unseen
	}
	t.entries = 0
}

// Len returns the number of tracked atoms.
func (t *NoveltyTable) Len() int { return len(t.depth) }

// Entries returns how many atoms have been recorded since the last Reset.
func (t *NoveltyTable) Entries() int { return t.entries }

// Depth returns the recorded depth of atom and whether it has been seen.
func (t *NoveltyTable) Depth(atom int) (int, bool) {
	d := t.depth[atom]
	return int(d), d != unseen
}

// SelectNovelAtom picks the atom that decides the novelty of a node at depth:
// the first atom recorded deeper than depth (or never), else the first atom
// recorded exactly at depth, else the first atom. An empty atom list yields
// (-1, false).
func (t *NoveltyTable) SelectNovelAtom(depth int, atoms []int) (int, bool) {
	if len(atoms) == 0 {
		return -1, false
	}
	for _, a := range atoms {
		if int(t.depth[a]) > depth {
			return a, true
		}
	}
	for _, a := range atoms {
		if int(t.depth[a]) == depth {
			return a, true
		}
	}
	return atoms[0], true
}

// Update lowers the recorded depth of every atom to depth.
func (t *NoveltyTable) Update(depth int, atoms []int) {
	d := int32(depth)
	for _, a := range atoms {
		if t.depth[a] > d {
			if t.depth[a] == unseen {
				t.entries++
			}
			t.depth[a] = d
		}
	}
}

// Novel reports whether atom has not been reached at depth or shallower.
func (t *NoveltyTable) Novel(depth, atom int) bool {
	return int(t.depth[atom]) > depth
}
