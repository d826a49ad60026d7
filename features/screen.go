package features

import (
	"fmt"
	"slices"

	"github.com/brensch/rolloutiw/planner"
)

type screenExtractor struct {
	mode Mode
}

func (e *screenExtractor) Name() string  { return e.mode.String() }
func (e *screenExtractor) NumAtoms() int { return TrackedAtoms(e.mode) }
func (e *screenExtractor) Vision() bool  { return true }

func (e *screenExtractor) Supports(sim planner.Simulator) error {
	if _, ok := sim.(ScreenSource); !ok {
		return fmt.Errorf("simulator %T does not expose a screen", sim)
	}
	return nil
}

// cell is one basic feature: colour present somewhere in a tile.
type cell struct {
	row, col, color int
}

func (c cell) atom() int { return (c.row*tileCols+c.col)*colors + c.color }

func cellOf(atom int) cell {
	tile := atom / colors
	return cell{row: tile / tileCols, col: tile % tileCols, color: atom % colors}
}

func offset(from, to cell) int {
	return (to.row-from.row+tileRows-1)*colOffsets + (to.col - from.col + tileCols - 1)
}

func (e *screenExtractor) Atoms(sim planner.Simulator, parent []int) []int {
	w, h, pix := sim.(ScreenSource).Screen()
	cells := basicCells(w, h, pix)

	atoms := make([]int, 0, len(cells)*2)
	for _, c := range cells {
		atoms = append(atoms, c.atom())
	}
	if e.mode >= BPROS {
		atoms = appendBPROS(atoms, cells)
	}
	if e.mode >= BPROT && len(parent) > 0 {
		atoms = appendBPROT(atoms, cells, parent)
	}
	slices.Sort(atoms)
	return slices.Compact(atoms)
}

// basicCells scales the screen onto the tile grid and lists the non
// background colours found in each tile, in atom order.
func basicCells(w, h int, pix []uint8) []cell {
	if w <= 0 || h <= 0 {
		return nil
	}
	seen := make([]bool, BasicAtoms)
	var cells []cell
	for y := 0; y < h; y++ {
		row := y * tileRows / h
		for x := 0; x < w; x++ {
			color := int(pix[y*w+x] >> 1)
			if color == 0 {
				continue
			}
			c := cell{row: row, col: x * tileCols / w, color: color}
			if a := c.atom(); !seen[a] {
				seen[a] = true
				cells = append(cells, c)
			}
		}
	}
	slices.SortFunc(cells, func(a, b cell) int { return a.atom() - b.atom() })
	return cells
}

// appendBPROS adds one atom per pair of cells on the same screen, keyed by
// the colour pair and their tile offset. Each unordered pair is counted once.
func appendBPROS(atoms []int, cells []cell) []int {
	for i, a := range cells {
		for _, b := range cells[i+1:] {
			from, to := a, b
			if to.color < from.color {
				from, to = to, from
			}
			atoms = append(atoms, BasicAtoms+((from.color>>1)*colors+to.color)*offsets+offset(from, to))
		}
	}
	return atoms
}

// appendBPROT adds one atom per (previous cell, current cell) pair.
func appendBPROT(atoms []int, cells []cell, parent []int) []int {
	for _, p := range parent {
		if p >= BasicAtoms {
			break
		}
		from := cellOf(p)
		for _, to := range cells {
			atoms = append(atoms, BasicAtoms+BPROSAtoms+(from.color*colors+to.color)*offsets+offset(from, to))
		}
	}
	return atoms
}
