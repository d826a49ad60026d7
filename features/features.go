// Package features turns simulator observations into novelty atoms.
//
// RAM mode reads 128 memory bytes. The screen modes tile the screen into a
// 16x14 grid of 128-colour cells (Basic) and optionally add pairwise colour
// offsets within the screen (B-PROS) and against the previous screen (B-PROT).
package features

import (
	"fmt"

	"github.com/brensch/rolloutiw/planner"
)

// Mode selects the atom family.
type Mode int

const (
	RAM Mode = iota
	Basic
	BPROS
	BPROT
)

const (
	ramBytes = 128

	tileCols = 16
	tileRows = 14
	colors   = 128

	// Offsets between tiles span [-13,13] rows and [-15,15] columns.
	rowOffsets = 2*tileRows - 1
	colOffsets = 2*tileCols - 1
	offsets    = rowOffsets * colOffsets

	RAMAtoms   = ramBytes * 256
	BasicAtoms = tileCols * tileRows * colors
	BPROSAtoms = 6856768
	BPROTAtoms = 13713408
)

func (m Mode) String() string {
	switch m {
	case RAM:
		return "ram"
	case Basic:
		return "basic"
	case BPROS:
		return "bpros"
	case BPROT:
		return "bprot"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the numeric config value (0..3).
func ParseMode(v int) (Mode, error) {
	if v < int(RAM) || v > int(BPROT) {
		return 0, fmt.Errorf("unknown feature mode %d (want 0=ram, 1=basic, 2=bpros, 3=bprot)", v)
	}
	return Mode(v), nil
}

// TrackedAtoms is the size of the atom space of mode.
func TrackedAtoms(m Mode) int {
	switch m {
	case RAM:
		return RAMAtoms
	case Basic:
		return BasicAtoms
	case BPROS:
		return BasicAtoms + BPROSAtoms
	case BPROT:
		return BasicAtoms + BPROSAtoms + BPROTAtoms
	}
	panic(fmt.Sprintf("features: unknown mode %d", int(m)))
}

// RAMSource is a simulator exposing its memory.
type RAMSource interface {
	RAM() []byte
}

// ScreenSource is a simulator exposing a palette-indexed screen. pix is row
// major, len(pix) == width*height, and colour 0 is background.
type ScreenSource interface {
	Screen() (width, height int, pix []uint8)
}

// New returns the extractor for mode.
func New(m Mode) (planner.FeatureExtractor, error) {
	switch m {
	case RAM:
		return ramExtractor{}, nil
	case Basic, BPROS, BPROT:
		return &screenExtractor{mode: m}, nil
	}
	return nil, fmt.Errorf("unknown feature mode %d", int(m))
}

type ramExtractor struct{}

func (ramExtractor) Name() string  { return RAM.String() }
func (ramExtractor) NumAtoms() int { return RAMAtoms }
func (ramExtractor) Vision() bool  { return false }

func (ramExtractor) Supports(sim planner.Simulator) error {
	if _, ok := sim.(RAMSource); !ok {
		return fmt.Errorf("simulator %T does not expose RAM", sim)
	}
	return nil
}

// Atoms encodes byte k with value v as (k<<8)+v, so atoms ascend with k.
func (ramExtractor) Atoms(sim planner.Simulator, _ []int) []int {
	ram := sim.(RAMSource).RAM()
	atoms := make([]int, ramBytes)
	for k := range atoms {
		var v byte
		if k < len(ram) {
			v = ram[k]
		}
		atoms[k] = k<<8 + int(v)
	}
	return atoms
}
