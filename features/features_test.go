package features

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/rolloutiw/planner"
)

// fakeSim is a frozen simulator exposing fixed memory and screen contents.
type fakeSim struct {
	ram  []byte
	w, h int
	pix  []uint8
}

func (f *fakeSim) Reset()                         {}
func (f *fakeSim) Step(planner.Action) float64    { return 0 }
func (f *fakeSim) IsTerminal() bool               { return false }
func (f *fakeSim) Lives() int                     { return 1 }
func (f *fakeSim) LegalActions() []planner.Action { return []planner.Action{0} }
func (f *fakeSim) Snapshot() planner.State        { return nil }
func (f *fakeSim) Restore(planner.State)          {}
func (f *fakeSim) RAM() []byte                    { return f.ram }
func (f *fakeSim) Screen() (int, int, []uint8)    { return f.w, f.h, f.pix }

type noSources struct{ planner.Simulator }

func TestTrackedAtoms(t *testing.T) {
	require.Equal(t, 32768, TrackedAtoms(RAM))
	require.Equal(t, 28672, TrackedAtoms(Basic))
	require.Equal(t, 28672+6856768, TrackedAtoms(BPROS))
	require.Equal(t, 28672+6856768+13713408, TrackedAtoms(BPROT))

	_, err := ParseMode(4)
	require.Error(t, err)
	m, err := ParseMode(2)
	require.NoError(t, err)
	require.Equal(t, BPROS, m)
}

func TestRAMAtoms(t *testing.T) {
	ram := make([]byte, 128)
	ram[0] = 7
	ram[5] = 255
	sim := &fakeSim{ram: ram}

	e, err := New(RAM)
	require.NoError(t, err)
	require.NoError(t, e.Supports(sim))
	require.False(t, e.Vision())

	atoms := e.Atoms(sim, nil)
	require.Len(t, atoms, 128)
	require.Equal(t, 7, atoms[0])
	require.Equal(t, 5<<8+255, atoms[5])
	require.Equal(t, 127<<8, atoms[127])
	require.True(t, slices.IsSorted(atoms))
	for _, a := range atoms {
		require.Less(t, a, e.NumAtoms())
	}
}

func TestSupportsRejectsMissingSources(t *testing.T) {
	for _, m := range []Mode{RAM, Basic, BPROT} {
		e, err := New(m)
		require.NoError(t, err)
		require.Error(t, e.Supports(noSources{&fakeSim{}}), m.String())
	}
}

// screen16x14 maps every pixel onto its own tile.
func screen16x14() *fakeSim {
	return &fakeSim{w: 16, h: 14, pix: make([]uint8, 16*14)}
}

func TestBasicAtoms(t *testing.T) {
	sim := screen16x14()
	// Palette values are halved into 128 colours; 1 becomes background.
	sim.pix[0] = 4
	sim.pix[1] = 5
	sim.pix[2*16+3] = 10
	sim.pix[13*16+15] = 1

	e, err := New(Basic)
	require.NoError(t, err)
	require.True(t, e.Vision())
	atoms := e.Atoms(sim, nil)
	require.Equal(t, []int{
		(0*16+0)*128 + 2,
		(0*16+1)*128 + 2,
		(2*16+3)*128 + 5,
	}, atoms)
}

func TestBasicAtomsScaleLargeScreens(t *testing.T) {
	sim := &fakeSim{w: 160, h: 210, pix: make([]uint8, 160*210)}
	for i := range sim.pix {
		sim.pix[i] = 8
	}
	e, err := New(Basic)
	require.NoError(t, err)
	atoms := e.Atoms(sim, nil)
	require.Len(t, atoms, 16*14)
	require.Equal(t, (13*16+15)*128+4, atoms[len(atoms)-1])
}

func TestPairAtoms(t *testing.T) {
	sim := screen16x14()
	sim.pix[1*16+1] = 4 // colour 2 at (1,1)
	sim.pix[3*16+0] = 6 // colour 3 at (3,0)

	bpros, err := New(BPROS)
	require.NoError(t, err)
	atoms := bpros.Atoms(sim, nil)
	require.Len(t, atoms, 3)
	// From the lower colour to the higher one: dy=2, dx=-1.
	want := BasicAtoms + ((2>>1)*128+3)*837 + (2+13)*31 + (-1 + 15)
	require.Equal(t, want, atoms[2])
	require.True(t, slices.IsSorted(atoms))

	bprot, err := New(BPROT)
	require.NoError(t, err)
	parent := []int{(0*16+0)*128 + 2, BasicAtoms + 17}
	atoms = bprot.Atoms(sim, parent)
	// 2 basic, 1 bpros, 2 bprot (the parent's bpros atom is ignored).
	require.Len(t, atoms, 5)
	for _, a := range atoms {
		require.Less(t, a, bprot.NumAtoms())
	}
	toFirst := BasicAtoms + BPROSAtoms + (2*128+2)*837 + (1+13)*31 + (1 + 15)
	require.Contains(t, atoms, toFirst)

	// Without a parent BPROT matches BPROS.
	require.Equal(t, bpros.Atoms(sim, nil), bprot.Atoms(sim, nil))
}
