package game

import (
	"bytes"
	"testing"

	"github.com/brensch/rolloutiw/features"
	"github.com/brensch/rolloutiw/planner"
)

func newTestEnv(t *testing.T, mutate func(*Options)) *Env {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	env, err := NewEnv(opts)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	return env
}

func TestEnv_SnapshotRestoreReproducesSteps(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, a := range []planner.Action{MoveLeft, MoveUp} {
		env.Step(a)
	}
	snap := env.Snapshot()

	play := func() ([]float64, [][]byte) {
		var rewards []float64
		var rams [][]byte
		for _, a := range []planner.Action{MoveUp, MoveUp, MoveRight, MoveRight, MoveDown, MoveDown, MoveDown} {
			rewards = append(rewards, env.Step(a))
			rams = append(rams, env.RAM())
		}
		return rewards, rams
	}

	r1, m1 := play()
	env.Restore(snap)
	r2, m2 := play()
	for i := range r1 {
		if r1[i] != r2[i] || !bytes.Equal(m1[i], m2[i]) {
			t.Fatalf("step %d differs after restore: reward %v vs %v", i, r1[i], r2[i])
		}
	}
}

func TestEnv_ResetReturnsToStart(t *testing.T) {
	env := newTestEnv(t, nil)
	start := env.RAM()
	env.Step(MoveLeft)
	env.Step(MoveLeft)
	if bytes.Equal(start, env.RAM()) {
		t.Fatalf("RAM did not change after stepping")
	}
	env.Reset()
	if !bytes.Equal(start, env.RAM()) {
		t.Fatalf("reset did not restore the initial RAM")
	}
}

func TestEnv_Frameskip(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Frameskip = 3
		o.Food = FoodSettings{}
	})
	env.Step(MoveUp)
	st := env.State()
	if st.Turn != 3 {
		t.Fatalf("turn=%d want=3", st.Turn)
	}
	if head := st.You().Body[0]; head != (Point{X: 5, Y: 8}) {
		t.Fatalf("head=%v want=(5,8)", head)
	}
}

func TestEnv_LivesRunOut(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Lives = 2 })
	if env.Lives() != 2 {
		t.Fatalf("lives=%d want=2", env.Lives())
	}
	for i := 0; i < 100 && !env.IsTerminal(); i++ {
		env.Step(MoveUp)
	}
	if !env.IsTerminal() || env.Lives() != 0 {
		t.Fatalf("terminal=%v lives=%d", env.IsTerminal(), env.Lives())
	}
	turn := env.State().Turn
	if r := env.Step(MoveDown); r != 0 || env.State().Turn != turn {
		t.Fatalf("stepping a finished game changed it")
	}
}

func TestEnv_RAMLayout(t *testing.T) {
	env := newTestEnv(t, nil)
	ram := env.RAM()
	if len(ram) != 128 {
		t.Fatalf("ram len=%d", len(ram))
	}
	want := map[int]byte{ramHeadX: 5, ramHeadY: 5, ramLength: 3, ramHealth: 100, ramLives: 3, ramFoodLen: 1}
	for k, v := range want {
		if ram[k] != v {
			t.Fatalf("ram[%d]=%d want=%d", k, ram[k], v)
		}
	}
	if ram[ramBody] != 5 || ram[ramBody+1] != 4 {
		t.Fatalf("first body segment=(%d,%d) want=(5,4)", ram[ramBody], ram[ramBody+1])
	}
}

func TestEnv_Screen(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Obstacles = []Point{{X: 0, Y: 0}}
	})
	w, h, pix := env.Screen()
	if w != 11 || h != 11 || len(pix) != 121 {
		t.Fatalf("screen %dx%d len=%d", w, h, len(pix))
	}
	at := func(x, y int) uint8 { return pix[(h-1-y)*w+x] }
	if at(5, 5) != ColorHead || at(5, 4) != ColorBody || at(0, 0) != ColorObstacle {
		t.Fatalf("unexpected pixels head=%d body=%d obstacle=%d", at(5, 5), at(5, 4), at(0, 0))
	}
	f := env.State().Food[0]
	if at(int(f.X), int(f.Y)) != ColorFood {
		t.Fatalf("food pixel=%d", at(int(f.X), int(f.Y)))
	}
}

func TestEnv_FeatureExtractors(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, m := range []features.Mode{features.RAM, features.Basic, features.BPROS, features.BPROT} {
		e, err := features.New(m)
		if err != nil {
			t.Fatalf("features.New(%v): %v", m, err)
		}
		if err := e.Supports(env); err != nil {
			t.Fatalf("%v: %v", m, err)
		}
		atoms := e.Atoms(env, nil)
		if len(atoms) == 0 {
			t.Fatalf("%v: no atoms", m)
		}
		for i, a := range atoms {
			if a < 0 || a >= e.NumAtoms() || (i > 0 && a <= atoms[i-1]) {
				t.Fatalf("%v: bad atom %d at %d", m, a, i)
			}
		}
	}
}

func TestNewEnv_Validates(t *testing.T) {
	cases := map[string]func(*Options){
		"tiny board":       func(o *Options) { o.Width = 2 },
		"no lives":         func(o *Options) { o.Lives = 0 },
		"zero frameskip":   func(o *Options) { o.Frameskip = 0 },
		"bad food chance":  func(o *Options) { o.Food.FoodSpawnChance = 101 },
		"obstacle off":     func(o *Options) { o.Obstacles = []Point{{X: 20, Y: 0}} },
		"obstacle on head": func(o *Options) { o.Obstacles = []Point{{X: 5, Y: 5}} },
	}
	for name, mutate := range cases {
		opts := DefaultOptions()
		mutate(&opts)
		if _, err := NewEnv(opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func BenchmarkEnvStep(b *testing.B) {
	env, err := NewEnv(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	moves := []planner.Action{MoveLeft, MoveUp, MoveRight, MoveDown}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if env.IsTerminal() {
			env.Reset()
		}
		env.Step(moves[i%len(moves)])
	}
}
