package game

import (
	"fmt"

	"github.com/brensch/rolloutiw/planner"
)

// Options configures an arena.
type Options struct {
	Width     int          `yaml:"width"`
	Height    int          `yaml:"height"`
	Lives     int          `yaml:"lives"`
	MaxHealth int          `yaml:"max_health"`
	Food      FoodSettings `yaml:"food"`
	Seed      uint64       `yaml:"seed"`
	// Frameskip repeats every action this many turns.
	Frameskip int     `yaml:"-"`
	Obstacles []Point `yaml:"obstacles"`
}

// DefaultOptions is an 11x11 arena with three lives.
func DefaultOptions() Options {
	return Options{
		Width:     11,
		Height:    11,
		Lives:     3,
		MaxHealth: 100,
		Food:      DefaultFoodSettings,
		Frameskip: 1,
	}
}

func (o Options) validate() error {
	if o.Width < 3 || o.Height < 4 || o.Width > 255 || o.Height > 255 {
		return fmt.Errorf("board %dx%d out of range", o.Width, o.Height)
	}
	if o.Lives <= 0 || o.Lives > 255 {
		return fmt.Errorf("lives must be in [1,255], got %d", o.Lives)
	}
	if o.MaxHealth <= 0 {
		return fmt.Errorf("max health must be positive, got %d", o.MaxHealth)
	}
	if o.Frameskip <= 0 {
		return fmt.Errorf("frameskip must be positive, got %d", o.Frameskip)
	}
	if o.Food.MinimumFood < 0 || o.Food.FoodSpawnChance < 0 || o.Food.FoodSpawnChance > 100 {
		return fmt.Errorf("invalid food settings %+v", o.Food)
	}
	return nil
}

// Env is a steppable arena. It implements planner.Simulator and exposes its
// RAM and screen for feature extraction.
type Env struct {
	opts    Options
	rules   Rules
	initial *GameState
	state   *GameState
}

var _ planner.Simulator = (*Env)(nil)

// NewEnv builds an arena. The snake starts in the middle of the board facing up.
func NewEnv(opts Options) (*Env, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cx, cy := int32(opts.Width/2), int32(opts.Height/2)
	spawn := []Point{{X: cx, Y: cy}, {X: cx, Y: cy - 1}, {X: cx, Y: cy - 2}}

	initial := &GameState{
		Width:  int32(opts.Width),
		Height: int32(opts.Height),
		YouId:  "you",
		Lives:  int32(opts.Lives),
		Snakes: []Snake{{Id: "you", Health: int32(opts.MaxHealth), Body: append([]Point(nil), spawn...)}},
	}
	if len(opts.Obstacles) > 0 {
		for _, p := range opts.Obstacles {
			if !inBounds(initial, p) {
				return nil, fmt.Errorf("obstacle %v is off the board", p)
			}
			for _, s := range spawn {
				if p == s {
					return nil, fmt.Errorf("obstacle %v overlaps the spawn", p)
				}
			}
		}
		initial.Snakes = append(initial.Snakes, Snake{Id: "walls", Health: 1, Body: append([]Point(nil), opts.Obstacles...)})
	}

	rules := Rules{MaxHealth: int32(opts.MaxHealth), Food: opts.Food, Salt: opts.Seed, Spawn: spawn}
	applyFoodRules(initial, rules.Food, rules.Salt)

	return &Env{opts: opts, rules: rules, initial: initial, state: initial}, nil
}

// Options returns the options the arena was built with.
func (e *Env) Options() Options { return e.opts }

// State returns the current state. It must not be modified.
func (e *Env) State() *GameState { return e.state }

func (e *Env) Reset() { e.state = e.initial }

// Step plays a for Frameskip turns and returns the summed reward.
func (e *Env) Step(a planner.Action) float64 {
	total := 0.0
	for range e.opts.Frameskip {
		if IsTerminal(e.state) {
			break
		}
		var r float64
		e.state, r = NextState(e.state, int(a), e.rules)
		total += r
	}
	return total
}

func (e *Env) IsTerminal() bool { return IsTerminal(e.state) }
func (e *Env) Lives() int       { return int(e.state.Lives) }

// LegalActions is the full move set; unsafe moves are legal and cost a life.
func (e *Env) LegalActions() []planner.Action {
	return []planner.Action{MoveUp, MoveDown, MoveLeft, MoveRight}
}

// Snapshot is free: states are never mutated once produced.
func (e *Env) Snapshot() planner.State { return e.state }

func (e *Env) Restore(s planner.State) {
	st, ok := s.(*GameState)
	if !ok || st == nil {
		panic(fmt.Sprintf("game: cannot restore %T", s))
	}
	e.state = st
}
