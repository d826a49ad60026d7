// Package game implements a single-player snake arena used as the planning
// environment.
//
// The ego snake moves on a bounded board with static obstacles and
// deterministically spawned food. Hitting a wall, an obstacle or itself, or
// starving, costs a life and respawns the snake; the game is over when no lives
// remain. States are treated as immutable once produced by NextState, so a
// snapshot is just the state pointer.
package game

// Point is a board coordinate.
// Coordinates follow Battlesnake conventions: (0,0) is bottom-left.
type Point struct {
	X int32
	Y int32
}

type Snake struct {
	Id     string
	Health int32
	Body   []Point
}

// GameState is the complete arena state.
// YouId selects the controlled snake; every other snake is a static obstacle.
type GameState struct {
	Width  int32
	Height int32
	Snakes []Snake
	Food   []Point
	YouId  string
	Turn   int32

	Lives    int32
	Score    int32
	LastMove int32
}

// You returns the controlled snake, or nil.
func (s *GameState) You() *Snake {
	for i := range s.Snakes {
		if s.Snakes[i].Id == s.YouId {
			return &s.Snakes[i]
		}
	}
	return nil
}

// Clone performs a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}

	out := &GameState{
		Width:    s.Width,
		Height:   s.Height,
		YouId:    s.YouId,
		Turn:     s.Turn,
		Lives:    s.Lives,
		Score:    s.Score,
		LastMove: s.LastMove,
	}

	if len(s.Food) > 0 {
		out.Food = make([]Point, len(s.Food))
		copy(out.Food, s.Food)
	}

	if len(s.Snakes) > 0 {
		out.Snakes = make([]Snake, len(s.Snakes))
		for i := range s.Snakes {
			out.Snakes[i] = Snake{Id: s.Snakes[i].Id, Health: s.Snakes[i].Health}
			if len(s.Snakes[i].Body) > 0 {
				out.Snakes[i].Body = make([]Point, len(s.Snakes[i].Body))
				copy(out.Snakes[i].Body, s.Snakes[i].Body)
			}
		}
	}

	return out
}
