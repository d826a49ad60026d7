package game

const (
	MoveUp    = 0
	MoveDown  = 1
	MoveLeft  = 2
	MoveRight = 3
)

// MoveNames is indexed by move.
var MoveNames = [4]string{"up", "down", "left", "right"}

// Rules are the arena parameters that affect transitions.
type Rules struct {
	MaxHealth int32
	Food      FoodSettings
	// Salt seeds food placement.
	Salt uint64
	// Spawn is the body the snake respawns with after losing a life.
	Spawn []Point
}

func step(p Point, move int) Point {
	switch move {
	case MoveUp:
		p.Y++
	case MoveDown:
		p.Y--
	case MoveLeft:
		p.X--
	case MoveRight:
		p.X++
	}
	return p
}

// GetLegalMoves returns the moves of the snake identified by YouId that do not
// collide immediately.
func GetLegalMoves(state *GameState) []int {
	you := state.You()
	if you == nil || you.Health <= 0 || len(you.Body) == 0 {
		return []int{}
	}

	head := you.Body[0]
	moves := []int{}
	for move := MoveUp; move <= MoveRight; move++ {
		if isSafe(state, step(head, move)) {
			moves = append(moves, move)
		}
	}
	return moves
}

func inBounds(state *GameState, p Point) bool {
	return p.X >= 0 && p.X < state.Width && p.Y >= 0 && p.Y < state.Height
}

func isSafe(state *GameState, p Point) bool {
	// 1. Check Bounds
	if !inBounds(state, p) {
		return false
	}

	// 2. Check Collisions with Snakes
	// Conservative: Don't hit any body part including tail.
	for _, s := range state.Snakes {
		for _, bp := range s.Body {
			if p == bp {
				return false
			}
		}
	}
	return true
}

// NextState returns the state after the controlled snake plays move, and the
// reward of the transition (one per food eaten). Other snakes do not move.
//
// A snake that leaves the board, runs into a body or starves loses a life. It
// respawns on r.Spawn if lives remain; otherwise it is left dead with zero
// health and the game is over.
func NextState(state *GameState, move int, r Rules) (*GameState, float64) {
	newState := state.Clone()
	if IsTerminal(newState) {
		return newState, 0
	}
	newState.Turn++
	newState.LastMove = int32(move)

	you := newState.You()
	head := you.Body[0]
	newHead := step(head, move)

	// Check for food
	ateFood := false
	for i, f := range newState.Food {
		if f == newHead {
			ateFood = true
			newState.Food = append(newState.Food[:i], newState.Food[i+1:]...)
			break
		}
	}

	// Update Body
	newBody := make([]Point, 0, len(you.Body)+1)
	newBody = append(newBody, newHead)
	newBody = append(newBody, you.Body...)

	reward := 0.0
	if ateFood {
		you.Health = r.MaxHealth
		newState.Score++
		reward = 1
	} else {
		you.Health--
		newBody = newBody[:len(newBody)-1]
	}
	you.Body = newBody

	if collided(newState, you) || you.Health <= 0 {
		newState.Lives--
		if newState.Lives > 0 {
			you.Body = append([]Point(nil), r.Spawn...)
			you.Health = r.MaxHealth
		} else {
			you.Health = 0
		}
	}

	applyFoodRules(newState, r.Food, r.Salt)
	return newState, reward
}

// collided reports whether you's head is off the board or on any body segment.
func collided(state *GameState, you *Snake) bool {
	head := you.Body[0]
	if !inBounds(state, head) {
		return true
	}
	for _, s := range state.Snakes {
		for i, p := range s.Body {
			if s.Id == you.Id && i == 0 {
				continue // Skip own head
			}
			if p == head {
				return true
			}
		}
	}
	return false
}

// IsTerminal returns true if the game is over for You.
func IsTerminal(state *GameState) bool {
	you := state.You()
	return you == nil || state.Lives <= 0 || you.Health <= 0
}
