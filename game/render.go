// render.go - Console rendering of arena states.

package game

import (
	"fmt"
	"strings"
)

// Render draws the board as text, top row first.
// O is the head, o the body, F food and # an obstacle.
func Render(state *GameState) string {
	// Create a grid
	grid := make([][]string, state.Height)
	for y := range grid {
		grid[y] = make([]string, state.Width)
		for x := range grid[y] {
			grid[y][x] = "."
		}
	}

	// Place Food
	for _, f := range state.Food {
		if inBounds(state, f) {
			grid[f.Y][f.X] = "F"
		}
	}

	// Place Snakes
	for _, s := range state.Snakes {
		if s.Id != state.YouId {
			for _, p := range s.Body {
				if inBounds(state, p) {
					grid[p.Y][p.X] = "#"
				}
			}
			continue
		}
		if s.Health <= 0 {
			continue
		}
		for i := len(s.Body) - 1; i >= 0; i-- {
			p := s.Body[i]
			if !inBounds(state, p) {
				continue
			}
			if i == 0 {
				grid[p.Y][p.X] = "O"
			} else {
				grid[p.Y][p.X] = "o"
			}
		}
	}

	var sb strings.Builder
	health := int32(0)
	if you := state.You(); you != nil {
		health = you.Health
	}
	sb.WriteString(fmt.Sprintf("turn=%d score=%d lives=%d health=%d\n", state.Turn, state.Score, state.Lives, health))
	for y := state.Height - 1; y >= 0; y-- {
		for x := 0; x < int(state.Width); x++ {
			sb.WriteString(grid[y][x] + " ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
