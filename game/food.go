// food.go implements deterministic food spawning for the arena.

package game

// FoodSettings controls food spawning behavior.
type FoodSettings struct {
	MinimumFood     int `yaml:"minimum_food"`      // Guaranteed minimum on board at all times
	FoodSpawnChance int `yaml:"food_spawn_chance"` // Percentage chance (0–100) to spawn extra food each turn
}

// DefaultFoodSettings keeps one piece of food on the board and adds no extras.
var DefaultFoodSettings = FoodSettings{MinimumFood: 1, FoodSpawnChance: 0}

// applyFoodRules spawns food after a state transition. Placement is a pure
// function of the turn, the salt and the free cells, so replaying the same
// actions always yields the same food.
func applyFoodRules(state *GameState, settings FoodSettings, salt uint64) {
	if settings.MinimumFood <= len(state.Food) && settings.FoodSpawnChance <= 0 {
		return
	}

	// Build occupancy set (snakes and existing food)
	occupied := make(map[Point]bool)
	for _, s := range state.Snakes {
		for _, p := range s.Body {
			occupied[p] = true
		}
	}
	for _, f := range state.Food {
		occupied[f] = true
	}

	// Helper to spawn one piece of food, returns false if no room
	draw := uint64(0)
	spawn := func() bool {
		freeSpots := make([]Point, 0, int(state.Width*state.Height)-len(occupied))
		for y := int32(0); y < state.Height; y++ {
			for x := int32(0); x < state.Width; x++ {
				if !occupied[Point{X: x, Y: y}] {
					freeSpots = append(freeSpots, Point{X: x, Y: y})
				}
			}
		}
		if len(freeSpots) == 0 {
			return false
		}
		draw++
		idx := int(deterministicU64Fast(uint64(state.Turn)<<8|draw, salt) % uint64(len(freeSpots)))
		p := freeSpots[idx]
		state.Food = append(state.Food, p)
		occupied[p] = true
		return true
	}

	// 1. Ensure minimum food
	for len(state.Food) < settings.MinimumFood {
		if !spawn() {
			break
		}
	}

	// 2. Extra food
	if settings.FoodSpawnChance > 0 {
		roll := int(deterministicU64Fast(uint64(state.Turn), salt^0xF00D) % 100)
		if roll < settings.FoodSpawnChance {
			spawn()
		}
	}
}

// deterministicU64Fast is a simple deterministic hasher for reproducibility.
func deterministicU64Fast(a, b uint64) uint64 {
	// Variant of splitmix64
	x := a + b
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
