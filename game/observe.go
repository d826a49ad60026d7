package game

// RAM layout. Coordinates are stored as-is; out of range values wrap.
const (
	ramHeadX    = 0
	ramHeadY    = 1
	ramLength   = 2
	ramHealth   = 3
	ramLives    = 4
	ramTurn     = 5
	ramFoodLen  = 6
	ramFood     = 7  // up to 8 (x, y) pairs
	ramBody     = 23 // up to 52 (x, y) pairs behind the head
	ramLastMove = 127
	ramSize     = 128
)

const (
	maxRAMFood = (ramBody - ramFood) / 2
	maxRAMBody = (ramLastMove - ramBody) / 2
)

// Screen palette. Values are even so that halving them keeps colours apart.
const (
	ColorBackground uint8 = 0
	ColorFood       uint8 = 4
	ColorHead       uint8 = 6
	ColorBody       uint8 = 8
	ColorObstacle   uint8 = 10
)

// RAM encodes the current state into 128 bytes.
func (e *Env) RAM() []byte {
	return EncodeRAM(e.state)
}

// EncodeRAM encodes state into 128 bytes.
func EncodeRAM(state *GameState) []byte {
	ram := make([]byte, ramSize)
	ram[ramLives] = byte(state.Lives)
	ram[ramTurn] = byte(state.Turn)
	ram[ramLastMove] = byte(state.LastMove)

	ram[ramFoodLen] = byte(len(state.Food))
	for i, f := range state.Food {
		if i == maxRAMFood {
			break
		}
		ram[ramFood+2*i] = byte(f.X)
		ram[ramFood+2*i+1] = byte(f.Y)
	}

	you := state.You()
	if you == nil || len(you.Body) == 0 {
		return ram
	}
	ram[ramHeadX] = byte(you.Body[0].X)
	ram[ramHeadY] = byte(you.Body[0].Y)
	ram[ramLength] = byte(min(len(you.Body), 255))
	ram[ramHealth] = byte(min(you.Health, 255))
	for i, p := range you.Body[1:] {
		if i == maxRAMBody {
			break
		}
		ram[ramBody+2*i] = byte(p.X)
		ram[ramBody+2*i+1] = byte(p.Y)
	}
	return ram
}

// Screen renders the board one pixel per cell, top row first.
func (e *Env) Screen() (int, int, []uint8) {
	return ScreenOf(e.state)
}

// ScreenOf renders state one pixel per cell, top row first.
func ScreenOf(state *GameState) (int, int, []uint8) {
	w, h := int(state.Width), int(state.Height)
	pix := make([]uint8, w*h)
	put := func(p Point, c uint8) {
		if inBounds(state, p) {
			pix[(h-1-int(p.Y))*w+int(p.X)] = c
		}
	}
	for _, f := range state.Food {
		put(f, ColorFood)
	}
	for _, s := range state.Snakes {
		if s.Id != state.YouId {
			for _, p := range s.Body {
				put(p, ColorObstacle)
			}
			continue
		}
		if s.Health <= 0 {
			continue
		}
		for i := len(s.Body) - 1; i >= 0; i-- {
			c := ColorBody
			if i == 0 {
				c = ColorHead
			}
			put(s.Body[i], c)
		}
	}
	return w, h, pix
}
