package server

import "math"

// Position is a presentation hint stored with each player.
type Position struct {
	X, Y float32
}

// Circle layout around the table centre.
const (
	layoutCenterX = 960
	layoutCenterY = 600
	layoutRadius  = 300

	// layoutMinSeats keeps the spacing of a six-seat table for small sessions.
	layoutMinSeats = 6
)

// Layout returns positions for n players: overrides for the first
// len(overrides) players, the circle layout for the rest.
func Layout(n int, overrides []Position) []Position {
	out := make([]Position, n)
	seats := max(layoutMinSeats, n)

	for i := range out {
		if i < len(overrides) {
			out[i] = overrides[i]

			continue
		}

		angle := math.Pi/2 + 2*math.Pi*float64(i)/float64(seats)
		out[i] = Position{
			X: float32(layoutCenterX + layoutRadius*math.Cos(angle)),
			Y: float32(layoutCenterY + layoutRadius*math.Sin(angle)),
		}
	}

	return out
}
