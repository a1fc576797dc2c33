package warinheaven

// Hex is an axial board coordinate.
type Hex struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// Directions are the six axial neighbours in a fixed order.
var Directions = []Hex{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}

func (h Hex) Add(o Hex) Hex { return Hex{h.Q + o.Q, h.R + o.R} }

func (h Hex) Sub(o Hex) Hex { return Hex{h.Q - o.Q, h.R - o.R} }

func (h Hex) Scale(k int) Hex { return Hex{h.Q * k, h.R * k} }

// Distance is the hex-step distance between two cells.
func Distance(a, b Hex) int {
	d := a.Sub(b)
	return (abs(d.Q) + abs(d.R) + abs(d.Q+d.R)) / 2
}

// LineDirection returns the unit direction and length when b lies on a
// straight line from a.
func LineDirection(a, b Hex) (Hex, int, bool) {
	d := b.Sub(a)
	n := Distance(a, b)
	if n == 0 {
		return Hex{}, 0, false
	}
	for _, dir := range Directions {
		if dir.Scale(n) == d {
			return dir, n, true
		}
	}
	return Hex{}, 0, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// BoardRadius is the distance from the centre to the rim.
const BoardRadius = 4

// OnBoard reports whether h lies inside the hexagonal board.
func OnBoard(h Hex) bool {
	return abs(h.Q) <= BoardRadius && abs(h.R) <= BoardRadius && abs(h.Q+h.R) <= BoardRadius
}

var (
	// Citadel is the Angels' home hex. Demons standing on it at the end of a
	// turn take the game.
	Citadel = Hex{2, -4}

	// GateHexes grant an extra action per turn to the faction controlling them.
	GateHexes = []Hex{{-3, 0}, {0, 0}, {3, 0}}

	// Obstacles block every kind of movement except phasing over them.
	Obstacles = map[Hex]bool{
		{-2, 2}: true, {2, -2}: true,
		{-1, -1}: true, {1, 1}: true,
	}
)

// Passable reports whether a piece could ever stand on h.
func Passable(h Hex) bool {
	return OnBoard(h) && !Obstacles[h]
}
