package board

import "fmt"

// Board geometry constants. The shared outer track has 52 cells; each seat's
// private path is 51 track steps followed by a 6-cell home stretch.
const (
	TrackCells    = 52 // absolute cells on the shared outer track
	TrackEnd      = 51 // last relative position on the shared track
	HomeFinal     = 57 // relative position of the final home cell
	PiecesPerSeat = 4
	DiceMin       = 1
	DiceMax       = 6
	RollToStart   = 6 // die value required to leave the pocket
)

// Color is a seat's display color, one of a fixed palette.
type Color string

const (
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
)

// startCells maps total seat count to each seat's absolute entry cell on the
// shared track. The board layout differs for 2, 3 and 4 seats; these are
// fixed tables, not a formula.
var startCells = map[int][]int{
	2: {0, 26},
	3: {0, 13, 26},
	4: {0, 13, 26, 39},
}

// seatColors mirrors startCells: the palette assignment per seat for each
// supported seat count.
var seatColors = map[int][]Color{
	2: {ColorRed, ColorGreen},
	3: {ColorRed, ColorBlue, ColorGreen},
	4: {ColorRed, ColorBlue, ColorGreen, ColorYellow},
}

// safeCells are the absolute track cells on which pieces can never be
// captured. Every seat's entry cell is safe, plus the four star cells.
var safeCells = map[int]bool{
	0: true, 8: true, 13: true, 21: true,
	26: true, 34: true, 39: true, 47: true,
}

// StartCell returns the absolute entry cell for seat in a room of totalSeats.
func StartCell(seat, totalSeats int) (int, error) {
	cells, ok := startCells[totalSeats]
	if !ok {
		return 0, fmt.Errorf("unsupported seat count %d", totalSeats)
	}
	if seat < 0 || seat >= len(cells) {
		return 0, fmt.Errorf("seat %d out of range for %d seats", seat, totalSeats)
	}
	return cells[seat], nil
}

// SeatColor returns the display color bound to seat for the given seat count.
func SeatColor(seat, totalSeats int) Color {
	colors, ok := seatColors[totalSeats]
	if !ok || seat < 0 || seat >= len(colors) {
		return ""
	}
	return colors[seat]
}

// IsSafeCell reports whether the absolute track cell is capture-proof.
func IsSafeCell(abs int) bool {
	return safeCells[abs]
}

// AbsoluteCell translates a seat-relative track position to the absolute
// shared-track cell. Returns -1 for positions off the shared track (pocket,
// home stretch, finished).
func AbsoluteCell(rel, seat, totalSeats int) int {
	if rel < 1 || rel > TrackEnd {
		return -1
	}
	start, err := StartCell(seat, totalSeats)
	if err != nil {
		return -1
	}
	return (start + rel - 1) % TrackCells
}
