package board

import (
	"errors"
	"fmt"
)

// Move resolution errors. All of them mean "not a legal move", never a fault.
var (
	ErrNeedSix   = errors.New("piece in pocket needs a six to enter play")
	ErrOvershoot = errors.New("move overshoots the final home cell")
	ErrFinished  = errors.New("piece already finished")
)

// Piece is one of a seat's four tokens. Pos is seat-relative: 0 pocket,
// 1..51 shared track, 52..56 home stretch, 57 finished.
type Piece struct {
	Seat int `json:"seat"`
	ID   int `json:"id"` // index 0..3 within the seat
	Pos  int `json:"pos"`
}

// Finished reports whether the piece reached the final home cell.
func (p Piece) Finished() bool { return p.Pos == HomeFinal }

// InPocket reports whether the piece has not entered play.
func (p Piece) InPocket() bool { return p.Pos == 0 }

// Capture identifies an opponent piece sent back to its pocket by a move.
type Capture struct {
	Seat int `json:"seat"`
	ID   int `json:"id"`
}

// Move describes one legal piece move for a rolled die value, including the
// captures applying it would cause.
type Move struct {
	PieceID  int       `json:"piece_id"`
	From     int       `json:"from"`
	To       int       `json:"to"`
	Captures []Capture `json:"captures,omitempty"`
}

// NextPosition computes the seat-relative position a piece at cur reaches
// with die. It returns an error when the move is illegal.
func NextPosition(cur, die, seat, totalSeats int) (int, error) {
	if die < DiceMin || die > DiceMax {
		return 0, fmt.Errorf("die value %d out of range", die)
	}
	if _, err := StartCell(seat, totalSeats); err != nil {
		return 0, err
	}
	switch {
	case cur == 0:
		if die != RollToStart {
			return 0, ErrNeedSix
		}
		return 1, nil
	case cur == HomeFinal:
		return 0, ErrFinished
	case cur < 0 || cur > HomeFinal:
		return 0, fmt.Errorf("position %d out of range", cur)
	}
	next := cur + die
	if next > HomeFinal {
		return 0, ErrOvershoot
	}
	return next, nil
}

// IsLegalMove reports whether a piece at cur can move with die.
func IsLegalMove(cur, die, seat, totalSeats int) bool {
	_, err := NextPosition(cur, die, seat, totalSeats)
	return err == nil
}

// LegalMoves lists every legal move for seat's pieces given die, in fixed
// piece-index order. pieces is the full set for the room; opponent pieces
// are only consulted for capture resolution. An empty result means the turn
// must be auto-advanced by the caller.
func LegalMoves(pieces []Piece, die, seat, totalSeats int) []Move {
	own := make([]Piece, 0, PiecesPerSeat)
	for _, p := range pieces {
		if p.Seat == seat {
			own = append(own, p)
		}
	}

	moves := make([]Move, 0, len(own))
	for _, p := range own {
		next, err := NextPosition(p.Pos, die, seat, totalSeats)
		if err != nil {
			continue
		}
		moves = append(moves, Move{
			PieceID:  p.ID,
			From:     p.Pos,
			To:       next,
			Captures: capturesAt(pieces, next, seat, totalSeats),
		})
	}
	return moves
}

// capturesAt resolves which opponent pieces a landing on rel would send back
// to their pockets. Safe cells and private cells never capture.
func capturesAt(pieces []Piece, rel, seat, totalSeats int) []Capture {
	abs := AbsoluteCell(rel, seat, totalSeats)
	if abs < 0 || IsSafeCell(abs) {
		return nil
	}

	var captures []Capture
	for _, p := range pieces {
		if p.Seat == seat {
			continue
		}
		if AbsoluteCell(p.Pos, p.Seat, totalSeats) == abs {
			captures = append(captures, Capture{Seat: p.Seat, ID: p.ID})
		}
	}
	return captures
}
