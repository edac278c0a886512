package room

import (
	"time"

	"github.com/ludoforge/ludo-server-go/internal/board"
)

// Status represents a room's lifecycle state.
type Status int

const (
	StatusWaiting Status = iota
	StatusStarting
	StatusInProgress
	StatusPaused
	StatusCompleted
	StatusAbandoned
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusStarting:
		return "STARTING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusPaused:
		return "PAUSED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Variant selects the match format.
type Variant string

const (
	VariantClassic Variant = "CLASSIC" // ranked by finish order
	VariantQuick   Variant = "QUICK"   // time-boxed, ranked by score
)

// DieNone marks a turn with no roll pending. A positive value is a rolled
// die waiting for a piece selection.
const DieNone = 0

// Scoring constants for the quick variant and seat stats.
const (
	scoreCapture     = 10
	scorePieceFinish = 25
)

// GameConfig is the per-game-type configuration a room is created with.
type GameConfig struct {
	GameTypeID          string        `json:"game_type_id"`
	Variant             Variant       `json:"variant"`
	MinPlayers          int           `json:"min_players"`
	MaxPlayers          int           `json:"max_players"`
	TurnTime            time.Duration `json:"turn_time"`
	StartCountdown      time.Duration `json:"start_countdown"`
	MoveGrace           time.Duration `json:"move_grace"` // render delay before a no-valid-moves auto-advance
	Lives               int           `json:"lives"`
	BonusSix            bool          `json:"bonus_six"`
	MaxConsecutiveSixes int           `json:"max_consecutive_sixes"` // 0 disables the limit
	QuickDuration       time.Duration `json:"quick_duration,omitempty"`
	QuickTargetScore    int           `json:"quick_target_score,omitempty"` // 0 = clock only
	EntryFee            int64         `json:"entry_fee"`
	PrizeTable          []int64       `json:"prize_table,omitempty"` // payout by final rank, index 0 = winner
	Password            string        `json:"-"`
}

// PlayerIdentity is the already-authenticated identity handed to the engine.
type PlayerIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Seat is one of the 2-4 participant slots in a room.
type Seat struct {
	Index        int
	Player       PlayerIdentity
	Color        board.Color
	Ready        bool
	Connected    bool
	Lives        int
	Score        int
	Kills        int
	Forfeited    bool
	FinishedRank int // 1-based finish order, 0 while racing

	// scoreVersion is the state version at which the seat last gained
	// score; it breaks ties for seats finishing on equal score and kills.
	scoreVersion uint64
}

// Alive reports whether the seat still participates in turn rotation.
func (s *Seat) Alive() bool {
	return s.Lives > 0 && s.FinishedRank == 0
}

// State is the authoritative snapshot of one match, owned exclusively by its
// room's command loop.
type State struct {
	Code             string
	Config           GameConfig
	Status           Status
	Seats            []*Seat
	Pieces           []board.Piece
	CurrentTurn      int
	DieValue         int
	ConsecutiveSixes int
	Version          uint64
	CreatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
	Rankings         []RankEntry

	legalMoves []board.Move
	nextFinish int // next FinishedRank to hand out
}

func newState(code string, cfg GameConfig, now time.Time) *State {
	return &State{
		Code:        code,
		Config:      cfg,
		Status:      StatusWaiting,
		CurrentTurn: -1,
		CreatedAt:   now,
		nextFinish:  1,
	}
}

func (st *State) seatByPlayer(playerID string) *Seat {
	for _, s := range st.Seats {
		if s.Player.ID == playerID {
			return s
		}
	}
	return nil
}

func (st *State) seatPieces(seat int) []board.Piece {
	pieces := make([]board.Piece, 0, board.PiecesPerSeat)
	for _, p := range st.Pieces {
		if p.Seat == seat {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func (st *State) pieceAt(seat, id int) *board.Piece {
	for i := range st.Pieces {
		if st.Pieces[i].Seat == seat && st.Pieces[i].ID == id {
			return &st.Pieces[i]
		}
	}
	return nil
}

func (st *State) aliveSeats() []*Seat {
	alive := make([]*Seat, 0, len(st.Seats))
	for _, s := range st.Seats {
		if s.Alive() {
			alive = append(alive, s)
		}
	}
	return alive
}

// nextAliveSeat returns the first living seat strictly after from in
// rotation order, or -1 when none remains.
func (st *State) nextAliveSeat(from int) int {
	n := len(st.Seats)
	for i := 1; i <= n; i++ {
		idx := (from + i) % n
		if st.Seats[idx].Alive() {
			return idx
		}
	}
	return -1
}

// SeatSnapshot is the externally visible view of a seat.
type SeatSnapshot struct {
	Index        int         `json:"index"`
	PlayerID     string      `json:"player_id"`
	PlayerName   string      `json:"player_name"`
	Color        board.Color `json:"color,omitempty"`
	Ready        bool        `json:"ready"`
	Connected    bool        `json:"connected"`
	Lives        int         `json:"lives"`
	Score        int         `json:"score"`
	Kills        int         `json:"kills"`
	Forfeited    bool        `json:"forfeited"`
	FinishedRank int         `json:"finished_rank,omitempty"`
}

// RankEntry is one row of a match's final ranking.
type RankEntry struct {
	Rank       int    `json:"rank"`
	Seat       int    `json:"seat"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Score      int    `json:"score"`
	Kills      int    `json:"kills"`
	Forfeited  bool   `json:"forfeited"`
}

// Snapshot is a consistent, versioned copy of the room state, complete
// enough for a client to resync without replaying event history.
type Snapshot struct {
	Code             string         `json:"code"`
	Status           string         `json:"status"`
	Variant          Variant        `json:"variant"`
	MinPlayers       int            `json:"min_players"`
	MaxPlayers       int            `json:"max_players"`
	Seats            []SeatSnapshot `json:"seats"`
	Pieces           []board.Piece  `json:"pieces"`
	CurrentTurn      int            `json:"current_turn"`
	DieValue         int            `json:"die_value"`
	Version          uint64         `json:"version"`
	TurnRemainingMS  int64          `json:"turn_remaining_ms,omitempty"`
	MatchRemainingMS int64          `json:"match_remaining_ms,omitempty"`
	Rankings         []RankEntry    `json:"rankings,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        time.Time      `json:"started_at,omitempty"`
	CompletedAt      time.Time      `json:"completed_at,omitempty"`
}

func (st *State) snapshot(turnRemaining, matchRemaining time.Duration) Snapshot {
	seats := make([]SeatSnapshot, 0, len(st.Seats))
	for _, s := range st.Seats {
		seats = append(seats, SeatSnapshot{
			Index:        s.Index,
			PlayerID:     s.Player.ID,
			PlayerName:   s.Player.Name,
			Color:        s.Color,
			Ready:        s.Ready,
			Connected:    s.Connected,
			Lives:        s.Lives,
			Score:        s.Score,
			Kills:        s.Kills,
			Forfeited:    s.Forfeited,
			FinishedRank: s.FinishedRank,
		})
	}

	return Snapshot{
		Code:             st.Code,
		Status:           st.Status.String(),
		Variant:          st.Config.Variant,
		MinPlayers:       st.Config.MinPlayers,
		MaxPlayers:       st.Config.MaxPlayers,
		Seats:            seats,
		Pieces:           append([]board.Piece(nil), st.Pieces...),
		CurrentTurn:      st.CurrentTurn,
		DieValue:         st.DieValue,
		Version:          st.Version,
		TurnRemainingMS:  turnRemaining.Milliseconds(),
		MatchRemainingMS: matchRemaining.Milliseconds(),
		Rankings:         append([]RankEntry(nil), st.Rankings...),
		CreatedAt:        st.CreatedAt,
		StartedAt:        st.StartedAt,
		CompletedAt:      st.CompletedAt,
	}
}
