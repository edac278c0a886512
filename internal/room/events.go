package room

import (
	"time"

	"github.com/ludoforge/ludo-server-go/internal/board"
)

// EventType tags a room-scoped event on the wire.
type EventType string

const (
	EventRoomJoined          EventType = "ROOM_JOINED"
	EventPlayerReady         EventType = "PLAYER_READY"
	EventGameStarting        EventType = "GAME_STARTING"
	EventGameStarted         EventType = "GAME_STARTED"
	EventDiceRolled          EventType = "DICE_ROLLED"
	EventValidMovesAvailable EventType = "VALID_MOVES_AVAILABLE"
	EventPieceMoved          EventType = "PIECE_MOVED"
	EventTurnChanged         EventType = "TURN_CHANGED"
	EventTurnTimeTick        EventType = "TURN_TIME_TICK"
	EventLifeDeducted        EventType = "LIFE_DEDUCTED"
	EventPlayerDisconnected  EventType = "PLAYER_DISCONNECTED"
	EventPlayerReconnected   EventType = "PLAYER_RECONNECTED"
	EventGamePaused          EventType = "GAME_PAUSED"
	EventGameResumed         EventType = "GAME_RESUMED"
	EventGameCompleted       EventType = "GAME_COMPLETED"
	EventMatchTimerStarted   EventType = "MATCH_TIMER_STARTED"
	EventMatchTimerTick      EventType = "MATCH_TIMER_TICK"
	EventMatchTimerExpired   EventType = "MATCH_TIMER_EXPIRED"
)

// TurnReason explains why the turn moved (or stayed) in a TURN_CHANGED event.
type TurnReason string

const (
	TurnReasonGameStarted  TurnReason = "GAME_STARTED"
	TurnReasonMove         TurnReason = "MOVE_COMPLETED"
	TurnReasonBonusSix     TurnReason = "BONUS_SIX"
	TurnReasonNoValidMoves TurnReason = "NO_VALID_MOVES"
	TurnReasonTimeout      TurnReason = "TIMEOUT"
	TurnReasonSixLimit     TurnReason = "SIX_LIMIT"
	TurnReasonForfeit      TurnReason = "FORFEIT"
	TurnReasonResumed      TurnReason = "RESUMED"
)

// CompletionReason explains how a match reached its terminal status.
type CompletionReason string

const (
	CompleteFinishOrder  CompletionReason = "FINISH_ORDER"
	CompleteLastStanding CompletionReason = "LAST_SEAT_STANDING"
	CompleteMatchClock   CompletionReason = "MATCH_CLOCK_EXPIRED"
	CompleteScoreTarget  CompletionReason = "SCORE_TARGET"
	CompleteAbandoned    CompletionReason = "ABANDONED"
)

// Event is the closed union of room-scoped broadcast payloads. Events are
// emitted in command-application order, each stamped with the state version
// by the broadcaster envelope.
type Event interface {
	Type() EventType
}

// Broadcaster delivers room events to every connected seat. Implementations
// must preserve per-room emission order.
type Broadcaster interface {
	Broadcast(roomCode string, version uint64, event Event)
}

// NopBroadcaster discards all events. Used when a room has no transport
// attached, and by tests that only inspect state.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, uint64, Event) {}

type RoomJoined struct {
	Seat     SeatSnapshot `json:"seat"`
	Occupied int          `json:"occupied"`
}

type PlayerReady struct {
	Seat int `json:"seat"`
}

type GameStarting struct {
	Countdown time.Duration `json:"countdown_ms"`
}

type GameStarted struct {
	Snapshot Snapshot `json:"snapshot"`
}

type DiceRolled struct {
	Seat  int `json:"seat"`
	Value int `json:"value"`
}

type ValidMovesAvailable struct {
	Seat  int          `json:"seat"`
	Value int          `json:"value"`
	Moves []board.Move `json:"moves"`
}

type PieceMoved struct {
	Seat      int             `json:"seat"`
	PieceID   int             `json:"piece_id"`
	From      int             `json:"from"`
	To        int             `json:"to"`
	Captures  []board.Capture `json:"captures,omitempty"`
	Finished  bool            `json:"finished,omitempty"`
	BonusTurn bool            `json:"bonus_turn,omitempty"`
}

type TurnChanged struct {
	Seat     int           `json:"seat"`
	Reason   TurnReason    `json:"reason"`
	TurnTime time.Duration `json:"turn_time_ms"`
}

type TurnTimeTick struct {
	Seat      int           `json:"seat"`
	Remaining time.Duration `json:"remaining_ms"`
}

type LifeDeducted struct {
	Seat       int  `json:"seat"`
	Lives      int  `json:"lives"`
	Eliminated bool `json:"eliminated"`
}

type PlayerDisconnected struct {
	Seat int `json:"seat"`
}

type PlayerReconnected struct {
	Seat int `json:"seat"`
}

type GamePaused struct {
	Seat int `json:"seat"`
}

type GameResumed struct {
	Seat int `json:"seat"`
}

type GameCompleted struct {
	Reason   CompletionReason `json:"reason"`
	Rankings []RankEntry      `json:"rankings"`
}

type MatchTimerStarted struct {
	Duration time.Duration `json:"duration_ms"`
}

type MatchTimerTick struct {
	Remaining time.Duration `json:"remaining_ms"`
}

type MatchTimerExpired struct{}

func (RoomJoined) Type() EventType          { return EventRoomJoined }
func (PlayerReady) Type() EventType         { return EventPlayerReady }
func (GameStarting) Type() EventType        { return EventGameStarting }
func (GameStarted) Type() EventType         { return EventGameStarted }
func (DiceRolled) Type() EventType          { return EventDiceRolled }
func (ValidMovesAvailable) Type() EventType { return EventValidMovesAvailable }
func (PieceMoved) Type() EventType          { return EventPieceMoved }
func (TurnChanged) Type() EventType         { return EventTurnChanged }
func (TurnTimeTick) Type() EventType        { return EventTurnTimeTick }
func (LifeDeducted) Type() EventType        { return EventLifeDeducted }
func (PlayerDisconnected) Type() EventType  { return EventPlayerDisconnected }
func (PlayerReconnected) Type() EventType   { return EventPlayerReconnected }
func (GamePaused) Type() EventType          { return EventGamePaused }
func (GameResumed) Type() EventType         { return EventGameResumed }
func (GameCompleted) Type() EventType       { return EventGameCompleted }
func (MatchTimerStarted) Type() EventType   { return EventMatchTimerStarted }
func (MatchTimerTick) Type() EventType      { return EventMatchTimerTick }
func (MatchTimerExpired) Type() EventType   { return EventMatchTimerExpired }
