package room

import (
	"fmt"
	"time"
)

// RejectCode classifies a rejected command. Rejections are reported to the
// issuing client only and never mutate room state.
type RejectCode string

const (
	RejectNotYourTurn   RejectCode = "NOT_YOUR_TURN"
	RejectIllegalMove   RejectCode = "ILLEGAL_MOVE"
	RejectRoomFull      RejectCode = "ROOM_FULL"
	RejectWrongPassword RejectCode = "WRONG_PASSWORD"
	RejectAlreadyReady  RejectCode = "ALREADY_READY"
	RejectBadStatus     RejectCode = "BAD_STATUS"
	RejectNoPendingDie  RejectCode = "NO_PENDING_DIE"
	RejectDiePending    RejectCode = "DIE_PENDING"
	RejectNotInRoom     RejectCode = "NOT_IN_ROOM"
	RejectRoomClosed    RejectCode = "ROOM_CLOSED"
)

// Rejection is the typed refusal of a command.
type Rejection struct {
	Code   RejectCode `json:"code"`
	Reason string     `json:"reason"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

func reject(code RejectCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	r, ok := err.(*Rejection)
	return r, ok
}

// Command is the closed union of everything a room processes through its
// single queue: client commands, lifecycle requests and internal timer
// firings. Implementations are the only types the loop dispatches on.
type Command interface{ isCommand() }

// JoinSeat claims a free seat for a player. Rejoining with a seated player's
// identity returns that player's existing seat.
type JoinSeat struct {
	Player   PlayerIdentity
	Password string
	Reply    chan JoinReply
}

// JoinReply carries the seat index and a full snapshot, or the rejection.
type JoinReply struct {
	Seat     int
	Snapshot Snapshot
	Err      error
}

// SetReady flags the player's seat as ready to start.
type SetReady struct {
	PlayerID string
	Reply    chan error
}

// RollDice requests a die roll for the caller's turn.
type RollDice struct {
	PlayerID string
	Reply    chan error
}

// SelectPiece applies the pending die to one of the caller's pieces.
type SelectPiece struct {
	PlayerID string
	PieceID  int
	Reply    chan error
}

// Pause freezes the turn clock with its remaining time preserved.
type Pause struct {
	PlayerID string
	Reply    chan error
}

// Resume restarts the frozen turn clock.
type Resume struct {
	PlayerID string
	Reply    chan error
}

// Leave removes the player pre-start, or forfeits the seat mid-match.
type Leave struct {
	PlayerID string
	Reply    chan error
}

// Disconnect clears the seat's liveness flag. Turn state is untouched and
// the turn clock keeps running.
type Disconnect struct {
	PlayerID string
}

// Reconnect restores liveness and returns a full snapshot for resync.
type Reconnect struct {
	PlayerID string
	Reply    chan ReconnectReply
}

// ReconnectReply is the snapshot handed to a rejoining client.
type ReconnectReply struct {
	Snapshot Snapshot
	Err      error
}

// GetState requests a read-only snapshot.
type GetState struct {
	Reply chan Snapshot
}

// MarkForfeit flags a player's seat as forfeited for scoring. Issued by the
// reconnection manager when a disconnected player outstays their window.
// Keyed by player so seat reindexing before game start cannot misdirect it.
type MarkForfeit struct {
	PlayerID string
}

// Internal timer commands. Each carries the generation of the clock window
// that produced it; stale generations are discarded without effect.

type turnExpired struct{ gen uint64 }

type turnTick struct {
	gen       uint64
	remaining time.Duration
}

type graceElapsed struct {
	gen    uint64
	reason TurnReason
}

type startElapsed struct{ gen uint64 }

type matchExpired struct{ gen uint64 }

type matchTick struct {
	gen       uint64
	remaining time.Duration
}

func (JoinSeat) isCommand()     {}
func (SetReady) isCommand()     {}
func (RollDice) isCommand()     {}
func (SelectPiece) isCommand()  {}
func (Pause) isCommand()        {}
func (Resume) isCommand()       {}
func (Leave) isCommand()        {}
func (Disconnect) isCommand()   {}
func (Reconnect) isCommand()    {}
func (GetState) isCommand()     {}
func (MarkForfeit) isCommand()  {}
func (turnExpired) isCommand()  {}
func (turnTick) isCommand()     {}
func (graceElapsed) isCommand() {}
func (startElapsed) isCommand() {}
func (matchExpired) isCommand() {}
func (matchTick) isCommand()    {}
