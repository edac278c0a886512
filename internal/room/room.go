package room

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/board"
	"github.com/ludoforge/ludo-server-go/internal/clock"
)

// ErrClosed is returned for commands sent to a room whose loop has stopped.
var ErrClosed = errors.New("room closed")

// Ledger is the wallet boundary the room debits and credits. Calls must be
// idempotent by (roomCode, playerID).
type Ledger interface {
	ReserveEntryFee(ctx context.Context, roomCode, playerID string, amount int64) error
	Payout(ctx context.Context, roomCode, playerID string, amount int64) error
	Refund(ctx context.Context, roomCode, playerID string) error
}

// MatchResult is the completion record handed to persistence. Idempotent by
// (RoomCode, StateVersion).
type MatchResult struct {
	RoomCode     string
	GameTypeID   string
	Variant      Variant
	StateVersion uint64
	Reason       CompletionReason
	Rankings     []RankEntry
	StartedAt    time.Time
	CompletedAt  time.Time
}

// MatchStore persists completed match results.
type MatchStore interface {
	SaveResult(ctx context.Context, result MatchResult) error
}

const commandQueueSize = 64

// sideEffectTimeout bounds ledger and persistence calls dispatched from a
// room so a stalled collaborator cannot pin goroutines forever.
const sideEffectTimeout = 5 * time.Second

// Room is the actor owning one match. All state mutation happens on the
// loop goroutine; external callers interact only through commands.
type Room struct {
	code   string
	logger *zap.Logger

	cmds chan Command
	done chan struct{}

	broadcaster Broadcaster
	ledger      Ledger
	store       MatchStore
	roll        func() int
	now         func() time.Time

	turnClock  *clock.Clock
	matchClock *clock.Clock

	// Loop-owned fields below; never touched from outside the loop.
	state       *State
	graceReason TurnReason // non-empty while the active window is a grace delay
	pausedTurn  time.Duration
	pausedMatch time.Duration
	pausedGrace bool
}

// Option customizes a room at construction.
type Option func(*Room)

// WithDice overrides the die source. Used by tests for scripted rolls.
func WithDice(roll func() int) Option {
	return func(r *Room) { r.roll = roll }
}

// WithLedger attaches the wallet boundary.
func WithLedger(l Ledger) Option {
	return func(r *Room) { r.ledger = l }
}

// WithStore attaches match-result persistence.
func WithStore(s MatchStore) Option {
	return func(r *Room) { r.store = s }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

// New creates a room and starts its command loop.
func New(code string, cfg GameConfig, broadcaster Broadcaster, logger *zap.Logger, opts ...Option) *Room {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	r := &Room{
		code:        code,
		logger:      logger.With(zap.String("room_code", code)),
		cmds:        make(chan Command, commandQueueSize),
		done:        make(chan struct{}),
		broadcaster: broadcaster,
		roll:        func() int { return rand.IntN(board.DiceMax) + 1 },
		now:         time.Now,
		turnClock:   clock.New(time.Second),
		matchClock:  clock.New(time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = newState(code, cfg, r.now())

	go r.loop()
	return r
}

// Code returns the room's shareable code.
func (r *Room) Code() string { return r.code }

// Close stops the command loop and cancels all timers. Idempotent.
func (r *Room) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Done exposes loop termination to the registry janitor.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	defer r.turnClock.Cancel()
	defer r.matchClock.Cancel()

	for {
		select {
		case cmd := <-r.cmds:
			r.handle(cmd)
			r.checkInvariants()
		case <-r.done:
			return
		}
	}
}

// enqueue inserts a command unless the room is closed. Timer callbacks use
// it, so it must never block behind a full queue while the loop is gone.
func (r *Room) enqueue(cmd Command) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
	}
}

func (r *Room) send(ctx context.Context, cmd Command) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join claims a seat for the player and returns the seat index with a full
// snapshot.
func (r *Room) Join(ctx context.Context, player PlayerIdentity, password string) (JoinReply, error) {
	reply := make(chan JoinReply, 1)
	if err := r.send(ctx, JoinSeat{Player: player, Password: password, Reply: reply}); err != nil {
		return JoinReply{}, err
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-r.done:
		return JoinReply{}, ErrClosed
	case <-ctx.Done():
		return JoinReply{}, ctx.Err()
	}
}

func (r *Room) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetReady marks the player's seat ready.
func (r *Room) SetReady(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, SetReady{PlayerID: playerID, Reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// RollDice rolls for the player's turn.
func (r *Room) RollDice(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, RollDice{PlayerID: playerID, Reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// MovePiece applies the pending die to the player's piece.
func (r *Room) MovePiece(ctx context.Context, playerID string, pieceID int) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, SelectPiece{PlayerID: playerID, PieceID: pieceID, Reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Pause freezes the turn clock, preserving remaining time.
func (r *Room) Pause(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, Pause{PlayerID: playerID, Reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Resume restarts a paused room.
func (r *Room) Resume(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, Resume{PlayerID: playerID, Reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Leave removes the player pre-start, or forfeits the seat mid-match.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, Leave{PlayerID: playerID, Reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Disconnect records transport loss for the player's seat.
func (r *Room) Disconnect(playerID string) {
	r.enqueue(Disconnect{PlayerID: playerID})
}

// Reconnect restores the seat's liveness and returns a resync snapshot.
func (r *Room) Reconnect(ctx context.Context, playerID string) (Snapshot, error) {
	reply := make(chan ReconnectReply, 1)
	if err := r.send(ctx, Reconnect{PlayerID: playerID, Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case res := <-reply:
		return res.Snapshot, res.Err
	case <-r.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Snapshot returns the current versioned state.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := r.send(ctx, GetState{Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-r.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Forfeit flags the player's seat as forfeited for scoring purposes.
func (r *Room) Forfeit(playerID string) {
	r.enqueue(MarkForfeit{PlayerID: playerID})
}

func (r *Room) handle(cmd Command) {
	switch c := cmd.(type) {
	case JoinSeat:
		c.Reply <- r.handleJoin(c)
	case SetReady:
		c.Reply <- r.handleSetReady(c)
	case RollDice:
		c.Reply <- r.handleRollDice(c)
	case SelectPiece:
		c.Reply <- r.handleSelectPiece(c)
	case Pause:
		c.Reply <- r.handlePause(c)
	case Resume:
		c.Reply <- r.handleResume(c)
	case Leave:
		c.Reply <- r.handleLeave(c)
	case Disconnect:
		r.handleDisconnect(c)
	case Reconnect:
		c.Reply <- r.handleReconnect(c)
	case GetState:
		c.Reply <- r.state.snapshot(r.turnRemaining(), r.matchClock.Remaining())
	case MarkForfeit:
		r.handleMarkForfeit(c)
	case startElapsed:
		r.handleStartElapsed(c)
	case turnExpired:
		r.handleTurnExpired(c)
	case turnTick:
		r.handleTurnTick(c)
	case graceElapsed:
		r.handleGraceElapsed(c)
	case matchExpired:
		r.handleMatchExpired(c)
	case matchTick:
		r.handleMatchTick(c)
	}
}

func (r *Room) turnRemaining() time.Duration {
	if r.state.Status == StatusPaused {
		return r.pausedTurn
	}
	if r.graceReason != "" {
		return 0
	}
	return r.turnClock.Remaining()
}

func (r *Room) broadcast(event Event) {
	r.broadcaster.Broadcast(r.code, r.state.Version, event)
}

func (r *Room) handleJoin(cmd JoinSeat) JoinReply {
	st := r.state

	if seat := st.seatByPlayer(cmd.Player.ID); seat != nil {
		// Rejoining an already-claimed seat is not an error.
		return JoinReply{Seat: seat.Index, Snapshot: st.snapshot(r.turnRemaining(), r.matchClock.Remaining())}
	}
	if st.Status != StatusWaiting {
		return JoinReply{Err: reject(RejectBadStatus, "room %s already %s", st.Code, st.Status)}
	}
	if st.Config.Password != "" && cmd.Password != st.Config.Password {
		return JoinReply{Err: reject(RejectWrongPassword, "wrong room password")}
	}
	if len(st.Seats) >= st.Config.MaxPlayers {
		return JoinReply{Err: reject(RejectRoomFull, "room %s is full", st.Code)}
	}

	seat := &Seat{
		Index:     len(st.Seats),
		Player:    cmd.Player,
		Color:     board.SeatColor(len(st.Seats), st.Config.MaxPlayers),
		Connected: true,
		Lives:     st.Config.Lives,
	}
	st.Seats = append(st.Seats, seat)
	st.Version++

	r.logger.Info("player joined",
		zap.String("player_id", cmd.Player.ID),
		zap.Int("seat", seat.Index),
		zap.Int("occupied", len(st.Seats)),
	)

	snap := st.snapshot(r.turnRemaining(), r.matchClock.Remaining())
	r.broadcast(RoomJoined{Seat: snap.Seats[seat.Index], Occupied: len(st.Seats)})

	r.maybeEnterStarting()
	return JoinReply{Seat: seat.Index, Snapshot: snap}
}

func (r *Room) handleSetReady(cmd SetReady) error {
	st := r.state
	if st.Status != StatusWaiting {
		return reject(RejectBadStatus, "room %s already %s", st.Code, st.Status)
	}
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return reject(RejectNotInRoom, "player not seated in room %s", st.Code)
	}
	if seat.Ready {
		return reject(RejectAlreadyReady, "seat %d already ready", seat.Index)
	}

	seat.Ready = true
	st.Version++
	r.broadcast(PlayerReady{Seat: seat.Index})

	r.maybeEnterStarting()
	return nil
}

// maybeEnterStarting begins the fixed start countdown once enough seats are
// occupied and either everyone is ready or the room is full.
func (r *Room) maybeEnterStarting() {
	st := r.state
	if st.Status != StatusWaiting || len(st.Seats) < st.Config.MinPlayers {
		return
	}
	allReady := true
	for _, s := range st.Seats {
		if !s.Ready {
			allReady = false
			break
		}
	}
	if !allReady && len(st.Seats) < st.Config.MaxPlayers {
		return
	}

	st.Status = StatusStarting
	st.Version++
	r.broadcast(GameStarting{Countdown: st.Config.StartCountdown})

	gen := r.turnClock.Start(st.Config.StartCountdown, nil, func(g uint64) {
		r.enqueue(startElapsed{gen: g})
	})
	r.logger.Info("start countdown began",
		zap.Duration("countdown", st.Config.StartCountdown),
		zap.Uint64("window_gen", gen),
	)
}

// handleStartElapsed finalizes seats, colors and pieces, then opens play.
func (r *Room) handleStartElapsed(cmd startElapsed) {
	st := r.state
	if st.Status != StatusStarting || cmd.gen != r.turnClock.Generation() {
		return
	}

	totalSeats := len(st.Seats)
	st.Pieces = make([]board.Piece, 0, totalSeats*board.PiecesPerSeat)
	for _, seat := range st.Seats {
		seat.Color = board.SeatColor(seat.Index, totalSeats)
		for i := 0; i < board.PiecesPerSeat; i++ {
			st.Pieces = append(st.Pieces, board.Piece{Seat: seat.Index, ID: i})
		}
	}

	r.reserveEntryFees()
	if len(st.aliveSeats()) < st.Config.MinPlayers {
		r.abandon("entry fee reservation left too few funded seats")
		return
	}

	st.Status = StatusInProgress
	st.StartedAt = r.now()
	st.Version++

	r.logger.Info("game started",
		zap.Int("seats", totalSeats),
		zap.String("variant", string(st.Config.Variant)),
	)
	r.broadcast(GameStarted{Snapshot: st.snapshot(0, 0)})

	if st.Config.Variant == VariantQuick {
		gen := r.matchClock.Start(st.Config.QuickDuration,
			func(g uint64, remaining time.Duration) {
				r.enqueue(matchTick{gen: g, remaining: remaining})
			},
			func(g uint64) {
				r.enqueue(matchExpired{gen: g})
			},
		)
		r.broadcast(MatchTimerStarted{Duration: st.Config.QuickDuration})
		r.logger.Debug("match clock started", zap.Uint64("window_gen", gen))
	}

	first := 0
	if !st.Seats[0].Alive() {
		first = st.nextAliveSeat(0)
	}
	r.beginTurn(first, TurnReasonGameStarted)
}

// reserveEntryFees debits each seat once. A seat whose reservation fails is
// excluded from play before the first turn; it never retroactively affects
// moves because none have happened yet.
func (r *Room) reserveEntryFees() {
	st := r.state
	if r.ledger == nil || st.Config.EntryFee <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	for _, seat := range st.Seats {
		err := r.ledger.ReserveEntryFee(ctx, st.Code, seat.Player.ID, st.Config.EntryFee)
		if err != nil {
			r.logger.Warn("entry fee reservation failed, excluding seat",
				zap.Int("seat", seat.Index),
				zap.String("player_id", seat.Player.ID),
				zap.Error(err),
			)
			seat.Lives = 0
			seat.Forfeited = true
		}
	}
}

// beginTurn hands the turn to seat and opens a fresh turn window.
func (r *Room) beginTurn(seat int, reason TurnReason) {
	st := r.state
	st.CurrentTurn = seat
	st.DieValue = DieNone
	st.legalMoves = nil
	r.graceReason = ""
	st.Version++

	r.broadcast(TurnChanged{Seat: seat, Reason: reason, TurnTime: st.Config.TurnTime})

	gen := r.turnClock.Start(st.Config.TurnTime,
		func(g uint64, remaining time.Duration) {
			r.enqueue(turnTick{gen: g, remaining: remaining})
		},
		func(g uint64) {
			r.enqueue(turnExpired{gen: g})
		},
	)
	r.logger.Debug("turn began",
		zap.Int("seat", seat),
		zap.String("reason", string(reason)),
		zap.Uint64("window_gen", gen),
	)
}

func (r *Room) handleRollDice(cmd RollDice) error {
	st := r.state
	if st.Status != StatusInProgress {
		return reject(RejectBadStatus, "room %s is %s", st.Code, st.Status)
	}
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return reject(RejectNotInRoom, "player not seated in room %s", st.Code)
	}
	if seat.Index != st.CurrentTurn {
		return reject(RejectNotYourTurn, "seat %d rolled out of turn", seat.Index)
	}
	if st.DieValue != DieNone {
		return reject(RejectDiePending, "seat %d already has a pending roll", seat.Index)
	}

	value := r.roll()
	st.DieValue = value
	st.Version++

	if value == board.RollToStart {
		st.ConsecutiveSixes++
	} else {
		st.ConsecutiveSixes = 0
	}

	r.broadcast(DiceRolled{Seat: seat.Index, Value: value})

	limit := st.Config.MaxConsecutiveSixes
	if limit > 0 && st.ConsecutiveSixes >= limit {
		// Third six in a row voids the roll and forfeits the turn.
		st.DieValue = DieNone
		st.legalMoves = nil
		r.scheduleGrace(TurnReasonSixLimit)
		return nil
	}

	st.legalMoves = board.LegalMoves(st.Pieces, value, seat.Index, len(st.Seats))
	r.broadcast(ValidMovesAvailable{Seat: seat.Index, Value: value, Moves: st.legalMoves})

	if len(st.legalMoves) == 0 {
		r.scheduleGrace(TurnReasonNoValidMoves)
	}
	return nil
}

// scheduleGrace replaces the turn window with a short delay so clients can
// render the roll before the turn auto-advances.
func (r *Room) scheduleGrace(reason TurnReason) {
	r.graceReason = reason
	gen := r.turnClock.Start(r.state.Config.MoveGrace, nil, func(g uint64) {
		r.enqueue(graceElapsed{gen: g, reason: reason})
	})
	r.logger.Debug("turn auto-advance scheduled",
		zap.String("reason", string(reason)),
		zap.Uint64("window_gen", gen),
	)
}

func (r *Room) handleGraceElapsed(cmd graceElapsed) {
	st := r.state
	if st.Status != StatusInProgress || cmd.gen != r.turnClock.Generation() || r.graceReason == "" {
		return
	}
	st.DieValue = DieNone
	st.legalMoves = nil
	r.advanceTurn(cmd.reason)
}

func (r *Room) handleSelectPiece(cmd SelectPiece) error {
	st := r.state
	if st.Status != StatusInProgress {
		return reject(RejectBadStatus, "room %s is %s", st.Code, st.Status)
	}
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return reject(RejectNotInRoom, "player not seated in room %s", st.Code)
	}
	if seat.Index != st.CurrentTurn {
		return reject(RejectNotYourTurn, "seat %d moved out of turn", seat.Index)
	}
	if st.DieValue <= DieNone {
		return reject(RejectNoPendingDie, "no die pending for seat %d", seat.Index)
	}

	var move *board.Move
	for i := range st.legalMoves {
		if st.legalMoves[i].PieceID == cmd.PieceID {
			move = &st.legalMoves[i]
			break
		}
	}
	if move == nil {
		return reject(RejectIllegalMove, "piece %d has no legal move for die %d", cmd.PieceID, st.DieValue)
	}

	// Validation complete; everything below is the atomic application.
	piece := st.pieceAt(seat.Index, move.PieceID)
	piece.Pos = move.To

	for _, cap := range move.Captures {
		captured := st.pieceAt(cap.Seat, cap.ID)
		captured.Pos = 0
		seat.Kills++
		seat.Score += scoreCapture
	}
	seat.Score += st.DieValue
	die := st.DieValue
	st.DieValue = DieNone
	st.legalMoves = nil
	st.Version++
	seat.scoreVersion = st.Version

	finished := piece.Pos == board.HomeFinal
	if finished {
		seat.Score += scorePieceFinish
		if st.seatFinishedAll(seat.Index) {
			seat.FinishedRank = st.nextFinish
			st.nextFinish++
		}
	}

	bonus := die == board.RollToStart && st.Config.BonusSix && seat.Alive()
	r.broadcast(PieceMoved{
		Seat:      seat.Index,
		PieceID:   move.PieceID,
		From:      move.From,
		To:        move.To,
		Captures:  move.Captures,
		Finished:  finished,
		BonusTurn: bonus,
	})

	if st.Config.Variant == VariantQuick &&
		st.Config.QuickTargetScore > 0 && seat.Score >= st.Config.QuickTargetScore {
		r.complete(CompleteScoreTarget)
		return nil
	}
	if len(st.aliveSeats()) <= 1 {
		r.complete(CompleteFinishOrder)
		return nil
	}

	if bonus {
		r.beginTurn(seat.Index, TurnReasonBonusSix)
	} else {
		r.advanceTurn(TurnReasonMove)
	}
	return nil
}

func (st *State) seatFinishedAll(seat int) bool {
	for _, p := range st.seatPieces(seat) {
		if !p.Finished() {
			return false
		}
	}
	return true
}

// advanceTurn rotates to the next living seat, completing the match when at
// most one remains.
func (r *Room) advanceTurn(reason TurnReason) {
	st := r.state
	st.ConsecutiveSixes = 0
	next := st.nextAliveSeat(st.CurrentTurn)
	if next < 0 || (next == st.CurrentTurn && len(st.aliveSeats()) <= 1) {
		r.complete(CompleteLastStanding)
		return
	}
	r.beginTurn(next, reason)
}

func (r *Room) handleTurnExpired(cmd turnExpired) {
	st := r.state
	if st.Status != StatusInProgress || cmd.gen != r.turnClock.Generation() || r.graceReason != "" {
		// Stale window generations are discarded silently: a move resolved
		// the turn before its timer command was processed.
		return
	}

	seat := st.Seats[st.CurrentTurn]
	seat.Lives--
	st.DieValue = DieNone
	st.legalMoves = nil
	st.Version++

	eliminated := seat.Lives <= 0
	r.logger.Info("turn timed out",
		zap.Int("seat", seat.Index),
		zap.Int("lives", seat.Lives),
		zap.Bool("eliminated", eliminated),
	)
	r.broadcast(LifeDeducted{Seat: seat.Index, Lives: seat.Lives, Eliminated: eliminated})

	if alive := st.aliveSeats(); len(alive) <= 1 {
		r.complete(CompleteLastStanding)
		return
	}
	r.advanceTurn(TurnReasonTimeout)
}

func (r *Room) handleTurnTick(cmd turnTick) {
	st := r.state
	if st.Status != StatusInProgress || cmd.gen != r.turnClock.Generation() || r.graceReason != "" {
		return
	}
	r.broadcast(TurnTimeTick{Seat: st.CurrentTurn, Remaining: cmd.remaining})
}

func (r *Room) handlePause(cmd Pause) error {
	st := r.state
	if st.Status != StatusInProgress {
		return reject(RejectBadStatus, "room %s is %s", st.Code, st.Status)
	}
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return reject(RejectNotInRoom, "player not seated in room %s", st.Code)
	}

	r.pausedTurn = r.turnClock.Remaining()
	r.pausedGrace = r.graceReason != ""
	r.turnClock.Cancel()
	if st.Config.Variant == VariantQuick {
		r.pausedMatch = r.matchClock.Remaining()
		r.matchClock.Cancel()
	}

	st.Status = StatusPaused
	st.Version++
	r.broadcast(GamePaused{Seat: seat.Index})
	r.logger.Info("game paused",
		zap.Int("seat", seat.Index),
		zap.Duration("turn_remaining", r.pausedTurn),
	)
	return nil
}

func (r *Room) handleResume(cmd Resume) error {
	st := r.state
	if st.Status != StatusPaused {
		return reject(RejectBadStatus, "room %s is %s", st.Code, st.Status)
	}
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return reject(RejectNotInRoom, "player not seated in room %s", st.Code)
	}

	st.Status = StatusInProgress
	st.Version++
	r.broadcast(GameResumed{Seat: seat.Index})

	if st.Config.Variant == VariantQuick {
		r.matchClock.Start(r.pausedMatch,
			func(g uint64, remaining time.Duration) {
				r.enqueue(matchTick{gen: g, remaining: remaining})
			},
			func(g uint64) {
				r.enqueue(matchExpired{gen: g})
			},
		)
	}

	// The turn resumes with its preserved remaining time; ownership and any
	// pending die are untouched.
	if r.pausedGrace {
		reason := r.graceReason
		r.turnClock.Start(r.pausedTurn, nil, func(g uint64) {
			r.enqueue(graceElapsed{gen: g, reason: reason})
		})
	} else {
		r.broadcast(TurnChanged{Seat: st.CurrentTurn, Reason: TurnReasonResumed, TurnTime: r.pausedTurn})
		r.turnClock.Start(r.pausedTurn,
			func(g uint64, remaining time.Duration) {
				r.enqueue(turnTick{gen: g, remaining: remaining})
			},
			func(g uint64) {
				r.enqueue(turnExpired{gen: g})
			},
		)
	}
	r.logger.Info("game resumed", zap.Int("seat", seat.Index))
	return nil
}

func (r *Room) handleLeave(cmd Leave) error {
	st := r.state
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return reject(RejectNotInRoom, "player not seated in room %s", st.Code)
	}

	switch st.Status {
	case StatusWaiting:
		st.Seats = append(st.Seats[:seat.Index], st.Seats[seat.Index+1:]...)
		for i, s := range st.Seats {
			s.Index = i
			s.Color = board.SeatColor(i, st.Config.MaxPlayers)
		}
		st.Version++
		r.logger.Info("player left", zap.String("player_id", cmd.PlayerID))
		return nil

	case StatusInProgress, StatusPaused:
		seat.Lives = 0
		seat.Forfeited = true
		seat.Connected = false
		st.Version++
		r.broadcast(LifeDeducted{Seat: seat.Index, Lives: 0, Eliminated: true})
		r.logger.Info("player forfeited by leaving",
			zap.String("player_id", cmd.PlayerID),
			zap.Int("seat", seat.Index),
		)

		if len(st.aliveSeats()) <= 1 {
			r.complete(CompleteLastStanding)
			return nil
		}
		if st.Status == StatusInProgress && st.CurrentTurn == seat.Index {
			st.DieValue = DieNone
			st.legalMoves = nil
			r.advanceTurn(TurnReasonForfeit)
		}
		return nil

	default:
		return reject(RejectBadStatus, "room %s is %s", st.Code, st.Status)
	}
}

func (r *Room) handleDisconnect(cmd Disconnect) {
	st := r.state
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil || !seat.Connected {
		return
	}
	seat.Connected = false
	st.Version++
	r.broadcast(PlayerDisconnected{Seat: seat.Index})
	r.logger.Info("player disconnected",
		zap.String("player_id", cmd.PlayerID),
		zap.Int("seat", seat.Index),
	)
}

func (r *Room) handleReconnect(cmd Reconnect) ReconnectReply {
	st := r.state
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil {
		return ReconnectReply{Err: reject(RejectNotInRoom, "player not seated in room %s", st.Code)}
	}

	if !seat.Connected {
		seat.Connected = true
		st.Version++
		r.broadcast(PlayerReconnected{Seat: seat.Index})
		r.logger.Info("player reconnected",
			zap.String("player_id", cmd.PlayerID),
			zap.Int("seat", seat.Index),
		)
	}
	return ReconnectReply{Snapshot: st.snapshot(r.turnRemaining(), r.matchClock.Remaining())}
}

// handleMarkForfeit eliminates the player's seat after their reconnection
// window elapsed. A player who came back in the meantime is left alone.
func (r *Room) handleMarkForfeit(cmd MarkForfeit) {
	st := r.state
	if st.Status != StatusInProgress && st.Status != StatusPaused {
		return
	}
	seat := st.seatByPlayer(cmd.PlayerID)
	if seat == nil || seat.Forfeited || seat.Connected || !seat.Alive() {
		return
	}

	seat.Lives = 0
	seat.Forfeited = true
	st.Version++
	r.logger.Info("seat forfeited after reconnection window",
		zap.Int("seat", seat.Index),
		zap.String("player_id", cmd.PlayerID),
	)
	r.broadcast(LifeDeducted{Seat: seat.Index, Lives: 0, Eliminated: true})

	if len(st.aliveSeats()) <= 1 {
		r.complete(CompleteLastStanding)
		return
	}
	if st.Status == StatusInProgress && st.CurrentTurn == seat.Index {
		st.DieValue = DieNone
		st.legalMoves = nil
		r.advanceTurn(TurnReasonForfeit)
	}
}

func (r *Room) handleMatchExpired(cmd matchExpired) {
	st := r.state
	if st.Status != StatusInProgress || cmd.gen != r.matchClock.Generation() {
		return
	}
	r.broadcast(MatchTimerExpired{})
	r.complete(CompleteMatchClock)
}

func (r *Room) handleMatchTick(cmd matchTick) {
	st := r.state
	if st.Status != StatusInProgress || cmd.gen != r.matchClock.Generation() {
		return
	}
	r.broadcast(MatchTimerTick{Remaining: cmd.remaining})
}

// complete moves the room to COMPLETED, ranks the seats and dispatches
// payouts and persistence outside the command loop.
func (r *Room) complete(reason CompletionReason) {
	st := r.state
	r.turnClock.Cancel()
	r.matchClock.Cancel()

	st.Status = StatusCompleted
	st.CurrentTurn = -1
	st.DieValue = DieNone
	st.legalMoves = nil
	st.CompletedAt = r.now()
	st.Rankings = st.rank()
	st.Version++

	r.logger.Info("game completed",
		zap.String("reason", string(reason)),
		zap.Any("rankings", st.Rankings),
	)
	r.broadcast(GameCompleted{Reason: reason, Rankings: st.Rankings})

	r.dispatchCompletion(MatchResult{
		RoomCode:     st.Code,
		GameTypeID:   st.Config.GameTypeID,
		Variant:      st.Config.Variant,
		StateVersion: st.Version,
		Reason:       reason,
		Rankings:     st.Rankings,
		StartedAt:    st.StartedAt,
		CompletedAt:  st.CompletedAt,
	}, st.Config.PrizeTable)
}

// abandon force-completes a corrupted or unstartable room. No payouts.
func (r *Room) abandon(why string) {
	st := r.state
	r.turnClock.Cancel()
	r.matchClock.Cancel()

	st.Status = StatusAbandoned
	st.CurrentTurn = -1
	st.DieValue = DieNone
	st.legalMoves = nil
	st.CompletedAt = r.now()
	st.Version++

	r.logger.Error("room abandoned", zap.String("why", why))
	r.broadcast(GameCompleted{Reason: CompleteAbandoned})
	r.dispatchRefunds()
}

// dispatchRefunds returns every held entry fee reserve of an abandoned
// room. Refund ignores seats whose reservation never succeeded.
func (r *Room) dispatchRefunds() {
	st := r.state
	if r.ledger == nil || st.Config.EntryFee <= 0 {
		return
	}
	ledger := r.ledger
	logger := r.logger
	code := st.Code
	players := make([]string, 0, len(st.Seats))
	for _, seat := range st.Seats {
		players = append(players, seat.Player.ID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		for _, id := range players {
			if err := ledger.Refund(ctx, code, id); err != nil {
				logger.Error("entry fee refund failed",
					zap.String("player_id", id),
					zap.Error(err),
				)
			}
		}
	}()
}

// dispatchCompletion runs payouts and persistence after state mutation has
// finished. Collaborators tolerate at-least-once delivery, keyed by
// (roomCode, stateVersion) and (roomCode, playerID).
func (r *Room) dispatchCompletion(result MatchResult, prizes []int64) {
	ledger := r.ledger
	store := r.store
	logger := r.logger

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if ledger != nil {
			for _, entry := range result.Rankings {
				if entry.Forfeited || entry.Rank > len(prizes) {
					continue
				}
				amount := prizes[entry.Rank-1]
				if amount <= 0 {
					continue
				}
				if err := ledger.Payout(ctx, result.RoomCode, entry.PlayerID, amount); err != nil {
					logger.Error("prize payout failed",
						zap.String("player_id", entry.PlayerID),
						zap.Int64("amount", amount),
						zap.Error(err),
					)
				}
			}
		}

		if store != nil {
			if err := store.SaveResult(ctx, result); err != nil {
				logger.Error("failed to persist match result", zap.Error(err))
			}
		}
	}()
}

// rank orders seats into the final standings. Finish order dominates for
// CLASSIC; otherwise score, then kills, then whoever reached the score
// first. Forfeited seats sort below equally-placed live ones.
func (st *State) rank() []RankEntry {
	seats := append([]*Seat(nil), st.Seats...)

	less := func(a, b *Seat) bool {
		if (a.FinishedRank > 0) != (b.FinishedRank > 0) {
			return a.FinishedRank > 0
		}
		if a.FinishedRank > 0 && b.FinishedRank > 0 && a.FinishedRank != b.FinishedRank {
			return a.FinishedRank < b.FinishedRank
		}
		if a.Forfeited != b.Forfeited {
			return !a.Forfeited
		}
		if (a.Lives > 0) != (b.Lives > 0) {
			return a.Lives > 0
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kills != b.Kills {
			return a.Kills > b.Kills
		}
		if a.scoreVersion != b.scoreVersion {
			return a.scoreVersion < b.scoreVersion
		}
		return a.Index < b.Index
	}

	for i := 1; i < len(seats); i++ {
		for j := i; j > 0 && less(seats[j], seats[j-1]); j-- {
			seats[j], seats[j-1] = seats[j-1], seats[j]
		}
	}

	entries := make([]RankEntry, 0, len(seats))
	for i, s := range seats {
		entries = append(entries, RankEntry{
			Rank:       i + 1,
			Seat:       s.Index,
			PlayerID:   s.Player.ID,
			PlayerName: s.Player.Name,
			Score:      s.Score,
			Kills:      s.Kills,
			Forfeited:  s.Forfeited,
		})
	}
	return entries
}

// checkInvariants guards against state-machine corruption. A breach is
// fatal to this room only: it is force-completed as ABANDONED.
func (r *Room) checkInvariants() {
	st := r.state
	if st.Status != StatusInProgress && st.Status != StatusPaused {
		return
	}
	if st.CurrentTurn < 0 || st.CurrentTurn >= len(st.Seats) {
		r.abandon("current turn seat out of range")
		return
	}
	if !st.Seats[st.CurrentTurn].Alive() {
		r.abandon("current turn held by a dead seat")
		return
	}
	if st.DieValue < DieNone || st.DieValue > board.DiceMax {
		r.abandon("die value out of range")
		return
	}
	for _, p := range st.Pieces {
		if p.Pos < 0 || p.Pos > board.HomeFinal {
			r.abandon("piece position out of range")
			return
		}
	}
}
