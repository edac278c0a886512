// Package wallet provides an in-memory ledger for entry fees and prizes.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrInsufficientFunds is returned when a reserve exceeds the balance.
var ErrInsufficientFunds = fmt.Errorf("insufficient funds")

type opKey struct {
	roomCode string
	playerID string
}

// Ledger keeps player balances and applies entry fee reserves and prize
// payouts. Both operations are idempotent per (roomCode, playerID): a room
// retrying a side effect after a crash or timeout must never double-charge
// or double-pay.
type Ledger struct {
	logger *zap.Logger

	mu       sync.Mutex
	balances map[string]int64
	reserves map[opKey]int64
	payouts  map[opKey]int64
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger:   logger,
		balances: make(map[string]int64),
		reserves: make(map[opKey]int64),
		payouts:  make(map[opKey]int64),
	}
}

// Deposit credits the player's balance.
func (l *Ledger) Deposit(playerID string, amount int64) {
	l.mu.Lock()
	l.balances[playerID] += amount
	l.mu.Unlock()
}

// Balance returns the player's current balance.
func (l *Ledger) Balance(playerID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[playerID]
}

// ReserveEntryFee debits the entry fee for one room. Re-reserving the same
// (roomCode, playerID) is a no-op regardless of amount.
func (l *Ledger) ReserveEntryFee(ctx context.Context, roomCode, playerID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := opKey{roomCode: roomCode, playerID: playerID}
	if _, done := l.reserves[k]; done {
		return nil
	}
	if l.balances[playerID] < amount {
		return fmt.Errorf("reserve %d for %s in %s: %w", amount, playerID, roomCode, ErrInsufficientFunds)
	}
	l.balances[playerID] -= amount
	l.reserves[k] = amount

	l.logger.Debug("entry fee reserved",
		zap.String("room_code", roomCode),
		zap.String("player_id", playerID),
		zap.Int64("amount", amount),
	)
	return nil
}

// Payout credits a prize for one room. Idempotent per (roomCode, playerID).
func (l *Ledger) Payout(ctx context.Context, roomCode, playerID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := opKey{roomCode: roomCode, playerID: playerID}
	if _, done := l.payouts[k]; done {
		return nil
	}
	l.balances[playerID] += amount
	l.payouts[k] = amount

	l.logger.Debug("prize paid out",
		zap.String("room_code", roomCode),
		zap.String("player_id", playerID),
		zap.Int64("amount", amount),
	)
	return nil
}

// Refund returns a previously reserved entry fee, for rooms abandoned
// before play began. Idempotent: only a still-held reserve is refunded.
func (l *Ledger) Refund(ctx context.Context, roomCode, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := opKey{roomCode: roomCode, playerID: playerID}
	amount, held := l.reserves[k]
	if !held {
		return nil
	}
	delete(l.reserves, k)
	l.balances[playerID] += amount

	l.logger.Debug("entry fee refunded",
		zap.String("room_code", roomCode),
		zap.String("player_id", playerID),
		zap.Int64("amount", amount),
	)
	return nil
}
