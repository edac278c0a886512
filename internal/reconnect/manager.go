// Package reconnect tracks disconnected players and forfeits the seats of
// those who never come back within the allowed window.
package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/room"
)

// RoomLookup resolves room codes to live rooms. *room.Registry satisfies it.
type RoomLookup interface {
	Get(code string) (*room.Room, bool)
}

type pending struct {
	roomCode string
	playerID string
	deadline time.Time
}

// Manager remembers who dropped from which room and sweeps out players
// whose reconnection window has elapsed.
type Manager struct {
	window time.Duration
	rooms  RoomLookup
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	dropped map[string]pending // keyed by roomCode + "/" + playerID
}

// NewManager creates a manager that forfeits seats still absent after window.
func NewManager(window time.Duration, rooms RoomLookup, logger *zap.Logger) *Manager {
	return &Manager{
		window:  window,
		rooms:   rooms,
		logger:  logger,
		now:     time.Now,
		dropped: make(map[string]pending),
	}
}

func key(roomCode, playerID string) string {
	return roomCode + "/" + playerID
}

// MarkDisconnected records the drop and notifies the room so its broadcast
// and turn handling reflect the absence. The turn clock keeps running for
// the disconnected seat.
func (m *Manager) MarkDisconnected(roomCode, playerID string) {
	r, ok := m.rooms.Get(roomCode)
	if !ok {
		return
	}
	r.Disconnect(playerID)

	m.mu.Lock()
	m.dropped[key(roomCode, playerID)] = pending{
		roomCode: roomCode,
		playerID: playerID,
		deadline: m.now().Add(m.window),
	}
	m.mu.Unlock()

	m.logger.Info("player disconnected",
		zap.String("room_code", roomCode),
		zap.String("player_id", playerID),
	)
}

// Reconnect restores the player into their room within the window and
// returns the full snapshot needed to resync the client.
func (m *Manager) Reconnect(ctx context.Context, roomCode, playerID string) (room.Snapshot, error) {
	m.mu.Lock()
	delete(m.dropped, key(roomCode, playerID))
	m.mu.Unlock()

	r, ok := m.rooms.Get(roomCode)
	if !ok {
		return room.Snapshot{}, fmt.Errorf("room %s no longer exists", roomCode)
	}
	snap, err := r.Reconnect(ctx, playerID)
	if err != nil {
		return room.Snapshot{}, err
	}

	m.logger.Info("player reconnected",
		zap.String("room_code", roomCode),
		zap.String("player_id", playerID),
	)
	return snap, nil
}

// Pending reports whether the player is currently tracked as disconnected.
func (m *Manager) Pending(roomCode, playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dropped[key(roomCode, playerID)]
	return ok
}

// Run sweeps expired windows until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep forfeits every seat whose reconnection window has elapsed.
func (m *Manager) Sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []pending
	for k, p := range m.dropped {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(m.dropped, k)
		}
	}
	m.mu.Unlock()

	for _, p := range expired {
		r, ok := m.rooms.Get(p.roomCode)
		if !ok {
			continue
		}
		r.Forfeit(p.playerID)
		m.logger.Info("reconnection window elapsed, seat forfeited",
			zap.String("room_code", p.roomCode),
			zap.String("player_id", p.playerID),
		)
	}
}
