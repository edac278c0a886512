// Package ws is the WebSocket transport: one connection per player, fanned
// out per room.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	outboundBuffer = 256
)

// Envelope is the frame sent to clients. Version carries the room state
// version the event was emitted at so clients can discard stale frames.
type Envelope struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code,omitempty"`
	Version  uint64 `json:"version,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

type outbound struct {
	roomCode string
	data     []byte
}

type registration struct {
	client   *Client
	roomCode string
}

// Hub tracks connected clients grouped by room and fans room events out to
// them. It satisfies room.Broadcaster.
type Hub struct {
	logger *zap.Logger

	register   chan registration
	unregister chan *Client
	events     chan outbound

	mu       sync.RWMutex
	rooms    map[string]map[*Client]bool
	byClient map[*Client]string
}

// NewHub creates an empty hub. Run must be started for it to do anything.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan registration),
		unregister: make(chan *Client),
		events:     make(chan outbound, outboundBuffer),
		rooms:      make(map[string]map[*Client]bool),
		byClient:   make(map[*Client]string),
	}
}

// Broadcast marshals the event into a versioned envelope and queues it for
// every client in the room. Called from room loops, so it must not block:
// when the hub is saturated the frame is dropped and clients resync via
// GET_STATE.
func (h *Hub) Broadcast(roomCode string, version uint64, event room.Event) {
	env := Envelope{
		Type:     string(event.Type()),
		RoomCode: roomCode,
		Version:  version,
		Payload:  event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal event",
			zap.String("room_code", roomCode),
			zap.String("event_type", string(event.Type())),
			zap.Error(err),
		)
		return
	}

	select {
	case h.events <- outbound{roomCode: roomCode, data: data}:
	default:
		h.logger.Warn("event queue full, dropping frame",
			zap.String("room_code", roomCode),
			zap.String("event_type", string(event.Type())),
		)
	}
}

// Run owns the client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.detachLocked(reg.client)
			set, ok := h.rooms[reg.roomCode]
			if !ok {
				set = make(map[*Client]bool)
				h.rooms[reg.roomCode] = set
			}
			set[reg.client] = true
			h.byClient[reg.client] = reg.roomCode
			h.mu.Unlock()
			h.logger.Debug("client registered",
				zap.String("room_code", reg.roomCode),
				zap.String("player_id", reg.client.playerID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			h.detachLocked(client)
			h.mu.Unlock()

		case msg := <-h.events:
			h.mu.Lock()
			for client := range h.rooms[msg.roomCode] {
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer. Dropping it here keeps one
					// stalled socket from blocking the room.
					h.detachLocked(client)
					client.stop()
				}
			}
			h.mu.Unlock()
		}
	}
}

// detachLocked removes the client from whichever room it is attached to.
func (h *Hub) detachLocked(client *Client) {
	code, ok := h.byClient[client]
	if !ok {
		return
	}
	delete(h.byClient, client)
	set := h.rooms[code]
	delete(set, client)
	if len(set) == 0 {
		delete(h.rooms, code)
	}
	h.logger.Debug("client unregistered",
		zap.String("room_code", code),
		zap.String("player_id", client.playerID),
	)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.byClient {
		client.stop()
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.byClient = make(map[*Client]string)
}

// RoomClients reports how many clients are attached to a room.
func (h *Hub) RoomClients(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}
