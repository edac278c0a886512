package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/reconnect"
	"github.com/ludoforge/ludo-server-go/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is the inbound frame. Type selects the operation; the
// remaining fields are read per type.
type clientMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code,omitempty"`
	Password string `json:"password,omitempty"`
	PieceID  *int   `json:"piece_id,omitempty"`
}

// Inbound message types.
const (
	msgJoinRoom    = "JOIN_ROOM"
	msgReconnect   = "RECONNECT"
	msgPlayerReady = "PLAYER_READY"
	msgRollDice    = "ROLL_DICE"
	msgMovePiece   = "MOVE_PIECE"
	msgLeaveRoom   = "LEAVE_ROOM"
	msgGetState    = "GET_STATE"
	msgPause       = "PAUSE_GAME"
	msgResume      = "RESUME_GAME"
)

// Personal reply types, sent to one connection rather than the room.
const (
	replyState    = "STATE"
	replyRejected = "REJECTED"
	replyError    = "ERROR"
)

// Client is one player's connection. Its state fields are owned by the
// readPump goroutine.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte

	stopOnce sync.Once
	done     chan struct{}

	playerID   string
	playerName string
	roomCode   string
	seated     bool
}

// stop tells the writePump to shut the connection down. Safe to call from
// any goroutine, any number of times.
func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Gateway upgrades HTTP requests into game connections and routes inbound
// frames to rooms.
type Gateway struct {
	hub        *Hub
	registry   *room.Registry
	reconnects *reconnect.Manager
	logger     *zap.Logger
}

// NewGateway wires the hub to the room registry.
func NewGateway(hub *Hub, registry *room.Registry, reconnects *reconnect.Manager, logger *zap.Logger) *Gateway {
	return &Gateway{
		hub:        hub,
		registry:   registry,
		reconnects: reconnects,
		logger:     logger,
	}
}

// ServeHTTP upgrades the request. Identity arrives pre-authenticated in the
// player_id and player_name query parameters.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id required", http.StatusBadRequest)
		return
	}
	playerName := r.URL.Query().Get("player_name")
	if playerName == "" {
		playerName = playerID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		gateway:    g,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		playerID:   playerID,
		playerName: playerName,
	}

	g.logger.Info("websocket connected", zap.String("player_id", playerID))
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.hub.unregister <- c
		c.stop()
		c.conn.Close()
		if c.seated {
			c.gateway.reconnects.MarkDisconnected(c.roomCode, c.playerID)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.logger.Warn("websocket read error",
					zap.String("player_id", c.playerID),
					zap.Error(err),
				)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(Envelope{Type: replyError, Payload: map[string]string{"error": "malformed message"}})
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a personal frame to this connection only.
func (c *Client) reply(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.gateway.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *Client) dispatch(msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Type {
	case msgJoinRoom:
		c.handleJoin(ctx, msg)
	case msgReconnect:
		c.handleReconnect(ctx, msg)
	case msgPlayerReady:
		c.roomOp(ctx, func(r *room.Room) error { return r.SetReady(ctx, c.playerID) })
	case msgRollDice:
		c.roomOp(ctx, func(r *room.Room) error { return r.RollDice(ctx, c.playerID) })
	case msgMovePiece:
		if msg.PieceID == nil {
			c.reply(Envelope{Type: replyError, Payload: map[string]string{"error": "piece_id required"}})
			return
		}
		c.roomOp(ctx, func(r *room.Room) error { return r.MovePiece(ctx, c.playerID, *msg.PieceID) })
	case msgPause:
		c.roomOp(ctx, func(r *room.Room) error { return r.Pause(ctx, c.playerID) })
	case msgResume:
		c.roomOp(ctx, func(r *room.Room) error { return r.Resume(ctx, c.playerID) })
	case msgLeaveRoom:
		c.handleLeave(ctx)
	case msgGetState:
		c.handleGetState(ctx)
	default:
		c.reply(Envelope{Type: replyError, Payload: map[string]string{
			"error": fmt.Sprintf("unknown message type %q", msg.Type),
		}})
	}
}

func (c *Client) handleJoin(ctx context.Context, msg clientMessage) {
	r, ok := c.gateway.registry.Get(msg.RoomCode)
	if !ok {
		c.reply(Envelope{Type: replyError, Payload: map[string]string{"error": "room not found"}})
		return
	}
	res, err := r.Join(ctx, room.PlayerIdentity{ID: c.playerID, Name: c.playerName}, msg.Password)
	if err != nil {
		c.rejected(msg.RoomCode, err)
		return
	}

	c.roomCode = msg.RoomCode
	c.seated = true
	c.gateway.hub.register <- registration{client: c, roomCode: msg.RoomCode}
	c.reply(Envelope{Type: replyState, RoomCode: msg.RoomCode, Version: res.Snapshot.Version, Payload: res.Snapshot})
}

func (c *Client) handleReconnect(ctx context.Context, msg clientMessage) {
	snap, err := c.gateway.reconnects.Reconnect(ctx, msg.RoomCode, c.playerID)
	if err != nil {
		c.rejected(msg.RoomCode, err)
		return
	}

	c.roomCode = msg.RoomCode
	c.seated = true
	c.gateway.hub.register <- registration{client: c, roomCode: msg.RoomCode}
	c.reply(Envelope{Type: replyState, RoomCode: msg.RoomCode, Version: snap.Version, Payload: snap})
}

func (c *Client) handleLeave(ctx context.Context) {
	if !c.seated {
		c.rejected("", &room.Rejection{Code: room.RejectNotInRoom, Reason: "not in a room"})
		return
	}
	r, ok := c.gateway.registry.Get(c.roomCode)
	if ok {
		if err := r.Leave(ctx, c.playerID); err != nil {
			c.rejected(c.roomCode, err)
			return
		}
	}
	c.gateway.hub.unregister <- c
	c.roomCode = ""
	c.seated = false
}

func (c *Client) handleGetState(ctx context.Context) {
	if !c.seated {
		c.rejected("", &room.Rejection{Code: room.RejectNotInRoom, Reason: "not in a room"})
		return
	}
	r, ok := c.gateway.registry.Get(c.roomCode)
	if !ok {
		c.reply(Envelope{Type: replyError, Payload: map[string]string{"error": "room not found"}})
		return
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		c.rejected(c.roomCode, err)
		return
	}
	c.reply(Envelope{Type: replyState, RoomCode: c.roomCode, Version: snap.Version, Payload: snap})
}

// roomOp runs an operation against the client's current room, reporting
// rejections back on this connection.
func (c *Client) roomOp(ctx context.Context, op func(r *room.Room) error) {
	if !c.seated {
		c.rejected("", &room.Rejection{Code: room.RejectNotInRoom, Reason: "not in a room"})
		return
	}
	r, ok := c.gateway.registry.Get(c.roomCode)
	if !ok {
		c.reply(Envelope{Type: replyError, Payload: map[string]string{"error": "room not found"}})
		return
	}
	if err := op(r); err != nil {
		c.rejected(c.roomCode, err)
	}
}

// rejected maps an error to a REJECTED frame, preserving the typed code
// when one is present.
func (c *Client) rejected(roomCode string, err error) {
	if rej, ok := room.AsRejection(err); ok {
		c.reply(Envelope{Type: replyRejected, RoomCode: roomCode, Payload: rej})
		return
	}
	c.reply(Envelope{Type: replyError, RoomCode: roomCode, Payload: map[string]string{"error": err.Error()}})
}
