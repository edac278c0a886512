package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ludoforge/ludo-server-go/internal/reconnect"
	"github.com/ludoforge/ludo-server-go/internal/room"
	"github.com/ludoforge/ludo-server-go/internal/transport/ws"
)

type wsFixture struct {
	t        *testing.T
	server   *httptest.Server
	registry *room.Registry
	cancel   context.CancelFunc
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	hub := ws.NewHub(logger)
	registry := room.NewRegistry(hub, logger)
	reconnects := reconnect.NewManager(time.Minute, registry, logger)
	gateway := ws.NewGateway(hub, registry, reconnects, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(gateway)
	t.Cleanup(func() {
		server.Close()
		cancel()
		registry.CloseAll()
	})
	return &wsFixture{t: t, server: server, registry: registry, cancel: cancel}
}

func (f *wsFixture) createRoom(min, max int) *room.Room {
	f.t.Helper()
	r, err := f.registry.Create(room.GameConfig{
		GameTypeID:          "classic",
		Variant:             room.VariantClassic,
		MinPlayers:          min,
		MaxPlayers:          max,
		TurnTime:            5 * time.Second,
		StartCountdown:      30 * time.Millisecond,
		MoveGrace:           10 * time.Millisecond,
		Lives:               3,
		BonusSix:            true,
		MaxConsecutiveSixes: 3,
	})
	require.NoError(f.t, err)
	return r
}

func (f *wsFixture) dial(playerID string) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?player_id=" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type     string          `json:"type"`
	RoomCode string          `json:"room_code"`
	Version  uint64          `json:"version"`
	Payload  json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// waitFor reads frames until one of the wanted type arrives.
func waitFor(t *testing.T, conn *websocket.Conn, frameType string) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f := readFrame(t, conn)
		if f.Type == frameType {
			return f
		}
	}
	t.Fatalf("never received %s frame", frameType)
	return frame{}
}

func TestJoinThroughGameStart(t *testing.T) {
	f := newFixture(t)
	r := f.createRoom(2, 2)

	alice := f.dial("alice")
	send(t, alice, map[string]any{"type": "JOIN_ROOM", "room_code": r.Code()})
	state := waitFor(t, alice, "STATE")
	assert.Equal(t, r.Code(), state.RoomCode)

	bob := f.dial("bob")
	send(t, bob, map[string]any{"type": "JOIN_ROOM", "room_code": r.Code()})
	waitFor(t, bob, "STATE")

	// Alice sees the room broadcast for bob's join.
	waitFor(t, alice, "ROOM_JOINED")

	send(t, alice, map[string]any{"type": "PLAYER_READY"})
	send(t, bob, map[string]any{"type": "PLAYER_READY"})

	started := waitFor(t, alice, "GAME_STARTED")
	assert.Greater(t, started.Version, uint64(0))
	waitFor(t, bob, "GAME_STARTED")

	var payload struct {
		Snapshot room.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(started.Payload, &payload))
	assert.Equal(t, room.StatusInProgress.String(), payload.Snapshot.Status)
	assert.Len(t, payload.Snapshot.Pieces, 8)
}

func TestDiceRollBroadcast(t *testing.T) {
	f := newFixture(t)
	r := f.createRoom(2, 2)

	alice := f.dial("alice")
	bob := f.dial("bob")
	send(t, alice, map[string]any{"type": "JOIN_ROOM", "room_code": r.Code()})
	waitFor(t, alice, "STATE")
	send(t, bob, map[string]any{"type": "JOIN_ROOM", "room_code": r.Code()})
	waitFor(t, bob, "STATE")

	send(t, alice, map[string]any{"type": "PLAYER_READY"})
	send(t, bob, map[string]any{"type": "PLAYER_READY"})
	waitFor(t, alice, "GAME_STARTED")
	waitFor(t, bob, "GAME_STARTED")

	// Seat 0 belongs to alice, the first to join.
	send(t, alice, map[string]any{"type": "ROLL_DICE"})
	rolled := waitFor(t, bob, "DICE_ROLLED")

	var payload struct {
		Seat  int `json:"seat"`
		Value int `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rolled.Payload, &payload))
	assert.Equal(t, 0, payload.Seat)
	assert.GreaterOrEqual(t, payload.Value, 1)
	assert.LessOrEqual(t, payload.Value, 6)
}

func TestRejectionsAreTyped(t *testing.T) {
	f := newFixture(t)
	r := f.createRoom(2, 2)

	conn := f.dial("alice")

	// Acting before joining any room.
	send(t, conn, map[string]any{"type": "ROLL_DICE"})
	rej := waitFor(t, conn, "REJECTED")
	var payload struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rej.Payload, &payload))
	assert.Equal(t, "NOT_IN_ROOM", payload.Code)

	// Rolling out of turn after joining.
	send(t, conn, map[string]any{"type": "JOIN_ROOM", "room_code": r.Code()})
	waitFor(t, conn, "STATE")
	send(t, conn, map[string]any{"type": "ROLL_DICE"})
	rej = waitFor(t, conn, "REJECTED")
	require.NoError(t, json.Unmarshal(rej.Payload, &payload))
	assert.Equal(t, "BAD_STATUS", payload.Code)
}

func TestGetStateResync(t *testing.T) {
	f := newFixture(t)
	r := f.createRoom(2, 4)

	conn := f.dial("alice")
	send(t, conn, map[string]any{"type": "JOIN_ROOM", "room_code": r.Code()})
	joined := waitFor(t, conn, "STATE")

	send(t, conn, map[string]any{"type": "GET_STATE"})
	state := waitFor(t, conn, "STATE")
	assert.GreaterOrEqual(t, state.Version, joined.Version)

	var snap room.Snapshot
	require.NoError(t, json.Unmarshal(state.Payload, &snap))
	assert.Equal(t, r.Code(), snap.Code)
	assert.Len(t, snap.Seats, 1)
}

func TestUnknownMessageType(t *testing.T) {
	f := newFixture(t)
	conn := f.dial("alice")

	send(t, conn, map[string]any{"type": "TELEPORT"})
	errFrame := waitFor(t, conn, "ERROR")
	assert.NotEmpty(t, errFrame.Payload)
}

func TestUpgradeRequiresIdentity(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
