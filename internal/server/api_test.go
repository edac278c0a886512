package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ludoforge/ludo-server-go/internal/matchmaking"
	"github.com/ludoforge/ludo-server-go/internal/room"
	"github.com/ludoforge/ludo-server-go/internal/server"
)

func testGameTypes() map[string]room.GameConfig {
	return map[string]room.GameConfig{
		"classic-4": {
			GameTypeID:          "classic-4",
			Variant:             room.VariantClassic,
			MinPlayers:          2,
			MaxPlayers:          4,
			TurnTime:            30 * time.Second,
			StartCountdown:      10 * time.Second,
			MoveGrace:           time.Second,
			Lives:               3,
			BonusSix:            true,
			MaxConsecutiveSixes: 3,
		},
		"quick-2": {
			GameTypeID:          "quick-2",
			Variant:             room.VariantQuick,
			MinPlayers:          2,
			MaxPlayers:          2,
			TurnTime:            15 * time.Second,
			StartCountdown:      5 * time.Second,
			MoveGrace:           time.Second,
			Lives:               2,
			BonusSix:            true,
			MaxConsecutiveSixes: 3,
			QuickDuration:       5 * time.Minute,
		},
	}
}

func newTestServer(t *testing.T) (*server.Server, *room.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := room.NewRegistry(room.NopBroadcaster{}, logger)
	t.Cleanup(registry.CloseAll)

	queue := matchmaking.NewQueue(matchmaking.Config{
		Interval:  time.Hour,
		GameTypes: testGameTypes(),
	}, registry, logger)

	return server.NewServer(registry, queue, testGameTypes(), nil, logger), registry
}

func doJSON(t *testing.T, handler http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func playerHeaders(id string) map[string]string {
	return map[string]string{"X-Player-ID": id, "X-Player-Name": "player-" + id}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndJoinRoom(t *testing.T) {
	s, registry := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/rooms", nil, map[string]string{"game_type_id": "classic-4"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		RoomCode   string `json:"room_code"`
		MaxPlayers int    `json:"max_players"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.RoomCode, 6)
	assert.Equal(t, 4, created.MaxPlayers)
	_, ok := registry.Get(created.RoomCode)
	assert.True(t, ok)

	rec = doJSON(t, s, "POST", "/api/rooms/"+created.RoomCode+"/join", playerHeaders("p1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var joined struct {
		Seat     int           `json:"seat"`
		Snapshot room.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	assert.Equal(t, 0, joined.Seat)
	assert.Equal(t, room.StatusWaiting.String(), joined.Snapshot.Status)
}

func TestJoinRequiresIdentity(t *testing.T) {
	s, registry := newTestServer(t)
	r, err := registry.Create(testGameTypes()["classic-4"])
	require.NoError(t, err)

	rec := doJSON(t, s, "POST", "/api/rooms/"+r.Code()+"/join", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJoinWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/rooms", nil, map[string]string{
		"game_type_id": "classic-4",
		"password":     "sekrit",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		RoomCode string `json:"room_code"`
		Private  bool   `json:"private"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Private)

	rec = doJSON(t, s, "POST", "/api/rooms/"+created.RoomCode+"/join", playerHeaders("p1"),
		map[string]string{"password": "nope"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var rej struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rej))
	assert.Equal(t, "WRONG_PASSWORD", rej.Code)
}

func TestJoinFullRoomConflict(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/rooms", nil, map[string]string{"game_type_id": "quick-2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		RoomCode string `json:"room_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	for _, id := range []string{"p1", "p2"} {
		rec = doJSON(t, s, "POST", "/api/rooms/"+created.RoomCode+"/join", playerHeaders(id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/rooms/"+created.RoomCode+"/join", playerHeaders("p3"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var rej struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rej))
	assert.Equal(t, "ROOM_FULL", rej.Code)
}

func TestUnknownGameType(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/rooms", nil, map[string]string{"game_type_id": "chess"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveRooms(t *testing.T) {
	s, registry := newTestServer(t)
	_, err := registry.Create(testGameTypes()["classic-4"])
	require.NoError(t, err)

	rec := doJSON(t, s, "GET", "/api/rooms/active", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rooms []room.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	assert.Len(t, rooms, 1)
}

func TestGetRoomNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/api/rooms/ZZZZZZ", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchmakingFlow(t *testing.T) {
	s, registry := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/matchmaking", playerHeaders("p1"), map[string]string{
		"game_type_id": "quick-2",
		"region":       "eu",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var queued struct {
		TicketID string `json:"ticket_id"`
		Position int    `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	assert.NotEmpty(t, queued.TicketID)
	assert.Equal(t, 1, queued.Position)

	// Second player fills the two-seat game type.
	rec = doJSON(t, s, "POST", "/api/matchmaking", playerHeaders("p2"), map[string]string{
		"game_type_id": "quick-2",
		"region":       "eu",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var paired struct {
		RoomCode string `json:"room_code"`
		Seat     int    `json:"seat"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paired))
	_, ok := registry.Get(paired.RoomCode)
	assert.True(t, ok)
}

func TestMatchmakingPosition(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/matchmaking/position", playerHeaders("p1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, id := range []string{"p1", "p2"} {
		rec = doJSON(t, s, "POST", "/api/matchmaking", playerHeaders(id), map[string]string{
			"game_type_id": "classic-4",
			"region":       "eu",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	// A waiting player can poll their rank without touching the ticket.
	rec = doJSON(t, s, "GET", "/api/matchmaking/position", playerHeaders("p2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Position int `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Position)

	rec = doJSON(t, s, "GET", "/api/matchmaking/position", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMatchmakingLeave(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/matchmaking/leave", playerHeaders("p1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doJSON(t, s, "POST", "/api/matchmaking", playerHeaders("p1"), map[string]string{
		"game_type_id": "classic-4",
		"region":       "eu",
	})
	rec = doJSON(t, s, "POST", "/api/matchmaking/leave", playerHeaders("p1"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
