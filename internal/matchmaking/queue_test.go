package matchmaking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ludoforge/ludo-server-go/internal/matchmaking"
	"github.com/ludoforge/ludo-server-go/internal/room"
)

func gameConfig(min, max int) room.GameConfig {
	return room.GameConfig{
		GameTypeID:          "classic-4",
		Variant:             room.VariantClassic,
		MinPlayers:          min,
		MaxPlayers:          max,
		TurnTime:            30 * time.Second,
		StartCountdown:      10 * time.Second,
		MoveGrace:           time.Second,
		Lives:               3,
		BonusSix:            true,
		MaxConsecutiveSixes: 3,
	}
}

func newQueue(t *testing.T, min, max int) (*matchmaking.Queue, *room.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := room.NewRegistry(room.NopBroadcaster{}, logger)
	t.Cleanup(registry.CloseAll)

	cfg := matchmaking.Config{
		Interval: time.Hour,
		MinWait:  0,
		GameTypes: map[string]room.GameConfig{
			"classic-4": gameConfig(min, max),
		},
	}
	return matchmaking.NewQueue(cfg, registry, logger), registry
}

func player(id string) room.PlayerIdentity {
	return room.PlayerIdentity{ID: id, Name: "player-" + id}
}

func TestEnqueuePairsFullGroupImmediately(t *testing.T) {
	q, registry := newQueue(t, 2, 2)
	ctx := context.Background()

	ticket, pairing, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Nil(t, pairing)

	pos, ok := q.Position("p1")
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	_, pairing, err = q.Enqueue(ctx, player("p2"), "classic-4", "eu")
	require.NoError(t, err)
	require.NotNil(t, pairing, "second enqueue should complete the match")

	r, ok := registry.Get(pairing.RoomCode)
	require.True(t, ok)
	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Seats, 2)

	// First ticket learns of the pairing through its channel.
	select {
	case p := <-ticket.Paired:
		assert.Equal(t, pairing.RoomCode, p.RoomCode)
	case <-time.After(time.Second):
		t.Fatal("first ticket never paired")
	}

	assert.Equal(t, 0, q.Len())
}

func TestRegionsNeverMix(t *testing.T) {
	q, _ := newQueue(t, 2, 2)
	ctx := context.Background()

	_, pairing, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)
	assert.Nil(t, pairing)

	_, pairing, err = q.Enqueue(ctx, player("p2"), "classic-4", "us")
	require.NoError(t, err)
	assert.Nil(t, pairing, "different regions must not pair")
	assert.Equal(t, 2, q.Len())
}

func TestEnqueueReplacesPriorTicket(t *testing.T) {
	q, _ := newQueue(t, 3, 4)
	ctx := context.Background()

	first, _, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, player("p2"), "classic-4", "eu")
	require.NoError(t, err)

	second, _, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, q.Len())

	// Re-requesting the same pairing keeps the place at the front and the
	// original wait clock.
	pos, ok := q.Position("p1")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.Equal(t, first.EnqueuedAt, second.EnqueuedAt)

	// Switching regions is a new request and goes to the back of its group.
	_, _, err = q.Enqueue(ctx, player("p2"), "classic-4", "us")
	require.NoError(t, err)
	pos, ok = q.Position("p2")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, q.Len())
}

func TestTickPairsViableGroupAtMinPlayers(t *testing.T) {
	q, registry := newQueue(t, 2, 4)
	ctx := context.Background()

	t1, pairing, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)
	assert.Nil(t, pairing)
	t2, pairing, err := q.Enqueue(ctx, player("p2"), "classic-4", "eu")
	require.NoError(t, err)
	assert.Nil(t, pairing, "group below maxPlayers waits for the scheduled pass")

	q.Tick(ctx)

	for _, ticket := range []*matchmaking.Ticket{t1, t2} {
		select {
		case p := <-ticket.Paired:
			_, ok := registry.Get(p.RoomCode)
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("ticket not paired by tick")
		}
	}
	assert.Equal(t, 0, q.Len())
}

func TestTickSkipsStarvedGroup(t *testing.T) {
	q, _ := newQueue(t, 3, 4)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, player("p2"), "classic-4", "eu")
	require.NoError(t, err)

	q.Tick(ctx)
	assert.Equal(t, 2, q.Len(), "group below minPlayers must keep waiting")
}

func TestDequeueCancelsTicket(t *testing.T) {
	q, _ := newQueue(t, 2, 2)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, player("p1"), "classic-4", "eu")
	require.NoError(t, err)

	assert.True(t, q.Dequeue("p1"))
	assert.False(t, q.Dequeue("p1"))
	_, ok := q.Position("p1")
	assert.False(t, ok)

	_, pairing, err := q.Enqueue(ctx, player("p2"), "classic-4", "eu")
	require.NoError(t, err)
	assert.Nil(t, pairing, "cancelled ticket must not pair")
}

func TestUnknownGameTypeRejected(t *testing.T) {
	q, _ := newQueue(t, 2, 2)

	_, _, err := q.Enqueue(context.Background(), player("p1"), "no-such-type", "eu")
	require.Error(t, err)
}
