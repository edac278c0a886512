package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// recordedEvent pairs a broadcast event with the state version it carried.
type recordedEvent struct {
	version uint64
	event   Event
}

// recordingBroadcaster captures every room broadcast for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) Broadcast(_ string, version uint64, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{version: version, event: event})
}

func (b *recordingBroadcaster) all() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedEvent(nil), b.events...)
}

func (b *recordingBroadcaster) ofType(t EventType) []Event {
	var found []Event
	for _, rec := range b.all() {
		if rec.event.Type() == t {
			found = append(found, rec.event)
		}
	}
	return found
}

// waitFor blocks until an event of type t beyond the first skip occurrences
// arrives, or the timeout passes.
func (b *recordingBroadcaster) waitFor(t EventType, skip int, timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events := b.ofType(t)
		if len(events) > skip {
			return events[skip], true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}

// diceScript feeds predetermined rolls to a room, falling back to a fixed
// value when the script runs out.
type diceScript struct {
	mu       sync.Mutex
	values   []int
	fallback int
}

func (d *diceScript) push(values ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = append(d.values, values...)
}

func (d *diceScript) roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.values) > 0 {
		v := d.values[0]
		d.values = d.values[1:]
		return v
	}
	if d.fallback > 0 {
		return d.fallback
	}
	return 1
}

// testConfig returns a game config with clocks short enough for tests.
func testConfig() GameConfig {
	return GameConfig{
		GameTypeID:          "classic-test",
		Variant:             VariantClassic,
		MinPlayers:          2,
		MaxPlayers:          4,
		TurnTime:            200 * time.Millisecond,
		StartCountdown:      30 * time.Millisecond,
		MoveGrace:           20 * time.Millisecond,
		Lives:               3,
		BonusSix:            true,
		MaxConsecutiveSixes: 3,
	}
}

// roomHarness wires a room with scripted dice and a recording broadcaster.
type roomHarness struct {
	t       *testing.T
	room    *Room
	bc      *recordingBroadcaster
	dice    *diceScript
	players []PlayerIdentity
}

func newRoomHarness(t *testing.T, cfg GameConfig, numPlayers int, opts ...Option) *roomHarness {
	t.Helper()

	bc := &recordingBroadcaster{}
	dice := &diceScript{}
	opts = append([]Option{WithDice(dice.roll)}, opts...)
	r := New("TEST42", cfg, bc, zaptest.NewLogger(t), opts...)
	t.Cleanup(r.Close)

	players := make([]PlayerIdentity, 0, numPlayers)
	for i := 0; i < numPlayers; i++ {
		players = append(players, PlayerIdentity{
			ID:   fmt.Sprintf("player-%d", i),
			Name: fmt.Sprintf("Player %d", i),
		})
	}

	return &roomHarness{t: t, room: r, bc: bc, dice: dice, players: players}
}

func (h *roomHarness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *roomHarness) joinAll() {
	h.t.Helper()
	for _, p := range h.players {
		if _, err := h.room.Join(h.ctx(), p, ""); err != nil {
			h.t.Fatalf("join %s: %v", p.ID, err)
		}
	}
}

func (h *roomHarness) readyAll() {
	h.t.Helper()
	for _, p := range h.players {
		if err := h.room.SetReady(h.ctx(), p.ID); err != nil {
			h.t.Fatalf("ready %s: %v", p.ID, err)
		}
	}
}

// startGame joins, readies and waits for the first turn.
func (h *roomHarness) startGame() {
	h.t.Helper()
	h.joinAll()
	h.readyAll()
	h.waitStatus(StatusInProgress)
	if _, ok := h.bc.waitFor(EventTurnChanged, 0, time.Second); !ok {
		h.t.Fatal("first turn never assigned")
	}
}

func (h *roomHarness) snapshot() Snapshot {
	h.t.Helper()
	snap, err := h.room.Snapshot(h.ctx())
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func (h *roomHarness) waitStatus(want Status) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := h.snapshot()
		if snap.Status == want.String() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("room never reached %s (last: %s)", want, h.snapshot().Status)
	return Snapshot{}
}

// waitTurn blocks until the current turn belongs to seat.
func (h *roomHarness) waitTurn(seat int) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := h.snapshot()
		if snap.Status == StatusInProgress.String() && snap.CurrentTurn == seat && snap.DieValue == DieNone {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("seat %d never got the turn", seat)
}

func (h *roomHarness) rejectCode(err error) RejectCode {
	h.t.Helper()
	rej, ok := AsRejection(err)
	if !ok {
		h.t.Fatalf("expected a rejection, got %v", err)
	}
	return rej.Code
}
