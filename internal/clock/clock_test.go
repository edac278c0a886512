package clock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ludoforge/ludo-server-go/internal/clock"
)

func TestExpireFiresOnce(t *testing.T) {
	c := clock.New(0)

	var fired atomic.Int32
	gen := c.Start(20*time.Millisecond, nil, func(g uint64) {
		fired.Add(1)
		if g != 1 {
			t.Errorf("expiry generation = %d, want 1", g)
		}
	})
	if gen != 1 {
		t.Fatalf("first window generation = %d, want 1", gen)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expiry fired %d times, want 1", got)
	}
	if c.Active() {
		t.Error("clock still active after expiry")
	}
}

func TestStartCancelsPriorWindow(t *testing.T) {
	c := clock.New(0)

	var firstFired atomic.Bool
	var secondFired atomic.Bool
	c.Start(30*time.Millisecond, nil, func(uint64) { firstFired.Store(true) })
	gen := c.Start(30*time.Millisecond, nil, func(uint64) { secondFired.Store(true) })
	if gen != 2 {
		t.Fatalf("second window generation = %d, want 2", gen)
	}

	time.Sleep(150 * time.Millisecond)
	if firstFired.Load() {
		t.Error("cancelled first window still fired")
	}
	if !secondFired.Load() {
		t.Error("second window never fired")
	}
}

func TestCancelSuppressesExpiry(t *testing.T) {
	c := clock.New(0)

	var fired atomic.Bool
	c.Start(20*time.Millisecond, nil, func(uint64) { fired.Store(true) })
	c.Cancel()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled window fired")
	}
	if c.Active() {
		t.Error("clock active after cancel")
	}
}

func TestCancelExpireRace(t *testing.T) {
	// Hammer the cancel/expire race; the expiry must never fire after a
	// cancel won, and never more than once.
	for i := 0; i < 200; i++ {
		c := clock.New(0)
		var fired atomic.Int32
		c.Start(time.Millisecond, nil, func(uint64) { fired.Add(1) })
		time.Sleep(time.Millisecond)
		c.Cancel()
		time.Sleep(5 * time.Millisecond)
		if got := fired.Load(); got > 1 {
			t.Fatalf("iteration %d: expiry fired %d times", i, got)
		}
	}
}

func TestTicksReportRemaining(t *testing.T) {
	c := clock.New(10 * time.Millisecond)

	var ticks atomic.Int32
	done := make(chan struct{})
	c.Start(60*time.Millisecond, func(g uint64, remaining time.Duration) {
		ticks.Add(1)
		if remaining < 0 || remaining > 60*time.Millisecond {
			t.Errorf("remaining out of range: %v", remaining)
		}
	}, func(uint64) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("window never expired")
	}
	if ticks.Load() == 0 {
		t.Error("no ticks delivered")
	}
}

func TestRemainingTracksDeadline(t *testing.T) {
	c := clock.New(0)
	c.Start(time.Second, nil, func(uint64) {})

	remaining := c.Remaining()
	if remaining <= 0 || remaining > time.Second {
		t.Fatalf("remaining = %v, want (0, 1s]", remaining)
	}

	c.Cancel()
	if c.Remaining() != 0 {
		t.Error("remaining nonzero after cancel")
	}
}
