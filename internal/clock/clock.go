// Package clock provides the cancellable countdown windows backing turn
// timers, start countdowns and quick-game match clocks. Each started window
// carries a generation number; consumers discard callbacks from stale
// generations, which makes timer firings safe to process alongside player
// commands in a room's single command queue.
package clock

import (
	"sync"
	"time"
)

// TickFunc receives periodic remaining-time notifications for a window.
type TickFunc func(gen uint64, remaining time.Duration)

// ExpireFunc is called exactly once when a window's deadline passes without
// the window being cancelled.
type ExpireFunc func(gen uint64)

// Clock owns at most one active countdown window at a time. Starting a new
// window cancels the previous one; cancellation and expiry are mutually
// exclusive per window.
type Clock struct {
	tickEvery time.Duration

	mu     sync.Mutex
	gen    uint64
	window *window
}

type window struct {
	gen      uint64
	deadline time.Time
	done     chan struct{}
	resolved bool // set under the clock mutex by whichever of cancel/expire wins
}

// New creates a clock. tickEvery controls the period of tick callbacks;
// zero disables ticking.
func New(tickEvery time.Duration) *Clock {
	return &Clock{tickEvery: tickEvery}
}

// Start begins a new countdown window of duration d and returns its
// generation. A window already running is cancelled first, so exactly one
// deadline is ever pending. onTick may be nil.
func (c *Clock) Start(d time.Duration, onTick TickFunc, onExpire ExpireFunc) uint64 {
	c.mu.Lock()
	c.cancelLocked()
	c.gen++
	w := &window{
		gen:      c.gen,
		deadline: time.Now().Add(d),
		done:     make(chan struct{}),
	}
	c.window = w
	c.mu.Unlock()

	go c.run(w, onTick, onExpire)
	return w.gen
}

// Cancel stops the active window, if any. A window that already expired is
// not affected; a cancelled window will never fire its expiry.
func (c *Clock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Clock) cancelLocked() {
	if c.window == nil {
		return
	}
	if !c.window.resolved {
		c.window.resolved = true
		close(c.window.done)
	}
	c.window = nil
}

// Remaining returns the time left on the active window, zero if none.
func (c *Clock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window == nil {
		return 0
	}
	remaining := time.Until(c.window.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Active reports whether a window is currently pending.
func (c *Clock) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window != nil
}

// Generation returns the generation of the most recently started window.
func (c *Clock) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Clock) run(w *window, onTick TickFunc, onExpire ExpireFunc) {
	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()

	var tickC <-chan time.Time
	if c.tickEvery > 0 && onTick != nil {
		ticker := time.NewTicker(c.tickEvery)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-w.done:
			return

		case <-tickC:
			remaining := time.Until(w.deadline)
			if remaining < 0 {
				remaining = 0
			}
			onTick(w.gen, remaining)

		case <-timer.C:
			c.mu.Lock()
			if w.resolved {
				c.mu.Unlock()
				return
			}
			w.resolved = true
			if c.window == w {
				c.window = nil
			}
			c.mu.Unlock()
			onExpire(w.gen)
			return
		}
	}
}
