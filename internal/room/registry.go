package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// codeAlphabet omits ambiguous characters so room codes survive being read
// aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Registry maps room codes to live room actors. It is process-wide and
// mutex-guarded; room state itself is never touched here.
type Registry struct {
	logger      *zap.Logger
	broadcaster Broadcaster
	roomOpts    []Option

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates a registry. roomOpts are applied to every room it
// creates.
func NewRegistry(broadcaster Broadcaster, logger *zap.Logger, roomOpts ...Option) *Registry {
	return &Registry{
		logger:      logger,
		broadcaster: broadcaster,
		roomOpts:    roomOpts,
		rooms:       make(map[string]*Room),
	}
}

// Create spins up a new room with a fresh code.
func (g *Registry) Create(cfg GameConfig) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	code, err := g.newCodeLocked()
	if err != nil {
		return nil, err
	}
	r := New(code, cfg, g.broadcaster, g.logger, g.roomOpts...)
	g.rooms[code] = r

	g.logger.Info("room created",
		zap.String("room_code", code),
		zap.String("game_type", cfg.GameTypeID),
		zap.String("variant", string(cfg.Variant)),
	)
	return r, nil
}

func (g *Registry) newCodeLocked() (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		for i, b := range buf {
			buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		code := string(buf)
		if _, taken := g.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("exhausted room code attempts")
}

// Get returns the room for code.
func (g *Registry) Get(code string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[code]
	return r, ok
}

// Remove closes and forgets the room for code.
func (g *Registry) Remove(code string) {
	g.mu.Lock()
	r, ok := g.rooms[code]
	delete(g.rooms, code)
	g.mu.Unlock()

	if ok {
		r.Close()
		g.logger.Info("room removed", zap.String("room_code", code))
	}
}

// CloseAll closes every tracked room and empties the registry.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	rooms := g.rooms
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

// Count returns the number of tracked rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Active lists snapshots of rooms still accepting attention: anything not
// yet terminal.
func (g *Registry) Active(ctx context.Context) []Snapshot {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	active := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			continue
		}
		if snap.Status == StatusCompleted.String() || snap.Status == StatusAbandoned.String() {
			continue
		}
		active = append(active, snap)
	}
	return active
}

// Janitor periodically garbage-collects terminal rooms and empty waiting
// rooms older than retention. Run it on its own goroutine.
func (g *Registry) Janitor(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(ctx, retention)
		}
	}
}

func (g *Registry) sweep(ctx context.Context, retention time.Duration) {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	now := time.Now()
	for _, r := range rooms {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			// Loop already stopped; just forget it.
			g.Remove(r.Code())
			continue
		}
		terminal := snap.Status == StatusCompleted.String() || snap.Status == StatusAbandoned.String()
		expired := terminal && now.Sub(snap.CompletedAt) > retention
		emptyAndStale := snap.Status == StatusWaiting.String() &&
			len(snap.Seats) == 0 && now.Sub(snap.CreatedAt) > retention
		if expired || emptyAndStale {
			g.Remove(r.Code())
		}
	}
}
