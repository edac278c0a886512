// Package matchmaking holds waiting tickets and pairs them into rooms.
package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/room"
)

// Ticket is one player's queued request to be paired into a room of a given
// game type and region. It is destroyed on pairing or explicit dequeue.
type Ticket struct {
	ID         string
	Player     room.PlayerIdentity
	GameTypeID string
	Region     string
	EnqueuedAt time.Time

	// Paired receives the pairing exactly once when a room is assigned.
	Paired chan Pairing
}

// Pairing is the outcome handed to every ticket selected for a new room.
type Pairing struct {
	RoomCode string
	Seat     int
}

type groupKey struct {
	gameTypeID string
	region     string
}

// RoomCreator is the slice of the registry the queue depends on.
type RoomCreator interface {
	Create(cfg room.GameConfig) (*room.Room, error)
}

// Config tunes the pairing scheduler.
type Config struct {
	// Interval between scheduled pairing passes.
	Interval time.Duration
	// MinWait is how long a group must have waited before it is paired at
	// minPlayers instead of waiting to fill up to maxPlayers.
	MinWait time.Duration
	// GameTypes maps game type ids to the room configuration they produce.
	GameTypes map[string]room.GameConfig
}

// Queue groups tickets by (gameTypeID, region) and turns compatible groups
// into rooms.
type Queue struct {
	cfg     Config
	creator RoomCreator
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	groups   map[groupKey][]*Ticket
	byPlayer map[string]*Ticket
}

// NewQueue creates a matchmaking queue backed by creator.
func NewQueue(cfg Config, creator RoomCreator, logger *zap.Logger) *Queue {
	return &Queue{
		cfg:      cfg,
		creator:  creator,
		logger:   logger,
		now:      time.Now,
		groups:   make(map[groupKey][]*Ticket),
		byPlayer: make(map[string]*Ticket),
	}
}

// Enqueue queues a ticket for player. Enqueue is idempotent per player: a
// prior ticket is replaced, never duplicated, and a replacement for the
// same game type and region keeps the original place in line. When the
// enqueue itself fills a room, the pairing is returned immediately and the
// ticket is consumed.
func (q *Queue) Enqueue(ctx context.Context, player room.PlayerIdentity, gameTypeID, region string) (*Ticket, *Pairing, error) {
	cfg, ok := q.cfg.GameTypes[gameTypeID]
	if !ok {
		return nil, nil, fmt.Errorf("unknown game type %q", gameTypeID)
	}

	key := groupKey{gameTypeID: gameTypeID, region: region}
	ticket := &Ticket{
		ID:         uuid.New().String(),
		Player:     player,
		GameTypeID: gameTypeID,
		Region:     region,
		EnqueuedAt: q.now(),
		Paired:     make(chan Pairing, 1),
	}

	q.mu.Lock()
	if prior, held := q.byPlayer[player.ID]; held && prior.GameTypeID == gameTypeID && prior.Region == region {
		// Re-requesting the same pairing keeps the player's place in line.
		ticket.EnqueuedAt = prior.EnqueuedAt
		group := q.groups[key]
		for i, t := range group {
			if t == prior {
				group[i] = ticket
				break
			}
		}
	} else {
		q.removeLocked(player.ID)
		q.groups[key] = append(q.groups[key], ticket)
	}
	q.byPlayer[player.ID] = ticket

	// A full group pairs immediately; a merely-viable one waits for the
	// scheduled pass to give stragglers a chance to fill it.
	var selected []*Ticket
	if len(q.groups[key]) >= cfg.MaxPlayers {
		selected = q.takeLocked(key, cfg.MaxPlayers)
	}
	q.mu.Unlock()

	q.logger.Info("ticket enqueued",
		zap.String("ticket_id", ticket.ID),
		zap.String("player_id", player.ID),
		zap.String("game_type", gameTypeID),
		zap.String("region", region),
	)

	if selected == nil {
		return ticket, nil, nil
	}

	pairings := q.openRoom(ctx, cfg, selected)
	if pairings == nil {
		return ticket, nil, nil
	}
	if p, ok := pairings[player.ID]; ok {
		return nil, &p, nil
	}
	return ticket, nil, nil
}

// Dequeue cancels the player's ticket, reporting whether one existed.
func (q *Queue) Dequeue(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(playerID)
}

// Position reports the ticket's 1-based rank within its group.
func (q *Queue) Position(playerID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ticket, ok := q.byPlayer[playerID]
	if !ok {
		return 0, false
	}
	key := groupKey{gameTypeID: ticket.GameTypeID, region: ticket.Region}
	for i, t := range q.groups[key] {
		if t.Player.ID == playerID {
			return i + 1, true
		}
	}
	return 0, false
}

// Len reports the number of queued tickets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byPlayer)
}

// Run executes scheduled pairing passes until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Tick runs one pairing pass over every group. Groups at maxPlayers pair
// immediately; groups at minPlayers pair once their oldest ticket has
// waited past MinWait. Starved groups below minPlayers keep waiting.
func (q *Queue) Tick(ctx context.Context) {
	type batch struct {
		cfg     room.GameConfig
		tickets []*Ticket
	}

	q.mu.Lock()
	var batches []batch
	for key, tickets := range q.groups {
		cfg, ok := q.cfg.GameTypes[key.gameTypeID]
		if !ok || len(tickets) < cfg.MinPlayers {
			continue
		}
		ripe := len(tickets) >= cfg.MaxPlayers ||
			q.now().Sub(tickets[0].EnqueuedAt) >= q.cfg.MinWait
		if !ripe {
			continue
		}
		take := len(tickets)
		if take > cfg.MaxPlayers {
			take = cfg.MaxPlayers
		}
		batches = append(batches, batch{cfg: cfg, tickets: q.takeLocked(key, take)})
	}
	q.mu.Unlock()

	for _, b := range batches {
		q.openRoom(ctx, b.cfg, b.tickets)
	}
}

// removeLocked drops the player's ticket from both indexes.
func (q *Queue) removeLocked(playerID string) bool {
	ticket, ok := q.byPlayer[playerID]
	if !ok {
		return false
	}
	delete(q.byPlayer, playerID)

	key := groupKey{gameTypeID: ticket.GameTypeID, region: ticket.Region}
	group := q.groups[key]
	for i, t := range group {
		if t.Player.ID == playerID {
			q.groups[key] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(q.groups[key]) == 0 {
		delete(q.groups, key)
	}
	return true
}

// takeLocked removes and returns the n oldest tickets of the group.
func (q *Queue) takeLocked(key groupKey, n int) []*Ticket {
	group := q.groups[key]
	if n > len(group) {
		n = len(group)
	}
	taken := group[:n]
	rest := group[n:]
	if len(rest) == 0 {
		delete(q.groups, key)
	} else {
		q.groups[key] = rest
	}
	for _, t := range taken {
		delete(q.byPlayer, t.Player.ID)
	}
	return taken
}

// openRoom creates a room for the selected tickets, seats every player and
// delivers their pairings. Returns pairings by player id, or nil when room
// creation failed (tickets are then requeued).
func (q *Queue) openRoom(ctx context.Context, cfg room.GameConfig, tickets []*Ticket) map[string]Pairing {
	r, err := q.creator.Create(cfg)
	if err != nil {
		q.logger.Error("matchmaking room creation failed", zap.Error(err))
		q.requeue(tickets)
		return nil
	}

	pairings := make(map[string]Pairing, len(tickets))
	for _, t := range tickets {
		reply, err := r.Join(ctx, t.Player, cfg.Password)
		if err != nil {
			q.logger.Warn("paired player failed to seat",
				zap.String("player_id", t.Player.ID),
				zap.String("room_code", r.Code()),
				zap.Error(err),
			)
			continue
		}
		p := Pairing{RoomCode: r.Code(), Seat: reply.Seat}
		pairings[t.Player.ID] = p
		t.Paired <- p
	}

	q.logger.Info("tickets paired into room",
		zap.String("room_code", r.Code()),
		zap.Int("players", len(pairings)),
	)
	return pairings
}

// requeue puts tickets back at the front of their group after a failed
// room creation.
func (q *Queue) requeue(tickets []*Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(tickets) - 1; i >= 0; i-- {
		t := tickets[i]
		if _, exists := q.byPlayer[t.Player.ID]; exists {
			continue
		}
		key := groupKey{gameTypeID: t.GameTypeID, region: t.Region}
		q.groups[key] = append([]*Ticket{t}, q.groups[key]...)
		q.byPlayer[t.Player.ID] = t
	}
}
