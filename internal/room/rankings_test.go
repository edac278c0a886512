package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seatFor(index, finishedRank, lives, score, kills int, scoreVersion uint64, forfeited bool) *Seat {
	return &Seat{
		Index:        index,
		Player:       PlayerIdentity{ID: string(rune('a' + index))},
		FinishedRank: finishedRank,
		Lives:        lives,
		Score:        score,
		Kills:        kills,
		Forfeited:    forfeited,
		scoreVersion: scoreVersion,
	}
}

func rankedSeats(st *State) []int {
	order := make([]int, 0, len(st.Seats))
	for _, e := range st.rank() {
		order = append(order, e.Seat)
	}
	return order
}

func TestRankFinishOrderDominates(t *testing.T) {
	st := &State{Seats: []*Seat{
		seatFor(0, 0, 3, 90, 5, 1, false), // huge score, never finished
		seatFor(1, 2, 0, 10, 0, 2, false),
		seatFor(2, 1, 0, 5, 0, 3, false),
		seatFor(3, 0, 0, 50, 2, 4, false), // eliminated
	}}

	assert.Equal(t, []int{2, 1, 0, 3}, rankedSeats(st))
}

func TestRankQuickScoreThenKillsThenEarliest(t *testing.T) {
	st := &State{Seats: []*Seat{
		seatFor(0, 0, 3, 40, 1, 9, false),
		seatFor(1, 0, 3, 40, 2, 8, false), // same score, more kills
		seatFor(2, 0, 3, 40, 2, 4, false), // same score and kills, reached it earlier
		seatFor(3, 0, 3, 55, 0, 2, false),
	}}

	assert.Equal(t, []int{3, 2, 1, 0}, rankedSeats(st))
}

func TestRankForfeitedSortsBelow(t *testing.T) {
	st := &State{Seats: []*Seat{
		seatFor(0, 0, 3, 30, 0, 1, true),
		seatFor(1, 0, 3, 10, 0, 2, false),
	}}

	order := rankedSeats(st)
	assert.Equal(t, []int{1, 0}, order)

	entries := st.rank()
	assert.True(t, entries[1].Forfeited)
	assert.Equal(t, 2, entries[1].Rank)
}
