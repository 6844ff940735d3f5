package engine

import (
	"github.com/hailam/connectplay/internal/board"
)

// columnOrder lists columns from the center outwards. Central columns take
// part in more alignments, so exploring them first produces cutoffs sooner.
var columnOrder = func() [board.Width]int {
	var order [board.Width]int
	for i := range order {
		order[i] = board.Width/2 + (1-2*(i%2))*(i+1)/2
	}
	return order
}()

// ColumnOrder returns the 0-based columns from the center outwards.
func ColumnOrder() [board.Width]int {
	return columnOrder
}

type scoredMove struct {
	move  board.Bitboard
	score int
}

// MoveSorter is a small priority queue of moves, at most one per column.
// Entries are kept sorted by ascending score so the best is at the end.
// Among equal scores the move added last is returned first.
type MoveSorter struct {
	size    int
	entries [board.Width]scoredMove
}

// Add inserts a move with its ordering score. At most board.Width moves can
// be held at a time; further moves are ignored.
func (ms *MoveSorter) Add(move board.Bitboard, score int) {
	if ms.size >= board.Width {
		return
	}
	pos := ms.size
	ms.size++
	for ; pos > 0 && ms.entries[pos-1].score > score; pos-- {
		ms.entries[pos] = ms.entries[pos-1]
	}
	ms.entries[pos] = scoredMove{move: move, score: score}
}

// RemoveBest pops the move with the highest score, or returns 0 when empty.
func (ms *MoveSorter) RemoveBest() board.Bitboard {
	if ms.size == 0 {
		return 0
	}
	ms.size--
	return ms.entries[ms.size].move
}

// Len returns the number of moves held.
func (ms *MoveSorter) Len() int {
	return ms.size
}

// Reset drops every held move.
func (ms *MoveSorter) Reset() {
	ms.size = 0
}
