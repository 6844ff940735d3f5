package board

import (
	"fmt"
	"strings"
)

// Score bounds for any position reachable by legal play. A game cannot be won
// before the winner has placed four stones, which bounds both extremes.
const (
	MinScore = -Cells/2 + 3
	MaxScore = (Cells+1)/2 - 3
)

// Position is a Connect Four position encoded as two bitboards.
//
// Current holds the stones of the player to move and Mask holds every stone on
// the board. The opponent's stones are Current ^ Mask, so one word describes
// either side depending on whose turn it is.
type Position struct {
	Current Bitboard // stones of the player to move
	Mask    Bitboard // all stones
	moves   int      // stones played so far
}

// NewPosition creates an empty board.
func NewPosition() *Position {
	return &Position{}
}

// NewPositionFromMasks builds a position directly from its bitboards. The
// caller is responsible for passing a reachable position: current must be a
// subset of mask and no guard bit may be set.
func NewPositionFromMasks(current, mask Bitboard) (*Position, error) {
	if current&^mask != 0 {
		return nil, fmt.Errorf("current stones %#x are not a subset of mask %#x", current, mask)
	}
	if mask&^BoardMask != 0 {
		return nil, fmt.Errorf("mask %#x sets bits outside the board", mask)
	}
	for col := 0; col < Width; col++ {
		c := mask & ColumnMask(col)
		// stones in a column must be stacked from the bottom
		if c&(c+BottomMaskCol(col)) != 0 {
			return nil, fmt.Errorf("column %d has a floating stone", col+1)
		}
	}
	return &Position{Current: current, Mask: mask, moves: mask.PopCount()}, nil
}

// Copy creates a copy of the position.
func (p *Position) Copy() *Position {
	newPos := *p
	return &newPos
}

// Moves returns the number of stones played so far.
func (p *Position) Moves() int {
	return p.moves
}

// Key returns a key that is unique for every position. Current is a subset of
// Mask, so the sum is equivalent to concatenating both bitboards.
func (p *Position) Key() uint64 {
	return uint64(p.Current + p.Mask)
}

// CanPlay reports whether a stone can be dropped in the 0-based column.
func (p *Position) CanPlay(col int) bool {
	if col < 0 || col >= Width {
		return false
	}
	return p.Mask&TopMaskCol(col) == 0
}

// Play applies a move given as a bitboard with the single cell to fill.
// The move must be legal.
func (p *Position) Play(move Bitboard) {
	p.Current ^= p.Mask
	p.Mask |= move
	p.moves++
}

// PlayCol drops a stone in the 0-based column. The column must be playable.
func (p *Position) PlayCol(col int) {
	p.Play((p.Mask + BottomMaskCol(col)) & ColumnMask(col))
}

// Possible returns the lowest empty cell of every non-full column.
func (p *Position) Possible() Bitboard {
	return (p.Mask + BottomMask) & BoardMask
}

// WinningCells returns the empty cells that would complete a four-in-a-row
// for the player to move.
func (p *Position) WinningCells() Bitboard {
	return winningCells(p.Current, p.Mask)
}

// OpponentWinningCells returns the empty cells that would complete a
// four-in-a-row for the opponent.
func (p *Position) OpponentWinningCells() Bitboard {
	return winningCells(p.Current^p.Mask, p.Mask)
}

// CanWinNext reports whether the player to move can win with this move.
func (p *Position) CanWinNext() bool {
	return p.WinningCells()&p.Possible() != 0
}

// IsWinningMove reports whether dropping in the 0-based column wins at once.
func (p *Position) IsWinningMove(col int) bool {
	return p.WinningCells()&p.Possible()&ColumnMask(col) != 0
}

// PossibleNonLosingMoves returns the moves that do not let the opponent win
// on the next ply. It must not be called when CanWinNext is true.
func (p *Position) PossibleNonLosingMoves() Bitboard {
	possible := p.Possible()
	opponentWin := p.OpponentWinningCells()

	if forced := possible & opponentWin; forced != 0 {
		if !forced.Single() {
			// two threats at once cannot both be blocked
			return 0
		}
		possible = forced
	}

	// never play right below an opponent winning cell
	return possible &^ (opponentWin >> 1)
}

// MoveScore counts the winning cells the player to move would own after the
// given move. It is only used to order moves.
func (p *Position) MoveScore(move Bitboard) int {
	return winningCells(p.Current|move, p.Mask).PopCount()
}

// IsWon reports whether either player already has a four-in-a-row.
func (p *Position) IsWon() bool {
	return hasAlignment(p.Current) || hasAlignment(p.Current^p.Mask)
}

// FirstPlayerToMove reports whether the first player is about to move.
func (p *Position) FirstPlayerToMove() bool {
	return p.moves%2 == 0
}

// Mirror returns the position reflected left to right.
func (p *Position) Mirror() *Position {
	return &Position{
		Current: mirror(p.Current),
		Mask:    mirror(p.Mask),
		moves:   p.moves,
	}
}

func mirror(b Bitboard) Bitboard {
	var m Bitboard
	for col := 0; col < Width; col++ {
		column := (b >> (col * ColumnBits)) & ColumnMask(0)
		m |= column << ((Width - 1 - col) * ColumnBits)
	}
	return m
}

// String renders the board top row first. X marks the first player's stones
// and O the second player's.
func (p *Position) String() string {
	first := p.Current
	if !p.FirstPlayerToMove() {
		first = p.Current ^ p.Mask
	}

	var sb strings.Builder
	for col := 0; col < Width; col++ {
		fmt.Fprintf(&sb, " %d", col+1)
	}
	sb.WriteString("\n")
	for row := Height - 1; row >= 0; row-- {
		sb.WriteString("|")
		for col := 0; col < Width; col++ {
			switch {
			case !p.Mask.IsSet(col, row):
				sb.WriteString(".")
			case first.IsSet(col, row):
				sb.WriteString("X")
			default:
				sb.WriteString("O")
			}
			if col < Width-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("|\n")
	}
	sb.WriteString("+" + strings.Repeat("-", 2*Width-1) + "+")
	return sb.String()
}
