package board

import (
	"fmt"
	"strings"
)

// Reasons a move of a sequence can be rejected.
const (
	ReasonInvalidCharacter = "invalid character"
	ReasonOutOfRange       = "column out of range"
	ReasonColumnFull       = "column full"
	ReasonWinningMove      = "move ends the game"
)

// SequenceError reports the first move of a sequence that could not be played.
type SequenceError struct {
	Index    int    // 1-based index of the failing move
	Move     byte   // the offending character
	Reason   string // one of the Reason constants
	Sequence string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("invalid move %d (%q) in sequence %q: %s", e.Index, e.Move, e.Sequence, e.Reason)
}

// PlaySequence plays a string of 1-based column digits and returns the number
// of moves applied. It stops at the first invalid character, out of range or
// full column, or move that would win the game; the position keeps every move
// played before that point.
func (p *Position) PlaySequence(seq string) (int, error) {
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		fail := func(reason string) (int, error) {
			return i, &SequenceError{Index: i + 1, Move: c, Reason: reason, Sequence: seq}
		}

		if c < '0' || c > '9' {
			return fail(ReasonInvalidCharacter)
		}
		col := int(c-'0') - 1
		if col < 0 || col >= Width {
			return fail(ReasonOutOfRange)
		}
		if !p.CanPlay(col) {
			return fail(ReasonColumnFull)
		}
		if p.IsWinningMove(col) {
			return fail(ReasonWinningMove)
		}
		p.PlayCol(col)
	}
	return len(seq), nil
}

// ParseSequence builds a position by replaying a move sequence from the empty
// board.
func ParseSequence(seq string) (*Position, error) {
	pos := NewPosition()
	if _, err := pos.PlaySequence(strings.TrimSpace(seq)); err != nil {
		return nil, err
	}
	return pos, nil
}

// FromGrid builds a position from per-cell player ids: 0 for empty, 1 for the
// first player and 2 for the second. Row 0 is the bottom row. The player to
// move is the first player when the stone count is even. Whether the grid is
// reachable by legal play is not checked beyond stacking.
func FromGrid(grid [Height][Width]int) (*Position, error) {
	var first, mask Bitboard
	for row := 0; row < Height; row++ {
		for col := 0; col < Width; col++ {
			switch grid[row][col] {
			case 0:
			case 1:
				first |= Cell(col, row)
				mask |= Cell(col, row)
			case 2:
				mask |= Cell(col, row)
			default:
				return nil, fmt.Errorf("invalid player id %d at column %d row %d", grid[row][col], col+1, row+1)
			}
		}
	}

	current := first
	if mask.PopCount()%2 == 1 {
		current = first ^ mask
	}
	return NewPositionFromMasks(current, mask)
}

// ParseBoard builds a position from a board drawing read top-left to
// bottom-right. '.' is empty, 'x' or '1' the first player and 'o' or '2' the
// second player; any other character is ignored.
func ParseBoard(s string) (*Position, error) {
	var grid [Height][Width]int
	n := 0
	for _, c := range strings.ToLower(s) {
		id := -1
		switch c {
		case '.':
			id = 0
		case 'x', '1':
			id = 1
		case 'o', '2':
			id = 2
		}
		if id < 0 {
			continue
		}
		if n >= Cells {
			return nil, fmt.Errorf("board has more than %d cells", Cells)
		}
		grid[Height-1-n/Width][n%Width] = id
		n++
	}
	if n != Cells {
		return nil, fmt.Errorf("board has %d cells, want %d", n, Cells)
	}
	return FromGrid(grid)
}
