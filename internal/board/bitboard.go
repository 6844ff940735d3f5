package board

import (
	"math/bits"
	"strings"
)

// Board dimensions. Every column owns Height+1 bits: Height playable cells plus
// one guard bit on top that is never set by legal play.
const (
	Width  = 7
	Height = 6

	// Cells is the number of playable cells on the board.
	Cells = Width * Height

	// ColumnBits is the number of bits reserved for each column.
	ColumnBits = Height + 1
)

// The whole board, guard row included, must fit in one uint64.
const _ = uint(64 - Width*ColumnBits)

// The winning-line shifts assume a four-in-a-row fits in both directions.
const _ = uint(Width - 4)
const _ = uint(Height - 4)

// Bitboard holds one bit per cell. Bit col*(Height+1)+row is the cell at the
// given column and row, row 0 being the bottom.
//
//	 6 13 20 27 34 41 48
//	 5 12 19 26 33 40 47
//	 4 11 18 25 32 39 46
//	 3 10 17 24 31 38 45
//	 2  9 16 23 30 37 44
//	 1  8 15 22 29 36 43
//	 0  7 14 21 28 35 42
type Bitboard uint64

// Derived masks.
var (
	// BottomMask has the lowest cell of every column set.
	BottomMask = bottomMask()

	// BoardMask has every playable cell set (guard bits excluded).
	BoardMask = BottomMask * ((1 << Height) - 1)
)

func bottomMask() Bitboard {
	var b Bitboard
	for col := 0; col < Width; col++ {
		b |= BottomMaskCol(col)
	}
	return b
}

// TopMaskCol returns a bitboard with the highest playable cell of a column set.
func TopMaskCol(col int) Bitboard {
	return Bitboard(1) << (Height - 1 + col*ColumnBits)
}

// BottomMaskCol returns a bitboard with the lowest cell of a column set.
func BottomMaskCol(col int) Bitboard {
	return Bitboard(1) << (col * ColumnBits)
}

// ColumnMask returns a bitboard with all playable cells of a column set.
func ColumnMask(col int) Bitboard {
	return ((Bitboard(1) << Height) - 1) << (col * ColumnBits)
}

// Cell returns a bitboard with only the given cell set.
func Cell(col, row int) Bitboard {
	return Bitboard(1) << (col*ColumnBits + row)
}

// PopCount returns the number of set bits.
func (b Bitboard) PopCount() int {
	return bits.OnesCount64(uint64(b))
}

// IsSet reports whether the given cell is set.
func (b Bitboard) IsSet(col, row int) bool {
	return b&Cell(col, row) != 0
}

// Single reports whether exactly one bit is set.
func (b Bitboard) Single() bool {
	return b != 0 && b&(b-1) == 0
}

// Column returns the index of the lowest column with a set bit, or -1.
func (b Bitboard) Column() int {
	if b == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(b)) / ColumnBits
}

// winningCells returns every empty cell that would complete a four-in-a-row
// for the given stones. Cells outside the board and occupied cells are masked
// out, so only reachable or floating empty cells remain.
func winningCells(stones, occupied Bitboard) Bitboard {
	// vertical
	r := (stones << 1) & (stones << 2) & (stones << 3)

	// horizontal, then the two diagonals
	for _, d := range [...]uint{ColumnBits, ColumnBits - 1, ColumnBits + 1} {
		p := (stones << d) & (stones << (2 * d))
		r |= p & (stones << (3 * d))
		r |= p & (stones >> d)
		p = (stones >> d) & (stones >> (2 * d))
		r |= p & (stones << d)
		r |= p & (stones >> (3 * d))
	}

	return r & (BoardMask ^ occupied)
}

// hasAlignment reports whether the stones already contain a four-in-a-row.
func hasAlignment(stones Bitboard) bool {
	for _, d := range [...]uint{1, ColumnBits, ColumnBits - 1, ColumnBits + 1} {
		m := stones & (stones >> d)
		if m&(m>>(2*d)) != 0 {
			return true
		}
	}
	return false
}

// String returns a visual representation of the bitboard.
func (b Bitboard) String() string {
	var sb strings.Builder
	for row := Height - 1; row >= 0; row-- {
		for col := 0; col < Width; col++ {
			if b.IsSet(col, row) {
				sb.WriteString("1 ")
			} else {
				sb.WriteString(". ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
