package engine

import "github.com/hailam/connectplay/internal/board"

// Bounds are stored in the transposition table as single non-zero values.
// Upper bounds occupy 1 to MaxScore-MinScore+1 and lower bounds the range
// right above it, so one comparison tells them apart.
const (
	upperBoundOffset = 1 - board.MinScore
	lowerBoundOffset = board.MaxScore - 2*board.MinScore + 2
	lowerBoundFloor  = board.MaxScore - board.MinScore + 1
)

// tableValueBits is the width needed for the largest encoded bound.
var tableValueBits = bitsFor(board.MaxScore + lowerBoundOffset)

// clampScore keeps a bound within the scores reachable by legal play, which
// leaves it valid and keeps its encoding in range.
func clampScore(score int) int {
	return max(board.MinScore, min(score, board.MaxScore))
}

func encodeUpperBound(score int) uint8 {
	return uint8(clampScore(score) + upperBoundOffset)
}

func encodeLowerBound(score int) uint8 {
	return uint8(clampScore(score) + lowerBoundOffset)
}

func isLowerBound(v uint8) bool {
	return int(v) > lowerBoundFloor
}

func decodeUpperBound(v uint8) int {
	return int(v) - upperBoundOffset
}

func decodeLowerBound(v uint8) int {
	return int(v) - lowerBoundOffset
}
