package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/hailam/connectplay/internal/board"
)

const testLogSize = 16

func newTestSolver(t *testing.T) *Solver {
	t.Helper()
	s, err := NewSolver(testLogSize)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mustParse(t *testing.T, seq string) *board.Position {
	t.Helper()
	pos, err := board.ParseSequence(seq)
	if err != nil {
		t.Fatal(err)
	}
	return pos
}

// randomPosition plays random moves that do not end the game.
func randomPosition(rng *rand.Rand, moves int) *board.Position {
	for {
		pos := board.NewPosition()
		for pos.Moves() < moves {
			var cols []int
			for col := range board.Width {
				if pos.CanPlay(col) && !pos.IsWinningMove(col) {
					cols = append(cols, col)
				}
			}
			if len(cols) == 0 {
				break
			}
			pos.PlayCol(cols[rng.IntN(len(cols))])
		}
		if pos.Moves() == moves {
			return pos
		}
	}
}

// referenceScore is a plain minimax over every continuation.
func referenceScore(pos *board.Position, memo map[uint64]int) int {
	key := pos.Key()
	if v, ok := memo[key]; ok {
		return v
	}

	var best int
	switch {
	case pos.CanWinNext():
		best = (board.Cells + 1 - pos.Moves()) / 2
	case pos.Moves() == board.Cells:
		best = 0
	default:
		best = -board.Cells
		for col := range board.Width {
			if pos.CanPlay(col) {
				child := *pos
				child.PlayCol(col)
				best = max(best, -referenceScore(&child, memo))
			}
		}
	}
	memo[key] = best
	return best
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func TestSolveMatchesReference(t *testing.T) {
	is := is.New(t)
	rng := rand.New(rand.NewPCG(1, 2))
	s := newTestSolver(t)
	memo := make(map[uint64]int)

	for range 40 {
		pos := randomPosition(rng, 30+rng.IntN(5))
		want := referenceScore(pos, memo)

		is.Equal(s.Solve(pos, false), want)
		if pos.CanWinNext() {
			is.Equal(s.Solve(pos, true), want) // immediate wins are always exact
		} else {
			is.Equal(s.Solve(pos, true), sign(want))
		}
	}
}

func TestSolveWithinBounds(t *testing.T) {
	is := is.New(t)
	rng := rand.New(rand.NewPCG(3, 4))
	s := newTestSolver(t)

	for range 40 {
		pos := randomPosition(rng, 26+rng.IntN(10))
		score := s.Solve(pos, false)
		is.True(score >= -(board.Cells-pos.Moves())/2)
		is.True(score <= (board.Cells+1-pos.Moves())/2)
		is.True(score >= board.MinScore && score <= board.MaxScore)
	}
}

func TestAnalyzeMatchesReference(t *testing.T) {
	is := is.New(t)
	rng := rand.New(rand.NewPCG(5, 6))
	s := newTestSolver(t)
	memo := make(map[uint64]int)

	for range 20 {
		pos := randomPosition(rng, 30)
		scores := s.Analyze(pos, false)
		is.Equal(len(scores), board.Width)

		for col, got := range scores {
			switch {
			case !pos.CanPlay(col):
				is.Equal(got, InvalidMove)
			case pos.IsWinningMove(col):
				is.Equal(got, (board.Cells+1-pos.Moves())/2)
			default:
				child := *pos
				child.PlayCol(col)
				is.Equal(got, -referenceScore(&child, memo))
			}
		}
	}
}

func TestSolveImmediateWin(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)

	pos := mustParse(t, "121212")
	is.True(pos.IsWinningMove(0))
	is.Equal(s.Solve(pos, false), 18)
	is.Equal(s.Solve(pos, true), 18)
	is.Equal(s.NodeCount(), uint64(0)) // no search needed
}

func TestAnalyzeFullColumn(t *testing.T) {
	is := is.New(t)
	rng := rand.New(rand.NewPCG(7, 8))
	s := newTestSolver(t)

	for range 50 {
		pos := randomPosition(rng, 34)
		scores := s.Analyze(pos, true)
		for col, score := range scores {
			is.Equal(score == InvalidMove, !pos.CanPlay(col))
		}
	}
}

func TestSolveFullBoardIsDraw(t *testing.T) {
	is := is.New(t)
	// no row, column or diagonal holds four alike
	pos, err := board.ParseBoard(`
		o x o x o x o
		x o x o x o x
		o x o x o x o
		o x o x o x o
		x o x o x o x
		x o x o x o x`)
	is.NoErr(err)
	is.Equal(pos.Moves(), board.Cells)
	is.True(!pos.IsWon())

	s := newTestSolver(t)
	is.Equal(s.Solve(pos, false), 0)
	scores := s.Analyze(pos, false)
	for _, score := range scores {
		is.Equal(score, InvalidMove)
	}
}

func TestSolveWonPositionPanics(t *testing.T) {
	pos, err := board.NewPositionFromMasks(0, board.ColumnMask(0)&^board.Cell(0, 5)&^board.Cell(0, 4))
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSolver(t)
	mustPanic(t, "won position", func() { s.Solve(pos, false) })
}

func TestResetClearsCounters(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)
	rng := rand.New(rand.NewPCG(9, 10))
	pos := randomPosition(rng, 30)
	for pos.CanWinNext() {
		pos = randomPosition(rng, 30)
	}

	s.Solve(pos, false)
	is.True(s.NodeCount() > 0)

	s.Reset()
	is.Equal(s.NodeCount(), uint64(0))
}

type fakeBook struct {
	key   uint64
	value uint8
}

func (b fakeBook) Value(pos *board.Position) uint8 {
	if pos.Key() == b.key {
		return b.value
	}
	return 0
}

func TestSolveUsesBook(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)

	empty := board.NewPosition()
	// score 1: the first player wins with their last stone
	s.SetBook(fakeBook{key: empty.Key(), value: uint8(1 - board.MinScore + 1)})

	is.Equal(s.Solve(empty, false), 1)
	is.Equal(s.Solve(empty, true), 1)
}

func TestSolveCancelled(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SolveContext(ctx, board.NewPosition(), false)
	is.True(errors.Is(err, ErrSearchAborted))
	is.True(errors.Is(err, context.Canceled))
	is.Equal(s.NodeCount(), uint64(0))

	_, err = s.AnalyzeContext(ctx, board.NewPosition(), false)
	is.True(errors.Is(err, ErrSearchAborted))
}

func TestSolveDeadline(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)

	// the empty board takes far longer than this to solve without a book
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.SolveContext(ctx, board.NewPosition(), false)
	is.True(errors.Is(err, ErrSearchAborted))
	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(start) < 10*time.Second)

	// the solver stays usable after an abort
	pos := mustParse(t, "121212")
	score, err := s.SolveContext(context.Background(), pos, false)
	is.NoErr(err)
	is.Equal(score, 18)
}

func TestLateWatcherDoesNotStopNextSearch(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)

	ctx, cancel := context.WithCancel(context.Background())
	release, err := s.begin(ctx)
	is.NoErr(err)
	finished := s.stop
	release()
	cancel()

	release, err = s.begin(context.Background())
	is.NoErr(err)
	defer release()
	finished.Store(true) // the old watcher fires after the new search started
	is.True(!s.stop.Load())

	rng := rand.New(rand.NewPCG(11, 12))
	pos := randomPosition(rng, 32)
	for pos.CanWinNext() {
		pos = randomPosition(rng, 32)
	}
	_, err = s.SolveContext(context.Background(), pos, false)
	is.NoErr(err)
}

// depthBook answers every position from the given ply on with one value.
type depthBook struct {
	moves int
	value uint8
}

func (b depthBook) Value(pos *board.Position) uint8 {
	if pos.Moves() >= b.moves {
		return b.value
	}
	return 0
}

func TestAnalyzeImmediateWinColumn(t *testing.T) {
	is := is.New(t)
	s := newTestSolver(t)
	// report every position past the sequence as a draw to keep searches short
	s.SetBook(depthBook{moves: 7, value: uint8(-board.MinScore + 1)})

	pos := mustParse(t, "121212")
	scores := s.Analyze(pos, false)
	is.Equal(len(scores), board.Width)
	is.Equal(scores[0], (board.Cells+1-6)/2)
	is.Equal(scores[0], 18)

	for col := 1; col < board.Width; col++ {
		child := *pos
		child.PlayCol(col)
		is.Equal(scores[col], -s.Solve(&child, false))
	}
}

// Solving from the empty board takes minutes; set CONNECTPLAY_LONG_TESTS to run.
func TestSolveEmptyBoardLong(t *testing.T) {
	if os.Getenv("CONNECTPLAY_LONG_TESTS") == "" {
		t.Skip("set CONNECTPLAY_LONG_TESTS to run")
	}
	is := is.New(t)
	s, err := NewSolver(DefaultLogSize)
	is.NoErr(err)

	is.Equal(s.Solve(board.NewPosition(), true), 1)

	scores := s.Analyze(mustParse(t, "121212"), true)
	is.Equal(scores[0], 18)
}
