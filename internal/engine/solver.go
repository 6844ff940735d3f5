package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/hailam/connectplay/internal/board"
)

// InvalidMove is the analysis score of a column that cannot be played.
const InvalidMove = -1000

// DefaultLogSize is the default transposition table size as a power of two.
const DefaultLogSize = 24

// KeyBits is the width of position keys: one bit per cell of the padded board.
const KeyBits = board.Width * board.ColumnBits

// debugAssertions turns on precondition checks in the hot search path.
const debugAssertions = false

// ErrSearchAborted is returned when a search is cancelled before it completes.
var ErrSearchAborted = errors.New("search aborted")

// Book is a read-only table of solved positions.
type Book interface {
	// Value returns the stored value for the position, or 0 when the book
	// has nothing for it. A non-zero value v stands for the score
	// v + board.MinScore - 1.
	Value(pos *board.Position) uint8
}

// Solver computes exact game-theoretic scores with a negamax search.
//
// A score is positive when the player to move wins: the sooner the win, the
// higher the score. Winning with the last stone of one's own yields 1, a
// draw 0, and losses are negated wins of the opponent.
//
// A Solver is not safe for concurrent searches. Cancellation through a
// context is the only operation that may come from another goroutine.
type Solver struct {
	tt      Table
	book    Book
	nodes   uint64
	stop    *atomic.Bool // owned by the running search
	aborted bool
}

// NewSolver creates a solver with a transposition table of 2^logSize slots.
func NewSolver(logSize uint) (*Solver, error) {
	tt, err := NewTable(KeyBits, tableValueBits, logSize)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Uint64("slots", tt.Size()).
		Uint("log-size", logSize).
		Msg("transposition-table-size")
	return &Solver{tt: tt}, nil
}

// SetBook installs an opening book consulted during search. Passing nil
// removes it.
func (s *Solver) SetBook(b Book) {
	s.book = b
}

// NodeCount returns the number of positions explored since the last Reset.
func (s *Solver) NodeCount() uint64 {
	return s.nodes
}

// Table returns the transposition table used by the solver.
func (s *Solver) Table() Table {
	return s.tt
}

// Reset clears the node counter and the transposition table.
func (s *Solver) Reset() {
	s.nodes = 0
	s.tt.Reset()
}

// Solve returns the exact score of the position, or only its sign when weak
// is set. It panics if a player already has four in a row.
func (s *Solver) Solve(pos *board.Position, weak bool) int {
	score, _ := s.SolveContext(context.Background(), pos, weak)
	return score
}

// SolveContext is like Solve but stops when ctx is done, in which case it
// returns ErrSearchAborted.
func (s *Solver) SolveContext(ctx context.Context, pos *board.Position, weak bool) (int, error) {
	checkSolvable(pos)
	release, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	score := s.solve(pos, weak)
	if s.aborted {
		return 0, s.abortError(ctx)
	}
	return score, nil
}

// Analyze scores every column of the position from the point of view of the
// player to move. Full columns get InvalidMove.
func (s *Solver) Analyze(pos *board.Position, weak bool) []int {
	scores, _ := s.AnalyzeContext(context.Background(), pos, weak)
	return scores
}

// AnalyzeContext is like Analyze but stops when ctx is done, in which case it
// returns ErrSearchAborted and no scores.
func (s *Solver) AnalyzeContext(ctx context.Context, pos *board.Position, weak bool) ([]int, error) {
	checkSolvable(pos)
	release, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	scores := make([]int, board.Width)
	for col := range board.Width {
		switch {
		case !pos.CanPlay(col):
			scores[col] = InvalidMove
		case pos.IsWinningMove(col):
			scores[col] = (board.Cells + 1 - pos.Moves()) / 2
		default:
			child := *pos
			child.PlayCol(col)
			scores[col] = -s.solve(&child, weak)
			if s.aborted {
				return nil, s.abortError(ctx)
			}
		}
	}
	return scores, nil
}

// begin arms a stop flag for a new search and returns a function releasing
// the context watcher. Each search gets its own flag, so a watcher firing
// after its search ended cannot stop the next one.
func (s *Solver) begin(ctx context.Context) (func() bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchAborted, err)
	}
	stop := new(atomic.Bool)
	s.stop = stop
	s.aborted = false
	return context.AfterFunc(ctx, func() { stop.Store(true) }), nil
}

func (s *Solver) abortError(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", ErrSearchAborted, cause)
	}
	return ErrSearchAborted
}

func checkSolvable(pos *board.Position) {
	if pos.IsWon() {
		panic("solver: game is already won")
	}
}

// solve narrows the score window with null-window searches until it holds a
// single value.
func (s *Solver) solve(pos *board.Position, weak bool) int {
	if pos.CanWinNext() {
		return (board.Cells + 1 - pos.Moves()) / 2
	}

	lo := -(board.Cells - pos.Moves()) / 2
	hi := (board.Cells + 1 - pos.Moves()) / 2
	if weak {
		lo, hi = -1, 1
	}

	for lo < hi {
		med := lo + (hi-lo)/2
		// probe closer to zero first: small windows are cheaper
		if med <= 0 && lo/2 < med {
			med = lo / 2
		} else if med >= 0 && hi/2 > med {
			med = hi / 2
		}
		r := s.negamax(pos, med, med+1)
		if s.aborted {
			return 0
		}
		if r <= med {
			hi = r
		} else {
			lo = r
		}
	}
	if weak {
		// a fail-soft cutoff may overshoot the weak window
		return max(-1, min(lo, 1))
	}
	return lo
}

// negamax returns a fail-soft score for the window [alpha, beta]: the exact
// score when it lies strictly inside, an upper bound at or below alpha, or a
// lower bound at or above beta. The player to move must not be able to win
// immediately.
func (s *Solver) negamax(pos *board.Position, alpha, beta int) int {
	if debugAssertions && (alpha >= beta || pos.CanWinNext()) {
		panic("negamax: bad window or immediate win available")
	}

	s.nodes++
	if s.stop.Load() {
		s.aborted = true
		return 0
	}

	next := pos.PossibleNonLosingMoves()
	if next == 0 {
		// the opponent wins on the next ply
		return -(board.Cells - pos.Moves()) / 2
	}
	if pos.Moves() >= board.Cells-2 {
		return 0
	}

	lower := -(board.Cells - 2 - pos.Moves()) / 2
	if alpha < lower {
		alpha = lower
		if alpha >= beta {
			return alpha
		}
	}

	upper := (board.Cells - 1 - pos.Moves()) / 2
	if beta > upper {
		beta = upper
		if alpha >= beta {
			return beta
		}
	}

	key := pos.Key()
	if v := s.tt.Get(key); v != 0 {
		if isLowerBound(v) {
			lower = decodeLowerBound(v)
			if alpha < lower {
				alpha = lower
				if alpha >= beta {
					return alpha
				}
			}
		} else {
			upper = decodeUpperBound(v)
			if beta > upper {
				beta = upper
				if alpha >= beta {
					return beta
				}
			}
		}
	}

	if s.book != nil {
		if v := s.book.Value(pos); v != 0 {
			return int(v) + board.MinScore - 1
		}
	}

	var moves MoveSorter
	// ties pop the last added move, so add the most central columns last
	for i := board.Width - 1; i >= 0; i-- {
		if move := next & board.ColumnMask(columnOrder[i]); move != 0 {
			moves.Add(move, pos.MoveScore(move))
		}
	}

	best := -board.Cells
	for move := moves.RemoveBest(); move != 0; move = moves.RemoveBest() {
		child := *pos
		child.Play(move)
		score := -s.negamax(&child, -beta, -alpha)
		if s.aborted {
			return 0
		}
		if score >= beta {
			s.tt.Put(key, encodeLowerBound(score))
			return score
		}
		if score > best {
			best = score
		}
		if score > alpha {
			alpha = score
		}
	}

	s.tt.Put(key, encodeUpperBound(alpha))
	return best
}
