package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/hailam/connectplay/internal/board"
)

// SearchInfo contains information about a finished search.
type SearchInfo struct {
	Scores  []int // per column, only for analysis
	Score   int
	Column  int // best 0-based column, -1 when not computed
	Weak    bool
	Nodes   uint64
	Time    time.Duration
	Cached  bool
	HitRate float64 // transposition table hit rate in percent
}

// Cache persists results of previous searches across runs.
type Cache interface {
	Score(key uint64, weak bool) (int, bool, error)
	PutScore(key uint64, weak bool, score int) error
	Analysis(key uint64, weak bool) ([]int, bool, error)
	PutAnalysis(key uint64, weak bool, scores []int) error
}

// Engine wraps a Solver with result caching and search reporting.
type Engine struct {
	solver *Solver
	cache  Cache

	// Callbacks
	OnInfo func(SearchInfo)
}

// NewEngine creates an engine with a transposition table of 2^logSize slots.
func NewEngine(logSize uint) (*Engine, error) {
	s, err := NewSolver(logSize)
	if err != nil {
		return nil, err
	}
	return &Engine{solver: s}, nil
}

// Solver returns the underlying solver.
func (e *Engine) Solver() *Solver {
	return e.solver
}

// SetBook installs an opening book. Passing nil removes it.
func (e *Engine) SetBook(b Book) {
	e.solver.SetBook(b)
}

// SetCache installs a persistent result cache. Passing nil removes it.
func (e *Engine) SetCache(c Cache) {
	e.cache = c
}

// Reset clears the transposition table and the node counter.
func (e *Engine) Reset() {
	e.solver.Reset()
}

// Solve returns the score of the position, from the cache when possible.
func (e *Engine) Solve(ctx context.Context, pos *board.Position, weak bool) (int, error) {
	key := pos.Key()
	if e.cache != nil {
		score, ok, err := e.cache.Score(key, weak)
		if err != nil {
			log.Warn().Err(err).Msg("cache-read-failed")
		} else if ok {
			e.report(SearchInfo{Score: score, Column: -1, Weak: weak, Cached: true})
			return score, nil
		}
	}

	start := time.Now()
	nodes := e.solver.NodeCount()
	score, err := e.solver.SolveContext(ctx, pos, weak)
	if err != nil {
		return 0, err
	}
	info := SearchInfo{
		Score:   score,
		Column:  -1,
		Weak:    weak,
		Nodes:   e.solver.NodeCount() - nodes,
		Time:    time.Since(start),
		HitRate: e.solver.Table().HitRate(),
	}
	log.Debug().
		Int("score", score).
		Uint64("nodes", info.Nodes).
		Dur("time", info.Time).
		Msg("solved")
	e.report(info)

	if e.cache != nil {
		if err := e.cache.PutScore(key, weak, score); err != nil {
			log.Warn().Err(err).Msg("cache-write-failed")
		}
	}
	return score, nil
}

// Analyze scores every column of the position, from the cache when possible.
func (e *Engine) Analyze(ctx context.Context, pos *board.Position, weak bool) ([]int, error) {
	key := pos.Key()
	if e.cache != nil {
		scores, ok, err := e.cache.Analysis(key, weak)
		if err != nil {
			log.Warn().Err(err).Msg("cache-read-failed")
		} else if ok && len(scores) == board.Width {
			e.report(SearchInfo{Scores: scores, Score: bestScore(scores), Column: PickColumn(scores), Weak: weak, Cached: true})
			return scores, nil
		}
	}

	start := time.Now()
	nodes := e.solver.NodeCount()
	scores, err := e.solver.AnalyzeContext(ctx, pos, weak)
	if err != nil {
		return nil, err
	}
	info := SearchInfo{
		Scores:  scores,
		Score:   bestScore(scores),
		Column:  PickColumn(scores),
		Weak:    weak,
		Nodes:   e.solver.NodeCount() - nodes,
		Time:    time.Since(start),
		HitRate: e.solver.Table().HitRate(),
	}
	log.Debug().
		Ints("scores", scores).
		Uint64("nodes", info.Nodes).
		Dur("time", info.Time).
		Msg("analyzed")
	e.report(info)

	if e.cache != nil {
		if err := e.cache.PutAnalysis(key, weak, scores); err != nil {
			log.Warn().Err(err).Msg("cache-write-failed")
		}
	}
	return scores, nil
}

// BestColumn analyzes the position and returns the best 0-based column with
// its score, or -1 when no column can be played.
func (e *Engine) BestColumn(ctx context.Context, pos *board.Position, weak bool) (int, int, error) {
	scores, err := e.Analyze(ctx, pos, weak)
	if err != nil {
		return -1, 0, err
	}
	col := PickColumn(scores)
	if col < 0 {
		return -1, 0, nil
	}
	return col, scores[col], nil
}

func (e *Engine) report(info SearchInfo) {
	if e.OnInfo != nil {
		e.OnInfo(info)
	}
}

// PickColumn returns the column with the highest analysis score, preferring
// central columns on ties, or -1 when every column is full.
func PickColumn(scores []int) int {
	playable := lo.Filter(columnOrder[:], func(col int, _ int) bool {
		return col < len(scores) && scores[col] != InvalidMove
	})
	if len(playable) == 0 {
		return -1
	}
	return lo.MaxBy(playable, func(a, b int) bool {
		return scores[a] > scores[b]
	})
}

func bestScore(scores []int) int {
	if col := PickColumn(scores); col >= 0 {
		return scores[col]
	}
	return InvalidMove
}
