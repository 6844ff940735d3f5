package engine

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/matryer/is"
)

func TestMemoryCacheHitsAndMisses(t *testing.T) {
	is := is.New(t)
	mc := NewMemoryCache(nil, 16)

	_, ok, err := mc.Score(1, false)
	is.NoErr(err)
	is.True(!ok)

	is.NoErr(mc.PutScore(1, false, 5))
	score, ok, err := mc.Score(1, false)
	is.NoErr(err)
	is.True(ok)
	is.Equal(score, 5)

	// weak and strong results are kept apart
	_, ok, _ = mc.Score(1, true)
	is.True(!ok)

	hits := 1.0
	is.Equal(mc.HitRate(), hits/3*100)
	is.Equal(mc.Len(), 1)
}

func TestMemoryCacheCopiesAnalyses(t *testing.T) {
	is := is.New(t)
	mc := NewMemoryCache(nil, 16)

	scores := []int{1, 2, 3}
	is.NoErr(mc.PutAnalysis(7, false, scores))
	scores[0] = 99

	got, ok, err := mc.Analysis(7, false)
	is.NoErr(err)
	is.True(ok)
	is.Equal(got, []int{1, 2, 3})

	got[1] = 42
	again, _, _ := mc.Analysis(7, false)
	is.Equal(again, []int{1, 2, 3})
}

func TestMemoryCacheEviction(t *testing.T) {
	is := is.New(t)
	mc := NewMemoryCache(nil, 10)

	for i := range 100 {
		is.NoErr(mc.PutScore(uint64(i), false, i))
		is.True(mc.Len() <= 10)
	}
	score, ok, _ := mc.Score(99, false)
	is.True(ok) // the newest entry always survives
	is.Equal(score, 99)
}

func TestMemoryCacheInner(t *testing.T) {
	is := is.New(t)
	inner := newMemCache()
	is.NoErr(inner.PutScore(3, false, -2))
	mc := NewMemoryCache(inner, 16)

	// falls through to the inner cache and keeps the result
	score, ok, err := mc.Score(3, false)
	is.NoErr(err)
	is.True(ok)
	is.Equal(score, -2)
	is.Equal(mc.Len(), 1)

	// writes reach the inner cache
	is.NoErr(mc.PutAnalysis(4, true, []int{0, 1}))
	got, ok, _ := inner.Analysis(4, true)
	is.True(ok)
	is.Equal(got, []int{0, 1})

	mc.Clear()
	is.Equal(mc.Len(), 0)
	is.Equal(mc.HitRate(), 0.0)
	_, ok, _ = mc.Analysis(4, true)
	is.True(ok)
}

func TestEngineWithMemoryCache(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t)
	e.SetCache(NewMemoryCache(nil, 64))

	var infos []SearchInfo
	e.OnInfo = func(info SearchInfo) { infos = append(infos, info) }

	pos := randomPosition(rand.New(rand.NewPCG(9, 9)), 32)
	first, err := e.Solve(context.Background(), pos, false)
	is.NoErr(err)
	second, err := e.Solve(context.Background(), pos, false)
	is.NoErr(err)

	is.Equal(first, second)
	is.Equal(len(infos), 2)
	is.True(!infos[0].Cached)
	is.True(infos[1].Cached)

	is.Equal(first, newTestSolver(t).Solve(pos.Copy(), false))
}
