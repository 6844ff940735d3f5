package engine

import (
	"slices"
	"sync"
)

type resultKey struct {
	key  uint64
	weak bool
}

// MemoryCache keeps results in memory in front of an optional slower cache.
// Reads that miss in memory fall through to the inner cache and writes go to
// both.
type MemoryCache struct {
	inner    Cache
	scores   map[resultKey]int
	analyses map[resultKey][]int
	mu       sync.RWMutex
	maxSize  int
	hits     uint64
	misses   uint64
}

// NewMemoryCache creates a cache holding up to maxSize results of each kind.
// inner may be nil.
func NewMemoryCache(inner Cache, maxSize int) *MemoryCache {
	return &MemoryCache{
		inner:    inner,
		scores:   make(map[resultKey]int),
		analyses: make(map[resultKey][]int),
		maxSize:  max(maxSize, 2),
	}
}

// evict drops about half the entries of a full map.
func evict[V any](m map[resultKey]V, maxSize int) {
	if len(m) < maxSize {
		return
	}
	i := 0
	for k := range m {
		if i >= maxSize/2 {
			break
		}
		delete(m, k)
		i++
	}
}

// Score returns a cached score, consulting the inner cache on a miss.
func (mc *MemoryCache) Score(key uint64, weak bool) (int, bool, error) {
	k := resultKey{key, weak}
	mc.mu.RLock()
	score, ok := mc.scores[k]
	mc.mu.RUnlock()
	if ok {
		mc.count(true)
		return score, true, nil
	}
	mc.count(false)

	if mc.inner == nil {
		return 0, false, nil
	}
	score, ok, err := mc.inner.Score(key, weak)
	if err != nil || !ok {
		return 0, false, err
	}
	mc.storeScore(k, score)
	return score, true, nil
}

func (mc *MemoryCache) PutScore(key uint64, weak bool, score int) error {
	mc.storeScore(resultKey{key, weak}, score)
	if mc.inner != nil {
		return mc.inner.PutScore(key, weak, score)
	}
	return nil
}

func (mc *MemoryCache) storeScore(k resultKey, score int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	evict(mc.scores, mc.maxSize)
	mc.scores[k] = score
}

func (mc *MemoryCache) Analysis(key uint64, weak bool) ([]int, bool, error) {
	k := resultKey{key, weak}
	mc.mu.RLock()
	scores, ok := mc.analyses[k]
	mc.mu.RUnlock()
	if ok {
		mc.count(true)
		return slices.Clone(scores), true, nil
	}
	mc.count(false)

	if mc.inner == nil {
		return nil, false, nil
	}
	scores, ok, err := mc.inner.Analysis(key, weak)
	if err != nil || !ok {
		return nil, false, err
	}
	mc.storeAnalysis(k, scores)
	return scores, true, nil
}

func (mc *MemoryCache) PutAnalysis(key uint64, weak bool, scores []int) error {
	mc.storeAnalysis(resultKey{key, weak}, scores)
	if mc.inner != nil {
		return mc.inner.PutAnalysis(key, weak, scores)
	}
	return nil
}

func (mc *MemoryCache) storeAnalysis(k resultKey, scores []int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	evict(mc.analyses, mc.maxSize)
	mc.analyses[k] = slices.Clone(scores)
}

func (mc *MemoryCache) count(hit bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if hit {
		mc.hits++
	} else {
		mc.misses++
	}
}

// HitRate returns the in-memory hit rate as a percentage.
func (mc *MemoryCache) HitRate() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	total := mc.hits + mc.misses
	if total == 0 {
		return 0
	}
	return float64(mc.hits) / float64(total) * 100
}

// Len returns the number of results held in memory.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.scores) + len(mc.analyses)
}

// Clear empties the in-memory layer. The inner cache is left untouched.
func (mc *MemoryCache) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.scores = make(map[resultKey]int)
	mc.analyses = make(map[resultKey][]int)
	mc.hits = 0
	mc.misses = 0
}
