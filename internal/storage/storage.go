package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a position has no stored result.
var ErrNotFound = errors.New("result not found")

// Key prefixes
const (
	prefixScore    = "score/"
	prefixAnalysis = "analysis/"
)

// ScoreRecord is a solved score as stored in the database.
type ScoreRecord struct {
	Score    int       `json:"score"`
	Weak     bool      `json:"weak"`
	SolvedAt time.Time `json:"solved_at"`
}

// AnalysisRecord holds per-column scores as stored in the database.
type AnalysisRecord struct {
	Scores   []int     `json:"scores"`
	Weak     bool      `json:"weak"`
	SolvedAt time.Time `json:"solved_at"`
}

// Stats counts the stored results.
type Stats struct {
	Scores   int
	Analyses int
}

// Cache wraps BadgerDB to persist search results across runs. Entries are
// keyed by position key and solve mode.
type Cache struct {
	db *badger.DB
}

// Open opens or creates a cache in the given directory.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("dir", dir).Msg("result-cache-opened")
	return &Cache{db: db}, nil
}

// OpenInMemory creates a cache that lives only as long as the process.
func OpenInMemory() (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the database
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func dbKey(prefix string, key uint64, weak bool) []byte {
	k := make([]byte, 0, len(prefix)+9)
	k = append(k, prefix...)
	if weak {
		k = append(k, 'w')
	} else {
		k = append(k, 's')
	}
	return binary.BigEndian.AppendUint64(k, key)
}

func (c *Cache) put(k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
}

func (c *Cache) get(k []byte, v any) error {
	return c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// LoadScore returns the stored score record of a position.
func (c *Cache) LoadScore(key uint64, weak bool) (*ScoreRecord, error) {
	rec := &ScoreRecord{}
	if err := c.get(dbKey(prefixScore, key, weak), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// LoadAnalysis returns the stored analysis record of a position.
func (c *Cache) LoadAnalysis(key uint64, weak bool) (*AnalysisRecord, error) {
	rec := &AnalysisRecord{}
	if err := c.get(dbKey(prefixAnalysis, key, weak), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Score returns the stored score of a position and whether one was found.
func (c *Cache) Score(key uint64, weak bool) (int, bool, error) {
	rec, err := c.LoadScore(key, weak)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rec.Score, true, nil
}

// PutScore stores the score of a position.
func (c *Cache) PutScore(key uint64, weak bool, score int) error {
	return c.put(dbKey(prefixScore, key, weak), ScoreRecord{
		Score:    score,
		Weak:     weak,
		SolvedAt: time.Now(),
	})
}

// Analysis returns the stored per-column scores of a position and whether
// they were found.
func (c *Cache) Analysis(key uint64, weak bool) ([]int, bool, error) {
	rec, err := c.LoadAnalysis(key, weak)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Scores, true, nil
}

// PutAnalysis stores the per-column scores of a position.
func (c *Cache) PutAnalysis(key uint64, weak bool, scores []int) error {
	return c.put(dbKey(prefixAnalysis, key, weak), AnalysisRecord{
		Scores:   scores,
		Weak:     weak,
		SolvedAt: time.Now(),
	})
}

// Stats counts the stored scores and analyses.
func (c *Cache) Stats() (Stats, error) {
	var st Stats
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, p := range []struct {
			prefix string
			count  *int
		}{{prefixScore, &st.Scores}, {prefixAnalysis, &st.Analyses}} {
			prefix := []byte(p.prefix)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				*p.count++
			}
		}
		return nil
	})
	return st, err
}

// Clear deletes every stored result.
func (c *Cache) Clear() error {
	return c.db.DropAll()
}
