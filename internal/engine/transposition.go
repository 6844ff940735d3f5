package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"
)

// ErrTableConfig is returned when a table cannot hold the requested keys or
// values.
var ErrTableConfig = errors.New("invalid transposition table configuration")

// maxLogSize bounds the table size to keep allocations sane.
const maxLogSize = 40

// TableKey lists the types a table can store partial keys in.
type TableKey interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Table is a fixed-size lossy cache from position keys to small non-zero
// values. Get returns 0 when it has nothing for the key.
type Table interface {
	Put(key uint64, value uint8)
	Get(key uint64) uint8
	Reset()
	Size() uint64
	HitRate() float64
}

// TranspositionTable maps keys to values in a prime-sized array indexed by
// key modulo size. Only the low bits of each key are stored: together with
// the slot index they are enough to tell keys apart. Storing always
// overwrites the slot, so a colliding key evicts the previous occupant.
type TranspositionTable[K TableKey] struct {
	keys      []K
	values    []uint8
	size      uint64
	keyBits   uint   // width of full keys accepted by Put
	valueBits uint   // width of values accepted by Put
	keyMask   uint64 // bits of a key kept in the slot

	// Statistics
	hits   atomic.Uint64
	probes atomic.Uint64
}

// NewTranspositionTable creates a table with the smallest prime number of
// slots not below 2^logSize. Keys passed to Put must fit in keyBits bits and
// values in valueBits bits; K must be wide enough to disambiguate keys that
// share a slot.
func NewTranspositionTable[K TableKey](keyBits, valueBits, logSize uint) (*TranspositionTable[K], error) {
	partialBits := uint(unsafe.Sizeof(K(0))) * 8
	if keyBits > 64 || keyBits == 0 {
		return nil, fmt.Errorf("%w: key width %d bits", ErrTableConfig, keyBits)
	}
	if valueBits > 8 || valueBits == 0 {
		return nil, fmt.Errorf("%w: value width %d bits", ErrTableConfig, valueBits)
	}
	if logSize > maxLogSize {
		return nil, fmt.Errorf("%w: log size %d exceeds %d", ErrTableConfig, logSize, maxLogSize)
	}
	if keyBits > logSize && partialBits < keyBits-logSize {
		return nil, fmt.Errorf("%w: %d stored key bits cannot tell apart %d-bit keys in 2^%d slots",
			ErrTableConfig, partialBits, keyBits, logSize)
	}
	return newTable[K](keyBits, valueBits, partialBits, logSize), nil
}

func newTable[K TableKey](keyBits, valueBits, partialBits, logSize uint) *TranspositionTable[K] {
	size := nextPrime(uint64(1) << logSize)
	return &TranspositionTable[K]{
		keys:      make([]K, size),
		values:    make([]uint8, size),
		size:      size,
		keyBits:   keyBits,
		valueBits: valueBits,
		keyMask:   lowMask(partialBits),
	}
}

// NewTable creates a table storing partial keys in the narrowest type able
// to disambiguate keyBits-bit keys.
func NewTable(keyBits, valueBits, logSize uint) (Table, error) {
	need := uint(0)
	if keyBits > logSize {
		need = keyBits - logSize
	}
	switch {
	case need <= 8:
		return NewTranspositionTable[uint8](keyBits, valueBits, logSize)
	case need <= 16:
		return NewTranspositionTable[uint16](keyBits, valueBits, logSize)
	case need <= 32:
		return NewTranspositionTable[uint32](keyBits, valueBits, logSize)
	default:
		return NewTranspositionTable[uint64](keyBits, valueBits, logSize)
	}
}

// LoadTable reads a read-only table from r: the stored keys as little-endian
// integers of keyBytes bytes each, followed by one byte per slot for values.
func LoadTable(r io.Reader, keyBytes int, logSize uint) (Table, error) {
	if keyBytes < 1 || keyBytes > 8 {
		return nil, fmt.Errorf("%w: key width %d bytes", ErrTableConfig, keyBytes)
	}
	if logSize > maxLogSize {
		return nil, fmt.Errorf("%w: log size %d exceeds %d", ErrTableConfig, logSize, maxLogSize)
	}

	partialBits := uint(keyBytes) * 8
	var err error
	switch {
	case keyBytes == 1:
		t := newTable[uint8](64, 8, partialBits, logSize)
		err = t.load(r, keyBytes)
		return t, err
	case keyBytes == 2:
		t := newTable[uint16](64, 8, partialBits, logSize)
		err = t.load(r, keyBytes)
		return t, err
	case keyBytes <= 4:
		t := newTable[uint32](64, 8, partialBits, logSize)
		err = t.load(r, keyBytes)
		return t, err
	default:
		t := newTable[uint64](64, 8, partialBits, logSize)
		err = t.load(r, keyBytes)
		return t, err
	}
}

func (tt *TranspositionTable[K]) load(r io.Reader, keyBytes int) error {
	br := bufio.NewReaderSize(r, 1<<16)
	buf := make([]byte, keyBytes)
	for i := range tt.keys {
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("reading key %d of %d: %w", i, tt.size, err)
		}
		var k uint64
		for j := keyBytes - 1; j >= 0; j-- {
			k = k<<8 | uint64(buf[j])
		}
		tt.keys[i] = K(k)
	}
	if _, err := io.ReadFull(br, tt.values); err != nil {
		return fmt.Errorf("reading %d values: %w", tt.size, err)
	}
	return nil
}

func (tt *TranspositionTable[K]) index(key uint64) uint64 {
	return key % tt.size
}

// Put stores a value for the key, evicting whatever used the slot.
// Keys or values wider than the table was configured for are a programming
// error and panic.
func (tt *TranspositionTable[K]) Put(key uint64, value uint8) {
	if tt.keyBits < 64 && key>>tt.keyBits != 0 {
		panic(fmt.Sprintf("transposition table: key %#x wider than %d bits", key, tt.keyBits))
	}
	if value>>tt.valueBits != 0 {
		panic(fmt.Sprintf("transposition table: value %d wider than %d bits", value, tt.valueBits))
	}
	i := tt.index(key)
	tt.keys[i] = K(key & tt.keyMask)
	tt.values[i] = value
}

// Get returns the value stored for the key, or 0 when the slot is empty or
// holds another key.
func (tt *TranspositionTable[K]) Get(key uint64) uint8 {
	tt.probes.Add(1)
	i := tt.index(key)
	if tt.keys[i] != K(key&tt.keyMask) {
		return 0
	}
	v := tt.values[i]
	if v != 0 {
		tt.hits.Add(1)
	}
	return v
}

// Reset empties the table.
func (tt *TranspositionTable[K]) Reset() {
	clear(tt.keys)
	clear(tt.values)
	tt.hits.Store(0)
	tt.probes.Store(0)
}

// Size returns the number of slots.
func (tt *TranspositionTable[K]) Size() uint64 {
	return tt.size
}

// HitRate returns the share of probes that found a value, as a percentage.
func (tt *TranspositionTable[K]) HitRate() float64 {
	probes := tt.probes.Load()
	if probes == 0 {
		return 0
	}
	return float64(tt.hits.Load()) / float64(probes) * 100
}

// SlotBytes returns the memory used by one slot of a table able to hold
// keyBits-bit keys in 2^logSize slots.
func SlotBytes(keyBits, logSize uint) uint64 {
	need := uint(0)
	if keyBits > logSize {
		need = keyBits - logSize
	}
	switch {
	case need <= 8:
		return 2
	case need <= 16:
		return 3
	case need <= 32:
		return 5
	default:
		return 9
	}
}

// FitLogSize lowers the requested log size until a table of keyBits-bit keys
// takes at most the given fraction of physical memory.
func FitLogSize(keyBits, logSize uint, fraction float64) uint {
	total := memory.TotalMemory()
	if total == 0 || fraction <= 0 {
		return logSize
	}
	budget := uint64(float64(total) * fraction)
	requested := logSize
	for logSize > 1 && (uint64(1)<<logSize)*SlotBytes(keyBits, logSize) > budget {
		logSize--
	}
	if logSize != requested {
		log.Warn().
			Uint("requested-log-size", requested).
			Uint("log-size", logSize).
			Str("budget", humanize.IBytes(budget)).
			Str("total-memory", humanize.IBytes(total)).
			Msg("transposition-table-shrunk")
	}
	return logSize
}

func lowMask(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<n - 1
}

// nextPrime returns the smallest prime greater than or equal to n.
func nextPrime(n uint64) uint64 {
	if n <= 2 {
		return 2
	}
	if n%2 == 0 {
		n++
	}
	for !isPrime(n) {
		n += 2
	}
	return n
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n < 4 {
		return true
	}
	if n%2 == 0 || n%3 == 0 {
		return false
	}
	for i := uint64(5); i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

// bitsFor returns the number of bits needed to represent v.
func bitsFor(v int) uint {
	return uint(bits.Len(uint(v)))
}
