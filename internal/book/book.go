package book

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/hailam/connectplay/internal/board"
	"github.com/hailam/connectplay/internal/engine"
)

// Book format errors.
var (
	ErrBadHeader         = errors.New("invalid opening book header")
	ErrDimensionMismatch = errors.New("opening book built for another board size")
)

// headerSize is the length of the fixed header: width, height, depth, key
// bytes, value bytes and log2 of the table size, one byte each.
const headerSize = 6

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Header describes the table stored in a book file.
type Header struct {
	Width      int
	Height     int
	Depth      int // deepest ply with recorded positions
	KeyBytes   int
	ValueBytes int
	LogSize    uint
}

// Book is a precomputed table of positions up to a fixed depth, keyed by
// their symmetric base 3 key. It is read-only once loaded.
type Book struct {
	header Header
	table  engine.Table
}

// Load reads a book from a file. Files compressed with zstd are detected by
// their magic number and decompressed on the fly.
func Load(filename string) (*Book, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	b, err := LoadReader(file)
	if err != nil {
		return nil, fmt.Errorf("loading opening book %s: %w", filename, err)
	}
	if info, err := file.Stat(); err == nil {
		log.Info().
			Str("file", filename).
			Int("depth", b.header.Depth).
			Str("size", humanize.IBytes(uint64(info.Size()))).
			Msg("opening-book-loaded")
	}
	return b, nil
}

// LoadReader reads a book, plain or zstd-compressed, from r.
func LoadReader(r io.Reader) (*Book, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		return load(dec)
	}
	return load(br)
}

func load(r io.Reader) (*Book, error) {
	var raw [headerSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	h := Header{
		Width:      int(raw[0]),
		Height:     int(raw[1]),
		Depth:      int(raw[2]),
		KeyBytes:   int(raw[3]),
		ValueBytes: int(raw[4]),
		LogSize:    uint(raw[5]),
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	table, err := engine.LoadTable(r, h.KeyBytes, h.LogSize)
	if err != nil {
		return nil, fmt.Errorf("reading opening book table: %w", err)
	}
	return &Book{header: h, table: table}, nil
}

func (h Header) validate() error {
	if h.Width != board.Width || h.Height != board.Height {
		return fmt.Errorf("%w: %dx%d, want %dx%d", ErrDimensionMismatch, h.Width, h.Height, board.Width, board.Height)
	}
	switch {
	case h.Depth > board.Cells:
		return fmt.Errorf("%w: depth %d exceeds %d cells", ErrBadHeader, h.Depth, board.Cells)
	case h.KeyBytes < 1 || h.KeyBytes > 8:
		return fmt.Errorf("%w: key width %d bytes", ErrBadHeader, h.KeyBytes)
	case h.ValueBytes != 1:
		return fmt.Errorf("%w: value width %d bytes", ErrBadHeader, h.ValueBytes)
	}
	return nil
}

// Value returns the raw value stored for the position, or 0 when the
// position is deeper than the book or not recorded.
func (b *Book) Value(pos *board.Position) uint8 {
	if b == nil || pos.Moves() > b.header.Depth {
		return 0
	}
	return b.table.Get(pos.Key3())
}

// Get returns the 0-based column recorded for the position, if any.
func (b *Book) Get(pos *board.Position) (int, bool) {
	v := b.Value(pos)
	if v == 0 {
		return -1, false
	}
	return int(v) - 1, true
}

// Score returns the exact score recorded for the position, if any.
func (b *Book) Score(pos *board.Position) (int, bool) {
	v := b.Value(pos)
	if v == 0 {
		return 0, false
	}
	return int(v) + board.MinScore - 1, true
}

// Depth returns the deepest ply covered by the book, or -1 for a nil book.
func (b *Book) Depth() int {
	if b == nil {
		return -1
	}
	return b.header.Depth
}

// Header returns the header the book was loaded with.
func (b *Book) Header() Header {
	if b == nil {
		return Header{}
	}
	return b.header
}

// Size returns the number of table slots.
func (b *Book) Size() uint64 {
	if b == nil {
		return 0
	}
	return b.table.Size()
}
