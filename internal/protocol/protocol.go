// Package protocol implements the line-oriented front end: every input line
// is either a move sequence to score or a command.
package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/hailam/connectplay/internal/board"
	"github.com/hailam/connectplay/internal/engine"
	"github.com/hailam/connectplay/internal/storage"
)

// ErrQuit is returned by Handle when the session should end.
var ErrQuit = errors.New("quit")

// Options control how queries are answered.
type Options struct {
	Weak    bool          // only compute win/draw/loss
	Analyze bool          // score every column for plain sequences
	Timeout time.Duration // per-query limit, 0 for none
	Verbose bool          // append node count and time to results
}

// StatsSource reports the contents of a persistent result cache.
type StatsSource interface {
	Stats() (storage.Stats, error)
}

// Protocol answers queries against an engine.
type Protocol struct {
	engine *engine.Engine
	opts   Options
	out    io.Writer
	cache  StatsSource

	// Session totals
	queries int
	nodes   uint64
	elapsed time.Duration
	last    SearchSummary
}

// SearchSummary describes the most recent search.
type SearchSummary struct {
	Nodes  uint64
	Time   time.Duration
	Cached bool
}

// New creates a protocol handler writing results to out.
func New(eng *engine.Engine, opts Options, out io.Writer) *Protocol {
	p := &Protocol{engine: eng, opts: opts, out: out}
	eng.OnInfo = p.onInfo
	return p
}

// SetCacheStats installs the source reported by the stats command.
func (p *Protocol) SetCacheStats(s StatsSource) {
	p.cache = s
}

func (p *Protocol) onInfo(info engine.SearchInfo) {
	p.last = SearchSummary{Nodes: info.Nodes, Time: info.Time, Cached: info.Cached}
	p.nodes += info.Nodes
	p.elapsed += info.Time
}

// Run reads lines from r until EOF, a quit command or ctx is done.
func (p *Protocol) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := p.handle(ctx, scanner.Text()); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// RunInteractive reads lines from the terminal with line editing and
// history until EOF, a quit command or ctx is done.
func (p *Protocol) RunInteractive(ctx context.Context, historyFile string) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "connectplay> ",
		HistoryFile:     historyFile,
		EOFPrompt:       "quit",
		InterruptPrompt: "^C",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	// unblock Readline when the session is cancelled from elsewhere
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := p.handle(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}
	}
}

// handle processes one line. Only cancellation of ctx and quitting are
// returned as errors; everything else is reported on the output.
func (p *Protocol) handle(ctx context.Context, line string) error {
	err := p.Handle(ctx, line)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQuit):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	p.println("Error: " + err.Error())
	return nil
}

// Handle processes one line: a command, or a move sequence answered with a
// score or an analysis depending on the options.
func (p *Protocol) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	// commands never start with a digit
	if line[0] >= '0' && line[0] <= '9' {
		return p.sequence(ctx, line)
	}

	fields, err := shellquote.Split(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "solve":
		return p.withSequence(args, func(pos *board.Position) error { return p.solve(ctx, pos) })
	case "analyze":
		return p.withSequence(args, func(pos *board.Position) error { return p.analyze(ctx, pos) })
	case "best":
		return p.withSequence(args, func(pos *board.Position) error { return p.best(ctx, pos) })
	case "board":
		pos, err := board.ParseBoard(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if pos.IsWon() {
			p.println("Game is already won")
			return nil
		}
		return p.query(ctx, pos)
	case "show":
		return p.withSequence(args, func(pos *board.Position) error {
			p.println(pos.String())
			return nil
		})
	case "weak":
		return p.toggle(&p.opts.Weak, cmd, args)
	case "analysis":
		return p.toggle(&p.opts.Analyze, cmd, args)
	case "reset":
		p.engine.Reset()
		p.println("Transposition table cleared")
		return nil
	case "stats":
		p.stats()
		return nil
	case "help":
		p.usage()
		return nil
	case "quit", "exit":
		return ErrQuit
	}

	// anything else is a move sequence, reported the way it was typed
	return p.sequence(ctx, line)
}

func (p *Protocol) sequence(ctx context.Context, seq string) error {
	pos, ok := p.parse(seq)
	if !ok {
		return nil
	}
	return p.query(ctx, pos)
}

// query scores a position or analyzes it, depending on the options.
func (p *Protocol) query(ctx context.Context, pos *board.Position) error {
	if p.opts.Analyze {
		return p.analyze(ctx, pos)
	}
	return p.solve(ctx, pos)
}

// parse replays a sequence, reporting the first invalid move.
func (p *Protocol) parse(seq string) (*board.Position, bool) {
	pos := board.NewPosition()
	n, err := pos.PlaySequence(seq)
	if err != nil {
		p.println(fmt.Sprintf("Invalid move %d in sequence: %s", n+1, seq))
		log.Debug().Err(err).Msg("invalid-sequence")
		return nil, false
	}
	return pos, true
}

func (p *Protocol) withSequence(args []string, fn func(*board.Position) error) error {
	seq := strings.Join(args, "")
	pos, ok := p.parse(seq)
	if !ok {
		return nil
	}
	return fn(pos)
}

func (p *Protocol) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	p.queries++
	if p.opts.Timeout > 0 {
		return context.WithTimeout(ctx, p.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// searchFailed turns an aborted search into a printed notice. Cancellation
// of the parent context is passed through.
func (p *Protocol) searchFailed(parent context.Context, err error) error {
	if errors.Is(err, engine.ErrSearchAborted) && parent.Err() == nil {
		p.println("Search aborted")
		log.Debug().Err(err).Msg("search-aborted")
		return nil
	}
	return err
}

func (p *Protocol) solve(ctx context.Context, pos *board.Position) error {
	qctx, cancel := p.queryContext(ctx)
	defer cancel()

	score, err := p.engine.Solve(qctx, pos, p.opts.Weak)
	if err != nil {
		return p.searchFailed(ctx, err)
	}
	p.println(p.withStats(strconv.Itoa(score)))
	return nil
}

func (p *Protocol) analyze(ctx context.Context, pos *board.Position) error {
	qctx, cancel := p.queryContext(ctx)
	defer cancel()

	scores, err := p.engine.Analyze(qctx, pos, p.opts.Weak)
	if err != nil {
		return p.searchFailed(ctx, err)
	}
	p.println(p.withStats(FormatScores(scores)))
	return nil
}

func (p *Protocol) best(ctx context.Context, pos *board.Position) error {
	qctx, cancel := p.queryContext(ctx)
	defer cancel()

	col, score, err := p.engine.BestColumn(qctx, pos, p.opts.Weak)
	if err != nil {
		return p.searchFailed(ctx, err)
	}
	if col < 0 {
		p.println("No playable column")
		return nil
	}
	p.println(p.withStats(fmt.Sprintf("%d %d", col+1, score)))
	return nil
}

func (p *Protocol) withStats(result string) string {
	if !p.opts.Verbose {
		return result
	}
	if p.last.Cached {
		return result + " cached"
	}
	return fmt.Sprintf("%s %d %d", result, p.last.Nodes, p.last.Time.Microseconds())
}

func (p *Protocol) toggle(flag *bool, name string, args []string) error {
	if len(args) == 0 {
		p.println(fmt.Sprintf("%s is %s", name, onOff(*flag)))
		return nil
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "1":
		*flag = true
	case "off", "false", "0":
		*flag = false
	default:
		return fmt.Errorf("usage: %s on|off", name)
	}
	p.println(fmt.Sprintf("%s is %s", name, onOff(*flag)))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (p *Protocol) stats() {
	solver := p.engine.Solver()
	table := solver.Table()
	p.println(fmt.Sprintf("queries: %d", p.queries))
	p.println(fmt.Sprintf("nodes: %s", humanize.Comma(int64(p.nodes))))
	p.println(fmt.Sprintf("search time: %s", p.elapsed.Round(time.Millisecond)))
	if p.elapsed > 0 {
		nps := float64(p.nodes) / p.elapsed.Seconds()
		p.println(fmt.Sprintf("nodes per second: %s", humanize.Comma(int64(nps))))
	}
	p.println(fmt.Sprintf("table slots: %s", humanize.Comma(int64(table.Size()))))
	p.println(fmt.Sprintf("table hit rate: %.1f%%", table.HitRate()))
	if p.cache != nil {
		st, err := p.cache.Stats()
		if err != nil {
			log.Warn().Err(err).Msg("cache-stats-failed")
			return
		}
		p.println(fmt.Sprintf("cached scores: %d", st.Scores))
		p.println(fmt.Sprintf("cached analyses: %d", st.Analyses))
	}
}

func (p *Protocol) usage() {
	lines := []string{
		"<moves>            score the position after the 1-based column digits",
		"solve <moves>      print the score of the position",
		"analyze <moves>    print the score of every column (" + strconv.Itoa(engine.InvalidMove) + " when full)",
		"best <moves>       print the best column and its score",
		"show <moves>       draw the position",
		"board <drawing>    score a drawn board: 42 of . x o, top row first",
		"weak on|off        only compute win/draw/loss",
		"analysis on|off    answer plain sequences with an analysis",
		"reset              clear the transposition table",
		"stats              print search statistics",
		"quit               exit",
	}
	for _, l := range lines {
		p.println(l)
	}
}

func (p *Protocol) println(s string) {
	io.WriteString(p.out, s)
	io.WriteString(p.out, "\n")
}

// FormatScores joins per-column scores with spaces.
func FormatScores(scores []int) string {
	return strings.Join(lo.Map(scores, func(s int, _ int) string {
		return strconv.Itoa(s)
	}), " ")
}
