package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/connectplay/internal/book"
	"github.com/hailam/connectplay/internal/config"
	"github.com/hailam/connectplay/internal/engine"
	"github.com/hailam/connectplay/internal/protocol"
	"github.com/hailam/connectplay/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "connectplay:", err)
		config.Usage(os.Stderr)
		os.Exit(2)
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("connectplay-failed")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	console := cfg.LogFormat == config.Console ||
		(cfg.LogFormat == config.Auto && readline.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.ConfigFile != "" {
		log.Debug().Str("file", cfg.ConfigFile).Msg("config-file-loaded")
	}
}

func run(cfg *config.Config) error {
	// Start CPU profiling if requested (via flag or environment variable)
	profilePath := cfg.CPUProfile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		log.Info().Str("file", profilePath).Msg("cpu-profiling-enabled")
	}

	logSize := engine.FitLogSize(engine.KeyBits, cfg.TTLogSize, cfg.TTMaxMemoryFraction)
	eng, err := engine.NewEngine(logSize)
	if err != nil {
		return err
	}

	if b := loadBook(cfg.Book); b != nil {
		eng.SetBook(b)
	}

	proto := protocol.New(eng, protocol.Options{
		Weak:    cfg.Weak,
		Analyze: cfg.Analyze,
		Timeout: cfg.Timeout,
		Verbose: cfg.LogLevel <= zerolog.DebugLevel,
	}, os.Stdout)

	var persistent engine.Cache
	if cfg.Cache {
		if cache := openCache(cfg.CacheDir); cache != nil {
			defer cache.Close()
			persistent = cache
			proto.SetCacheStats(cache)
		}
	}
	switch {
	case cfg.CacheEntries > 0:
		eng.SetCache(engine.NewMemoryCache(persistent, cfg.CacheEntries))
	case persistent != nil:
		eng.SetCache(persistent)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	done := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		defer cancel()
		if interactive(cfg) {
			return proto.RunInteractive(ctx, historyFile())
		}
		return proto.Run(ctx, os.Stdin)
	})
	g.Go(func() error {
		<-ctx.Done()
		if sigCtx.Err() == nil {
			return nil
		}
		// We received an interrupt signal, shut down.
		log.Info().Msg("got-quit-signal")
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			// still blocked reading input
			log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown-timeout")
			os.Exit(1)
		}
		return nil
	})
	return g.Wait()
}

// loadBook loads the opening book, logging a warning when it cannot be used.
// The solver works without one, only slower near the start of the game.
func loadBook(name string) *book.Book {
	if name == "" {
		return nil
	}
	path, err := storage.FindBook(name)
	if err != nil {
		log.Warn().Err(err).Str("book", name).Msg("opening-book-not-found")
		return nil
	}
	b, err := book.Load(path)
	if err != nil {
		log.Warn().Err(err).Str("book", path).Msg("opening-book-not-loaded")
		return nil
	}
	return b
}

func openCache(dir string) *storage.Cache {
	if dir == "" {
		var err error
		if dir, err = storage.GetDatabaseDir(); err != nil {
			log.Warn().Err(err).Msg("cache-dir-unavailable")
			return nil
		}
	}
	cache, err := storage.Open(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("cache-not-opened")
		return nil
	}
	return cache
}

func interactive(cfg *config.Config) bool {
	switch cfg.Interactive {
	case config.Always:
		return true
	case config.Never:
		return false
	}
	return readline.IsTerminal(int(os.Stdin.Fd()))
}

func historyFile() string {
	dataDir, err := storage.GetDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dataDir, "history")
}
