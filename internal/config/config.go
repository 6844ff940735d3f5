// Package config loads settings from defaults, an optional config file,
// CONNECTPLAY_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hailam/connectplay/internal/engine"
	"github.com/hailam/connectplay/internal/storage"
)

// Configuration keys
const (
	KeyBook                = "book"
	KeyWeak                = "weak"
	KeyAnalyze             = "analyze"
	KeyTTLogSize           = "tt-log-size"
	KeyTTMaxMemoryFraction = "tt-max-memory-fraction"
	KeyCache               = "cache"
	KeyCacheDir            = "cache-dir"
	KeyCacheEntries        = "cache-entries"
	KeyTimeout             = "timeout"
	KeyLogLevel            = "log-level"
	KeyLogFormat           = "log-format"
	KeyInteractive         = "interactive"
	KeyCPUProfile          = "cpuprofile"
	KeyConfig              = "config"
)

// DefaultBook is the opening book looked up when none is configured.
const DefaultBook = "7x6.book"

// Modes for the log-format and interactive settings.
const (
	Auto    = "auto"
	Console = "console"
	JSON    = "json"
	Always  = "always"
	Never   = "never"
)

const envPrefix = "CONNECTPLAY"

// ErrHelp is returned by Load when usage was requested.
var ErrHelp = pflag.ErrHelp

// Config holds the resolved settings of a run.
type Config struct {
	Book                string
	Weak                bool
	Analyze             bool
	TTLogSize           uint
	TTMaxMemoryFraction float64
	Cache               bool
	CacheDir            string
	CacheEntries        int
	Timeout             time.Duration
	LogLevel            zerolog.Level
	LogFormat           string
	Interactive         string
	CPUProfile          string
	ConfigFile          string // config file actually read, if any
}

func newFlagSet(output io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("connectplay", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringP(KeyBook, "b", DefaultBook, "opening book file, empty to disable")
	fs.BoolP(KeyWeak, "w", false, "only compute win/draw/loss")
	fs.BoolP(KeyAnalyze, "a", false, "score every column instead of the position")
	fs.Uint(KeyTTLogSize, engine.DefaultLogSize, "log2 of the transposition table slot count")
	fs.Float64(KeyTTMaxMemoryFraction, 0.5, "largest share of physical memory the transposition table may use")
	fs.Bool(KeyCache, false, "keep solved positions in a persistent cache")
	fs.String(KeyCacheDir, "", "cache directory (default <data dir>/db)")
	fs.Int(KeyCacheEntries, 100000, "results kept in memory per kind, 0 to disable")
	fs.Duration(KeyTimeout, 0, "give up on a query after this long, 0 for no limit")
	fs.String(KeyLogLevel, "info", "log level: trace, debug, info, warn, error")
	fs.String(KeyLogFormat, Auto, "log format: auto, console or json")
	fs.String(KeyInteractive, Auto, "line editing prompt: auto, always or never")
	fs.String(KeyCPUProfile, "", "write cpu profile to file")
	fs.String(KeyConfig, "", "config file (default ./connectplay.yaml or <data dir>/connectplay.yaml)")
	return fs
}

// Load resolves the configuration for the given command-line arguments
// (without the program name). Usage goes to output.
func Load(args []string, output io.Writer) (*Config, error) {
	fs := newFlagSet(output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}

	cfg := &Config{
		Book:                v.GetString(KeyBook),
		Weak:                v.GetBool(KeyWeak),
		Analyze:             v.GetBool(KeyAnalyze),
		TTLogSize:           v.GetUint(KeyTTLogSize),
		TTMaxMemoryFraction: v.GetFloat64(KeyTTMaxMemoryFraction),
		Cache:               v.GetBool(KeyCache),
		CacheDir:            v.GetString(KeyCacheDir),
		CacheEntries:        v.GetInt(KeyCacheEntries),
		Timeout:             v.GetDuration(KeyTimeout),
		LogLevel:            level,
		LogFormat:           strings.ToLower(v.GetString(KeyLogFormat)),
		Interactive:         strings.ToLower(v.GetString(KeyInteractive)),
		CPUProfile:          v.GetString(KeyCPUProfile),
		ConfigFile:          v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	v.SetConfigName("connectplay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dataDir, err := storage.GetDataDir(); err == nil {
		v.AddConfigPath(dataDir)
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Validate checks that every setting is within range.
func (c *Config) Validate() error {
	switch {
	case c.TTLogSize < 1 || c.TTLogSize > 36:
		return fmt.Errorf("%s must be between 1 and 36, got %d", KeyTTLogSize, c.TTLogSize)
	case c.TTMaxMemoryFraction < 0 || c.TTMaxMemoryFraction > 1:
		return fmt.Errorf("%s must be between 0 and 1, got %g", KeyTTMaxMemoryFraction, c.TTMaxMemoryFraction)
	case c.CacheEntries < 0:
		return fmt.Errorf("%s must not be negative, got %d", KeyCacheEntries, c.CacheEntries)
	case c.Timeout < 0:
		return fmt.Errorf("%s must not be negative, got %s", KeyTimeout, c.Timeout)
	}
	if c.LogFormat != Auto && c.LogFormat != Console && c.LogFormat != JSON {
		return fmt.Errorf("%s must be auto, console or json, got %q", KeyLogFormat, c.LogFormat)
	}
	if c.Interactive != Auto && c.Interactive != Always && c.Interactive != Never {
		return fmt.Errorf("%s must be auto, always or never, got %q", KeyInteractive, c.Interactive)
	}
	return nil
}

// Usage writes the flag help text.
func Usage(output io.Writer) {
	fs := newFlagSet(output)
	fmt.Fprintln(output, "Usage: connectplay [flags]")
	fmt.Fprintln(output, "Reads one move sequence (1-based column digits) per line and prints its score.")
	fs.PrintDefaults()
}
