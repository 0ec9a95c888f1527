// Package config handles arbor.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/arbor/vm"
	"github.com/xyproto/env/v2"
)

// FileName is the name of the configuration file.
const FileName = "arbor.toml"

// Environment variables that override the file.
const (
	EnvArenaWords = "ARBOR_ARENA_WORDS"
	EnvFunctions  = "ARBOR_FUNCTIONS"
	EnvFiniteness = "ARBOR_FINITENESS"
	EnvVerbose    = "ARBOR_VERBOSE"
	EnvGCInterval = "ARBOR_GC_INTERVAL"
)

// Config represents an arbor.toml file.
type Config struct {
	Arena     Arena     `toml:"arena"`
	Functions Functions `toml:"functions"`
	Run       Run       `toml:"run"`
	Debug     Debug     `toml:"debug"`
	GC        GC        `toml:"gc"`

	// Dir is the directory containing the arbor.toml file (set at load time).
	Dir string `toml:"-"`
}

// Arena sizes the word arena.
type Arena struct {
	Words uint64 `toml:"words"`
}

// Functions sizes the compiled-function pool.
type Functions struct {
	Capacity int `toml:"capacity"`
}

// Run configures invocations.
type Run struct {
	Finiteness uint64 `toml:"finiteness"`
}

// Debug toggles diagnostics.
type Debug struct {
	Verbose bool `toml:"verbose"`
	Trace   bool `toml:"trace"`
}

// GC configures periodic collection. A zero interval disables it.
type GC struct {
	Interval Duration `toml:"interval"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Arena:     Arena{Words: vm.DefaultArenaWords},
		Functions: Functions{Capacity: vm.DefaultFunctions},
		Run:       Run{Finiteness: vm.DefaultFiniteness},
	}
}

// Load parses the arbor.toml file in dir over the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an arbor.toml file, then loads
// it. It returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ApplyEnv overrides fields from ARBOR_* environment variables.
func (c *Config) ApplyEnv() error {
	// env caches the environment on first read; reload to see changes
	// made since.
	env.Load()
	if env.Has(EnvArenaWords) {
		n := env.Int(EnvArenaWords, -1)
		if n <= 0 {
			return fmt.Errorf("%s: want a positive integer, got %q", EnvArenaWords, env.Str(EnvArenaWords))
		}
		c.Arena.Words = uint64(n)
	}
	if env.Has(EnvFunctions) {
		n := env.Int(EnvFunctions, -1)
		if n <= 0 {
			return fmt.Errorf("%s: want a positive integer, got %q", EnvFunctions, env.Str(EnvFunctions))
		}
		c.Functions.Capacity = n
	}
	if env.Has(EnvFiniteness) {
		n := env.Int(EnvFiniteness, -1)
		if n <= 0 {
			return fmt.Errorf("%s: want a positive integer, got %q", EnvFiniteness, env.Str(EnvFiniteness))
		}
		c.Run.Finiteness = uint64(n)
	}
	if env.Has(EnvVerbose) {
		c.Debug.Verbose = env.Bool(EnvVerbose)
	}
	if env.Has(EnvGCInterval) {
		var d Duration
		if err := d.UnmarshalText([]byte(env.Str(EnvGCInterval))); err != nil {
			return fmt.Errorf("%s: %w", EnvGCInterval, err)
		}
		c.GC.Interval = d
	}
	return c.Validate()
}

// Validate checks that every size is usable.
func (c *Config) Validate() error {
	switch {
	case c.Arena.Words == 0:
		return errors.New("arena.words must be positive")
	case c.Functions.Capacity <= 0:
		return errors.New("functions.capacity must be positive")
	case c.Run.Finiteness == 0:
		return errors.New("run.finiteness must be positive")
	case c.GC.Interval < 0:
		return errors.New("gc.interval must not be negative")
	}
	return nil
}

// VMOptions maps the configuration onto VM options.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		ArenaWords: c.Arena.Words,
		Functions:  c.Functions.Capacity,
		Finiteness: c.Run.Finiteness,
		Trace:      c.Debug.Trace,
	}
}
