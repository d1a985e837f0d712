// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/ZacharyZcR/PEInspect/internal/digest"
	"github.com/xyproto/env/v2"
)

// Environment variable names.
const (
	EnvAlgorithms = "PEINSPECT_ALGORITHMS"
	EnvWorkers    = "PEINSPECT_WORKERS"
	EnvChunkSize  = "PEINSPECT_CHUNK_SIZE"
	EnvMmap       = "PEINSPECT_MMAP"
	EnvNoColor    = "PEINSPECT_NO_COLOR"
	EnvLogLevel   = "PEINSPECT_LOG_LEVEL"
)

// ErrInvalid marks a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every tunable of an analysis run.
type Config struct {
	Algorithms []string
	Workers    int
	ChunkSize  int
	UseMmap    bool
	NoColor    bool
	LogLevel   string
}

// Default returns the built-in settings.
func Default() Config {
	algs := make([]string, 0, len(digest.Default))
	for _, a := range digest.Default {
		algs = append(algs, string(a))
	}
	return Config{
		Algorithms: algs,
		Workers:    runtime.NumCPU(),
		ChunkSize:  digest.DefaultChunkSize,
		UseMmap:    true,
		LogLevel:   "info",
	}
}

// Load overlays environment variables on Default. The result is not
// validated; callers apply flag overrides first and then call Validate.
func Load() Config {
	// env caches os.Environ on first use; refresh it so every Load sees
	// the current environment.
	env.Load()
	c := Default()

	if s := env.Str(EnvAlgorithms); s != "" {
		c.Algorithms = splitList(s)
	}
	c.Workers = env.Int(EnvWorkers, c.Workers)
	c.ChunkSize = env.Int(EnvChunkSize, c.ChunkSize)
	if env.Has(EnvMmap) {
		c.UseMmap = env.Bool(EnvMmap)
	}
	c.NoColor = env.Bool(EnvNoColor)
	if s := env.Str(EnvLogLevel); s != "" {
		c.LogLevel = s
	}

	return c
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalid, c.Workers)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalid, c.ChunkSize)
	}
	if _, err := c.DigestAlgorithms(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// DigestAlgorithms parses the configured algorithm names.
func (c Config) DigestAlgorithms() ([]digest.Algorithm, error) {
	return digest.ParseAlgorithms(c.Algorithms)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
