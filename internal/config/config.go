// Package config loads the optional streamio configuration file and turns it
// into stage configurations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/streamio/internal/request"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the optional streamio configuration file. Unset fields
// keep the stage defaults.
type Config struct {
	Streamer     StreamerConfig     `toml:"streamer"`
	Drive        DriveConfig        `toml:"drive"`
	Splitter     SplitterConfig     `toml:"splitter"`
	Cache        CacheConfig        `toml:"cache"`
	Decompressor DecompressorConfig `toml:"decompressor"`
	Stats        StatsConfig        `toml:"stats"`
}

type StreamerConfig struct {
	StatsInterval *time.Duration `toml:"stats_interval"`
	IdleTimeout   *time.Duration `toml:"idle_timeout"`
}

type DriveConfig struct {
	MaxFileHandles  *int           `toml:"max_file_handles"`
	MaxRequests     *int           `toml:"max_requests"`
	MemoryAlignment *Size          `toml:"memory_alignment"`
	SeekCost        *time.Duration `toml:"seek_cost"`
	OpenCost        *time.Duration `toml:"open_cost"`
	Throughput      *Size          `toml:"throughput"`
	BandwidthLimit  *Size          `toml:"bwlimit"`
	SequentialHint  *bool          `toml:"sequential_hint"`
}

type SplitterConfig struct {
	Enabled         *bool `toml:"enabled"`
	MaxReadSize     *Size `toml:"max_read_size"`
	MemoryAlignment *Size `toml:"memory_alignment"`
	SizeAlignment   *Size `toml:"size_alignment"`
	AdjustOffset    *bool `toml:"adjust_offset"`
	BufferSize      *Size `toml:"buffer_size"`
	SplitAligned    *bool `toml:"split_aligned"`
	DependencyLimit *int  `toml:"dependency_limit"`
}

type CacheConfig struct {
	Enabled   *bool `toml:"enabled"`
	BlockSize *Size `toml:"block_size"`
	NumBlocks *int  `toml:"num_blocks"`
}

type DecompressorConfig struct {
	Enabled     *bool `toml:"enabled"`
	MaxInFlight *int  `toml:"max_in_flight"`
}

// StatsConfig holds the statistics sinks used by the CLI.
type StatsConfig struct {
	History     *string `toml:"history"`
	MetricsAddr *string `toml:"metrics_addr"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "streamio", "config.toml")
}

// Load reads the config file from the XDG path. A missing file yields a zero
// Config and no error.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the config file at path. A missing file
// yields a zero Config and no error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the stages cannot work with.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	positive := func(key string, v *int) {
		if v != nil && *v <= 0 {
			invalid("%s must be positive, got %d", key, *v)
		}
	}
	powerOfTwo := func(key string, v *Size) {
		if v != nil && !request.IsPowerOfTwo(uint64(*v)) {
			invalid("%s must be a power of two, got %d", key, *v)
		}
	}
	nonZero := func(key string, v *Size) {
		if v != nil && *v <= 0 {
			invalid("%s must be positive, got %d", key, *v)
		}
	}
	nonNegative := func(key string, v *time.Duration) {
		if v != nil && *v < 0 {
			invalid("%s must not be negative, got %s", key, *v)
		}
	}

	nonNegative("streamer.stats_interval", c.Streamer.StatsInterval)
	nonNegative("streamer.idle_timeout", c.Streamer.IdleTimeout)

	positive("drive.max_file_handles", c.Drive.MaxFileHandles)
	positive("drive.max_requests", c.Drive.MaxRequests)
	powerOfTwo("drive.memory_alignment", c.Drive.MemoryAlignment)
	nonNegative("drive.seek_cost", c.Drive.SeekCost)
	nonNegative("drive.open_cost", c.Drive.OpenCost)
	nonZero("drive.throughput", c.Drive.Throughput)
	if c.Drive.BandwidthLimit != nil && *c.Drive.BandwidthLimit < 0 {
		invalid("drive.bwlimit must not be negative, got %d", *c.Drive.BandwidthLimit)
	}

	nonZero("splitter.max_read_size", c.Splitter.MaxReadSize)
	powerOfTwo("splitter.memory_alignment", c.Splitter.MemoryAlignment)
	powerOfTwo("splitter.size_alignment", c.Splitter.SizeAlignment)
	if c.Splitter.BufferSize != nil && *c.Splitter.BufferSize < 0 {
		invalid("splitter.buffer_size must not be negative, got %d", *c.Splitter.BufferSize)
	}
	if d := c.Splitter.DependencyLimit; d != nil && (*d < 2 || *d > int(request.MaxDependencies)) {
		invalid("splitter.dependency_limit must be between 2 and %d, got %d", request.MaxDependencies, *d)
	}
	if len(errs) == 0 {
		// Either side may come from the defaults.
		sc := c.ReadSplitterConfig()
		if sc.AdjustOffset && sc.MaxReadSize%sc.SizeAlignment != 0 {
			invalid("splitter.max_read_size must be a multiple of splitter.size_alignment when adjust_offset is set, got %d and %d",
				sc.MaxReadSize, sc.SizeAlignment)
		}
	}

	nonZero("cache.block_size", c.Cache.BlockSize)
	positive("cache.num_blocks", c.Cache.NumBlocks)
	positive("decompressor.max_in_flight", c.Decompressor.MaxInFlight)

	return errors.Join(errs...)
}
