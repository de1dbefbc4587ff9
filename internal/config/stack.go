package config

import (
	"github.com/bamsammich/streamio/internal/codec"
	"github.com/bamsammich/streamio/internal/fileio"
	"github.com/bamsammich/streamio/internal/streamer"
)

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setSize[T uint64 | float64 | int64](dst *T, v *Size) {
	if v != nil {
		*dst = T(*v)
	}
}

// StreamerConfig returns the scheduler settings.
func (c Config) StreamerConfig() streamer.Config {
	cfg := streamer.DefaultConfig()
	set(&cfg.StatsInterval, c.Streamer.StatsInterval)
	set(&cfg.IdleTimeout, c.Streamer.IdleTimeout)
	return cfg
}

func (c Config) StorageDriveConfig() streamer.StorageDriveConfig {
	cfg := streamer.DefaultStorageDriveConfig()
	set(&cfg.MaxFileHandles, c.Drive.MaxFileHandles)
	set(&cfg.MaxRequests, c.Drive.MaxRequests)
	setSize(&cfg.MemoryAlignment, c.Drive.MemoryAlignment)
	set(&cfg.SeekCost, c.Drive.SeekCost)
	set(&cfg.OpenCost, c.Drive.OpenCost)
	setSize(&cfg.Throughput, c.Drive.Throughput)
	return cfg
}

// FileSystemConfig returns the OS file system settings. Sequential access
// hints are on unless disabled.
func (c Config) FileSystemConfig() fileio.OSConfig {
	cfg := fileio.OSConfig{SequentialHint: true}
	setSize(&cfg.BandwidthLimit, c.Drive.BandwidthLimit)
	set(&cfg.SequentialHint, c.Drive.SequentialHint)
	return cfg
}

func (c Config) ReadSplitterConfig() streamer.ReadSplitterConfig {
	cfg := streamer.DefaultReadSplitterConfig()
	setSize(&cfg.MaxReadSize, c.Splitter.MaxReadSize)
	setSize(&cfg.MemoryAlignment, c.Splitter.MemoryAlignment)
	setSize(&cfg.SizeAlignment, c.Splitter.SizeAlignment)
	set(&cfg.AdjustOffset, c.Splitter.AdjustOffset)
	setSize(&cfg.BufferSize, c.Splitter.BufferSize)
	set(&cfg.SplitAlignedRequests, c.Splitter.SplitAligned)
	set(&cfg.DependencyLimit, c.Splitter.DependencyLimit)
	return cfg
}

func (c Config) DedicatedCacheConfig() streamer.DedicatedCacheConfig {
	cfg := streamer.DefaultDedicatedCacheConfig()
	setSize(&cfg.Block.BlockSize, c.Cache.BlockSize)
	set(&cfg.Block.NumBlocks, c.Cache.NumBlocks)
	return cfg
}

func (c Config) DecompressorConfig() streamer.DecompressorConfig {
	cfg := streamer.DefaultDecompressorConfig()
	set(&cfg.MaxInFlight, c.Decompressor.MaxInFlight)
	return cfg
}

func enabled(v *bool) bool { return v == nil || *v }

// Stack builds the stages top to bottom: Decompressor, DedicatedCache,
// ReadSplitter, StorageDrive. Disabled stages are left out, and the
// Decompressor is also left out when cd is nil.
func (c Config) Stack(fs fileio.FileSystem, cd codec.Codec) []streamer.Entry {
	var entries []streamer.Entry
	if cd != nil && enabled(c.Decompressor.Enabled) {
		entries = append(entries, streamer.NewDecompressor(c.DecompressorConfig(), cd))
	}
	if enabled(c.Cache.Enabled) {
		entries = append(entries, streamer.NewDedicatedCache(c.DedicatedCacheConfig()))
	}
	if enabled(c.Splitter.Enabled) {
		entries = append(entries, streamer.NewReadSplitter(c.ReadSplitterConfig()))
	}
	return append(entries, streamer.NewStorageDrive(c.StorageDriveConfig(), fs))
}

// NewStreamer builds the stack and wraps it in a Streamer.
func (c Config) NewStreamer(fs fileio.FileSystem, cd codec.Codec) *streamer.Streamer {
	return streamer.New(c.StreamerConfig(), streamer.Chain(c.Stack(fs, cd)...))
}
