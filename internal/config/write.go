package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/streamer"
)

// Write encodes cfg to path, creating the parent directory if needed. Unset
// fields are left out of the file.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Defaults returns a Config with every field set to the value the stages use
// when the file leaves it out.
func Defaults() Config {
	drive := streamer.DefaultStorageDriveConfig()
	splitter := streamer.DefaultReadSplitterConfig()
	cache := streamer.DefaultDedicatedCacheConfig()
	dec := streamer.DefaultDecompressorConfig()
	st := streamer.DefaultConfig()
	return Config{
		Streamer: StreamerConfig{
			StatsInterval: Ptr(st.StatsInterval),
			IdleTimeout:   Ptr(st.IdleTimeout),
		},
		Drive: DriveConfig{
			MaxFileHandles:  Ptr(drive.MaxFileHandles),
			MaxRequests:     Ptr(drive.MaxRequests),
			MemoryAlignment: Ptr(Size(drive.MemoryAlignment)),
			SeekCost:        Ptr(drive.SeekCost),
			OpenCost:        Ptr(drive.OpenCost),
			Throughput:      Ptr(Size(drive.Throughput)),
			BandwidthLimit:  Ptr(Size(0)),
			SequentialHint:  Ptr(true),
		},
		Splitter: SplitterConfig{
			Enabled:         Ptr(true),
			MaxReadSize:     Ptr(Size(splitter.MaxReadSize)),
			MemoryAlignment: Ptr(Size(splitter.MemoryAlignment)),
			SizeAlignment:   Ptr(Size(splitter.SizeAlignment)),
			AdjustOffset:    Ptr(splitter.AdjustOffset),
			BufferSize:      Ptr(Size(splitter.BufferSize)),
			SplitAligned:    Ptr(splitter.SplitAlignedRequests),
			DependencyLimit: Ptr(int(request.MaxDependencies)),
		},
		Cache: CacheConfig{
			Enabled:   Ptr(true),
			BlockSize: Ptr(Size(cache.Block.BlockSize)),
			NumBlocks: Ptr(cache.Block.NumBlocks),
		},
		Decompressor: DecompressorConfig{
			Enabled:     Ptr(true),
			MaxInFlight: Ptr(dec.MaxInFlight),
		},
	}
}
