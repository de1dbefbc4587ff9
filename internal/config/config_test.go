package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/streamio/internal/config"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	configDir := filepath.Join(dir, "streamio")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Drive.MaxFileHandles)
	assert.Nil(t, cfg.Splitter.Enabled)
	assert.Nil(t, cfg.Stats.History)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[streamer]
stats_interval = "2s"
idle_timeout = "10ms"

[drive]
max_file_handles = 8
memory_alignment = "4K"
seek_cost = "1ms"
bwlimit = "100M"
sequential_hint = false

[splitter]
max_read_size = "256K"
buffer_size = 1048576
adjust_offset = true
dependency_limit = 16

[cache]
enabled = false
num_blocks = 32

[stats]
history = "/tmp/streamio.db"
metrics_addr = ":9100"
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Streamer.StatsInterval)
	assert.Equal(t, 2*time.Second, *cfg.Streamer.StatsInterval)
	require.NotNil(t, cfg.Drive.MaxFileHandles)
	assert.Equal(t, 8, *cfg.Drive.MaxFileHandles)
	require.NotNil(t, cfg.Drive.BandwidthLimit)
	assert.Equal(t, config.Size(100<<20), *cfg.Drive.BandwidthLimit)
	require.NotNil(t, cfg.Splitter.BufferSize)
	assert.Equal(t, config.Size(1<<20), *cfg.Splitter.BufferSize, "plain integers are bytes")
	require.NotNil(t, cfg.Cache.Enabled)
	assert.False(t, *cfg.Cache.Enabled)
	require.NotNil(t, cfg.Stats.MetricsAddr)
	assert.Equal(t, ":9100", *cfg.Stats.MetricsAddr)

	// Unset fields remain nil.
	assert.Nil(t, cfg.Drive.MaxRequests)
	assert.Nil(t, cfg.Decompressor.MaxInFlight)

	drive := cfg.StorageDriveConfig()
	assert.Equal(t, 8, drive.MaxFileHandles)
	assert.Equal(t, uint64(4096), drive.MemoryAlignment)
	assert.Equal(t, time.Millisecond, drive.SeekCost)
	assert.Equal(t, 64, drive.MaxRequests, "defaults fill the gaps")

	fs := cfg.FileSystemConfig()
	assert.Equal(t, int64(100<<20), fs.BandwidthLimit)
	assert.False(t, fs.SequentialHint)

	splitter := cfg.ReadSplitterConfig()
	assert.Equal(t, uint64(256<<10), splitter.MaxReadSize)
	assert.True(t, splitter.AdjustOffset)
	assert.Equal(t, 16, splitter.DependencyLimit)
	assert.True(t, splitter.SplitAlignedRequests)

	assert.Equal(t, 32, cfg.DedicatedCacheConfig().Block.NumBlocks)
	assert.Equal(t, 10*time.Millisecond, cfg.StreamerConfig().IdleTimeout)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, "invalid [[[")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, "[drive]\nmax_handles = 3\n")

	_, err := config.Load()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "drive.max_handles")
}

func TestLoad_ValidationFailure(t *testing.T) {
	writeConfig(t, `
[splitter]
memory_alignment = 3000
max_read_size = 0

[cache]
num_blocks = -1
`)

	_, err := config.Load()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "splitter.memory_alignment must be a power of two")
	assert.Contains(t, err.Error(), "splitter.max_read_size must be positive")
	assert.Contains(t, err.Error(), "cache.num_blocks must be positive")
}

func TestValidate_DependencyLimit(t *testing.T) {
	cfg := config.Config{Splitter: config.SplitterConfig{DependencyLimit: config.Ptr(70000)}}
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
	assert.NoError(t, config.Config{}.Validate())
	assert.NoError(t, config.Defaults().Validate())

	one := config.Config{Splitter: config.SplitterConfig{DependencyLimit: config.Ptr(1)}}
	assert.ErrorIs(t, one.Validate(), config.ErrInvalidConfig, "a continuation needs room for two barriers")
}

func TestValidate_SplitterAlignment(t *testing.T) {
	cfg := config.Config{Splitter: config.SplitterConfig{
		MaxReadSize:   config.Ptr(config.Size(1024)),
		SizeAlignment: config.Ptr(config.Size(4096)),
		AdjustOffset:  config.Ptr(true),
	}}
	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "multiple of splitter.size_alignment")

	cfg.Splitter.AdjustOffset = config.Ptr(false)
	assert.NoError(t, cfg.Validate(), "the alignment only matters for adjusted offsets")

	cfg.Splitter.AdjustOffset = config.Ptr(true)
	cfg.Splitter.MaxReadSize = config.Ptr(config.Size(8192))
	assert.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/streamio/config.toml", config.Path())
}
