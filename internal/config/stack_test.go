package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/streamio/internal/codec"
	"github.com/bamsammich/streamio/internal/config"
	"github.com/bamsammich/streamio/internal/fileio"
	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/streamer"
)

func stageNames(entries []streamer.Entry) []string {
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStack_Order(t *testing.T) {
	z, err := codec.NewZstd()
	require.NoError(t, err)
	defer z.Close()
	fs := fileio.NewOS(fileio.OSConfig{})

	assert.Equal(t,
		[]string{"Decompressor", "DedicatedCache", "ReadSplitter", "StorageDrive"},
		stageNames(config.Config{}.Stack(fs, z)))

	assert.Equal(t,
		[]string{"DedicatedCache", "ReadSplitter", "StorageDrive"},
		stageNames(config.Config{}.Stack(fs, nil)), "no codec, no decompressor")

	off := config.Config{
		Splitter: config.SplitterConfig{Enabled: config.Ptr(false)},
		Cache:    config.CacheConfig{Enabled: config.Ptr(false)},
	}
	assert.Equal(t, []string{"StorageDrive"}, stageNames(off.Stack(fs, z)[1:]))
}

func TestNewStreamer_ReadsThroughConfiguredStack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg := config.Config{
		Streamer: config.StreamerConfig{StatsInterval: config.Ptr[time.Duration](0)},
		Splitter: config.SplitterConfig{MaxReadSize: config.Ptr(config.Size(1024))},
	}
	s := cfg.NewStreamer(fileio.NewOS(cfg.FileSystemConfig()), nil)
	defer s.Close()

	out := make([]byte, 5000)
	h := s.Read(path, out, 123, streamer.NoDeadline, request.PriorityMedium)
	s.QueueRequest(h)
	s.RunUntilIdle()

	require.Equal(t, request.Completed, s.GetRequestStatus(h))
	assert.Equal(t, data[123:5123], out)
	h.Release()
}
