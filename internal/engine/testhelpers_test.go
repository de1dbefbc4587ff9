package engine

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/streamio/internal/codec"
	"github.com/bamsammich/streamio/internal/fileio"
	"github.com/bamsammich/streamio/internal/streamer"
)

// startStreamer runs a full stack over the local file system with small
// read sizes so tests exercise splitting.
func startStreamer(t *testing.T) (*streamer.Streamer, *codec.Zstd) {
	t.Helper()
	z, err := codec.NewZstd()
	require.NoError(t, err)

	top := streamer.Chain(
		streamer.NewDecompressor(streamer.DefaultDecompressorConfig(), z),
		streamer.NewDedicatedCache(streamer.DedicatedCacheConfig{
			Block: streamer.BlockCacheConfig{BlockSize: 4096, NumBlocks: 8},
		}),
		streamer.NewReadSplitter(streamer.ReadSplitterConfig{
			MaxReadSize:          8192,
			SplitAlignedRequests: true,
			BufferSize:           64 * 1024,
		}),
		streamer.NewStorageDrive(streamer.StorageDriveConfig{MemoryAlignment: 1}, fileio.NewOS(fileio.OSConfig{})),
	)
	s := streamer.New(streamer.DefaultConfig(), top)
	s.Start(context.Background())
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		z.Close()
	})
	return s, z
}

func randomBytes(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, 1024))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rng.Uint32())
	}
	return buf
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
