package fileio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle_Burst(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 4096, NewThrottle(4096).Burst(), "slow limits burst one second's worth")
	assert.Equal(t, maxBurst, NewThrottle(100<<20).Burst())
}

func TestThrottle_TakeLargerThanBurst(t *testing.T) {
	t.Parallel()
	th := NewThrottle(1 << 20)
	require.NoError(t, th.Take(context.Background(), 0))
	// The first megabyte is the burst, the rest arrives at the limit.
	start := time.Now()
	require.NoError(t, th.Take(context.Background(), maxBurst+maxBurst/4))
	assert.Greater(t, time.Since(start), 150*time.Millisecond)
}

func TestThrottle_Canceled(t *testing.T) {
	t.Parallel()
	th := NewThrottle(1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, th.Take(ctx, 10), context.Canceled)
}

func TestOS_ThrottledReadsAreSlowed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o644))

	f, err := NewOS(OSConfig{BandwidthLimit: 4096}).Open(path)
	require.NoError(t, err)
	defer f.Close()

	start := time.Now()
	buf := make([]byte, 4096)
	for range 2 {
		_, err := io.ReadFull(f, buf)
		require.NoError(t, err)
	}
	assert.Greater(t, time.Since(start), 500*time.Millisecond, "the second read waits for tokens")
}
