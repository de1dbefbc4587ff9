package streamer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/streamio/internal/request"
)

func newCacheStack(t *testing.T, fs *memFS) (*Streamer, *DedicatedCache) {
	t.Helper()
	dc := NewDedicatedCache(DedicatedCacheConfig{Block: BlockCacheConfig{BlockSize: 64, NumBlocks: 4}})
	return newTestStreamer(t, dc, NewStorageDrive(testDriveConfig(), fs)), dc
}

func queueAndRun(t *testing.T, s *Streamer, h Handle) request.Status {
	t.Helper()
	s.QueueRequest(h)
	s.RunUntilIdle()
	return s.GetRequestStatus(h)
}

func TestDedicatedCache_RefCounting(t *testing.T) {
	fs := newMemFS()
	data := patterned(1024)
	fs.add("/data/a", data)
	s, dc := newCacheStack(t, fs)

	for range 3 {
		require.Equal(t, request.Completed, queueAndRun(t, s, s.CreateDedicatedCache("/data/a")))
	}
	assert.Equal(t, 1, dc.NumCaches(), "creates of the same key share one cache")

	// The first read loads block 0; every later one is served from it.
	runRead(t, s, "/data/a", make([]byte, 10), 0).Release()
	for i := range 2 {
		require.Equal(t, request.Completed, queueAndRun(t, s, s.DestroyDedicatedCache("/data/a")))
		require.Equal(t, 1, dc.NumCaches(), "the cache lives while references remain (destroy %d)", i+1)

		out := make([]byte, 10)
		h := runRead(t, s, "/data/a", out, 5)
		require.Equal(t, request.Completed, s.GetRequestStatus(h))
		assert.Equal(t, data[5:15], out)
		hitRate := float64(i+1) / float64(i+2)
		assert.InDelta(t, hitRate, statValue(t, s.Statistics(), "DedicatedCache.Cache.0.HitRate"), 1e-9,
			"reads are still routed to the cache")
		h.Release()
	}

	require.Equal(t, request.Completed, queueAndRun(t, s, s.DestroyDedicatedCache("/data/a")))
	assert.Zero(t, dc.NumCaches())

	assert.Equal(t, request.Failed, queueAndRun(t, s, s.DestroyDedicatedCache("/data/a")),
		"destroying an unknown cache fails")
}

func TestDedicatedCache_ServesRepeatedReadsFromMemory(t *testing.T) {
	fs := newMemFS()
	data := patterned(1024)
	fs.add("/data/a", data)
	s, _ := newCacheStack(t, fs)
	require.Equal(t, request.Completed, queueAndRun(t, s, s.CreateDedicatedCache("/data/a")))

	first := make([]byte, 100)
	runRead(t, s, "/data/a", first, 10).Release()
	assert.Equal(t, data[10:110], first)
	_, _, readsAfterMiss := fs.counts()
	assert.Equal(t, 2, readsAfterMiss, "blocks 0 and 1 are loaded whole")

	second := make([]byte, 50)
	runRead(t, s, "/data/a", second, 60).Release()
	assert.Equal(t, data[60:110], second)
	_, _, reads := fs.counts()
	assert.Equal(t, readsAfterMiss, reads, "a cached range never reaches the file")
	assert.InDelta(t, 0.5, statValue(t, s.Statistics(), "DedicatedCache.Cache.0.HitRate"), 1e-9)

	require.Equal(t, request.Completed, queueAndRun(t, s, s.FlushCache("/data/a")))
	runRead(t, s, "/data/a", second, 60).Release()
	_, _, reads = fs.counts()
	assert.Greater(t, reads, readsAfterMiss, "flushed blocks are read again")
}

func TestDedicatedCache_LastBlockIsShort(t *testing.T) {
	fs := newMemFS()
	data := patterned(100)
	fs.add("/data/a", data)
	s, _ := newCacheStack(t, fs)
	require.Equal(t, request.Completed, queueAndRun(t, s, s.CreateDedicatedCache("/data/a")))

	out := make([]byte, 30)
	h := runRead(t, s, "/data/a", out, 70)
	require.Equal(t, request.Completed, s.GetRequestStatus(h))
	assert.Equal(t, data[70:], out)

	pastEnd := runRead(t, s, "/data/a", make([]byte, 30), 80)
	assert.Equal(t, request.Failed, s.GetRequestStatus(pastEnd), "reads past the end are not masked by the cache")
}

func TestDedicatedCache_RangeBound(t *testing.T) {
	fs := newMemFS()
	data := patterned(1024)
	fs.add("/data/a", data)
	s, _ := newCacheStack(t, fs)
	rng := request.RangeOf(256, 256)
	require.Equal(t, request.Completed, queueAndRun(t, s, s.CreateDedicatedCacheRange("/data/a", rng)))

	outside := make([]byte, 16)
	runRead(t, s, "/data/a", outside, 0).Release()
	inside := make([]byte, 16)
	runRead(t, s, "/data/a", inside, 300).Release()

	assert.Equal(t, data[:16], outside)
	assert.Equal(t, data[300:316], inside)
	assert.InDelta(t, 0.5, statValue(t, s.Statistics(), "DedicatedCache.HitRate"), 1e-9)

	assert.Equal(t, request.Failed, queueAndRun(t, s, s.DestroyDedicatedCache("/data/a")),
		"the whole-file key is a different cache")
	assert.Equal(t, request.Completed, queueAndRun(t, s, s.DestroyDedicatedCacheRange("/data/a", rng)))
}

func TestDedicatedCache_LargeReadPassesThrough(t *testing.T) {
	fs := newMemFS()
	data := patterned(2048)
	fs.add("/data/a", data)
	s, _ := newCacheStack(t, fs)
	require.Equal(t, request.Completed, queueAndRun(t, s, s.CreateDedicatedCache("/data/a")))

	// Eight blocks are needed but only four exist.
	out := make([]byte, 512)
	h := runRead(t, s, "/data/a", out, 0)
	require.Equal(t, request.Completed, s.GetRequestStatus(h))
	assert.Equal(t, data[:512], out)
	assert.InDelta(t, 1, statValue(t, s.Statistics(), "DedicatedCache.Cache.0.Uncached"), 0)
}

func TestDedicatedCache_Report(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(128))
	s, _ := newCacheStack(t, fs)
	require.Equal(t, request.Completed, queueAndRun(t, s, s.CreateDedicatedCache("/data/a")))

	h := s.Report(request.ReportCaches)
	require.Equal(t, request.Completed, queueAndRun(t, s, h))
	lines, ok := s.GetReportResult(h)
	require.True(t, ok)
	report := strings.Join(lines, "\n")
	assert.Contains(t, report, "DedicatedCache: 1 caches")
	assert.Contains(t, report, "/data/a [entire file]")
	assert.Contains(t, report, "refs 1")
}
