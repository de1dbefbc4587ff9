package streamer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

func statValue(t *testing.T, all []stats.Stat, name string) float64 {
	t.Helper()
	s, ok := stats.Find(all, name)
	require.True(t, ok, "missing stat %s", name)
	return s.Value
}

func TestStorageDrive_Read(t *testing.T) {
	fs := newMemFS()
	data := patterned(1000)
	fs.add("/data/a.bin", data)
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	out := make([]byte, 100)
	h := runRead(t, s, "/data/a.bin", out, 50)

	assert.Equal(t, request.Completed, s.GetRequestStatus(h))
	got, ok := s.GetReadRequestResult(h, false)
	require.True(t, ok)
	assert.Equal(t, data[50:150], got)
	h.Release()
}

func TestStorageDrive_ReadFailures(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a.bin", patterned(100))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	pastEOF := runRead(t, s, "/data/a.bin", make([]byte, 50), 80)
	assert.Equal(t, request.Failed, s.GetRequestStatus(pastEOF), "short reads fail")
	_, ok := s.GetReadRequestResult(pastEOF, false)
	assert.False(t, ok)

	missing := runRead(t, s, "/data/missing.bin", make([]byte, 10), 0)
	assert.Equal(t, request.Failed, s.GetRequestStatus(missing))

	s.RunUntilIdle()
	assert.InDelta(t, 2, statValue(t, s.Statistics(), "StorageDrive.ReadFailures"), 0)
	assert.InDelta(t, 2, statValue(t, s.Statistics(), "Streamer.RequestsFailed"), 0)
}

func TestStorageDrive_SequentialReadsSkipSeek(t *testing.T) {
	fs := newMemFS()
	data := patterned(300)
	fs.add("/data/a.bin", data)
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	first := make([]byte, 100)
	second := make([]byte, 100)
	h1 := s.Read("/data/a.bin", first, 0, NoDeadline, request.PriorityMedium)
	h2 := s.Read("/data/a.bin", second, 100, NoDeadline, request.PriorityMedium)
	s.QueueRequestBatch([]Handle{h1, h2})
	s.RunUntilIdle()

	assert.Equal(t, data[:100], first)
	assert.Equal(t, data[100:200], second)
	assert.InDelta(t, 1, statValue(t, s.Statistics(), "StorageDrive.Seeks"), 0, "only the first read seeks")

	third := runRead(t, s, "/data/a.bin", make([]byte, 10), 0)
	assert.Equal(t, request.Completed, s.GetRequestStatus(third))
	assert.InDelta(t, 2, statValue(t, s.Statistics(), "StorageDrive.Seeks"), 0)
}

func TestStorageDrive_HandleEvictionAndReopen(t *testing.T) {
	fs := newMemFS()
	for _, name := range []string{"/data/a", "/data/b", "/data/c"} {
		fs.add(name, patterned(64))
	}
	cfg := testDriveConfig()
	cfg.MaxFileHandles = 2
	drive := NewStorageDrive(cfg, fs)
	s := newTestStreamer(t, drive)

	read := func(path string) {
		h := runRead(t, s, path, make([]byte, 8), 0)
		require.Equal(t, request.Completed, s.GetRequestStatus(h))
		h.Release()
	}

	read("/data/a")
	read("/data/b")
	opens, closes, _ := fs.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 0, closes)

	read("/data/c") // evicts a, the least recently used
	opens, closes, _ = fs.counts()
	assert.Equal(t, 3, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, -1, drive.findFile(request.NewPath("/data/a")))

	read("/data/c")
	read("/data/b")
	opens, _, _ = fs.counts()
	assert.Equal(t, 3, opens, "open handles are reused")

	read("/data/a") // reopens a, evicting c
	opens, closes, _ = fs.counts()
	assert.Equal(t, 4, opens)
	assert.Equal(t, 2, closes)
	assert.GreaterOrEqual(t, drive.findFile(request.NewPath("/data/b")), 0)
	assert.Equal(t, -1, drive.findFile(request.NewPath("/data/c")))
}

func TestStorageDrive_FlushClosesHandles(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(64))
	fs.add("/data/b", patterned(64))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	runRead(t, s, "/data/a", make([]byte, 8), 0).Release()
	runRead(t, s, "/data/b", make([]byte, 8), 0).Release()

	flush := s.FlushCache("/data/a")
	s.QueueRequest(flush)
	s.RunUntilIdle()
	assert.Equal(t, request.Completed, s.GetRequestStatus(flush))
	_, closes, _ := fs.counts()
	assert.Equal(t, 1, closes)

	all := s.FlushCaches()
	s.QueueRequest(all)
	s.RunUntilIdle()
	_, closes, _ = fs.counts()
	assert.Equal(t, 2, closes)
}

func TestStorageDrive_FileQueries(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(1234))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	exists := s.CheckFileExists("/data/a")
	absent := s.CheckFileExists("/data/nope")
	meta := s.GetFileMetaData("/data/a")
	noMeta := s.GetFileMetaData("/data/nope")
	s.QueueRequestBatch([]Handle{exists, absent, meta, noMeta})
	s.RunUntilIdle()

	found, ok := s.GetFileExistsResult(exists)
	require.True(t, ok)
	assert.True(t, found)

	found, ok = s.GetFileExistsResult(absent)
	require.True(t, ok)
	assert.False(t, found)

	size, found, ok := s.GetFileMetaDataResult(meta)
	require.True(t, ok)
	assert.True(t, found)
	assert.Equal(t, uint64(1234), size)

	_, found, ok = s.GetFileMetaDataResult(noMeta)
	require.True(t, ok, "a missing file is an answer, not a failure")
	assert.False(t, found)
}

func TestStorageDrive_CancelPendingAndExecuted(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(256))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	a := s.Read("/data/a", make([]byte, 16), 0, NoDeadline, request.PriorityMedium)
	b := s.Read("/data/a", make([]byte, 16), 128, NoDeadline, request.PriorityMedium)
	s.QueueRequestBatch([]Handle{a, b})

	// One step executes a and leaves b waiting in the drive.
	s.Step()
	require.Equal(t, request.Completed, s.GetRequestStatus(a))
	require.False(t, s.HasRequestCompleted(b))

	cancelB := s.Cancel(b)
	cancelA := s.Cancel(a)
	s.QueueRequestBatch([]Handle{cancelB, cancelA})
	s.RunUntilIdle()

	assert.Equal(t, request.Canceled, s.GetRequestStatus(b))
	assert.Equal(t, request.Completed, s.GetRequestStatus(a), "finished requests are unaffected")
	assert.Equal(t, request.Completed, s.GetRequestStatus(cancelB))
	assert.Equal(t, request.Completed, s.GetRequestStatus(cancelA))

	_, _, reads := fs.counts()
	assert.Equal(t, 1, reads, "the canceled read never reached the file")
	assert.InDelta(t, 1, statValue(t, s.Statistics(), "Streamer.RequestsCanceled"), 0)
}

func TestStorageDrive_CancelBeforeQueued(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(256))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	r := s.Read("/data/a", make([]byte, 16), 0, NoDeadline, request.PriorityMedium)
	c := s.Cancel(r)
	s.QueueRequestBatch([]Handle{r, c})
	s.RunUntilIdle()

	assert.Equal(t, request.Canceled, s.GetRequestStatus(r))
	_, _, reads := fs.counts()
	assert.Zero(t, reads)
}

func TestStorageDrive_Estimates(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(8192))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	// Gaps between the reads force a seek, so every estimate moves forward.
	var hs []Handle
	for i := range 3 {
		hs = append(hs, s.Read("/data/a", make([]byte, 1024), uint64(i)*2048, NoDeadline, request.PriorityMedium))
	}
	s.QueueRequestBatch(hs)
	before := time.Now()
	s.Step()

	second := s.GetEstimatedRequestCompletionTime(hs[1])
	third := s.GetEstimatedRequestCompletionTime(hs[2])
	require.False(t, second.IsZero())
	assert.False(t, second.Before(before))
	assert.True(t, third.After(second), "later reads finish later")
}

func TestStorageDrive_ReportFileLocks(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(64))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))
	runRead(t, s, "/data/a", make([]byte, 8), 0).Release()

	h := s.Report(request.ReportFileLocks)
	s.QueueRequest(h)
	s.RunUntilIdle()

	lines, ok := s.GetReportResult(h)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(lines[0], "StorageDrive: 1/"))
	assert.Contains(t, strings.Join(lines, "\n"), "/data/a")
}

func TestStorageDrive_UnhandledPolicy(t *testing.T) {
	fs := newMemFS()
	fs.add("/data/a", patterned(64))
	s := newTestStreamer(t, NewStorageDrive(testDriveConfig(), fs))

	lost := s.Custom("payload", true)
	ignored := s.Custom("payload", false)
	compressed := s.ReadCompressed("/data/a", make([]byte, 8), 0, 8, NoDeadline, request.PriorityMedium)
	destroy := s.DestroyDedicatedCache("/data/a")
	s.QueueRequestBatch([]Handle{lost, ignored, compressed, destroy})
	s.RunUntilIdle()

	assert.Equal(t, request.Failed, s.GetRequestStatus(lost))
	assert.Equal(t, request.Completed, s.GetRequestStatus(ignored))
	assert.Equal(t, request.Failed, s.GetRequestStatus(compressed))
	assert.Equal(t, request.Failed, s.GetRequestStatus(destroy))
}

func TestStorageDrive_SetNextPanics(t *testing.T) {
	drive := NewStorageDrive(testDriveConfig(), newMemFS())
	assert.Panics(t, func() { drive.SetNext(NewReadSplitter(DefaultReadSplitterConfig())) })
}
