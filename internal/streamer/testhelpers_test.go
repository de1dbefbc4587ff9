package streamer

import (
	"bytes"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/streamio/internal/fileio"
	"github.com/bamsammich/streamio/internal/request"
)

// memFS is an in-memory file system that counts the calls it receives.
type memFS struct {
	mu     sync.Mutex
	files  map[string][]byte
	opens  int
	closes int
	reads  int
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte)}
}

func (m *memFS) add(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
}

func (m *memFS) Open(path string) (fileio.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	m.opens++
	return &memFile{fs: m, r: bytes.NewReader(data)}, nil
}

func (m *memFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memFS) Size(path string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return 0, fmt.Errorf("stat %s: %w", path, fs.ErrNotExist)
	}
	return uint64(len(data)), nil
}

func (m *memFS) counts() (opens, closes, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes, m.reads
}

type memFile struct {
	fs     *memFS
	r      *bytes.Reader
	closed bool
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fileio.ErrClosed
	}
	f.fs.mu.Lock()
	f.fs.reads++
	f.fs.mu.Unlock()
	return f.r.Read(p)
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	return f.r.Seek(offset, whence)
}

func (f *memFile) Size() (uint64, error) {
	return uint64(f.r.Size()), nil
}

func (f *memFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.fs.mu.Lock()
	f.fs.closes++
	f.fs.mu.Unlock()
	return nil
}

// patterned returns n bytes where byte i is i%256.
func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

// random returns n bytes from a fixed-seed generator.
func random(n int) []byte {
	rng := rand.New(rand.NewPCG(42, 1024))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

// unaligned returns an n byte buffer starting one byte past an alignment
// boundary.
func unaligned(n int, alignment uint64) []byte {
	return request.AlignedBuffer(uint64(n)+1, alignment)[1:]
}

func testDriveConfig() StorageDriveConfig {
	cfg := DefaultStorageDriveConfig()
	cfg.MemoryAlignment = 1
	return cfg
}

func newTestStreamer(t *testing.T, entries ...Entry) *Streamer {
	t.Helper()
	s := New(Config{}, Chain(entries...))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// drain runs a bare stack until nothing moves.
func drain(ctx *Context, top Entry) {
	for {
		worked := top.ExecuteRequests()
		worked = ctx.FinalizeCompletedRequests() || worked
		if !worked {
			return
		}
	}
}

// linkedTo creates an internal request that stands in for the scheduler's
// link to an external target.
func linkedTo(ctx *Context, target *request.Request) *request.Request {
	link := ctx.GetNewInternalRequest()
	link.CreateExternalLink(target)
	return link
}

// runRead queues a read through s, runs the scheduler until idle and returns
// the handle.
func runRead(t *testing.T, s *Streamer, path string, output []byte, offset uint64) Handle {
	t.Helper()
	h := s.Read(path, output, offset, NoDeadline, request.PriorityMedium)
	s.QueueRequest(h)
	s.RunUntilIdle()
	return h
}

func waitFor(t *testing.T, s *Streamer, h Handle) {
	t.Helper()
	require.Eventually(t, func() bool { return s.HasRequestCompleted(h) }, 5*time.Second, time.Millisecond)
}
