package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
	"github.com/bamsammich/streamio/internal/streamer"
)

// BenchmarkConfig describes a read workload.
type BenchmarkConfig struct {
	Files       []FileInfo
	ReadSize    uint64
	Concurrency int
	// Duration keeps issuing reads until it elapses. Zero reads every file
	// once.
	Duration time.Duration
	// Random picks read offsets from a seeded generator instead of walking
	// each file front to back.
	Random bool
	Seed   uint64
	// Cache registers a dedicated cache for every file while the benchmark runs.
	Cache    bool
	Priority request.Priority
}

func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{ReadSize: 64 * 1024, Concurrency: 16, Seed: 1, Priority: request.PriorityMedium}
}

// BenchmarkResult holds throughput and latency measurements.
type BenchmarkResult struct {
	Reads       int64
	Failed      int64
	Bytes       int64
	Elapsed     time.Duration
	BytesPerSec float64
	AvgLatency  time.Duration
	MaxLatency  time.Duration
}

// FindFiles walks roots and returns every non-empty regular file.
func FindFiles(ctx context.Context, roots ...string) ([]FileInfo, error) {
	var files []FileInfo
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, infoErr := d.Info()
			if infoErr != nil {
				return nil //nolint:nilerr // skip files we can't stat
			}
			if info.Size() > 0 {
				files = append(files, FileInfo{Path: path, Exists: true, Size: uint64(info.Size())})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no readable files in %v", roots)
	}
	return files, nil
}

// workload hands out the next (file, offset) pair to read.
type workload struct {
	cfg      BenchmarkConfig
	rng      *rand.Rand
	file     int
	offset   uint64
	deadline time.Time
	done     bool
}

func (w *workload) next() (FileInfo, uint64, bool) {
	if w.done || w.cfg.Duration > 0 && time.Now().After(w.deadline) {
		return FileInfo{}, 0, false
	}
	if w.cfg.Random {
		f := w.cfg.Files[w.rng.IntN(len(w.cfg.Files))]
		if f.Size <= w.cfg.ReadSize {
			return f, 0, true
		}
		return f, w.rng.Uint64N(f.Size - w.cfg.ReadSize + 1), true
	}
	for w.offset >= w.cfg.Files[w.file].Size {
		w.file, w.offset = w.file+1, 0
		if w.file == len(w.cfg.Files) {
			if w.cfg.Duration == 0 {
				w.done = true
				return FileInfo{}, 0, false
			}
			w.file = 0
		}
	}
	f, off := w.cfg.Files[w.file], w.offset
	w.offset += w.cfg.ReadSize
	return f, off, true
}

// RunBenchmark keeps cfg.Concurrency reads in flight against the files and
// measures what comes back.
func RunBenchmark(ctx context.Context, s *streamer.Streamer, cfg BenchmarkConfig) (BenchmarkResult, error) {
	def := DefaultBenchmarkConfig()
	if cfg.ReadSize == 0 {
		cfg.ReadSize = def.ReadSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	cfg.Files = slices.DeleteFunc(slices.Clone(cfg.Files), func(f FileInfo) bool { return f.Size == 0 })
	if len(cfg.Files) == 0 {
		return BenchmarkResult{}, fmt.Errorf("benchmark: no non-empty files")
	}

	if cfg.Cache {
		if err := setCaches(ctx, s, cfg.Files, true); err != nil {
			return BenchmarkResult{}, err
		}
		defer setCaches(context.WithoutCancel(ctx), s, cfg.Files, false) //nolint:errcheck // best-effort teardown
	}

	w := &workload{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		deadline: time.Now().Add(cfg.Duration),
	}
	var (
		result       BenchmarkResult
		window       []*inflight
		totalLatency time.Duration
	)
	start := time.Now()
	for {
		for len(window) < cfg.Concurrency {
			f, off, ok := w.next()
			if !ok {
				break
			}
			size := min(cfg.ReadSize, f.Size-off)
			buf := make([]byte, size)
			window = append(window, submit(s, s.Read(f.Path, buf, off, streamer.NoDeadline, cfg.Priority)))
		}
		if len(window) == 0 {
			break
		}

		p := window[0]
		window = window[1:]
		status, err := p.wait(ctx, s)
		if err != nil {
			p.h.Release()
			abandon(s, window)
			return result, err
		}
		if status == request.Completed {
			result.Reads++
			result.Bytes += int64(len(p.buf))
		} else {
			result.Failed++
		}
		totalLatency += p.latency()
		result.MaxLatency = max(result.MaxLatency, p.latency())
		p.h.Release()
	}
	result.Elapsed = max(time.Since(start), time.Microsecond)
	result.BytesPerSec = float64(result.Bytes) / result.Elapsed.Seconds()
	if n := result.Reads + result.Failed; n > 0 {
		result.AvgLatency = totalLatency / time.Duration(n)
	}
	return result, nil
}

func setCaches(ctx context.Context, s *streamer.Streamer, files []FileInfo, create bool) error {
	hs := make([]streamer.Handle, 0, len(files))
	for _, f := range files {
		if create {
			hs = append(hs, s.CreateDedicatedCache(f.Path))
		} else {
			hs = append(hs, s.DestroyDedicatedCache(f.Path))
		}
	}
	for _, h := range hs {
		status, err := Await(ctx, s, h)
		h.Release()
		if err == nil {
			err = statusErr(status)
		}
		if err != nil {
			return fmt.Errorf("dedicated cache: %w", err)
		}
	}
	return nil
}

// FormatBenchmark formats a BenchmarkResult for display.
func FormatBenchmark(r BenchmarkResult) string {
	return fmt.Sprintf("benchmark: %d reads (%d failed)  %s in %s  %s/s  latency avg %s max %s",
		r.Reads, r.Failed, stats.FormatBytes(r.Bytes), r.Elapsed.Round(time.Millisecond),
		stats.FormatBytes(int64(r.BytesPerSec)), r.AvgLatency, r.MaxLatency)
}
