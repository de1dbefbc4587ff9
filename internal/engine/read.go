package engine

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/streamer"
)

// FileInfo is what the pipeline knows about a file.
type FileInfo struct {
	Path   string
	Exists bool
	Size   uint64
}

// Stat checks existence and size of path through the pipeline.
func Stat(ctx context.Context, s *streamer.Streamer, path string) (FileInfo, error) {
	exists := s.CheckFileExists(path)
	meta := s.GetFileMetaData(path)
	defer exists.Release()
	defer meta.Release()

	pe, pm := submit(s, exists), submit(s, meta)
	if _, err := pe.wait(ctx, s); err != nil {
		return FileInfo{}, err
	}
	if _, err := pm.wait(ctx, s); err != nil {
		return FileInfo{}, err
	}

	info := FileInfo{Path: path}
	found, ok := s.GetFileExistsResult(exists)
	if !ok {
		return FileInfo{}, fmt.Errorf("exists %s: %w", path, ErrFailed)
	}
	info.Exists = found
	if size, found, ok := s.GetFileMetaDataResult(meta); ok && found {
		info.Size = size
	}
	return info, nil
}

// ReadOptions shape a single read.
type ReadOptions struct {
	Offset   uint64
	Size     uint64 // zero reads to the end of the file
	Deadline time.Duration
	Priority request.Priority
}

// ReadFile reads a range of path through the pipeline into memory the
// pipeline allocates.
func ReadFile(ctx context.Context, s *streamer.Streamer, path string, opts ReadOptions) ([]byte, error) {
	size := opts.Size
	if size == 0 {
		info, err := Stat(ctx, s, path)
		if err != nil {
			return nil, err
		}
		if !info.Exists {
			return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
		}
		if opts.Offset >= info.Size {
			return nil, nil
		}
		size = info.Size - opts.Offset
	}

	h := s.ReadWithAllocator(path, request.HeapAllocator{}, opts.Offset, size, opts.Deadline, opts.Priority)
	defer h.Release()
	status, err := Await(ctx, s, h)
	if err != nil {
		return nil, err
	}
	if err := statusErr(status); err != nil {
		return nil, fmt.Errorf("read %s [%d, %d): %w", path, opts.Offset, opts.Offset+size, err)
	}
	buf, _ := s.GetReadRequestResult(h, true)
	return buf, nil
}

// ReadCompressed reads compressedSize bytes at offset and decodes them into
// a buffer of uncompressedSize bytes.
func ReadCompressed(ctx context.Context, s *streamer.Streamer, path string, offset, compressedSize, uncompressedSize uint64) ([]byte, error) {
	out := make([]byte, uncompressedSize)
	h := s.ReadCompressed(path, out, offset, compressedSize, streamer.NoDeadline, request.PriorityMedium)
	defer h.Release()
	status, err := Await(ctx, s, h)
	if err != nil {
		return nil, err
	}
	if err := statusErr(status); err != nil {
		return nil, fmt.Errorf("decompress %s at %d: %w", path, offset, err)
	}
	got, _ := s.GetCompressedReadResult(h)
	return got, nil
}

// Report collects the report lines the stages produce for kind.
func Report(ctx context.Context, s *streamer.Streamer, kind request.ReportType) ([]string, error) {
	h := s.Report(kind)
	defer h.Release()
	if _, err := Await(ctx, s, h); err != nil {
		return nil, err
	}
	lines, _ := s.GetReportResult(h)
	return lines, nil
}
