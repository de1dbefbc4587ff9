// Package fileio is the raw file primitive the storage stage reads through.
package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrClosed is returned when operating on a closed file.
var ErrClosed = errors.New("fileio: file closed")

// File is an open, seekable, read-only file handle.
type File interface {
	io.Reader
	io.Seeker
	io.Closer
	// Size returns the current length of the file in bytes.
	Size() (uint64, error)
}

// FileSystem opens files and answers cold lookups by absolute path.
type FileSystem interface {
	Open(path string) (File, error)
	Exists(path string) bool
	Size(path string) (uint64, error)
}

// OSConfig controls the OS-backed file system.
type OSConfig struct {
	// BandwidthLimit caps aggregate read throughput in bytes/sec. Zero disables it.
	BandwidthLimit int64
	// SequentialHint advises the kernel that files are read sequentially.
	SequentialHint bool
}

// OS reads files from the local operating system.
type OS struct {
	cfg      OSConfig
	throttle *Throttle
}

// NewOS creates an OS file system.
func NewOS(cfg OSConfig) *OS {
	fs := &OS{cfg: cfg}
	if cfg.BandwidthLimit > 0 {
		fs.throttle = NewThrottle(cfg.BandwidthLimit)
	}
	return fs
}

func (fs *OS) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if fs.cfg.SequentialHint {
		adviseSequential(f)
	}
	return &osFile{f: f, throttle: fs.throttle}, nil
}

func (fs *OS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (fs *OS) Size(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return uint64(info.Size()), nil
}

type osFile struct {
	f        *os.File
	throttle *Throttle
	closed   bool
}

func (o *osFile) Read(p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}
	n, err := o.f.Read(p)
	if n > 0 && o.throttle != nil {
		if werr := o.throttle.Take(context.Background(), n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (o *osFile) Seek(offset int64, whence int) (int64, error) {
	if o.closed {
		return 0, ErrClosed
	}
	return o.f.Seek(offset, whence)
}

func (o *osFile) Size() (uint64, error) {
	if o.closed {
		return 0, ErrClosed
	}
	info, err := o.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", o.f.Name(), err)
	}
	return uint64(info.Size()), nil
}

func (o *osFile) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.f.Close()
}
