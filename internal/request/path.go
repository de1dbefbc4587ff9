package request

import (
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Path is a normalized absolute file path with a precomputed hash so cache
// lookups can reject most mismatches without a string compare.
type Path struct {
	path string
	hash uint64
}

// NewPath cleans p and makes it absolute. If the working directory cannot be
// resolved the cleaned relative path is kept.
func NewPath(p string) Path {
	if p == "" {
		return Path{}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	return Path{path: abs, hash: xxhash.Sum64String(abs)}
}

func (p Path) String() string { return p.path }

// Hash returns the xxhash of the normalized path.
func (p Path) Hash() uint64 { return p.hash }

// IsEmpty reports whether the path was never set.
func (p Path) IsEmpty() bool { return p.path == "" }

// Equal compares two paths, checking the hash first.
func (p Path) Equal(o Path) bool {
	return p.hash == o.hash && p.path == o.path
}

// FileRange is a byte range within a file, or the entire file.
type FileRange struct {
	offset uint64
	end    uint64
	whole  bool
}

// EntireFile returns a range covering the whole file regardless of its size.
func EntireFile() FileRange {
	return FileRange{whole: true}
}

// RangeOf returns the range [offset, offset+size).
func RangeOf(offset, size uint64) FileRange {
	return FileRange{offset: offset, end: offset + size}
}

func (r FileRange) IsEntireFile() bool { return r.whole }
func (r FileRange) Offset() uint64    { return r.offset }

// End returns the exclusive end offset. It is meaningless for EntireFile.
func (r FileRange) End() uint64 { return r.end }

func (r FileRange) Size() uint64 { return r.end - r.offset }

// Contains reports whether offset falls inside the range.
func (r FileRange) Contains(offset uint64) bool {
	if r.whole {
		return true
	}
	return offset >= r.offset && offset < r.end
}

// ContainsRange reports whether [offset, offset+size) lies inside the range.
func (r FileRange) ContainsRange(offset, size uint64) bool {
	if r.whole {
		return true
	}
	return offset >= r.offset && offset+size <= r.end
}

func (r FileRange) String() string {
	if r.whole {
		return "[entire file]"
	}
	return fmt.Sprintf("[%d, %d)", r.offset, r.end)
}
