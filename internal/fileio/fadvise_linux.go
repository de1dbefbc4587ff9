//go:build linux

package fileio

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel to read ahead aggressively. Errors are
// ignored as fadvise is only a hint.
//
//nolint:gosec // G115: fd values are small non-negative integers
func adviseSequential(f *os.File) {
	//nolint:errcheck // fadvise is advisory; not supported on all filesystems
	unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
