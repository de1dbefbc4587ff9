//go:build !linux

package fileio

import "os"

// adviseSequential is a no-op on non-Linux platforms (fadvise is Linux-only).
func adviseSequential(_ *os.File) {}
