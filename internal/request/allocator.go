package request

import "unsafe"

// Allocator provides output memory for reads that don't supply a buffer.
type Allocator interface {
	Allocate(size, alignment uint64) []byte
	Release(buf []byte)
}

// HeapAllocator allocates aligned buffers from the Go heap. Release is a
// no-op; the garbage collector reclaims the memory.
type HeapAllocator struct{}

func (HeapAllocator) Allocate(size, alignment uint64) []byte {
	return AlignedBuffer(size, alignment)
}

func (HeapAllocator) Release([]byte) {}

// AlignedBuffer returns a zeroed buffer of len size whose first byte sits at
// an address that is a multiple of alignment.
func AlignedBuffer(size, alignment uint64) []byte {
	if alignment <= 1 {
		return make([]byte, size)
	}
	raw := make([]byte, size+alignment)
	shift := AlignUp(address(raw), alignment) - address(raw)
	return raw[shift : shift+size : shift+size]
}

// IsAligned reports whether buf starts at an address that is a multiple of
// alignment. Empty buffers are considered aligned.
func IsAligned(buf []byte, alignment uint64) bool {
	if alignment <= 1 || cap(buf) == 0 {
		return true
	}
	return address(buf)%alignment == 0
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignUp rounds v up to a multiple of alignment, which must be a power of two.
func AlignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds v down to a multiple of alignment, which must be a power of two.
func AlignDown(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return v &^ (alignment - 1)
}

func address(buf []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf[:cap(buf)]))))
}
